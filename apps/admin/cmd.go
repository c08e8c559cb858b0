package main

import (
	"context"
	"errors"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
	leasesvc "github.com/studyboard/studyboard/services/lease"
	"github.com/studyboard/studyboard/storage/database"
	sqlxrepos "github.com/studyboard/studyboard/storage/database/sqlx"
)

var errHelp = errors.New("help provided")

// CurriculumService is the part of curriculum.Service the CLI drives.
type CurriculumService interface {
	Promote(ctx context.Context, req curriculum.PromoteRequest) (curriculum.PromoteResult, error)
	ListRuns(ctx context.Context, limit int) ([]curriculum.PromotionRun, error)
}

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	out    io.Writer

	openDB func(ctx context.Context, env database.Environment) (*sqlx.DB, error) // mockable
	svc    CurriculumService

	dbs     map[database.Environment]*sqlx.DB
	closers []func() error
}

func newCommandLine(conf *core.Config, logger core.Logger, out io.Writer) *commandLine {
	return &commandLine{
		conf:   conf,
		logger: logger,
		out:    out,
		dbs:    make(map[database.Environment]*sqlx.DB),
	}
}

func (cli *commandLine) db(ctx context.Context, env database.Environment) (*sqlx.DB, error) {
	if db, ok := cli.dbs[env]; ok {
		return db, nil
	}
	db, err := cli.openDB(ctx, env)
	if err != nil {
		return nil, err
	}
	cli.dbs[env] = db
	cli.closers = append(cli.closers, db.Close)
	return db, nil
}

// curriculum builds the promotion service on first use.
// Runs started from the CLI are not mailed; their result is printed instead.
func (cli *commandLine) curriculum(ctx context.Context) (CurriculumService, error) {
	if cli.svc != nil {
		return cli.svc, nil
	}
	prod, err := cli.db(ctx, database.Production)
	if err != nil {
		return nil, err
	}
	staging, err := cli.db(ctx, database.Staging)
	if err != nil {
		return nil, err
	}
	leaser, closeLeaser, err := leasesvc.New(cli.conf)
	if err != nil {
		return nil, err
	}
	cli.closers = append(cli.closers, closeLeaser)

	stores := curriculum.Stores{
		Staging:    sqlxrepos.NewStagingRepository(staging),
		Production: sqlxrepos.NewProductionRepository(prod, cli.conf.Curriculum.PageSize),
		Flashcards: sqlxrepos.NewFlashcardReferences(prod),
		Audit:      sqlxrepos.NewAuditLog(prod),
	}
	cli.svc = curriculum.NewService(cli.conf.Curriculum, stores, leaser, nil, cli.logger)
	return cli.svc, nil
}

func (cli *commandLine) close() error {
	var first error
	for i := len(cli.closers) - 1; i >= 0; i-- {
		if err := cli.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	cli.closers = nil
	return first
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Curriculum administration tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.AddCommand(
		cli.migrateCmd(),
		cli.promoteCmd(),
		cli.runsCmd(),
		cli.tokenCmd(),
	)
	return root
}

// run executes args, the first one being the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	return root.ExecuteContext(context.Background())
}
