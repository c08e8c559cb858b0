package dig_container

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/studyboard/studyboard/apps/api/echo"
	"github.com/studyboard/studyboard/core"
	"github.com/studyboard/studyboard/core/curriculum"
	emailsvc "github.com/studyboard/studyboard/services/email"
	leasesvc "github.com/studyboard/studyboard/services/lease"
	logsvc "github.com/studyboard/studyboard/services/logger"
	"github.com/studyboard/studyboard/storage/database"
	sqlxrepos "github.com/studyboard/studyboard/storage/database/sqlx"
)

const setupTimeout = 30 * time.Second

type (
	// Databases are the two curriculum databases.
	Databases struct {
		dig.Out
		Production *sqlx.DB `name:"production"`
		Staging    *sqlx.DB `name:"staging"`
	}

	DatabasesParam struct {
		dig.In
		Production *sqlx.DB `name:"production"`
		Staging    *sqlx.DB `name:"staging"`
	}

	// Closers are released on shutdown, in order.
	Closers []func() error
)

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(logsvc.NewConsoleLogger(conf), conf)
	logger.Enable(!(conf.Debug || conf.TestMode))
	return logger
}

func newDatabases(conf *core.Config, logger core.Logger) Databases {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	setUp := func(env database.Environment, dbConf core.DBConfig) (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(ctx, dbConf); err != nil {
			return nil, err
		}
		db, err := database.Open(ctx, dbConf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(ctx, db, env); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	prod, err := setUp(database.Production, conf.Database)
	if err != nil {
		logger.Fatal("setting up production database", err)
	}
	staging, err := setUp(database.Staging, conf.StagingDatabase)
	if err != nil {
		logger.Fatal("setting up staging database", err)
	}
	return Databases{Production: prod, Staging: staging}
}

func newStores(conf *core.Config, dbs DatabasesParam) curriculum.Stores {
	return curriculum.Stores{
		Staging:    sqlxrepos.NewStagingRepository(dbs.Staging),
		Production: sqlxrepos.NewProductionRepository(dbs.Production, conf.Curriculum.PageSize),
		Flashcards: sqlxrepos.NewFlashcardReferences(dbs.Production),
		Audit:      sqlxrepos.NewAuditLog(dbs.Production),
	}
}

func newLeaser(conf *core.Config, logger core.Logger) (curriculum.Leaser, func() error) {
	leaser, closeFn, err := leasesvc.New(conf)
	if err != nil {
		logger.Fatal("setting up promotion leases", err)
	}
	return leaser, closeFn
}

func newCloser(dbs DatabasesParam, closeLeaser func() error) Closers {
	return Closers{closeLeaser, dbs.Production.Close, dbs.Staging.Close}
}

func newCurriculumService(
	conf *core.Config,
	stores curriculum.Stores,
	leaser curriculum.Leaser,
	notifier curriculum.Notifier,
	logger core.Logger,
) *curriculum.Service {
	return curriculum.NewService(conf.Curriculum, stores, leaser, notifier, logger)
}

func newServer(conf *core.Config, logger core.Logger, svc *curriculum.Service) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:          conf,
		Logger:        logger,
		CurriculumSvc: svc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDatabases))
	must(c.Provide(newStores))
	must(c.Provide(newLeaser))
	must(c.Provide(newCloser))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(emailsvc.NewRunNotifier))
	must(c.Provide(newCurriculumService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
