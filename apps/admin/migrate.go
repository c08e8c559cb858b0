package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/studyboard/studyboard/storage/database"
)

var gooseRunFunc = goose.RunContext // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run goose migrations (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			e := database.Environment(env)
			if !e.Valid() {
				return fmt.Errorf("unknown environment %q (want %s or %s)", env, database.Production, database.Staging)
			}
			return cli.migrate(cmd.Context(), e, args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&env, "env", string(database.Production), "database to migrate: production or staging")
	return cmd
}

func (cli *commandLine) migrate(ctx context.Context, env database.Environment, command string, args []string) error {
	dir := database.MigrationsDir(env)

	// new migration files are written to the source tree, not the embedded FS
	if command == "create" {
		goose.SetBaseFS(nil)
		dir = filepath.Join(cli.conf.WorkDir, "storage", "database", dir)
		return gooseRunFunc(ctx, command, nil, dir, args...)
	}

	if err := database.SetupMigrations(); err != nil {
		return err
	}
	db, err := cli.db(ctx, env)
	if err != nil {
		return err
	}
	var sqlDB *sql.DB
	if db != nil {
		sqlDB = db.DB
	}
	return gooseRunFunc(ctx, command, sqlDB, dir, args...)
}
