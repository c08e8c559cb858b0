package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/studyboard/studyboard/core"
	logsvc "github.com/studyboard/studyboard/services/logger"
	"github.com/studyboard/studyboard/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewConsoleLogger(conf), conf)
	logger.Enable(!(conf.Debug || conf.TestMode))

	cli := newCommandLine(conf, logger, os.Stdout)
	cli.openDB = func(ctx context.Context, env database.Environment) (*sqlx.DB, error) {
		dbConf := conf.Database
		if env == database.Staging {
			dbConf = conf.StagingDatabase
		}
		return database.Open(ctx, dbConf)
	}

	err := cli.run(os.Args)
	if cErr := cli.close(); cErr != nil {
		logger.Warn("releasing resources", cErr)
	}
	if err != nil {
		if err != errHelp {
			_, _ = fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
