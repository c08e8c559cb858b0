package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	echoapi "github.com/studyboard/studyboard/apps/api/echo"
	dig_container "github.com/studyboard/studyboard/apps/api/di/dig"
	"github.com/studyboard/studyboard/core"
)

const shutdownTimeout = 20 * time.Second

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		closers dig_container.Closers,
		server echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		logger.Info("application initializing", map[string]interface{}{"build": conf.Build, "env": conf.Env})
		defer logger.Info("application stopped")
		defer func() {
			for _, closeFn := range closers {
				if err := closeFn(); err != nil {
					logger.Error("releasing resource", err)
				}
			}
		}()

		// =========================================================================
		// Start API Service

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("api listening", map[string]interface{}{"address": conf.Server.Address()})
			serverErrors <- server.Start()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// =========================================================================
		// Shutdown

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", err)
			}

		case sig := <-shutdown:
			logger.Info("start shutdown", map[string]interface{}{"signal": sig.String()})

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Stop(ctx); err != nil {
				logger.Error("could not stop server gracefully", err)
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
