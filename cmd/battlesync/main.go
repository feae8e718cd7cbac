package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"roachy-battlesync/internal/config"
	"roachy-battlesync/internal/constants"
	fxmodules "roachy-battlesync/internal/fx"
	"roachy-battlesync/internal/server"
	"roachy-battlesync/internal/service"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(run),
	).Run()
}

func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	session *service.MatchSession,
	bridge *server.Bridge,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.BridgePort),
		Handler: bridge.Routes(),
	}

	sessionCtx, stopSession := context.WithCancel(context.Background())
	sessionDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("bridge starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("bridge failed")
				}
			}()

			go func() {
				defer close(sessionDone)
				reason, err := session.Run(sessionCtx)
				if err != nil {
					logger.Error().Err(err).Msg("match session failed")
				}
				if reason == service.ExitBlurred {
					return
				}
				logger.Info().Str("reason", string(reason)).Msg("match over, shutting down")
				if err := shutdowner.Shutdown(); err != nil {
					logger.Warn().Err(err).Msg("shutdown request failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			stopSession()
			select {
			case <-sessionDone:
			case <-shutdownCtx.Done():
				logger.Warn().Msg("match session did not stop in time")
			}

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("bridge shutdown failed")
				return err
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing journal")
			}
			logger.Info().Msg("stopped gracefully")
			return nil
		},
	})
}
