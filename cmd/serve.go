package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/captcha"
	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
	"github.com/zach-fau/suno-api/internal/observability"
	"github.com/zach-fau/suno-api/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API surface.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger := observability.GetLogger()
		defer observability.Sync()

		registry := identity.NewRegistry(cfg.Identity, cfg.Timeouts, logger)
		defer registry.Close()

		solver := captcha.NewClient(cfg.Captcha, logger)
		srv := server.New(cfg, registry, solver, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Shutdown did not drain cleanly", zap.Error(err))
			}
			return nil
		}
	},
}
