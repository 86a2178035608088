package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcnelson/csp-rule-manager/internal/api"
	"github.com/bcnelson/csp-rule-manager/internal/api/middleware"
	"github.com/bcnelson/csp-rule-manager/internal/auth"
	"github.com/bcnelson/csp-rule-manager/internal/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the metrics endpoint.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if cfg.Catalog.File != "" {
		n, err := a.catalog.SeedFile(ctx, cfg.Catalog.File)
		if err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
		logger.Info().Str("path", cfg.Catalog.File).Int("rules", n).Msg("catalog seeded")
		if cfg.Catalog.Watch {
			if err := a.catalog.Watch(ctx, cfg.Catalog.File); err != nil {
				return err
			}
		}
	}

	var verifier middleware.TokenVerifier
	if cfg.Auth.OIDCEnabled {
		v, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, cfg.Auth.GetAllowedDomains())
		if err != nil {
			return err
		}
		verifier = v
		logger.Info().Str("issuer", cfg.Auth.OIDCIssuerURL).Msg("OIDC bearer tokens enabled")
	}

	_, metricsErrCh := metrics.StartServer(ctx, cfg.Metrics.Addr, logger)

	router := api.NewRouter(a.store, a.service, a.catalog, cfg.Auth.BootstrapAPIKey, verifier, logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr()).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info().Msg("server stopped")
		return nil
	case err := <-metricsErrCh:
		return fmt.Errorf("metrics server: %w", err)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
