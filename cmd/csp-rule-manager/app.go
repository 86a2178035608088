package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcnelson/csp-rule-manager/internal/catalog"
	"github.com/bcnelson/csp-rule-manager/internal/config"
	"github.com/bcnelson/csp-rule-manager/internal/detection"
	"github.com/bcnelson/csp-rule-manager/internal/logging"
	"github.com/bcnelson/csp-rule-manager/internal/service"
	"github.com/bcnelson/csp-rule-manager/internal/settings"
	"github.com/bcnelson/csp-rule-manager/internal/storage/sql"
	"github.com/rs/zerolog"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *sql.Store
	catalog *catalog.Catalog
	service *service.BulkActionService
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format).
		With().Str("service", "csp-rule-manager").Logger()
	return cfg, logger, nil
}

// sqliteDir returns the directory holding a sqlite database file, or "" for
// in-memory databases.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}

func openStore(cfg *config.Config, logger zerolog.Logger, migrate bool) (*sql.Store, error) {
	if cfg.Database.Driver == "sqlite3" {
		if dir := sqliteDir(cfg.Database.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}
	if migrate {
		return sql.New(cfg.Database.Driver, cfg.Database.DSN, logger)
	}
	return sql.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
}

// newDetectionClient returns nil when no detection backend is configured.
func newDetectionClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (detection.Client, error) {
	if cfg.UseFileShim() {
		logger.Info().Str("path", cfg.Detection.FileShim).Msg("using file shim for detection rules")
		return detection.NewFileShim(cfg.Detection.FileShim, logger), nil
	}
	if !cfg.Detection.Enabled() {
		logger.Warn().Msg("no detection rule backend configured, muting will not disable detection rules")
		return nil, nil
	}
	client, err := detection.NewKibanaClient(ctx, detection.KibanaOptions{
		BaseURL:           cfg.Detection.KibanaURL,
		Space:             cfg.Detection.Space,
		APIKey:            cfg.Detection.APIKey,
		OAuthClientID:     cfg.Detection.OAuthClientID,
		OAuthClientSecret: cfg.Detection.OAuthClientSecret,
		OAuthTokenURL:     cfg.Detection.OAuthTokenURL,
		OAuthScopes:       cfg.Detection.GetOAuthScopes(),
		Timeout:           cfg.Detection.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing kibana client: %w", err)
	}
	return client, nil
}

// newApp opens storage and wires the catalog, settings adapter and bulk
// action service.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg, logger, true)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	client, err := newDetectionClient(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	var syncer *detection.Synchronizer
	if client != nil {
		syncer = detection.NewSynchronizer(client, cfg.Detection.LookupConcurrency, logger)
	}

	cat := catalog.New(store, logger)
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		catalog: cat,
		service: service.NewBulkActionService(cat, settings.NewAdapter(store, logger), syncer, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
