// Package database opens the connection store selected by configuration.
package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/social-connect/internal/config"
	"github.com/sakif/social-connect/internal/repository"
	"github.com/sakif/social-connect/internal/repository/postgres"
	"github.com/sakif/social-connect/internal/repository/sqlite"
)

// Open returns the store for cfg.Driver. The caller closes it.
//
// SQLite always brings its schema up to date on open. PostgreSQL runs the
// embedded migrations only when cfg.AutoMigrate is set; otherwise the schema
// is expected to be managed with cmd/migrate.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (repository.ConnectionStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return openSQLite(cfg, logger)
	case config.DriverPostgres:
		return openPostgres(cfg, logger)
	default:
		return nil, fmt.Errorf("database: unsupported driver: %s", cfg.Driver)
	}
}

func openSQLite(cfg config.DatabaseConfig, logger *slog.Logger) (repository.ConnectionStore, error) {
	if cfg.DSN != ":memory:" {
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: creating directory %s: %w", dir, err)
		}
	}

	db, err := sqlite.New(cfg.DSN)
	if err != nil {
		return nil, err
	}

	logger.Info("connection store opened", slog.String("driver", cfg.Driver), slog.String("path", cfg.DSN))
	return db, nil
}

func openPostgres(cfg config.DatabaseConfig, logger *slog.Logger) (repository.ConnectionStore, error) {
	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(cfg.DSN, logger); err != nil {
			return nil, err
		}
	}

	db, err := postgres.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}

	// The DSN may carry a password, so it is not logged.
	logger.Info("connection store opened", slog.String("driver", cfg.Driver))
	return postgres.NewStore(db), nil
}
