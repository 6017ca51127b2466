// Command migrate manages the user_connections schema.
//
//	migrate up        apply pending migrations
//	migrate down      roll back the latest migration (PostgreSQL only)
//	migrate version   print the applied schema version
//
// The store is chosen by DATABASE_DRIVER and DATABASE_DSN, as for every other
// command. SQLite migrates itself when opened, so only "up" applies to it.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sakif/social-connect/internal/config"
	"github.com/sakif/social-connect/internal/database"
	"github.com/sakif/social-connect/internal/repository/postgres"
)

const usage = "usage: migrate <up|down|version>"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		return errors.New(usage)
	}
	command := args[0]
	switch command {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg, stderr)

	if cfg.Database.Driver == config.DriverSQLite {
		return runSQLite(command, cfg.Database, logger, stdout)
	}
	return runPostgres(command, cfg.Database.DSN, logger, stdout)
}

func runSQLite(command string, cfg config.DatabaseConfig, logger *slog.Logger, stdout io.Writer) error {
	if command != "up" {
		return fmt.Errorf("migrate %s is not supported for sqlite", command)
	}
	store, err := database.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintln(stdout, "schema up to date")
	return nil
}

func runPostgres(command, dsn string, logger *slog.Logger, stdout io.Writer) error {
	mg, err := postgres.NewMigrator(dsn, logger)
	if err != nil {
		return err
	}
	defer mg.Close()

	switch command {
	case "up":
		if err := mg.Up(); err != nil {
			return err
		}
	case "down":
		if err := mg.Down(); err != nil {
			return err
		}
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(stdout, "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(stdout, "version %d\n", version)
	return nil
}
