package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// dialectMap maps database drivers to Goose dialect names
var dialectMap = map[string]string{
	"sqlite": "sqlite3",
	"pgx":    "postgres",
}

// setupGoose configures Goose with the correct dialect and filesystem
func setupGoose(driver string) error {
	dialect, ok := dialectMap[driver]
	if !ok {
		return fmt.Errorf("unsupported kv database driver %q", driver)
	}
	err := goose.SetDialect(dialect)
	if err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	// Get migrations subdirectory from embed.FS
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations directory: %w", err)
	}

	goose.SetBaseFS(migrationsDir)
	return nil
}

// RunMigrations brings the kv schema up to date.
func RunMigrations(db *sql.DB, driver string) error {
	return Migrate(context.Background(), db, driver, "up")
}

// Migrate runs a goose command (up, down, status, version, redo) against the
// kv schema.
func Migrate(ctx context.Context, db *sql.DB, driver, command string) error {
	err := setupGoose(driver)
	if err != nil {
		return err
	}

	err = goose.RunContext(ctx, command, db, ".")
	if err != nil {
		return fmt.Errorf("failed to run migrations (%s): %w", command, err)
	}

	slog.Info("migrations completed", "command", command, "driver", driver)
	return nil
}
