package app

import (
	"errors"
	"fmt"
	"os"

	"bolivarwatch/internal/history"
)

// MigrateUp applies pending schema migrations.
func (a *App) MigrateUp() error {
	dsn, path, err := a.migrationTargets()
	if err != nil {
		return err
	}
	if err := history.RunMigrations(dsn, path); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}

// MigrateDown rolls back the most recent migration.
func (a *App) MigrateDown() error {
	dsn, path, err := a.migrationTargets()
	if err != nil {
		return err
	}
	if err := history.RollbackMigration(dsn, path); err != nil {
		return err
	}
	a.Logger.Info().Msg("migration rolled back")
	return nil
}

// MigrateVersion prints the current schema version.
func (a *App) MigrateVersion() error {
	dsn, path, err := a.migrationTargets()
	if err != nil {
		return err
	}
	version, dirty, err := history.MigrationVersion(dsn, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "version: %d dirty: %t\n", version, dirty)
	return nil
}

func (a *App) migrationTargets() (string, string, error) {
	if a.Config.Database.DSN == "" {
		return "", "", errors.New("database.dsn not configured")
	}
	path := a.Config.Database.MigrationsPath
	if path == "" {
		path = "migrations"
	}
	return a.Config.Database.DSN, path, nil
}
