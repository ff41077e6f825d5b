package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// migrator applies schema migrations ahead of opening a Store.
type migrator struct {
	logger    *slog.Logger
	srcDriver source.Driver
}

func newMigrator(logger *slog.Logger) (*migrator, error) {
	d, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("store: loading embedded migrations: %w", err)
	}

	return &migrator{logger: logger, srcDriver: d}, nil
}

func (m *migrator) apply(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("store: creating sqlite3 migration driver: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", m.srcDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("store: creating migration instance: %w", err)
	}

	m.logger.Debug("applying store migrations")

	if err := migration.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: applying migrations: %w", err)
	}

	if version, dirty, err := migration.Version(); err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		m.logger.Warn("could not read migration version", "err", err)
	} else {
		m.logger.Debug("store schema version", "version", version, "dirty", dirty)
	}

	return nil
}
