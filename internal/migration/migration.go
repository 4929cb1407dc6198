package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Result reports the schema version after RunMigrations.
type Result struct {
	Version uint
	Applied bool
}

// RunMigrations brings the postgres schema up to the newest embedded file.
// A dirty schema is reported rather than forced; an operator has to resolve
// the half-applied step by hand.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}

	m, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}
	// m.Close would close db, which the gorm pool still owns

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return Result{}, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return Result{Version: before}, fmt.Errorf("schema version %d is dirty", before)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return Result{Version: before}, nil
		}
		return Result{}, fmt.Errorf("apply migrations: %w", err)
	}

	after, _, err := m.Version()
	if err != nil {
		return Result{}, fmt.Errorf("read schema version: %w", err)
	}
	return Result{Version: after, Applied: after != before}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	files, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "storefront_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}
