package registry

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations in internal/registry/migrations to
// the database at dsn, owning the engine_registrations schema the way the
// rest of the pack leaves schema ownership to golang-migrate rather than an
// ORM's auto-migration.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return apperrors.Internal("load embedded migrations", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return apperrors.Internal("init migrate instance", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.Internal("apply migrations", err)
	}
	return nil
}
