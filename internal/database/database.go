package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/stellara-labs/stellara/internal/config"
	"github.com/stellara-labs/stellara/internal/migrations"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	Postgres Dialect = config.DATABASE_TYPE_POSTGRES
	MySQL    Dialect = config.DATABASE_TYPE_MYSQL
	SQLite   Dialect = config.DATABASE_TYPE_SQLITE
)

// MigrationsPath is the directory inside migrations.FS holding this dialect's files.
func (d Dialect) MigrationsPath() string {
	switch d {
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	default:
		return "postgres"
	}
}

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, Dialect, error) {
	dialect := Dialect(cfg.Type)
	slog.Info("Opening database", "type", cfg.Type)
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, dialect, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}
	if dialect == SQLite {
		// sqlite allows a single writer, serialize through one connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, dialect, fmt.Errorf("ping %s database: %w", cfg.Type, err)
	}
	return db, dialect, nil
}

// Migrate applies the embedded migrations for the dialect in the given direction.
func Migrate(dialect Dialect, dbURL string, direction Direction) error {
	sub, err := fs.Sub(migrations.FS, dialect.MigrationsPath())
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return verr
	}
	slog.Info("Migrations applied", "direction", direction, "version", version, "dirty", dirty)
	return nil
}
