package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB is a connection pool that remembers which SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to postgres:// URLs through pgx and to sqlite:// URLs
// through go-sqlite3. "sqlite://:memory:" gives a private in-memory database.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	dialect, driver, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	switch dialect {
	case DialectSQLite:
		// One connection: writers serialise and an in-memory database survives.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	default:
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

func parseURL(databaseURL string) (Dialect, string, string, error) {
	value := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(value, "postgres://"), strings.HasPrefix(value, "postgresql://"):
		return DialectPostgres, "pgx", value, nil
	case strings.HasPrefix(value, "sqlite://"), strings.HasPrefix(value, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(value, "sqlite://"), "sqlite:")
		if path == "" || path == ":memory:" {
			return DialectSQLite, "sqlite3", ":memory:?_foreign_keys=1", nil
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return DialectSQLite, "sqlite3", path + sep + "_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL", nil
	default:
		return "", "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}
