// Package storetest opens migrated databases for tests.
package storetest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"itinera/api/internal/store"
)

// PostgresEnv names the variable that points integration tests at PostgreSQL.
const PostgresEnv = "ITINERA_TEST_DATABASE_URL"

// New returns a store over a private, migrated in-memory SQLite database that
// is closed when the test ends.
func New(t testing.TB) *store.SQLStore {
	t.Helper()
	return open(t, "sqlite://:memory:")
}

// Postgres returns a store over the database named by ITINERA_TEST_DATABASE_URL,
// skipping the test when it is unset or -short is given. The public schema is
// reset first.
func Postgres(t testing.TB) *store.SQLStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(PostgresEnv))
	if dsn == "" {
		t.Skip(PostgresEnv + " is not set")
	}
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		_ = db.Close()
		t.Fatalf("reset schema: %v", err)
	}
	return migrate(t, db)
}

func open(t testing.TB, url string) *store.SQLStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := store.Open(ctx, url)
	if err != nil {
		t.Fatalf("open %s: %v", url, err)
	}
	return migrate(t, db)
}

func migrate(t testing.TB, db *store.DB) *store.SQLStore {
	t.Helper()
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.NewSQLStore(db)
}
