package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"itinera/api/internal/errs"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; SQLStore runs them on the pool and Tx runs
// them inside a transaction.
type queries struct {
	q querier
}

type SQLStore struct {
	queries
	db *DB
}

func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{queries: queries{q: db.DB}, db: db}
}

func (s *SQLStore) DB() *DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// Tx is a unit of work. Reads made through it see its own uncommitted writes.
type Tx struct {
	queries
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on an error or a panic, so the connection is
// released on every exit path.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("begin tx", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = sqlTx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(&Tx{queries: queries{q: sqlTx}, tx: sqlTx}); err != nil {
		return errs.Storage("run tx", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return errs.Storage("commit tx", err)
	}
	committed = true
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(format, args...)
	}
	return err
}

func expectRow(result sql.Result, format string, args ...any) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return errs.NotFound(format, args...)
	}
	return nil
}
