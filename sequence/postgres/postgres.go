// Package postgres backs sequence.Store with an upsert on a counters table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "rule_sequences"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Option configures the Store.
type Option func(*Store)

// WithTable overrides the counters table name.
func WithTable(name string) Option {
	return func(s *Store) { s.table = name }
}

// Store implements sequence.Store on PostgreSQL.
type Store struct {
	db    DB
	table string
	pool  *pgxpool.Pool
}

// New wraps an existing connection (usually a *pgxpool.Pool).
func New(db DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, table: defaultTable}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("sequence/postgres: invalid table name %q", s.table)
	}
	return s, nil
}

// Connect opens a pool from a connection string and owns it until Close.
func Connect(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("sequence/postgres: connect: %w", err)
	}
	s, err := New(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Close releases the pool opened by Connect.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the counters table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, value BIGINT NOT NULL)`, s.table))
	if err != nil {
		return fmt.Errorf("sequence/postgres: migrate: %w", err)
	}
	return nil
}

// Next increments the counter in a single statement, so concurrent callers
// in different processes never observe the same value.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("sequence/postgres: name required")
	}
	query := fmt.Sprintf(
		`INSERT INTO %[1]s (name, value) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = %[1]s.value + 1
RETURNING value`, s.table)

	var value int64
	if err := s.db.QueryRow(ctx, query, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("sequence/postgres: next %s: %w", name, err)
	}
	return value, nil
}
