package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.value
	return nil
}

type fakeDB struct {
	queries []string
	args    [][]any
	next    int64
	err     error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.err
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	f.next++
	return fakeRow{value: f.next}
}

func TestNextUsesUpsertReturning(t *testing.T) {
	db := &fakeDB{}
	store, err := New(db, WithTable("exec_sequences"))
	require.NoError(t, err)

	v, err := store.Next(context.Background(), " exec_2026 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "INSERT INTO exec_sequences")
	assert.Contains(t, db.queries[0], "ON CONFLICT (name) DO UPDATE SET value = exec_sequences.value + 1")
	assert.Contains(t, db.queries[0], "RETURNING value")
	assert.Equal(t, []any{"exec_2026"}, db.args[0])
}

func TestNextErrors(t *testing.T) {
	store, err := New(&fakeDB{err: errors.New("deadlock detected")})
	require.NoError(t, err)

	_, err = store.Next(context.Background(), "exec_2026")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")

	_, err = store.Next(context.Background(), "")
	assert.Error(t, err)
}

func TestNewRejectsUnsafeTableName(t *testing.T) {
	_, err := New(&fakeDB{}, WithTable("seq; DROP TABLE users"))
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	store, err := New(db)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS rule_sequences")
}
