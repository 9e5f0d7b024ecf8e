package report

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMigrationDB keeps schema_migrations in memory. Statements containing
// failOn fail inside their transaction.
type fakeMigrationDB struct {
	applied map[int]time.Time
	execs   []string
	failOn  string
	begun   int
}

func newFakeMigrationDB() *fakeMigrationDB {
	return &fakeMigrationDB{applied: make(map[int]time.Time)}
}

func (d *fakeMigrationDB) Begin(context.Context) (pgx.Tx, error) {
	d.begun++
	return &fakeTx{db: d}, nil
}

func (d *fakeMigrationDB) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (d *fakeMigrationDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	versions := make([]int, 0, len(d.applied))
	for v := range d.applied {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	rows := &fakeRows{}
	for _, v := range versions {
		rows.data = append(rows.data, []any{v, d.applied[v]})
	}
	return rows, nil
}

type fakeTx struct {
	pgx.Tx
	db       *fakeMigrationDB
	pending  []int
	finished bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if tx.db.failOn != "" && strings.Contains(sql, tx.db.failOn) {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		tx.pending = append(tx.pending, args[0].(int))
	}
	return pgconn.CommandTag{}, nil
}

func (tx *fakeTx) Commit(context.Context) error {
	now := time.Now().UTC()
	for _, v := range tx.pending {
		tx.db.applied[v] = now
	}
	tx.finished = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.finished {
		return pgx.ErrTxClosed
	}
	tx.pending = nil
	tx.finished = true
	return nil
}

type fakeRows struct {
	pgx.Rows
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	*dest[0].(*int) = row[0].(int)
	*dest[1].(*time.Time) = row[1].(time.Time)
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func TestMigratorUpAppliesPendingOnce(t *testing.T) {
	ctx := context.Background()
	db := newFakeMigrationDB()
	m := &Migrator{db: db, files: migrationFiles}

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, db.begun)
	assert.Contains(t, db.applied, 1)
	assert.Contains(t, db.applied, 2)
	assert.Contains(t, db.execs[0], "CREATE TABLE IF NOT EXISTS schema_migrations")

	n, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, db.begun)
}

func TestMigratorUpStopsAtFailingMigration(t *testing.T) {
	ctx := context.Background()
	db := newFakeMigrationDB()
	db.failOn = "ADD CONSTRAINT"
	m := &Migrator{db: db, files: migrationFiles}

	n, err := m.Up(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "apply migration 2")
	assert.Contains(t, db.applied, 1)
	assert.NotContains(t, db.applied, 2, "failed migration is rolled back")

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	require.NotNil(t, statuses[0].AppliedAt)
	assert.False(t, statuses[1].Applied)
	assert.Nil(t, statuses[1].AppliedAt)
}
