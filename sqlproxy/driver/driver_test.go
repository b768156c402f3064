package driver

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/host"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// openDB routes the driver to an in-process host and opens a fresh database.
func openDB(t *testing.T) (*sqlx.DB, *host.SQLHost) {
	t.Helper()
	b, err := bridge.New(bridge.Config{Workers: 4})
	require.NoError(t, err)
	h := host.New(host.Config{Bridge: b})

	SetHostHandler(func(requestPayload []byte) ([]byte, error) {
		return h.HandleRequest(context.Background(), requestPayload)
	})

	db, err := sqlx.Open(driverName, filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		db.Close()
		_ = b.Close()
		SetHostHandler(nil)
	})
	return db, h
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want types.SQLRequest
	}{
		{
			dsn:  "app.db",
			want: types.SQLRequest{Command: "open", Path: "app.db"},
		},
		{
			dsn:  ":memory:",
			want: types.SQLRequest{Command: "open", Path: ":memory:"},
		},
		{
			dsn: "replica.db?mode=remote_replica&url=libsql://db.example.com&auth_token=T&sync=true",
			want: types.SQLRequest{
				Command:     "open",
				Path:        "replica.db",
				Mode:        types.ModeRemoteReplica,
				URL:         "libsql://db.example.com",
				AuthToken:   "T",
				SyncEnabled: true,
			},
		},
		{
			dsn: "postgres://app@db.example.com/app?auth_token=T&sslmode=disable",
			want: types.SQLRequest{
				Command:   "open",
				Mode:      types.ModeRemotePrimary,
				URL:       "postgres://app@db.example.com/app?sslmode=disable",
				AuthToken: "T",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			got, err := ParseDSN(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDSN("app.db?sync=maybe")
	assert.Error(t, err)
}

type item struct {
	ID    int64          `db:"id"`
	Name  string         `db:"name"`
	Data  []byte         `db:"data"`
	Score float64        `db:"score"`
	Note  sql.NullString `db:"note"`
}

func TestRoundTrip(t *testing.T) {
	db, _ := openDB(t)

	db.MustExec(`CREATE TABLE items (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB,
		score REAL,
		note TEXT
	)`)
	res := db.MustExec("INSERT INTO items (name, data, score, note) VALUES (?, ?, ?, ?)",
		"first", []byte{0, 1, 2}, 1.5, nil)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	db.MustExec("INSERT INTO items (name, data, score, note) VALUES (?, ?, ?, ?)",
		"second", []byte("x"), 2.25, "hello")

	var items []item
	require.NoError(t, db.Select(&items, "SELECT * FROM items ORDER BY id"))
	assert.Equal(t, []item{
		{ID: 1, Name: "first", Data: []byte{0, 1, 2}, Score: 1.5},
		{ID: 2, Name: "second", Data: []byte("x"), Score: 2.25, Note: sql.NullString{String: "hello", Valid: true}},
	}, items)

	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM items WHERE score > ?", 2))
	assert.Equal(t, 1, count)

	res = db.MustExec("UPDATE items SET note = ? WHERE id = ?", "updated", 1)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPreparedStatement(t *testing.T) {
	db, h := openDB(t)
	db.MustExec("CREATE TABLE t (id INTEGER)")

	stmt, err := db.Preparex("INSERT INTO t VALUES (?)")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := stmt.Exec(i)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.Stats().Statements)
	require.NoError(t, stmt.Close())
	assert.Zero(t, h.Stats().Statements)

	var ids []int
	require.NoError(t, db.Select(&ids, "SELECT id FROM t ORDER BY id"))
	assert.Equal(t, []int{0, 1, 2}, ids)
}

func TestTransactions(t *testing.T) {
	db, h := openDB(t)
	db.MustExec("CREATE TABLE t (id INTEGER)")

	tx, err := db.Beginx()
	require.NoError(t, err)
	tx.MustExec("INSERT INTO t VALUES (1)")
	assert.Equal(t, 1, h.Stats().Transactions)
	require.NoError(t, tx.Rollback())
	assert.Zero(t, h.Stats().Transactions)

	tx, err = db.BeginTxx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	require.NoError(t, err)
	tx.MustExec("INSERT INTO t VALUES (2)")
	var inside int
	require.NoError(t, tx.Get(&inside, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, inside)
	require.NoError(t, tx.Commit())

	var ids []int
	require.NoError(t, db.Select(&ids, "SELECT id FROM t"))
	assert.Equal(t, []int{2}, ids)

	// SQLite has no read-only transactions.
	_, err = db.BeginTxx(context.Background(), &sql.TxOptions{ReadOnly: true})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Zero(t, h.Stats().Transactions)
}

func TestRowsStreamInBatches(t *testing.T) {
	saved := FetchSize
	FetchSize = 2
	t.Cleanup(func() { FetchSize = saved })

	db, h := openDB(t)
	db.MustExec("CREATE TABLE t (id INTEGER)")
	db.MustExec("INSERT INTO t VALUES (1), (2), (3), (4), (5)")

	rows, err := db.Queryx("SELECT id FROM t ORDER BY id")
	require.NoError(t, err)
	var got []int
	for rows.Next() {
		var id int
		require.NoError(t, rows.Scan(&id))
		got = append(got, id)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Zero(t, h.Stats().Cursors)

	// Abandoning a result set early releases the host cursor.
	rows, err = db.Queryx("SELECT id FROM t ORDER BY id")
	require.NoError(t, err)
	require.True(t, rows.Next())
	assert.Equal(t, 1, h.Stats().Cursors)
	require.NoError(t, rows.Close())
	assert.Zero(t, h.Stats().Cursors)
}

func TestColumnTypes(t *testing.T) {
	db, _ := openDB(t)
	db.MustExec("CREATE TABLE t (id INTEGER, name text)")
	db.MustExec("INSERT INTO t VALUES (1, 'a')")

	rows, err := db.Query("SELECT id, name FROM t")
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "INTEGER", cols[0].DatabaseTypeName())
	assert.Equal(t, "TEXT", cols[1].DatabaseTypeName())
}

func TestHostErrorsKeepTheirKind(t *testing.T) {
	db, _ := openDB(t)

	_, err := call[types.GeneralResponse](types.SQLRequest{Command: types.CommandCloseConn, ConnID: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = call[types.GeneralResponse](types.SQLRequest{Command: "explode"})
	var remote *types.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, types.KindRequest, remote.Kind)

	_, err = db.Exec("CREATE TABLE (")
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, types.KindEngine, remote.Kind)
}

func TestCallHostNotSet(t *testing.T) {
	SetHostHandler(nil)
	_, err := call[types.GeneralResponse](types.SQLRequest{Command: types.CommandStats})
	assert.ErrorContains(t, err, "CallHost function is not set")
}
