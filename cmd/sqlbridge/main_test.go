package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{}
	t.Cleanup(a.close)
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExecAndQuery(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "exec", db, "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, nick TEXT)")
	require.NoError(t, err)

	out, err := runCLI(t, "exec", db, "INSERT INTO people (name, nick) VALUES (?, NULL)", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "rows affected: 1, last insert id: 1")

	out, err = runCLI(t, "query", db, "SELECT id, name, nick FROM people WHERE id = ?", "1")
	require.NoError(t, err)
	assert.Regexp(t, `(?i)\bname\b`, out)
	assert.Regexp(t, `1\s*\S\s*alice\s*\S\s*NULL`, out)

	out, err = runCLI(t, "query", db, "DELETE FROM people")
	require.NoError(t, err)
	assert.Contains(t, out, "rows affected: 1")
}

func TestQueryReportsEngineErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	_, err := runCLI(t, "query", db, "SELECT * FROM missing")
	assert.Equal(t, types.KindEngine, types.KindOf(err))
}

func TestRunRejectsMissingGuest(t *testing.T) {
	_, err := runCLI(t, "run", filepath.Join(t.TempDir(), "absent.wasm"))
	assert.ErrorContains(t, err, "failed to read guest")
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, []types.Value{
		types.Integer(7),
		types.Real(2.5),
		types.Text("bob"),
	}, parseArgs([]string{"7", "2.5", "bob"}))
}
