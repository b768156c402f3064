package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		sql  string
		want QueryType
	}{
		{"SELECT * FROM users", Select},
		{"  SELECT id FROM posts", Select},
		{"\nSELECT name FROM items", Select},
		{"select * from users", Select},
		{"INSERT INTO users (name) VALUES ('Alice')", Insert},
		{"\t\tINSERT INTO users", Insert},
		{"UPDATE users SET name = 'Bob' WHERE id = 1", Update},
		{"update posts set title = 'New'", Update},
		{"DELETE FROM users WHERE id = 1", Delete},
		{"delete from posts", Delete},
		{"CREATE TABLE users (id INTEGER)", Create},
		{"DROP TABLE users", Drop},
		{"ALTER TABLE users ADD COLUMN email TEXT", Alter},
		{"BEGIN TRANSACTION", Begin},
		{"BEGIN;", Begin},
		{"COMMIT", Commit},
		{"ROLLBACK", Rollback},
		{"PRAGMA table_info(users)", Other},
		{"EXPLAIN SELECT * FROM users", Other},
		{"WITH x AS (SELECT 1) SELECT * FROM x", Other},
		{"SELECTED FROM t", Other},
		{"", Other},
		{"   \r\n\t ", Other},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.sql), "%q", c.sql)
	}
}

func TestClassifyIgnoresCaseAndLeadingWhitespace(t *testing.T) {
	for _, kw := range leadingKeywords {
		for _, prefix := range []string{"", " ", "\t", "\n", "\r\n", "  \r\n\t "} {
			for _, word := range []string{kw.word, strings.ToLower(kw.word), mixedCase(kw.word)} {
				sql := prefix + word + " x"
				assert.Equal(t, kw.typ, Classify(sql), "%q", sql)
			}
		}
	}
}

func TestQueryTypeString(t *testing.T) {
	assert.Equal(t, "select", Select.String())
	assert.Equal(t, "rollback", Rollback.String())
	assert.Equal(t, "other", Other.String())
	assert.Equal(t, "other", QueryType(99).String())
}

func TestShouldUseQuery(t *testing.T) {
	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM t", true},
		{"  select id from t", true},
		{"SELECT\n", true},
		{"SELECT", true},
		{"\r\n\tSeLeCt 1", true},
		{"SELECTED FROM t", false},
		{"INSERT INTO t VALUES (1) RETURNING id", true},
		{"insert into t values (1) returning *", true},
		{`INSERT INTO t ("id") VALUES (1) RETURNING "id"`, true},
		{"UPDATE t SET v = 1 RETURNING\nid", true},
		{"DELETE FROM t RETURNING(id)", true},
		{"INSERT INTO t VALUES (1)", false},
		{"INSERT INTO t VALUES (1) NORETURNING id", false},
		{"INSERT INTO t VALUES (1) RETURNINGS id", false},
		{"INSERT INTO t_RETURNING VALUES (1)", false},
		{"UPDATE t SET v = 1 /* note */ RETURNING id", true},
		{"", false},
		{"   ", false},
		{"S", false},
		{"-- c\nSELECT * FROM t", false},
		{"/* c */ SELECT 1", false},
		{"PRAGMA user_version", false},
		{"CREATE TABLE t(id INTEGER, v TEXT)", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ShouldUseQuery(c.sql), "%q", c.sql)
	}
}

func TestShouldUseQueryDoesNotAllocate(t *testing.T) {
	long := "INSERT INTO t (a, b, c) VALUES (1, 2, 3), (4, 5, 6) " + strings.Repeat("-- padding\n", 64) + "RETURNING a"
	for _, sql := range []string{"SELECT 1", long, "UPDATE t SET v = 1"} {
		allocs := testing.AllocsPerRun(100, func() {
			_ = ShouldUseQuery(sql)
			_ = Classify(sql)
		})
		assert.Zero(t, allocs, "%q", sql)
	}
}

func BenchmarkShouldUseQuery(b *testing.B) {
	sql := "INSERT INTO users (id, name, email, created_at) VALUES (?1, ?2, ?3, ?4) RETURNING id"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ShouldUseQuery(sql)
	}
}

func mixedCase(s string) string {
	b := []byte(strings.ToLower(s))
	for i := 0; i < len(b); i += 2 {
		b[i] -= 'a' - 'A'
	}
	return string(b)
}
