// Package classify inspects SQL text to decide how the host should execute it.
//
// Both functions run on every statement dispatch, so they scan the input in a
// single pass, never allocate, and never attempt to parse SQL.
package classify

// QueryType is an advisory tag for the leading keyword of a statement.
type QueryType int

const (
	Other QueryType = iota
	Select
	Insert
	Update
	Delete
	Create
	Drop
	Alter
	Begin
	Commit
	Rollback
)

var queryTypeNames = [...]string{
	Other:    "other",
	Select:   "select",
	Insert:   "insert",
	Update:   "update",
	Delete:   "delete",
	Create:   "create",
	Drop:     "drop",
	Alter:    "alter",
	Begin:    "begin",
	Commit:   "commit",
	Rollback: "rollback",
}

func (t QueryType) String() string {
	if t < 0 || int(t) >= len(queryTypeNames) {
		return "other"
	}
	return queryTypeNames[t]
}

var leadingKeywords = [...]struct {
	word string
	typ  QueryType
}{
	{"SELECT", Select},
	{"INSERT", Insert},
	{"UPDATE", Update},
	{"DELETE", Delete},
	{"CREATE", Create},
	{"DROP", Drop},
	{"ALTER", Alter},
	{"BEGIN", Begin},
	{"COMMIT", Commit},
	{"ROLLBACK", Rollback},
}

// Classify returns the type of sql's leading keyword. Anything that does not
// start with a known keyword, including blank input, is Other.
func Classify(sql string) QueryType {
	i := skipWhitespace(sql)
	for _, kw := range leadingKeywords {
		if keywordAt(sql, i, kw.word) {
			return kw.typ
		}
	}
	return Other
}

// ShouldUseQuery reports whether sql must run through the row-returning path:
// it starts with SELECT, or contains RETURNING anywhere. Both keywords must
// sit on word boundaries, so SELECTED and NORETURNING do not count.
//
// Comments are not skipped. A statement whose first token is a comment takes
// the no-rows path even if SELECT follows it.
func ShouldUseQuery(sql string) bool {
	i := skipWhitespace(sql)
	if keywordAt(sql, i, "SELECT") {
		return true
	}
	for ; i+len("RETURNING") <= len(sql); i++ {
		if c := sql[i]; c != 'R' && c != 'r' {
			continue
		}
		if keywordAt(sql, i, "RETURNING") {
			return true
		}
	}
	return false
}

func skipWhitespace(s string) int {
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// keywordAt reports whether the upper-case keyword kw occurs in s at offset i,
// case-insensitively, with no identifier character on either side.
func keywordAt(s string, i int, kw string) bool {
	if i+len(kw) > len(s) {
		return false
	}
	if i > 0 && isIdentByte(s[i-1]) {
		return false
	}
	for j := 0; j < len(kw); j++ {
		c := s[i+j]
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != kw[j] {
			return false
		}
	}
	end := i + len(kw)
	return end == len(s) || !isIdentByte(s[end])
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
