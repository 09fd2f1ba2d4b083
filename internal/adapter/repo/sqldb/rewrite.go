package sqldb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Rewrite translates a statement written with canonical '?' placeholders
// into the dialect's native form: untouched for SQLite, renumbered $1..$N
// for PostgreSQL. The statement is tokenized so placeholders inside string
// literals, quoted identifiers, and comments are never rewritten. The
// placeholder count must equal nargs; a mismatch fails here, before the
// driver sees the statement.
func Rewrite(d Dialect, query string, nargs int) (string, error) {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch c {
		case '\'':
			j, err := skipQuoted(query, i, '\'')
			if err != nil {
				return "", err
			}
			b.WriteString(query[i : j+1])
			i = j
		case '"':
			j, err := skipQuoted(query, i, '"')
			if err != nil {
				return "", err
			}
			b.WriteString(query[i : j+1])
			i = j
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				j := i
				for j < len(query) && query[j] != '\n' {
					j++
				}
				b.WriteString(query[i:j])
				i = j - 1
				continue
			}
			b.WriteByte(c)
		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				end := strings.Index(query[i+2:], "*/")
				if end < 0 {
					return "", fmt.Errorf("op=sqldb.rewrite: %w: unterminated block comment", domain.ErrInvalidArgument)
				}
				j := i + 2 + end + 1 // index of the closing '/'
				b.WriteString(query[i : j+1])
				i = j
				continue
			}
			b.WriteByte(c)
		case '?':
			n++
			if d == DialectPostgres {
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(n))
			} else {
				b.WriteByte('?')
			}
		default:
			b.WriteByte(c)
		}
	}
	if n != nargs {
		return "", fmt.Errorf("op=sqldb.rewrite: %w: statement has %d placeholders, %d args given", domain.ErrInvalidArgument, n, nargs)
	}
	return b.String(), nil
}

// skipQuoted returns the index of the closing quote for the run starting at
// start. Doubled quotes ('' or "") are the escape form and stay inside the
// run.
func skipQuoted(query string, start int, quote byte) (int, error) {
	for j := start + 1; j < len(query); j++ {
		if query[j] != quote {
			continue
		}
		if j+1 < len(query) && query[j+1] == quote {
			j++
			continue
		}
		return j, nil
	}
	return 0, fmt.Errorf("op=sqldb.rewrite: %w: unterminated quote", domain.ErrInvalidArgument)
}
