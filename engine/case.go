package engine

import (
	"strings"
	"unicode"
)

// toCamel converts a snake_case column name to camelCase. Leading and
// repeated underscores are dropped and the first letter is lowered, so
// "USER_ID" and "user_id" both map to "userId".
func toCamel(s string) string {
	if s == "" || !strings.ContainsRune(s, '_') {
		return s
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes))

	upperNext := false

	for _, r := range runes {
		switch {
		case r == '_':
			if b.Len() > 0 {
				upperNext = true
			}

		case upperNext:
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false

		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String()
}

// camelRows rewrites the column names of rows in place.
func camelRows(rows []Row) []Row {
	for i, row := range rows {
		rows[i] = camelRow(row)
	}
	return rows
}

func camelRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[toCamel(k)] = v
	}
	return out
}
