// Package sqlgen builds the SQL emitted for derived views: the
// current/history/dispatching view triple and their INSTEAD OF
// triggers. Statements are assembled from a small structural model and
// pretty-printed deterministically, so regenerating a view from the
// same definition yields byte-identical SQL.
package sqlgen

import "strings"

// AttrTableName derives the child relation name from an attribute
// ident: namespace and word separators become underscores and the
// result is lowercased, e.g. "db.view/optional-attributes" ->
// "attr_db_view_optional_attributes".
func AttrTableName(ident string) string {
	return "attr_" + normalize(ident)
}

// ColumnName derives a view column name from an attribute ident: the
// part after the namespace separator with word separators normalized,
// e.g. "person/first-name" -> "first_name".
func ColumnName(ident string) string {
	if i := strings.LastIndexByte(ident, '/'); i >= 0 {
		ident = ident[i+1:]
	}
	return normalize(ident)
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r == '/' || r == '.' || r == '-':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
