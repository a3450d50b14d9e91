package dialects

import (
	"strconv"
	"strings"
)

type PostgreSQL struct{ ansi }

func (d PostgreSQL) Name() string { return "postgresql" }
func (d PostgreSQL) QuoteIdentifier(identifier string) string {
	return `"` + d.EscapeIdentifier(identifier) + `"`
}
func (d PostgreSQL) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
func (d PostgreSQL) SupportReturning() bool       { return true }
func (d PostgreSQL) SupportsILike() bool          { return true }
func (d PostgreSQL) SupportsNullsFirstLast() bool { return true }

func (d PostgreSQL) EscapeIdentifier(identifier string) string {
	return strings.ReplaceAll(identifier, `"`, `""`)
}
