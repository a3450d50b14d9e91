package dialects

import (
	"strings"
)

// SQLite targets SQLite 3.35+, which understands RETURNING
type SQLite struct{ ansi }

func (d SQLite) Name() string { return "sqlite" }
func (d SQLite) QuoteIdentifier(identifier string) string {
	return `"` + d.EscapeIdentifier(identifier) + `"`
}
func (d SQLite) Placeholder(n int) string     { return "?" }
func (d SQLite) SupportReturning() bool       { return true }
func (d SQLite) SupportsILike() bool          { return false }
func (d SQLite) SupportsNullsFirstLast() bool { return true }

func (d SQLite) FormatBoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d SQLite) EscapeIdentifier(identifier string) string {
	return strings.ReplaceAll(identifier, `"`, `""`)
}
