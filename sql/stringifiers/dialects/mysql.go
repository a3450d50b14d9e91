package dialects

import (
	"strings"
)

type MySQL struct{ ansi }

func (d MySQL) Name() string { return "mysql" }
func (d MySQL) QuoteIdentifier(identifier string) string {
	return "`" + d.EscapeIdentifier(identifier) + "`"
}
func (d MySQL) Placeholder(n int) string     { return "?" }
func (d MySQL) SupportReturning() bool       { return false }
func (d MySQL) SupportsILike() bool          { return false }
func (d MySQL) SupportsNullsFirstLast() bool { return false }

func (d MySQL) FormatBoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d MySQL) EscapeString(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `''`)
}

func (d MySQL) QuoteString(value string) string {
	return `'` + d.EscapeString(value) + `'`
}

func (d MySQL) EscapeIdentifier(identifier string) string {
	return strings.ReplaceAll(identifier, "`", "``")
}
