package dialects

import (
	"strings"

	"github.com/eddieafk/ormql/sql/ast"
)

// ansi holds the formatters shared by every supported dialect
type ansi struct{}

func (ansi) QuoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
func (ansi) EscapeString(value string) string {
	return strings.ReplaceAll(value, `'`, `''`)
}
func (ansi) SupportsLimitOffset() bool { return true }

func (ansi) FormatOrderDirection(dir ast.OrderDirection) string {
	if dir == ast.OrderAsc {
		return "ASC"
	}
	return "DESC"
}

func (ansi) FormatBinaryOp(op ast.BinaryOp) string {
	switch op {
	case ast.OpEq:
		return "="
	case ast.OpNeq:
		return "<>"
	case ast.OpLt:
		return "<"
	case ast.OpLte:
		return "<="
	case ast.OpGt:
		return ">"
	case ast.OpGte:
		return ">="
	case ast.OpAnd:
		return "AND"
	case ast.OpOr:
		return "OR"
	case ast.OpLike:
		return "LIKE"
	case ast.OpILike:
		return "ILIKE"
	case ast.OpIn:
		return "IN"
	case ast.OpNotIn:
		return "NOT IN"
	default:
		return ""
	}
}

func (ansi) FormatUnaryOp(op ast.UnaryOp) string {
	switch op {
	case ast.OpNot:
		return "NOT"
	case ast.OpIsNull:
		return "IS NULL"
	case ast.OpIsNotNull:
		return "IS NOT NULL"
	default:
		return ""
	}
}

func (ansi) FormatBoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
