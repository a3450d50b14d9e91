package dialect

import (
	"fmt"

	"github.com/eddieafk/ormql/sql/ast"
	"github.com/eddieafk/ormql/sql/stringifiers/dialects"
)

type Dialect interface {
	Name() string

	QuoteIdentifier(identifier string) string
	QuoteString(value string) string

	Placeholder(n int) string

	// Feature support flags
	SupportReturning() bool
	SupportsILike() bool
	SupportsLimitOffset() bool
	SupportsNullsFirstLast() bool

	// Formatters
	FormatOrderDirection(dir ast.OrderDirection) string
	FormatBinaryOp(op ast.BinaryOp) string
	FormatUnaryOp(op ast.UnaryOp) string
	FormatBoolLiteral(b bool) string

	// Escape functions
	EscapeString(value string) string
	EscapeIdentifier(identifier string) string
}

var (
	PostgreSQL Dialect = dialects.PostgreSQL{}
	MySQL      Dialect = dialects.MySQL{}
	SQLite     Dialect = dialects.SQLite{}
)

// ForDriver returns the dialect matching a database/sql driver name
func ForDriver(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return PostgreSQL, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}
