package stringifiers

import (
	"strings"

	"github.com/eddieafk/ormql/sql/ast"
	"github.com/eddieafk/ormql/sql/dialect"
)

type StringBuilder struct {
	strings.Builder
	Dialect dialect.Dialect
}

// NewStringBuilder returns a builder rendering statements for d
func NewStringBuilder(d dialect.Dialect) *StringBuilder {
	return &StringBuilder{Dialect: d}
}

type SelectOptions struct {
	TableName string
	Columns   []string
	Where     []string
	OrderBy   []ast.OrderByColumn
	Limit     string
	Offset    string
}

type InsertOptions struct {
	TableName string
	Columns   []string
	Values    []string
	Returning []string
}

type UpdateOptions struct {
	TableName string
	Set       []ast.Assignment
	Where     []string
	Returning []string
}

type DeleteOptions struct {
	TableName string
	Where     []string
	Returning []string
}

func (s *StringBuilder) BuildSelect(opts SelectOptions) string {
	s.Reset()

	// SELECT clause
	s.WriteString("SELECT ")
	if len(opts.Columns) > 0 {
		s.WriteString(strings.Join(opts.Columns, ", "))
	} else {
		s.WriteString("*")
	}

	// FROM clause
	s.WriteString(" FROM ")
	s.WriteString(opts.TableName)

	s.writeWhere(opts.Where)

	// ORDER BY clause
	if len(opts.OrderBy) > 0 {
		s.WriteString(" ORDER BY ")
		parts := make([]string, len(opts.OrderBy))
		for i, o := range opts.OrderBy {
			parts[i] = o.Column + " " + s.Dialect.FormatOrderDirection(o.Direction)
		}
		s.WriteString(strings.Join(parts, ", "))
	}

	// LIMIT/OFFSET clause
	if s.Dialect.SupportsLimitOffset() {
		limit := opts.Limit
		if limit == "" && opts.Offset != "" {
			limit = s.unboundedLimit()
		}
		if limit != "" {
			s.WriteString(" LIMIT ")
			s.WriteString(limit)
		}
		if opts.Offset != "" {
			s.WriteString(" OFFSET ")
			s.WriteString(opts.Offset)
		}
	}

	return s.String()
}

func (s *StringBuilder) BuildInsert(opts InsertOptions) string {
	s.Reset()

	s.WriteString("INSERT INTO ")
	s.WriteString(opts.TableName)

	if len(opts.Columns) == 0 {
		if s.Dialect.Name() == "mysql" {
			s.WriteString(" () VALUES ()")
		} else {
			s.WriteString(" DEFAULT VALUES")
		}
	} else {
		s.WriteString(" (")
		s.WriteString(strings.Join(opts.Columns, ", "))
		s.WriteString(") VALUES (")
		s.WriteString(strings.Join(opts.Values, ", "))
		s.WriteString(")")
	}

	s.writeReturning(opts.Returning)
	return s.String()
}

func (s *StringBuilder) BuildUpdate(opts UpdateOptions) string {
	s.Reset()

	s.WriteString("UPDATE ")
	s.WriteString(opts.TableName)

	// SET clause
	s.WriteString(" SET ")
	parts := make([]string, len(opts.Set))
	for i, a := range opts.Set {
		parts[i] = a.Column + " = " + a.Value
	}
	s.WriteString(strings.Join(parts, ", "))

	s.writeWhere(opts.Where)
	s.writeReturning(opts.Returning)
	return s.String()
}

func (s *StringBuilder) BuildDelete(opts DeleteOptions) string {
	s.Reset()

	s.WriteString("DELETE FROM ")
	s.WriteString(opts.TableName)

	s.writeWhere(opts.Where)
	s.writeReturning(opts.Returning)
	return s.String()
}

func (s *StringBuilder) writeWhere(where []string) {
	if len(where) == 0 {
		return
	}
	s.WriteString(" WHERE ")
	s.WriteString(strings.Join(where, " AND "))
}

func (s *StringBuilder) writeReturning(returning []string) {
	if s.Dialect.SupportReturning() && len(returning) > 0 {
		s.WriteString(" RETURNING ")
		s.WriteString(strings.Join(returning, ", "))
	}
}

// unboundedLimit is the LIMIT value meaning "all rows" for dialects that
// cannot express OFFSET on its own
func (s *StringBuilder) unboundedLimit() string {
	switch s.Dialect.Name() {
	case "mysql":
		return "18446744073709551615"
	case "sqlite":
		return "-1"
	default:
		return ""
	}
}
