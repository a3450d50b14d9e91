package stringifiers

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/eddieafk/ormql/sql/ast"
	"github.com/eddieafk/ormql/sql/dialect"
)

var (
	// ErrUnknownField is returned when a filter names an attribute the model does not have
	ErrUnknownField = errors.New("unknown field")
	// ErrUnsupportedOperator is returned for filter operators outside the supported set
	ErrUnsupportedOperator = errors.New("unsupported operator")
)

// ColumnFunc resolves an attribute name to a quoted column reference
type ColumnFunc func(name string) (string, bool)

// WhereBuilder renders filter maps into SQL predicates.
//
// A filter is a map of attribute name to value. Plain values compare for
// equality, nil means IS NULL and slices mean IN. A nested map applies
// operators such as {"_gt": 3}. The keys _and, _or and _not combine nested
// filters.
type WhereBuilder struct {
	dialect dialect.Dialect
	args    *Args
	column  ColumnFunc
}

// NewWhereBuilder creates a builder writing parameters into args
func NewWhereBuilder(d dialect.Dialect, args *Args, column ColumnFunc) *WhereBuilder {
	return &WhereBuilder{dialect: d, args: args, column: column}
}

// Build renders filter as a single predicate, or "" when filter is empty
func (b *WhereBuilder) Build(filter map[string]interface{}) (string, error) {
	clauses, err := b.build(filter)
	if err != nil {
		return "", err
	}
	return strings.Join(clauses, " AND "), nil
}

func (b *WhereBuilder) build(filter map[string]interface{}) ([]string, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		value := filter[key]

		switch key {
		case "_and", "_or":
			items, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s expects a list of filters", key)
			}
			parts := make([]string, 0, len(items))
			for _, item := range items {
				sub, ok := item.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("%s expects a list of filters", key)
				}
				clause, err := b.Build(sub)
				if err != nil {
					return nil, err
				}
				if clause != "" {
					parts = append(parts, "("+clause+")")
				}
			}
			if len(parts) == 0 {
				continue
			}
			op := ast.OpAnd
			if key == "_or" {
				op = ast.OpOr
			}
			clauses = append(clauses, "("+strings.Join(parts, " "+b.dialect.FormatBinaryOp(op)+" ")+")")

		case "_not":
			sub, ok := value.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("_not expects a filter")
			}
			clause, err := b.Build(sub)
			if err != nil {
				return nil, err
			}
			if clause != "" {
				clauses = append(clauses, b.dialect.FormatUnaryOp(ast.OpNot)+" ("+clause+")")
			}

		default:
			column, ok := b.column(key)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownField, key)
			}

			if ops, ok := value.(map[string]interface{}); ok {
				opKeys := make([]string, 0, len(ops))
				for op := range ops {
					opKeys = append(opKeys, op)
				}
				sort.Strings(opKeys)
				for _, op := range opKeys {
					clause, err := b.condition(column, op, ops[op])
					if err != nil {
						return nil, err
					}
					clauses = append(clauses, clause)
				}
				continue
			}

			clause, err := b.condition(column, "_eq", value)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
	}

	return clauses, nil
}

// condition renders a single "column op value" predicate
func (b *WhereBuilder) condition(column, op string, value interface{}) (string, error) {
	switch op {
	case "_eq":
		if value == nil {
			return column + " " + b.dialect.FormatUnaryOp(ast.OpIsNull), nil
		}
		if items, ok := asList(value); ok {
			return b.in(column, ast.OpIn, items), nil
		}
		return b.binary(column, ast.OpEq, value), nil
	case "_neq", "_ne":
		if value == nil {
			return column + " " + b.dialect.FormatUnaryOp(ast.OpIsNotNull), nil
		}
		return b.binary(column, ast.OpNeq, value), nil
	case "_gt":
		return b.binary(column, ast.OpGt, value), nil
	case "_gte":
		return b.binary(column, ast.OpGte, value), nil
	case "_lt":
		return b.binary(column, ast.OpLt, value), nil
	case "_lte":
		return b.binary(column, ast.OpLte, value), nil
	case "_like":
		return b.binary(column, ast.OpLike, value), nil
	case "_ilike":
		if b.dialect.SupportsILike() {
			return b.binary(column, ast.OpILike, value), nil
		}
		return "LOWER(" + column + ") " + b.dialect.FormatBinaryOp(ast.OpLike) + " LOWER(" + b.args.Add(value) + ")", nil
	case "_in", "_nin":
		items, ok := asList(value)
		if !ok {
			return "", fmt.Errorf("%s expects a list", op)
		}
		if op == "_in" {
			return b.in(column, ast.OpIn, items), nil
		}
		return b.in(column, ast.OpNotIn, items), nil
	case "_is_null":
		isNull, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("_is_null expects a boolean")
		}
		if isNull {
			return column + " " + b.dialect.FormatUnaryOp(ast.OpIsNull), nil
		}
		return column + " " + b.dialect.FormatUnaryOp(ast.OpIsNotNull), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
}

func (b *WhereBuilder) binary(column string, op ast.BinaryOp, value interface{}) string {
	return column + " " + b.dialect.FormatBinaryOp(op) + " " + b.args.Add(value)
}

func (b *WhereBuilder) in(column string, op ast.BinaryOp, items []interface{}) string {
	if len(items) == 0 {
		// IN () is invalid SQL; an empty set matches nothing and excludes nothing
		if op == ast.OpIn {
			return "1 = 0"
		}
		return "1 = 1"
	}
	placeholders := make([]string, len(items))
	for i, item := range items {
		placeholders[i] = b.args.Add(item)
	}
	return column + " " + b.dialect.FormatBinaryOp(op) + " (" + strings.Join(placeholders, ", ") + ")"
}

// asList converts any non-byte slice into []interface{}
func asList(value interface{}) ([]interface{}, bool) {
	if items, ok := value.([]interface{}); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
