package generator

import (
	"strings"
	"unicode"

	"github.com/eddieafk/ormql/model"
)

// Custom scalars every generated schema declares
const (
	ScalarJSON     = "JSON"
	ScalarDateTime = "DateTime"
)

var scalarTypes = map[string]string{
	"STRING":    "String",
	"TEXT":      "String",
	"CHAR":      "String",
	"VARCHAR":   "String",
	"CITEXT":    "String",
	"UUID":      "String",
	"UUIDV1":    "String",
	"UUIDV4":    "String",
	"ENUM":      "String",
	"TIME":      "String",
	"INTEGER":   "Int",
	"INT":       "Int",
	"BIGINT":    "Int",
	"SMALLINT":  "Int",
	"TINYINT":   "Int",
	"MEDIUMINT": "Int",
	"FLOAT":     "Float",
	"DOUBLE":    "Float",
	"REAL":      "Float",
	"DECIMAL":   "Float",
	"NUMERIC":   "Float",
	"BOOLEAN":   "Boolean",
	"BOOL":      "Boolean",
	"DATE":      ScalarDateTime,
	"DATEONLY":  ScalarDateTime,
	"DATETIME":  ScalarDateTime,
	"TIMESTAMP": ScalarDateTime,
	"NOW":       ScalarDateTime,
	"JSON":      ScalarJSON,
	"JSONB":     ScalarJSON,
	"ARRAY":     ScalarJSON,
	"HSTORE":    ScalarJSON,
}

// ScalarFor maps a native type tag such as "VARCHAR(255)" or
// "timestamp with time zone" to a GraphQL scalar. Unknown tags map to String.
func ScalarFor(native string) string {
	tag := strings.TrimSpace(native)
	if i := strings.IndexFunc(tag, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}); i >= 0 {
		tag = tag[:i]
	}
	if s, ok := scalarTypes[strings.ToUpper(tag)]; ok {
		return s
	}
	return "String"
}

// GraphQLType applies list and nullability modifiers to a named type
func GraphQLType(name string, list, nullable bool) string {
	t := name
	if list {
		t = "[" + t + "]"
	}
	if !nullable {
		t += "!"
	}
	return t
}

func attributeNullable(a model.Attribute, fc FieldConfig) bool {
	if fc.Nullable != nil {
		return *fc.Nullable
	}
	return a.AllowNull
}

func associationNullable(a model.Association, fc FieldConfig) bool {
	if fc.Nullable != nil {
		return *fc.Nullable
	}
	return a.Kind != model.BelongsTo
}

func associationList(a model.Association, fc FieldConfig) bool {
	if fc.List != nil {
		return *fc.List
	}
	return a.Kind.IsList()
}
