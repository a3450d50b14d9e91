package graph

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// introspector answers __schema and __type. Values are plain maps; fields
// that need arguments or would recurse into other types are funcs evaluated
// by defaultResolve only when selected.
type introspector struct {
	schema *ast.Schema
}

func (in *introspector) schemaValue() map[string]interface{} {
	s := in.schema
	return map[string]interface{}{
		"description": optional(s.Description),
		"types": func() interface{} {
			names := make([]string, 0, len(s.Types))
			for name := range s.Types {
				names = append(names, name)
			}
			sort.Strings(names)

			types := make([]interface{}, 0, len(names))
			for _, name := range names {
				types = append(types, in.typeValue(s.Types[name]))
			}
			return types
		},
		"queryType":        func() interface{} { return in.definition(s.Query) },
		"mutationType":     func() interface{} { return in.definition(s.Mutation) },
		"subscriptionType": func() interface{} { return in.definition(s.Subscription) },
		"directives": func() interface{} {
			names := make([]string, 0, len(s.Directives))
			for name := range s.Directives {
				names = append(names, name)
			}
			sort.Strings(names)

			dirs := make([]interface{}, 0, len(names))
			for _, name := range names {
				dirs = append(dirs, in.directiveValue(s.Directives[name]))
			}
			return dirs
		},
	}
}

func (in *introspector) typeByName(name string) interface{} {
	return in.definition(in.schema.Types[name])
}

// definition keeps a missing type a nil interface rather than a typed nil map
func (in *introspector) definition(def *ast.Definition) interface{} {
	if def == nil {
		return nil
	}
	return in.typeValue(def)
}

func (in *introspector) typeValue(def *ast.Definition) map[string]interface{} {
	return map[string]interface{}{
		"kind":           kindToIntrospection(def.Kind),
		"name":           def.Name,
		"description":    optional(def.Description),
		"specifiedByURL": nil,
		"ofType":         nil,
		"fields": func(args map[string]interface{}) interface{} {
			if def.Kind != ast.Object && def.Kind != ast.Interface {
				return nil
			}
			includeDeprecated, _ := args["includeDeprecated"].(bool)

			fields := make([]interface{}, 0, len(def.Fields))
			for _, f := range def.Fields {
				if strings.HasPrefix(f.Name, "__") {
					continue
				}
				if !includeDeprecated && isDeprecated(f.Directives) {
					continue
				}
				fields = append(fields, in.fieldValue(f))
			}
			return fields
		},
		"interfaces": func() interface{} {
			if def.Kind != ast.Object && def.Kind != ast.Interface {
				return nil
			}
			out := make([]interface{}, 0, len(def.Interfaces))
			for _, name := range def.Interfaces {
				if iface, ok := in.schema.Types[name]; ok {
					out = append(out, in.typeValue(iface))
				}
			}
			return out
		},
		"possibleTypes": func() interface{} {
			if def.Kind != ast.Interface && def.Kind != ast.Union {
				return nil
			}
			out := make([]interface{}, 0)
			for _, t := range in.schema.GetPossibleTypes(def) {
				out = append(out, in.typeValue(t))
			}
			return out
		},
		"enumValues": func(args map[string]interface{}) interface{} {
			if def.Kind != ast.Enum {
				return nil
			}
			includeDeprecated, _ := args["includeDeprecated"].(bool)

			values := make([]interface{}, 0, len(def.EnumValues))
			for _, v := range def.EnumValues {
				if !includeDeprecated && isDeprecated(v.Directives) {
					continue
				}
				values = append(values, map[string]interface{}{
					"name":              v.Name,
					"description":       optional(v.Description),
					"isDeprecated":      isDeprecated(v.Directives),
					"deprecationReason": deprecationReason(v.Directives),
				})
			}
			return values
		},
		"inputFields": func(args map[string]interface{}) interface{} {
			if def.Kind != ast.InputObject {
				return nil
			}
			fields := make([]interface{}, 0, len(def.Fields))
			for _, f := range def.Fields {
				fields = append(fields, in.inputValue(f.Name, f.Description, f.Type, f.DefaultValue, f.Directives))
			}
			return fields
		},
	}
}

// typeRef describes a possibly wrapped type reference
func (in *introspector) typeRef(t *ast.Type) interface{} {
	if t == nil {
		return nil
	}

	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return map[string]interface{}{
			"kind":   "NON_NULL",
			"name":   nil,
			"ofType": func() interface{} { return in.typeRef(&inner) },
		}
	}

	if t.Elem != nil {
		return map[string]interface{}{
			"kind":   "LIST",
			"name":   nil,
			"ofType": func() interface{} { return in.typeRef(t.Elem) },
		}
	}

	if def, ok := in.schema.Types[t.NamedType]; ok {
		return in.typeValue(def)
	}
	return map[string]interface{}{"kind": "SCALAR", "name": t.NamedType, "ofType": nil}
}

func (in *introspector) fieldValue(f *ast.FieldDefinition) map[string]interface{} {
	return map[string]interface{}{
		"name":        f.Name,
		"description": optional(f.Description),
		"args": func(args map[string]interface{}) interface{} {
			out := make([]interface{}, 0, len(f.Arguments))
			for _, arg := range f.Arguments {
				out = append(out, in.inputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
			}
			return out
		},
		"type":              func() interface{} { return in.typeRef(f.Type) },
		"isDeprecated":      isDeprecated(f.Directives),
		"deprecationReason": deprecationReason(f.Directives),
	}
}

func (in *introspector) inputValue(name, description string, t *ast.Type, def *ast.Value, dirs ast.DirectiveList) map[string]interface{} {
	var defaultValue interface{}
	if def != nil {
		defaultValue = def.String()
	}
	return map[string]interface{}{
		"name":              name,
		"description":       optional(description),
		"type":              func() interface{} { return in.typeRef(t) },
		"defaultValue":      defaultValue,
		"isDeprecated":      isDeprecated(dirs),
		"deprecationReason": deprecationReason(dirs),
	}
}

func (in *introspector) directiveValue(dir *ast.DirectiveDefinition) map[string]interface{} {
	locations := make([]interface{}, 0, len(dir.Locations))
	for _, loc := range dir.Locations {
		locations = append(locations, string(loc))
	}
	return map[string]interface{}{
		"name":         dir.Name,
		"description":  optional(dir.Description),
		"locations":    locations,
		"isRepeatable": dir.IsRepeatable,
		"args": func(args map[string]interface{}) interface{} {
			out := make([]interface{}, 0, len(dir.Arguments))
			for _, arg := range dir.Arguments {
				out = append(out, in.inputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
			}
			return out
		},
	}
}

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isDeprecated(directives ast.DirectiveList) bool {
	return directives.ForName("deprecated") != nil
}

func deprecationReason(directives ast.DirectiveList) interface{} {
	d := directives.ForName("deprecated")
	if d == nil {
		return nil
	}
	if arg := d.Arguments.ForName("reason"); arg != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}

// kindToIntrospection converts gqlparser's DefinitionKind to GraphQL introspection kind
func kindToIntrospection(kind ast.DefinitionKind) string {
	switch kind {
	case ast.Scalar:
		return "SCALAR"
	case ast.Object:
		return "OBJECT"
	case ast.Interface:
		return "INTERFACE"
	case ast.Union:
		return "UNION"
	case ast.Enum:
		return "ENUM"
	case ast.InputObject:
		return "INPUT_OBJECT"
	default:
		return string(kind)
	}
}
