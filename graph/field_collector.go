package graph

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// FieldCollector collects and processes fields from a GraphQL operation
type FieldCollector struct {
	schema    *Schema
	fragments map[string]*ast.FragmentDefinition
	variables map[string]interface{}
}

// NewFieldCollector creates a new field collector
func NewFieldCollector(schema *Schema, fragments map[string]*ast.FragmentDefinition, variables map[string]interface{}) *FieldCollector {
	return &FieldCollector{
		schema:    schema,
		fragments: fragments,
		variables: variables,
	}
}

// pendingField is a response key seen during collection together with every
// sub-selection contributed to it
type pendingField struct {
	field *SelectedField
	sets  []ast.SelectionSet
}

// CollectFields collects fields from a selection set, handling fragments and
// spreads. Fields keep the order in which their response key first appears.
func (fc *FieldCollector) CollectFields(selectionSet ast.SelectionSet, parentType string) *SelectionSet {
	if selectionSet == nil {
		return nil
	}

	result := &SelectionSet{
		Fields: make([]*SelectedField, 0),
	}

	var order []*pendingField
	byKey := make(map[string]*pendingField)

	fc.collectFieldsImpl(selectionSet, parentType, byKey, &order, result)

	for _, p := range order {
		if len(p.sets) > 0 {
			var merged ast.SelectionSet
			for _, set := range p.sets {
				merged = append(merged, set...)
			}
			p.field.Selections = fc.CollectFields(merged, fc.getFieldTypeName(parentType, p.field.Name))
		}
		result.Fields = append(result.Fields, p.field)
	}

	return result
}

func (fc *FieldCollector) collectFieldsImpl(
	selectionSet ast.SelectionSet,
	parentType string,
	byKey map[string]*pendingField,
	order *[]*pendingField,
	result *SelectionSet,
) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *ast.Field:
			if !fc.shouldInclude(sel.Directives) {
				continue
			}

			if sel.Name == "__typename" {
				result.Typename = true
			}

			responseKey := sel.Alias
			if responseKey == "" {
				responseKey = sel.Name
			}

			p, ok := byKey[responseKey]
			if !ok {
				p = &pendingField{
					field: &SelectedField{
						Name:       sel.Name,
						Alias:      sel.Alias,
						Arguments:  fc.collectArguments(sel),
						Directives: fc.collectDirectives(sel.Directives),
					},
				}
				byKey[responseKey] = p
				*order = append(*order, p)
			}
			if sel.SelectionSet != nil {
				p.sets = append(p.sets, sel.SelectionSet)
			}

		case *ast.FragmentSpread:
			if !fc.shouldInclude(sel.Directives) {
				continue
			}

			fragment, ok := fc.fragments[sel.Name]
			if !ok {
				continue
			}

			if !fc.typeApplies(fragment.TypeCondition, parentType) {
				continue
			}

			fc.collectFieldsImpl(fragment.SelectionSet, parentType, byKey, order, result)

		case *ast.InlineFragment:
			if !fc.shouldInclude(sel.Directives) {
				continue
			}

			if sel.TypeCondition != "" && !fc.typeApplies(sel.TypeCondition, parentType) {
				continue
			}

			fc.collectFieldsImpl(sel.SelectionSet, parentType, byKey, order, result)
		}
	}
}

// shouldInclude checks @skip and @include directives
func (fc *FieldCollector) shouldInclude(directives ast.DirectiveList) bool {
	for _, dir := range directives {
		switch dir.Name {
		case "skip":
			if b, ok := fc.boolArg(dir, "if"); ok && b {
				return false
			}
		case "include":
			if b, ok := fc.boolArg(dir, "if"); ok && !b {
				return false
			}
		}
	}
	return true
}

func (fc *FieldCollector) boolArg(dir *ast.Directive, name string) (bool, bool) {
	arg := dir.Arguments.ForName(name)
	if arg == nil {
		return false, false
	}
	v, err := arg.Value.Value(fc.variables)
	if err != nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// collectArguments resolves argument values against the variables. Field
// definitions attached by validation supply default values.
func (fc *FieldCollector) collectArguments(sel *ast.Field) map[string]interface{} {
	if sel.Definition != nil {
		return sel.ArgumentMap(fc.variables)
	}

	result := make(map[string]interface{}, len(sel.Arguments))
	for _, arg := range sel.Arguments {
		if v, err := arg.Value.Value(fc.variables); err == nil {
			result[arg.Name] = v
		}
	}
	return result
}

// collectDirectives extracts directive instances
func (fc *FieldCollector) collectDirectives(dirs ast.DirectiveList) []*DirectiveInstance {
	result := make([]*DirectiveInstance, 0, len(dirs))

	for _, dir := range dirs {
		if dir.Name == "skip" || dir.Name == "include" {
			continue
		}

		d := &DirectiveInstance{
			Name:      dir.Name,
			Arguments: make(map[string]interface{}),
		}

		for _, arg := range dir.Arguments {
			if v, err := arg.Value.Value(fc.variables); err == nil {
				d.Arguments[arg.Name] = v
			}
		}

		result = append(result, d)
	}

	return result
}

// getFieldTypeName gets the return type name for a field
func (fc *FieldCollector) getFieldTypeName(parentType, fieldName string) string {
	t, ok := fc.schema.FieldType(parentType, fieldName)
	if !ok {
		return ""
	}
	return t.NamedType()
}

// typeApplies checks if a fragment type condition applies to a runtime type
func (fc *FieldCollector) typeApplies(fragmentType, runtimeType string) bool {
	return fragmentType == runtimeType || fc.schema.Implements(runtimeType, fragmentType)
}
