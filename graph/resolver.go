package graph

import (
	"context"
	"sort"
)

// ResolverFunc is the signature for field resolver functions. parent is the
// value the enclosing object resolved to, nil for root fields.
type ResolverFunc func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error)

// ResolverTable is a plain resolver map keyed by type name, then field name
type ResolverTable map[string]map[string]ResolverFunc

// Set registers fn for typeName.fieldName
func (t ResolverTable) Set(typeName, fieldName string, fn ResolverFunc) {
	if t[typeName] == nil {
		t[typeName] = make(map[string]ResolverFunc)
	}
	t[typeName][fieldName] = fn
}

// Get returns the resolver for typeName.fieldName
func (t ResolverTable) Get(typeName, fieldName string) (ResolverFunc, bool) {
	fn, ok := t[typeName][fieldName]
	return fn, ok
}

// Merge copies every resolver of other into t, replacing existing entries
func (t ResolverTable) Merge(other ResolverTable) {
	for typeName, fields := range other {
		for fieldName, fn := range fields {
			t.Set(typeName, fieldName, fn)
		}
	}
}

// Keys returns "Type.field" for every resolver, sorted
func (t ResolverTable) Keys() []string {
	var keys []string
	for typeName, fields := range t {
		for fieldName := range fields {
			keys = append(keys, typeName+"."+fieldName)
		}
	}
	sort.Strings(keys)
	return keys
}

// FieldResolver handles resolution for a specific field
type FieldResolver struct {
	TypeName   string
	FieldName  string
	ResolverFn ResolverFunc
	Middleware []MiddlewareFunc
}

// MiddlewareFunc wraps resolver execution
type MiddlewareFunc func(ctx context.Context, next ResolverFunc) ResolverFunc

// ResolverMap holds all resolvers organized by type and field
type ResolverMap struct {
	resolvers map[string]map[string]*FieldResolver
}

// NewResolverMap creates a new resolver map
func NewResolverMap() *ResolverMap {
	return &ResolverMap{
		resolvers: make(map[string]map[string]*FieldResolver),
	}
}

// NewResolverMapFromTable builds a resolver map from a plain table
func NewResolverMapFromTable(t ResolverTable) *ResolverMap {
	rm := NewResolverMap()
	for typeName, fields := range t {
		for fieldName, fn := range fields {
			rm.Register(typeName, fieldName, fn)
		}
	}
	return rm
}

// Register adds a resolver for a specific type and field
func (rm *ResolverMap) Register(typeName, fieldName string, resolver ResolverFunc) {
	rm.RegisterWithMiddleware(typeName, fieldName, resolver)
}

// RegisterWithMiddleware adds a resolver with middleware
func (rm *ResolverMap) RegisterWithMiddleware(typeName, fieldName string, resolver ResolverFunc, middleware ...MiddlewareFunc) {
	if rm.resolvers[typeName] == nil {
		rm.resolvers[typeName] = make(map[string]*FieldResolver)
	}

	rm.resolvers[typeName][fieldName] = &FieldResolver{
		TypeName:   typeName,
		FieldName:  fieldName,
		ResolverFn: resolver,
		Middleware: middleware,
	}
}

// Get retrieves a resolver for a type and field
func (rm *ResolverMap) Get(typeName, fieldName string) (*FieldResolver, bool) {
	typeResolvers, ok := rm.resolvers[typeName]
	if !ok {
		return nil, false
	}

	resolver, ok := typeResolvers[fieldName]
	return resolver, ok
}

// withMiddleware builds the chain. Executor-wide middleware runs outside the
// field's own middleware; within each list the first registered runs first.
func (fr *FieldResolver) withMiddleware(global []MiddlewareFunc) ResolverFunc {
	resolver := fr.ResolverFn

	chain := make([]MiddlewareFunc, 0, len(global)+len(fr.Middleware))
	chain = append(chain, global...)
	chain = append(chain, fr.Middleware...)

	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		next := resolver
		resolver = func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
			return mw(ctx, next)(ctx, parent, args)
		}
	}

	return resolver
}

// ResolveInfo contains information about the current resolution
type ResolveInfo struct {
	FieldName    string
	ParentType   string
	ReturnType   *TypeRef
	Arguments    map[string]interface{}
	Variables    map[string]interface{}
	Selection    *SelectionSet
	Path         []interface{}
	OperationCtx *OperationContext
}

// SelectionSet represents selected fields in a query
type SelectionSet struct {
	Fields   []*SelectedField
	Typename bool // Whether __typename was requested
}

// SelectedField represents a selected field with its arguments and nested selections
type SelectedField struct {
	Name       string
	Alias      string
	Arguments  map[string]interface{}
	Selections *SelectionSet
	Directives []*DirectiveInstance
}

// DirectiveInstance represents a directive applied to a field in a query
type DirectiveInstance struct {
	Name      string
	Arguments map[string]interface{}
}

// GetName returns the alias if set, otherwise the field name
func (sf *SelectedField) GetName() string {
	if sf.Alias != "" {
		return sf.Alias
	}
	return sf.Name
}

// HasSelection checks if a field has nested selections
func (sf *SelectedField) HasSelection() bool {
	return sf.Selections != nil && (len(sf.Selections.Fields) > 0 || sf.Selections.Typename)
}

// OperationContext holds context for the entire operation
type OperationContext struct {
	OperationType string // "query", "mutation", "subscription"
	OperationName string
	Variables     map[string]interface{}
	Schema        *Schema
}
