package graph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"golang.org/x/sync/errgroup"

	"github.com/eddieafk/ormql/graph/marshal"
)

// Executor handles GraphQL query execution
type Executor struct {
	schema      *Schema
	resolverMap *ResolverMap
	middleware  []MiddlewareFunc
	mu          sync.RWMutex

	// AST cache: map[query string] *ast.QueryDocument
	astCache sync.Map

	introspectOnce sync.Once
	introspector   *introspector
}

// NewExecutor creates a new query executor
func NewExecutor(schema *Schema) *Executor {
	return &Executor{
		schema:      schema,
		resolverMap: NewResolverMap(),
		middleware:  make([]MiddlewareFunc, 0),
	}
}

// SetResolverMap sets the resolver map
func (e *Executor) SetResolverMap(rm *ResolverMap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolverMap = rm
}

// RegisterResolver registers a resolver for a type and field
func (e *Executor) RegisterResolver(typeName, fieldName string, resolver ResolverFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolverMap.Register(typeName, fieldName, resolver)
}

// Use adds middleware to the executor
func (e *Executor) Use(mw MiddlewareFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middleware = append(e.middleware, mw)
}

// ExecuteParams contains parameters for query execution
type ExecuteParams struct {
	Query         string
	OperationName string
	Variables     map[string]interface{}
	Context       context.Context
	RootValue     interface{}
}

// Execute executes a GraphQL operation. A request context already present on
// params.Context is reused so transports and extensions see the same errors.
func (e *Executor) Execute(params ExecuteParams) *Response {
	ctx := params.Context
	if ctx == nil {
		ctx = context.Background()
	}

	rc := GetRequestContext(ctx)
	if rc == nil {
		rc = NewRequestContext()
		ctx = WithRequestContext(ctx, rc)
	}
	rc.Query = params.Query
	rc.OperationName = params.OperationName

	doc, errs := e.parseQuery(params.Query)
	if len(errs) > 0 {
		for _, err := range errs {
			rc.AddError(WrapError(err, nil))
		}
		return NewResponse(rc)
	}

	operation, err := e.findOperation(doc, params.OperationName)
	if err != nil {
		rc.AddError(&Error{Message: err.Error()})
		return NewResponse(rc)
	}

	variables, err := validator.VariableValues(e.schema.GetSchema(), operation, params.Variables)
	if err != nil {
		rc.AddError(WrapError(err, nil))
		return NewResponse(rc)
	}
	rc.Variables = variables

	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Fragments {
		fragments[def.Name] = def
	}

	rootDef := e.rootType(operation.Operation)
	if rootDef == nil {
		rc.AddError(&Error{Message: fmt.Sprintf("schema does not support %s operations", operation.Operation)})
		return NewResponse(rc)
	}

	opCtx := &OperationContext{
		OperationType: string(operation.Operation),
		OperationName: operation.Name,
		Variables:     variables,
		Schema:        e.schema,
	}
	rc.Operation = opCtx
	ctx = WithOperationContext(ctx, opCtx)

	collector := NewFieldCollector(e.schema, fragments, variables)
	selections := collector.CollectFields(operation.SelectionSet, rootDef.Name)

	// Query root fields are independent; mutations must run in document order
	var data *Object
	if operation.Operation == ast.Query {
		data = e.executeFieldsParallel(ctx, selections, rootDef.Name, params.RootValue, nil)
	} else {
		data = e.executeSelectionSet(ctx, selections, rootDef.Name, params.RootValue, nil)
	}
	rc.Data = data

	return NewResponse(rc)
}

// parseQuery parses and validates a GraphQL query document
func (e *Executor) parseQuery(query string) (*ast.QueryDocument, gqlerror.List) {
	if cached, ok := e.astCache.Load(query); ok {
		if doc, ok := cached.(*ast.QueryDocument); ok && doc != nil {
			return doc, nil
		}
	}

	doc, errs := gqlparser.LoadQuery(e.schema.GetSchema(), query)
	if len(errs) > 0 {
		return nil, errs
	}

	e.astCache.Store(query, doc)
	return doc, nil
}

// findOperation finds the operation to execute
func (e *Executor) findOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if len(doc.Operations) == 0 {
		return nil, fmt.Errorf("no operations in document")
	}

	if operationName == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, fmt.Errorf("operation name is required when document contains multiple operations")
	}

	for _, op := range doc.Operations {
		if op.Name == operationName {
			return op, nil
		}
	}

	return nil, fmt.Errorf("operation %q not found", operationName)
}

func (e *Executor) rootType(op ast.Operation) *ast.Definition {
	s := e.schema.GetSchema()
	switch op {
	case ast.Query:
		return s.Query
	case ast.Mutation:
		return s.Mutation
	case ast.Subscription:
		return s.Subscription
	}
	return nil
}

// errNullPropagated marks a null that must replace the enclosing value. The
// error behind it has already been recorded.
var errNullPropagated = errors.New("null propagated from non-null field")

// executeSelectionSet executes a selection set against a parent object, one
// field after another. It returns nil when a non-null field came back null.
func (e *Executor) executeSelectionSet(
	ctx context.Context,
	selections *SelectionSet,
	parentType string,
	parentValue interface{},
	path []interface{},
) *Object {
	if selections == nil {
		return NewObject(0)
	}

	result := NewObject(len(selections.Fields))
	for _, field := range selections.Fields {
		value, ok := e.resolveField(ctx, field, parentType, parentValue, path)
		if !ok {
			return nil
		}
		result.Set(field.GetName(), value)
	}
	return result
}

// executeFieldsParallel resolves every field in its own goroutine. A panic in
// any of them is re-raised on the calling goroutine once all have finished.
func (e *Executor) executeFieldsParallel(
	ctx context.Context,
	selections *SelectionSet,
	parentType string,
	parentValue interface{},
	path []interface{},
) *Object {
	if selections == nil {
		return NewObject(0)
	}

	values := make([]interface{}, len(selections.Fields))
	nulled := make([]bool, len(selections.Fields))

	var (
		g         errgroup.Group
		panicOnce sync.Once
		recovered interface{}
	)
	for i, field := range selections.Fields {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { recovered = r })
				}
			}()
			var ok bool
			values[i], ok = e.resolveField(ctx, field, parentType, parentValue, path)
			nulled[i] = !ok
			return nil
		})
	}
	_ = g.Wait()

	if recovered != nil {
		panic(recovered)
	}
	if slices.Contains(nulled, true) {
		return nil
	}

	result := NewObject(len(values))
	for i, field := range selections.Fields {
		result.Set(field.GetName(), values[i])
	}
	return result
}

// resolveField executes a field and records its error, if any, at the
// field's path. ok is false when the field is non-null and came back null,
// which nulls the parent.
func (e *Executor) resolveField(
	ctx context.Context,
	field *SelectedField,
	parentType string,
	parentValue interface{},
	path []interface{},
) (value interface{}, ok bool) {
	fieldPath := appendPath(path, field.GetName())

	value, err := e.executeField(ctx, field, parentType, parentValue, fieldPath)
	if err == nil {
		return value, true
	}
	if !errors.Is(err, errNullPropagated) {
		if rc := GetRequestContext(ctx); rc != nil {
			rc.AddError(WrapError(err, fieldPath))
		}
	}
	return nil, !e.nonNullField(parentType, field.Name)
}

func (e *Executor) nonNullField(parentType, fieldName string) bool {
	switch fieldName {
	case "__typename", "__schema":
		return true
	case "__type":
		return false
	}
	t, ok := e.schema.FieldType(parentType, fieldName)
	return ok && t.NonNull
}

// executeField executes a single field
func (e *Executor) executeField(
	ctx context.Context,
	field *SelectedField,
	parentType string,
	parentValue interface{},
	path []interface{},
) (interface{}, error) {
	switch field.Name {
	case "__typename":
		return parentType, nil
	case "__schema":
		return e.completeValue(ctx, field, &TypeRef{Name: "__Schema", NonNull: true}, e.introspection().schemaValue(), path)
	case "__type":
		name, _ := field.Arguments["name"].(string)
		return e.completeValue(ctx, field, &TypeRef{Name: "__Type"}, e.introspection().typeByName(name), path)
	}

	returnType, ok := e.schema.FieldType(parentType, field.Name)
	if !ok {
		return nil, fmt.Errorf("unknown field %s.%s", parentType, field.Name)
	}
	args, err := e.coerceArguments(parentType, field.Name, field.Arguments)
	if err != nil {
		return nil, err
	}

	info := &ResolveInfo{
		FieldName:  field.Name,
		ParentType: parentType,
		ReturnType: returnType,
		Arguments:  args,
		Selection:  field.Selections,
		Path:       path,
	}
	if opCtx := GetOperationContext(ctx); opCtx != nil {
		info.OperationCtx = opCtx
		info.Variables = opCtx.Variables
	}
	ctx = WithResolveInfo(ctx, info)

	e.mu.RLock()
	resolver, hasResolver := e.resolverMap.Get(parentType, field.Name)
	middleware := e.middleware
	e.mu.RUnlock()

	var value interface{}
	if hasResolver {
		value, err = resolver.withMiddleware(middleware)(ctx, parentValue, args)
	} else {
		value, err = defaultResolve(parentValue, field.Name, args)
	}
	if err != nil {
		return nil, err
	}

	return e.completeValue(ctx, field, returnType, value, path)
}

// coerceArguments runs custom scalar unmarshalers over argument values,
// descending into input objects and lists
func (e *Executor) coerceArguments(parentType, fieldName string, args map[string]interface{}) (map[string]interface{}, error) {
	if len(args) == 0 {
		return args, nil
	}
	def := e.schema.GetSchema().Types[parentType]
	if def == nil {
		return args, nil
	}
	fd := def.Fields.ForName(fieldName)
	if fd == nil {
		return args, nil
	}

	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, a := range fd.Arguments {
		v, ok := out[a.Name]
		if !ok {
			continue
		}
		coerced, err := e.coerceInput(a.Type, v)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", a.Name, err)
		}
		out[a.Name] = coerced
	}
	return out, nil
}

func (e *Executor) coerceInput(t *ast.Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if t.Elem != nil {
		items, ok := v.([]interface{})
		if !ok {
			return e.coerceInput(t.Elem, v)
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			c, err := e.coerceInput(t.Elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}

	if m, ok := e.schema.Marshaler(t.NamedType); ok {
		return m.UnmarshalGraphQL(v)
	}

	def := e.schema.GetSchema().Types[t.NamedType]
	obj, ok := v.(map[string]interface{})
	if def == nil || def.Kind != ast.InputObject || !ok {
		return v, nil
	}
	out := make(map[string]interface{}, len(obj))
	for k, val := range obj {
		f := def.Fields.ForName(k)
		if f == nil {
			out[k] = val
			continue
		}
		c, err := e.coerceInput(f.Type, val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

// defaultResolve resolves a field from the parent value using reflection.
// Map entries holding a func() or func(args) are called.
func defaultResolve(parent interface{}, fieldName string, args map[string]interface{}) (interface{}, error) {
	if parent == nil {
		return nil, nil
	}

	val := reflect.ValueOf(parent)

	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return nil, nil
		}
		mapVal := val.MapIndex(reflect.ValueOf(fieldName).Convert(val.Type().Key()))
		if !mapVal.IsValid() {
			return nil, nil
		}
		switch fn := mapVal.Interface().(type) {
		case func() interface{}:
			return fn(), nil
		case func(map[string]interface{}) interface{}:
			return fn(args), nil
		default:
			return fn, nil
		}

	case reflect.Struct:
		fieldVal := val.FieldByName(capitalize(fieldName))
		if fieldVal.IsValid() && fieldVal.CanInterface() {
			return fieldVal.Interface(), nil
		}

		for i := 0; i < val.NumField(); i++ {
			field := val.Type().Field(i)
			if !field.IsExported() {
				continue
			}
			if tag := strings.Split(field.Tag.Get("json"), ",")[0]; tag == fieldName {
				return val.Field(i).Interface(), nil
			}
			if tag := field.Tag.Get("graphql"); tag == fieldName {
				return val.Field(i).Interface(), nil
			}
		}

		method := reflect.ValueOf(parent).MethodByName(capitalize(fieldName))
		if method.IsValid() && method.Type().NumIn() == 0 {
			results := method.Call(nil)
			if len(results) == 2 {
				if err, ok := results[1].Interface().(error); ok && err != nil {
					return nil, err
				}
			}
			if len(results) > 0 {
				return results[0].Interface(), nil
			}
		}
	}

	return nil, nil
}

// completeValue shapes a resolved value according to its declared type
func (e *Executor) completeValue(
	ctx context.Context,
	field *SelectedField,
	t *TypeRef,
	value interface{},
	path []interface{},
) (interface{}, error) {
	if isNil(value) {
		if t != nil && t.NonNull {
			return nil, fmt.Errorf("cannot return null for non-nullable field %s", field.Name)
		}
		return nil, nil
	}

	if t == nil {
		return marshal.Output(value)
	}

	if t.IsList {
		return e.completeListValue(ctx, field, t.ListElem, value, path)
	}

	def, ok := e.schema.GetSchema().Types[t.Name]
	if !ok {
		return marshal.Output(value)
	}

	switch def.Kind {
	case ast.Object, ast.Interface, ast.Union:
		if !field.HasSelection() {
			return nil, fmt.Errorf("field %s of type %s must have a selection of subfields", field.Name, t.Name)
		}
		kind := reflect.Indirect(reflect.ValueOf(value)).Kind()
		if kind != reflect.Map && kind != reflect.Struct {
			return nil, fmt.Errorf("expected an object for %s, got %T", t.Name, value)
		}
		obj := e.executeSelectionSet(ctx, field.Selections, t.Name, value, path)
		if obj == nil {
			return nil, errNullPropagated
		}
		return obj, nil

	case ast.Enum:
		return fmt.Sprint(reflect.Indirect(reflect.ValueOf(value)).Interface()), nil

	default:
		if m, ok := e.schema.Marshaler(t.Name); ok {
			return m.MarshalGraphQL(value)
		}
		return marshal.Output(reflect.Indirect(reflect.ValueOf(value)).Interface())
	}
}

// completeListValue completes a list value. Item errors are recorded at the
// item path and the item becomes null, or the whole list when items are
// non-null.
func (e *Executor) completeListValue(
	ctx context.Context,
	field *SelectedField,
	elem *TypeRef,
	value interface{},
	path []interface{},
) ([]interface{}, error) {
	val := reflect.Indirect(reflect.ValueOf(value))
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list for %s, got %T", field.Name, value)
	}

	result := make([]interface{}, val.Len())
	for i := 0; i < val.Len(); i++ {
		itemPath := appendPath(path, i)

		completed, err := e.completeValue(ctx, field, elem, val.Index(i).Interface(), itemPath)
		if err != nil {
			if !errors.Is(err, errNullPropagated) {
				if rc := GetRequestContext(ctx); rc != nil {
					rc.AddError(WrapError(err, itemPath))
				}
			}
			if elem != nil && elem.NonNull {
				return nil, errNullPropagated
			}
			continue
		}
		result[i] = completed
	}

	return result, nil
}

func (e *Executor) introspection() *introspector {
	e.introspectOnce.Do(func() {
		e.introspector = &introspector{schema: e.schema.GetSchema()}
	})
	return e.introspector
}

// appendPath copies path so sibling fields never share a backing array
func appendPath(path []interface{}, elem interface{}) []interface{} {
	out := make([]interface{}, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// capitalize upper-cases the first rune
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ExecutableSchema combines schema and executor for execution
type ExecutableSchema struct {
	Schema   *Schema
	Executor *Executor
}

// NewExecutableSchema creates a new executable schema
func NewExecutableSchema(schemaString string) (*ExecutableSchema, error) {
	schema, err := NewSchema(schemaString)
	if err != nil {
		return nil, err
	}

	return &ExecutableSchema{
		Schema:   schema,
		Executor: NewExecutor(schema),
	}, nil
}

// Execute executes a GraphQL operation
func (es *ExecutableSchema) Execute(ctx context.Context, params ExecuteParams) *Response {
	params.Context = ctx
	return es.Executor.Execute(params)
}

// SetResolvers sets the resolver map
func (es *ExecutableSchema) SetResolvers(rm *ResolverMap) {
	es.Executor.SetResolverMap(rm)
}

// RegisterResolver registers a resolver for a type and field
func (es *ExecutableSchema) RegisterResolver(typeName, fieldName string, resolver ResolverFunc) {
	es.Executor.RegisterResolver(typeName, fieldName, resolver)
}

// RegisterScalar attaches a marshaler to a custom scalar
func (es *ExecutableSchema) RegisterScalar(name string, m Marshaler) {
	es.Schema.RegisterScalar(name, m)
}

// Use adds middleware to the executor
func (es *ExecutableSchema) Use(mw MiddlewareFunc) {
	es.Executor.Use(mw)
}
