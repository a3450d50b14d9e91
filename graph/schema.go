package graph

import (
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Schema is a parsed SDL plus the lookups the executor needs per field:
// declared field types, implemented interfaces and scalar marshalers.
type Schema struct {
	schema *ast.Schema

	objects map[string]*objectType

	mu      sync.RWMutex
	scalars map[string]Marshaler
}

type objectType struct {
	fields     map[string]*TypeRef
	interfaces []string
}

// TypeRef is a field's declared type. List types carry their element in
// ListElem and leave Name empty.
type TypeRef struct {
	Name     string
	NonNull  bool
	IsList   bool
	ListElem *TypeRef
}

// Marshaler converts custom scalar values between resolver and wire form
type Marshaler interface {
	MarshalGraphQL(v interface{}) (interface{}, error)
	UnmarshalGraphQL(v interface{}) (interface{}, error)
}

// MarshalerFuncs adapts a pair of functions to Marshaler. A nil function
// passes values through.
type MarshalerFuncs struct {
	Marshal   func(v interface{}) (interface{}, error)
	Unmarshal func(v interface{}) (interface{}, error)
}

func (m MarshalerFuncs) MarshalGraphQL(v interface{}) (interface{}, error) {
	if m.Marshal == nil {
		return v, nil
	}
	return m.Marshal(v)
}

func (m MarshalerFuncs) UnmarshalGraphQL(v interface{}) (interface{}, error) {
	if m.Unmarshal == nil {
		return v, nil
	}
	return m.Unmarshal(v)
}

// NewSchema parses and validates sdl
func NewSchema(sdl string) (*Schema, error) {
	parsed, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	s := &Schema{
		schema:  parsed,
		objects: make(map[string]*objectType),
		scalars: make(map[string]Marshaler),
	}
	for name, def := range parsed.Types {
		if def.Kind != ast.Object {
			continue
		}
		obj := &objectType{
			fields:     make(map[string]*TypeRef, len(def.Fields)),
			interfaces: def.Interfaces,
		}
		for _, f := range def.Fields {
			obj.fields[f.Name] = typeRef(f.Type)
		}
		s.objects[name] = obj
	}
	return s, nil
}

// GetSchema returns the underlying gqlparser schema
func (s *Schema) GetSchema() *ast.Schema {
	return s.schema
}

// FieldType returns the declared type of parentType.fieldName
func (s *Schema) FieldType(parentType, fieldName string) (*TypeRef, bool) {
	obj, ok := s.objects[parentType]
	if !ok {
		return nil, false
	}
	t, ok := obj.fields[fieldName]
	return t, ok
}

// Implements reports whether object type typeName declares iface
func (s *Schema) Implements(typeName, iface string) bool {
	obj, ok := s.objects[typeName]
	if !ok {
		return false
	}
	for _, name := range obj.interfaces {
		if name == iface {
			return true
		}
	}
	return false
}

// Marshaler returns the marshaler registered for a scalar
func (s *Schema) Marshaler(scalar string) (Marshaler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.scalars[scalar]
	return m, ok
}

// RegisterScalar sets the marshaler used for a custom scalar
func (s *Schema) RegisterScalar(name string, marshaler Marshaler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars[name] = marshaler
}

// NamedType returns the innermost named type of t
func (t *TypeRef) NamedType() string {
	if t == nil {
		return ""
	}
	if t.IsList {
		return t.ListElem.NamedType()
	}
	return t.Name
}

// String renders t in SDL notation
func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	out := t.Name
	if t.IsList {
		out = "[" + t.ListElem.String() + "]"
	}
	if t.NonNull {
		out += "!"
	}
	return out
}

func typeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.Elem != nil {
		return &TypeRef{NonNull: t.NonNull, IsList: true, ListElem: typeRef(t.Elem)}
	}
	return &TypeRef{Name: t.NamedType, NonNull: t.NonNull}
}
