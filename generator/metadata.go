// Package generator derives a GraphQL schema and CRUD resolvers from ORM
// model metadata.
//
// Models are registered together with an explicit ModelConfig. GetSchema walks
// the registry, applies the whitelist and blacklist and produces SDL plus a
// resolver table for the graph engine. Resolvers look their model up again on
// every call, so unregistering a model degrades its operations to empty
// results instead of failing.
package generator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/model"
)

var (
	// ErrDuplicateModel is returned when a model name is registered twice
	ErrDuplicateModel = errors.New("model already registered")
	// ErrInvalidConfig is returned for configuration that names unknown fields
	ErrInvalidConfig = errors.New("invalid model config")
)

// Operations selects which root operations a model or field takes part in
type Operations struct {
	Query        bool
	Mutation     bool
	Subscription bool
}

// DefaultOperations are used when a ModelConfig leaves Operations nil
var DefaultOperations = Operations{Query: true, Mutation: true}

// FieldConfig overrides what is derived from the ORM for one field
type FieldConfig struct {
	Type        string // GraphQL base type, e.g. "ID"
	Nullable    *bool
	List        *bool
	Description string
	Resolver    graph.ResolverFunc
	Exclude     bool
	CustomType  string // full GraphQL type, e.g. "[String!]!"; wins over everything else

	// Operations.Query keeps the field on the object type and
	// Operations.Mutation on the input type. nil keeps both.
	Operations *Operations
}

// ModelConfig is the model-level configuration passed at registration
type ModelConfig struct {
	TypeName    string
	Description string
	Exclude     bool
	Operations  *Operations

	// CustomFields are output-only fields that need a Type and usually a Resolver
	CustomFields  map[string]FieldConfig
	Fields        map[string]FieldConfig
	ExcludeFields []string

	AuthRequired bool
	AuthHandler  auth.Hook
}

func (c *ModelConfig) operations() Operations {
	if c.Operations == nil {
		return DefaultOperations
	}
	return *c.Operations
}

// Bool returns a pointer to b, for FieldConfig.Nullable and List
func Bool(b bool) *bool {
	return &b
}

// Registry holds models and their configuration in registration order
type Registry struct {
	mu      sync.RWMutex
	models  map[string]model.Model
	configs map[string]*ModelConfig
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		models:  make(map[string]model.Model),
		configs: make(map[string]*ModelConfig),
	}
}

// Register adds m. A nil cfg keeps the model in the registry without
// exposing it.
func (r *Registry) Register(m model.Model, cfg *ModelConfig) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	name := m.Name()
	if err := validateConfig(m, cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, name)
	}
	r.models[name] = m
	r.configs[name] = cfg
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a model. Resolvers generated earlier see it as absent.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[name]; !ok {
		return false
	}
	delete(r.models, name)
	delete(r.configs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Model returns a registered model
func (r *Registry) Model(name string) (model.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Config returns the configuration a model was registered with
func (r *Registry) Config(name string) (*ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok && cfg != nil
}

// Names returns model names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

var graphQLName = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

func validateConfig(m model.Model, cfg *ModelConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.TypeName != "" && (!graphQLName.MatchString(cfg.TypeName) || strings.HasPrefix(cfg.TypeName, "__")) {
		return fmt.Errorf("%w: %s has invalid type name %q", ErrInvalidConfig, m.Name(), cfg.TypeName)
	}

	known := make(map[string]bool)
	for _, a := range m.Attributes() {
		known[a.Name] = true
	}
	for _, a := range m.Associations() {
		known[a.Name] = true
	}

	for _, name := range sortedKeys(cfg.Fields) {
		if !known[name] {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidConfig, m.Name(), name)
		}
	}
	for _, name := range sortedKeys(cfg.CustomFields) {
		if known[name] {
			return fmt.Errorf("%w: custom field %s.%s shadows a model field", ErrInvalidConfig, m.Name(), name)
		}
		fc := cfg.CustomFields[name]
		if fc.Type == "" && fc.CustomType == "" {
			return fmt.Errorf("%w: custom field %s.%s needs a type", ErrInvalidConfig, m.Name(), name)
		}
	}
	return nil
}

func sortedKeys(m map[string]FieldConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
