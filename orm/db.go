// Package orm implements model.Model over database/sql.
//
// Models are defined at runtime from attribute and association metadata and
// then queried with filter maps. Statements are rendered by the sql
// stringifiers for the dialect matching the driver.
package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"go.uber.org/zap"

	"github.com/eddieafk/ormql/model"
	"github.com/eddieafk/ormql/sql/dialect"
	"github.com/eddieafk/ormql/sql/stringifiers"
)

var (
	// ErrUnknownField is returned when a filter or record names a missing attribute
	ErrUnknownField = stringifiers.ErrUnknownField
	// ErrUnknownModel is returned when an association targets an undefined model
	ErrUnknownModel = errors.New("unknown model")
	// ErrInvalidDefinition is returned by Define for malformed model metadata
	ErrInvalidDefinition = errors.New("invalid model definition")
)

// DB is a registry of models sharing one database handle
type DB struct {
	db      *sql.DB
	dialect dialect.Dialect
	logger  *zap.Logger

	mu     sync.RWMutex
	models map[string]*Model
	order  []string
}

// Option configures a DB
type Option func(*DB)

// WithLogger sets the logger used for statement tracing
func WithLogger(l *zap.Logger) Option {
	return func(d *DB) {
		if l != nil {
			d.logger = l
		}
	}
}

// Open opens and pings a database using one of the registered drivers
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db, driver, opts...)
}

// New wraps an existing handle. driver selects the SQL dialect.
func New(db *sql.DB, driver string, opts ...Option) (*DB, error) {
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, err
	}

	out := &DB{
		db:      db,
		dialect: d,
		logger:  zap.NewNop(),
		models:  make(map[string]*Model),
	}
	for _, opt := range opts {
		opt(out)
	}
	return out, nil
}

// Definition is the metadata needed to define a model
type Definition struct {
	Table        string
	Attributes   []model.Attribute
	Associations []model.Association
}

// Define registers a model. Attributes without an explicit primary key get
// an auto-incrementing integer "id".
func (d *DB) Define(name string, def Definition) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidDefinition)
	}

	m := &Model{
		db:     d,
		name:   name,
		table:  def.Table,
		byName: make(map[string]model.Attribute),
	}
	if m.table == "" {
		m.table = strcase.ToSnake(inflect.Pluralize(name))
	}

	attrs := def.Attributes
	hasPK := false
	for _, a := range attrs {
		if a.PrimaryKey {
			hasPK = true
			break
		}
	}
	if !hasPK {
		if _, clash := findAttribute(attrs, "id"); clash {
			return nil, fmt.Errorf("%w: %s has an id attribute that is not the primary key", ErrInvalidDefinition, name)
		}
		attrs = append([]model.Attribute{{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true}}, attrs...)
	}

	for _, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: %s has an attribute without a name", ErrInvalidDefinition, name)
		}
		if _, dup := m.byName[a.Name]; dup {
			return nil, fmt.Errorf("%w: %s.%s defined twice", ErrInvalidDefinition, name, a.Name)
		}
		if a.PrimaryKey {
			if m.pk != "" {
				return nil, fmt.Errorf("%w: %s has more than one primary key", ErrInvalidDefinition, name)
			}
			m.pk = a.Name
		}
		m.byName[a.Name] = a
		m.attrs = append(m.attrs, a)
	}

	for _, a := range def.Associations {
		assoc, err := m.normalizeAssociation(a)
		if err != nil {
			return nil, err
		}
		if _, clash := m.byName[assoc.Name]; clash {
			return nil, fmt.Errorf("%w: %s.%s is both attribute and association", ErrInvalidDefinition, name, assoc.Name)
		}
		m.assocs = append(m.assocs, assoc)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.models[name]; exists {
		return nil, fmt.Errorf("%w: model %s already defined", ErrInvalidDefinition, name)
	}
	d.models[name] = m
	d.order = append(d.order, name)

	return m, nil
}

// Model returns a defined model by name
func (d *DB) Model(name string) (*Model, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.models[name]
	return m, ok
}

// Models returns every defined model in definition order
func (d *DB) Models() []*Model {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Model, len(d.order))
	for i, name := range d.order {
		out[i] = d.models[name]
	}
	return out
}

// Dialect returns the SQL dialect in use
func (d *DB) Dialect() dialect.Dialect {
	return d.dialect
}

// SQL returns the underlying handle
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Close closes the underlying handle
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) query(ctx context.Context, query string, args []interface{}) (*sql.Rows, error) {
	d.logger.Debug("query", zap.String("sql", query), zap.Int("args", len(args)))
	return d.db.QueryContext(ctx, query, args...)
}

func (d *DB) exec(ctx context.Context, query string, args []interface{}) (sql.Result, error) {
	d.logger.Debug("exec", zap.String("sql", query), zap.Int("args", len(args)))
	return d.db.ExecContext(ctx, query, args...)
}

// normalizeAssociation fills in conventional key names
func (m *Model) normalizeAssociation(a model.Association) (model.Association, error) {
	if a.Name == "" || a.Target == "" {
		return a, fmt.Errorf("%w: %s association needs a name and a target", ErrInvalidDefinition, m.name)
	}
	if !a.Kind.Valid() {
		return a, fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalidDefinition, m.name, a.Name, a.Kind)
	}

	switch a.Kind {
	case model.BelongsTo:
		if a.ForeignKey == "" {
			a.ForeignKey = strcase.ToLowerCamel(a.Target) + "Id"
		}
		if _, ok := m.byName[a.ForeignKey]; !ok {
			return a, fmt.Errorf("%w: %s.%s foreign key %s is not an attribute", ErrInvalidDefinition, m.name, a.Name, a.ForeignKey)
		}
	case model.HasOne, model.HasMany:
		if a.ForeignKey == "" {
			a.ForeignKey = strcase.ToLowerCamel(m.name) + "Id"
		}
		if a.SourceKey == "" {
			a.SourceKey = m.pk
		}
	case model.BelongsToMany:
		if a.Through == "" {
			return a, fmt.Errorf("%w: %s.%s needs a through table", ErrInvalidDefinition, m.name, a.Name)
		}
		if a.ForeignKey == "" {
			a.ForeignKey = strcase.ToLowerCamel(m.name) + "Id"
		}
		if a.OtherKey == "" {
			a.OtherKey = strcase.ToLowerCamel(a.Target) + "Id"
		}
		if a.SourceKey == "" {
			a.SourceKey = m.pk
		}
	}
	return a, nil
}

// newPrimaryKey generates a key for UUID primary keys left empty on create
func newPrimaryKey(a model.Attribute) (interface{}, bool) {
	switch strings.ToUpper(a.Type) {
	case "UUID", "UUIDV4", "UUIDV1":
		return uuid.NewString(), true
	}
	return nil, false
}

func findAttribute(attrs []model.Attribute, name string) (model.Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return model.Attribute{}, false
}
