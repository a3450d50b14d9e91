// Package model defines the contract between the schema generator and an ORM.
//
// The generator never talks to a database directly. It reads attribute and
// association metadata from a Model and delegates every read and write to the
// Model's CRUD methods.
package model

import (
	"context"
	"fmt"
	"strings"
)

// Conditions is a where-filter keyed by attribute name.
type Conditions map[string]interface{}

// Record is a plain serialized row, optionally with nested association data.
type Record map[string]interface{}

// AssociationKind identifies the cardinality of a relation between two models
type AssociationKind string

const (
	BelongsTo     AssociationKind = "BelongsTo"
	HasOne        AssociationKind = "HasOne"
	HasMany       AssociationKind = "HasMany"
	BelongsToMany AssociationKind = "BelongsToMany"
)

// IsList reports whether the association yields more than one record
func (k AssociationKind) IsList() bool {
	return k == HasMany || k == BelongsToMany
}

// Valid reports whether k is one of the known association kinds
func (k AssociationKind) Valid() bool {
	switch k {
	case BelongsTo, HasOne, HasMany, BelongsToMany:
		return true
	}
	return false
}

// Attribute describes a scalar column of a model
type Attribute struct {
	Name          string
	Type          string // native type tag: STRING, INTEGER, DATE, ...
	Field         string // column name, empty means derived from Name
	Comment       string
	AllowNull     bool
	PrimaryKey    bool
	AutoIncrement bool
	DefaultValue  interface{}
}

// Association describes a relation from one model to another
type Association struct {
	Name       string
	Kind       AssociationKind
	Target     string // name of the related model
	ForeignKey string
	SourceKey  string
	TargetKey  string
	Through    string // join table for BelongsToMany
	OtherKey   string // join table column pointing at the target
}

// Order is a single ORDER BY term
type Order struct {
	Field string
	Desc  bool
}

// FindOptions controls FindOne and FindAll
type FindOptions struct {
	Where   Conditions
	Limit   int
	Offset  int
	Order   []Order
	Include []string
}

// Instance is a single loaded row
type Instance interface {
	// Update writes values to the row and refreshes the instance
	Update(ctx context.Context, values Record) error
	// Destroy deletes the row
	Destroy(ctx context.Context) error
	// ToJSON returns a detached copy of the row and any loaded associations
	ToJSON() Record
}

// Model is an ORM-backed entity
type Model interface {
	Name() string
	TableName() string
	PrimaryKeyAttribute() string
	Attributes() []Attribute
	Associations() []Association

	// FindOne returns nil, nil when no row matches
	FindOne(ctx context.Context, opts FindOptions) (Instance, error)
	FindAll(ctx context.Context, opts FindOptions) ([]Instance, error)
	FindByPk(ctx context.Context, pk interface{}, include ...string) (Instance, error)
	Count(ctx context.Context, where Conditions) (int64, error)
	Create(ctx context.Context, values Record) (Instance, error)
	// Update and Destroy operate on every matching row and return the affected count
	Update(ctx context.Context, values Record, where Conditions) (int64, error)
	Destroy(ctx context.Context, where Conditions) (int64, error)
}

// MergeConditions returns a shallow copy of base with every key of overlay
// written on top. Overlay keys win on collision. Neither input is modified.
func MergeConditions(base, overlay Conditions) Conditions {
	out := make(Conditions, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// ParseOrder parses "title, createdAt DESC, -id" into order terms
func ParseOrder(s string) ([]Order, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var orders []Order
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 0:
			continue
		case 1:
			name := fields[0]
			if strings.HasPrefix(name, "-") {
				orders = append(orders, Order{Field: name[1:], Desc: true})
			} else {
				orders = append(orders, Order{Field: name})
			}
		case 2:
			switch strings.ToUpper(fields[1]) {
			case "ASC":
				orders = append(orders, Order{Field: fields[0]})
			case "DESC":
				orders = append(orders, Order{Field: fields[0], Desc: true})
			default:
				return nil, fmt.Errorf("invalid order direction %q", fields[1])
			}
		default:
			return nil, fmt.Errorf("invalid order term %q", strings.TrimSpace(part))
		}
	}
	return orders, nil
}

// AttributeByName returns the attribute with the given name
func AttributeByName(m Model, name string) (Attribute, bool) {
	for _, a := range m.Attributes() {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// AssociationByName returns the association with the given name
func AssociationByName(m Model, name string) (Association, bool) {
	for _, a := range m.Associations() {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}
