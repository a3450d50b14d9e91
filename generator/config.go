package generator

import (
	"slices"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/model"
)

// modelInfo is the normalized configuration of one model
type modelInfo struct {
	Name         string
	TypeName     string
	Description  string
	PrimaryKey   string
	Operations   Operations
	Fields       []fieldInfo
	AuthRequired bool
	AuthHandler  auth.Hook
}

// fieldInfo is one field after merging ORM metadata with FieldConfig
type fieldInfo struct {
	Name        string
	Base        string // scalar name, or the related model name for relations
	CustomType  string
	List        bool
	Nullable    bool
	Description string
	Resolver    graph.ResolverFunc

	InObject bool
	InInput  bool
	Custom   bool

	RelationType model.AssociationKind
	RelatedModel string
}

func (f fieldInfo) isRelation() bool {
	return f.RelationType != ""
}

// objectType renders the field's type on the object type. relatedType is the
// GraphQL type name of the related model for relation fields.
func (f fieldInfo) objectType(relatedType string) string {
	if f.CustomType != "" {
		return f.CustomType
	}
	base := f.Base
	if f.isRelation() {
		base = relatedType
	}
	return GraphQLType(base, f.List, f.Nullable)
}

// inputType renders the field's type on the input type; always nullable
func (f fieldInfo) inputType() string {
	if f.CustomType != "" {
		t := f.CustomType
		for len(t) > 0 && t[len(t)-1] == '!' {
			t = t[:len(t)-1]
		}
		return t
	}
	return GraphQLType(f.Base, f.List, true)
}

// normalize merges cfg over what m declares. Attributes come first in
// declaration order, then associations, then custom fields by name.
func normalize(m model.Model, cfg *ModelConfig) modelInfo {
	meta := modelInfo{
		Name:         m.Name(),
		TypeName:     cfg.TypeName,
		Description:  cfg.Description,
		PrimaryKey:   m.PrimaryKeyAttribute(),
		Operations:   cfg.operations(),
		AuthRequired: cfg.AuthRequired,
		AuthHandler:  cfg.AuthHandler,
	}
	if meta.TypeName == "" {
		meta.TypeName = m.Name()
	}

	excluded := func(name string, fc FieldConfig) bool {
		return fc.Exclude || slices.Contains(cfg.ExcludeFields, name)
	}

	for _, a := range m.Attributes() {
		fc := cfg.Fields[a.Name]
		if excluded(a.Name, fc) {
			continue
		}

		f := fieldInfo{
			Name:        a.Name,
			Base:        ScalarFor(a.Type),
			CustomType:  fc.CustomType,
			Nullable:    attributeNullable(a, fc),
			Description: a.Comment,
			Resolver:    fc.Resolver,
			InObject:    true,
			InInput:     true,
		}
		if fc.Type != "" {
			f.Base = fc.Type
		}
		if fc.List != nil {
			f.List = *fc.List
		}
		if fc.Description != "" {
			f.Description = fc.Description
		}
		applyFieldOperations(&f, fc)
		meta.Fields = append(meta.Fields, f)
	}

	for _, a := range m.Associations() {
		fc := cfg.Fields[a.Name]
		if excluded(a.Name, fc) {
			continue
		}

		f := fieldInfo{
			Name:         a.Name,
			Base:         a.Target,
			CustomType:   fc.CustomType,
			List:         associationList(a, fc),
			Nullable:     associationNullable(a, fc),
			Description:  fc.Description,
			Resolver:     fc.Resolver,
			InObject:     true,
			RelationType: a.Kind,
			RelatedModel: a.Target,
		}
		if fc.Operations != nil {
			f.InObject = fc.Operations.Query
		}
		meta.Fields = append(meta.Fields, f)
	}

	for _, name := range sortedKeys(cfg.CustomFields) {
		fc := cfg.CustomFields[name]
		if fc.Exclude {
			continue
		}

		f := fieldInfo{
			Name:        name,
			Base:        fc.Type,
			CustomType:  fc.CustomType,
			Nullable:    true,
			Description: fc.Description,
			Resolver:    fc.Resolver,
			InObject:    true,
			Custom:      true,
		}
		if fc.Nullable != nil {
			f.Nullable = *fc.Nullable
		}
		if fc.List != nil {
			f.List = *fc.List
		}
		meta.Fields = append(meta.Fields, f)
	}

	return meta
}

func applyFieldOperations(f *fieldInfo, fc FieldConfig) {
	if fc.Operations == nil {
		return
	}
	f.InObject = fc.Operations.Query
	f.InInput = fc.Operations.Mutation
}
