package config

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/generator"
	"github.com/eddieafk/ormql/model"
	"github.com/eddieafk/ormql/orm"
)

// ModelConfig declares one ORM model and how it is exposed
type ModelConfig struct {
	Name         string              `yaml:"name"`
	Table        string              `yaml:"table"`
	TypeName     string              `yaml:"typeName"`
	Description  string              `yaml:"description"`
	Exclude      bool                `yaml:"exclude"`
	Operations   *OperationsConfig   `yaml:"operations"`
	Attributes   []AttributeConfig   `yaml:"attributes"`
	Associations []AssociationConfig `yaml:"associations"`
	// ExcludeFields are hidden from the object and input types
	ExcludeFields []string `yaml:"excludeFields"`
	// AuthRequired alone admits any authenticated caller
	AuthRequired bool `yaml:"authRequired"`
	// OwnerField restricts every operation to rows the caller owns and
	// implies AuthRequired
	OwnerField string `yaml:"ownerField"`
}

type OperationsConfig struct {
	Query        bool `yaml:"query"`
	Mutation     bool `yaml:"mutation"`
	Subscription bool `yaml:"subscription"`
}

type AttributeConfig struct {
	Name          string      `yaml:"name"`
	Type          string      `yaml:"type"`
	Column        string      `yaml:"column"`
	Comment       string      `yaml:"comment"`
	AllowNull     *bool       `yaml:"allowNull"`
	PrimaryKey    bool        `yaml:"primaryKey"`
	AutoIncrement bool        `yaml:"autoIncrement"`
	Default       interface{} `yaml:"default"`
}

type AssociationConfig struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Target     string `yaml:"target"`
	ForeignKey string `yaml:"foreignKey"`
	SourceKey  string `yaml:"sourceKey"`
	TargetKey  string `yaml:"targetKey"`
	Through    string `yaml:"through"`
	OtherKey   string `yaml:"otherKey"`
}

var associationKinds = map[string]model.AssociationKind{
	"belongsTo":     model.BelongsTo,
	"hasOne":        model.HasOne,
	"hasMany":       model.HasMany,
	"belongsToMany": model.BelongsToMany,
}

func (m ModelConfig) validate() error {
	var errs error
	for i, a := range m.Attributes {
		if a.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s.attributes[%d] has no name", ErrInvalid, m.Name, i))
		}
	}
	for _, a := range m.Associations {
		if _, ok := associationKinds[a.Kind]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalid, m.Name, a.Name, a.Kind))
		}
		if a.Kind == "belongsToMany" && a.Through == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s.%s needs a through table", ErrInvalid, m.Name, a.Name))
		}
	}
	return errs
}

// Definition is the ORM side of the model
func (m ModelConfig) Definition() orm.Definition {
	def := orm.Definition{Table: m.Table}
	for _, a := range m.Attributes {
		allowNull := true
		if a.AllowNull != nil {
			allowNull = *a.AllowNull
		}
		def.Attributes = append(def.Attributes, model.Attribute{
			Name:          a.Name,
			Type:          a.Type,
			Field:         a.Column,
			Comment:       a.Comment,
			AllowNull:     allowNull,
			PrimaryKey:    a.PrimaryKey,
			AutoIncrement: a.AutoIncrement,
			DefaultValue:  a.Default,
		})
	}
	for _, a := range m.Associations {
		def.Associations = append(def.Associations, model.Association{
			Name:       a.Name,
			Kind:       associationKinds[a.Kind],
			Target:     a.Target,
			ForeignKey: a.ForeignKey,
			SourceKey:  a.SourceKey,
			TargetKey:  a.TargetKey,
			Through:    a.Through,
			OtherKey:   a.OtherKey,
		})
	}
	return def
}

// Options is the generator side of the model
func (m ModelConfig) Options() *generator.ModelConfig {
	cfg := &generator.ModelConfig{
		Exclude:       m.Exclude,
		TypeName:      m.TypeName,
		Description:   m.Description,
		ExcludeFields: m.ExcludeFields,
		AuthRequired:  m.AuthRequired || m.OwnerField != "",
	}
	if m.Operations != nil {
		cfg.Operations = &generator.Operations{
			Query:        m.Operations.Query,
			Mutation:     m.Operations.Mutation,
			Subscription: m.Operations.Subscription,
		}
	}
	switch {
	case m.OwnerField != "":
		cfg.AuthHandler = auth.Owner(m.OwnerField)
	case m.AuthRequired:
		cfg.AuthHandler = auth.Authenticated()
	}
	return cfg
}
