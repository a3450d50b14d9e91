package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eddieafk/ormql/model"
)

func TestScalarFor(t *testing.T) {
	tests := []struct {
		native string
		want   string
	}{
		{"STRING", "String"},
		{"VARCHAR(255)", "String"},
		{"uuidv4", "String"},
		{"INTEGER", "Int"},
		{"bigint unsigned", "Int"},
		{"DECIMAL(10,2)", "Float"},
		{"double precision", "Float"},
		{"BOOLEAN", "Boolean"},
		{"timestamp with time zone", "DateTime"},
		{"DATEONLY", "DateTime"},
		{"JSONB", "JSON"},
		{"ARRAY(STRING)", "JSON"},
		{"GEOMETRY", "String"},
		{"", "String"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScalarFor(tt.native), tt.native)
	}
}

func TestGraphQLType(t *testing.T) {
	assert.Equal(t, "Post", GraphQLType("Post", false, true))
	assert.Equal(t, "Post!", GraphQLType("Post", false, false))
	assert.Equal(t, "[Post]", GraphQLType("Post", true, true))
	assert.Equal(t, "[Post]!", GraphQLType("Post", true, false))
}

func TestAssociationDefaults(t *testing.T) {
	tests := []struct {
		kind     model.AssociationKind
		fc       FieldConfig
		list     bool
		nullable bool
	}{
		{model.BelongsTo, FieldConfig{}, false, false},
		{model.HasOne, FieldConfig{}, false, true},
		{model.HasMany, FieldConfig{}, true, true},
		{model.BelongsToMany, FieldConfig{}, true, true},
		{model.BelongsTo, FieldConfig{Nullable: Bool(true)}, false, true},
		{model.HasMany, FieldConfig{List: Bool(false), Nullable: Bool(false)}, false, false},
	}
	for _, tt := range tests {
		a := model.Association{Name: "rel", Kind: tt.kind}
		assert.Equal(t, tt.list, associationList(a, tt.fc), string(tt.kind))
		assert.Equal(t, tt.nullable, associationNullable(a, tt.fc), string(tt.kind))
	}

	assert.True(t, attributeNullable(model.Attribute{AllowNull: true}, FieldConfig{}))
	assert.False(t, attributeNullable(model.Attribute{AllowNull: true}, FieldConfig{Nullable: Bool(false)}))
}

func TestFilter(t *testing.T) {
	f := NewFilter(nil, []string{"Post.body", "password", "Audit", ""})

	assert.True(t, f.ModelAllowed("Post"), "empty whitelist allows everything")
	assert.True(t, f.ModelBlacklisted("Audit"))
	assert.False(t, f.ModelBlacklisted("Post"))

	assert.False(t, f.FieldAllowed("Post", "body"))
	assert.True(t, f.FieldAllowed("Comment", "body"))
	assert.False(t, f.FieldAllowed("User", "password"))
	assert.False(t, f.FieldAllowed("Audit", "id"))
	assert.True(t, f.FieldAllowed("Post", "title"))

	w := NewFilter([]string{"Post"}, nil)
	assert.True(t, w.ModelAllowed("Post"))
	assert.False(t, w.ModelAllowed("User"))
}
