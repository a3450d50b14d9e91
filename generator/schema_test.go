package generator

import (
	"strings"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eddieafk/ormql/model"
)

func postModel() *fakeModel {
	return newFakeModel("Post",
		model.Attribute{Name: "id", Type: "INTEGER", PrimaryKey: true},
		model.Attribute{Name: "title", Type: "VARCHAR(255)", AllowNull: true},
		model.Attribute{Name: "createdAt", Type: "DATE", AllowNull: true},
	)
}

func userModel() *fakeModel {
	return newFakeModel("User",
		model.Attribute{Name: "id", Type: "INTEGER", PrimaryKey: true},
		model.Attribute{Name: "name", Type: "STRING"},
	)
}

func newGenerator(t *testing.T, opts Options, models ...struct {
	m   model.Model
	cfg *ModelConfig
}) *Generator {
	t.Helper()
	reg := NewRegistry()
	for _, entry := range models {
		require.NoError(t, reg.Register(entry.m, entry.cfg))
	}
	return New(reg, opts)
}

func entry(m model.Model, cfg *ModelConfig) struct {
	m   model.Model
	cfg *ModelConfig
} {
	return struct {
		m   model.Model
		cfg *ModelConfig
	}{m, cfg}
}

const postSDL = `scalar DateTime
scalar JSON

"""A blog post"""
type Post {
  id: Int!
  title: String
  createdAt: DateTime
}

input PostInput {
  id: Int
  title: String
  createdAt: DateTime
}

type Query {
  post(id: String!): Post
  postList(where: JSON, limit: Int, offset: Int, order: String): [Post]
  postCount(where: JSON): Int
}

type Mutation {
  createPost(input: PostInput!): Post
  updatePost(id: String!, input: PostInput!): Post
  deletePost(id: String!): Boolean
}
`

func TestGetSchema_Post(t *testing.T) {
	g := newGenerator(t, Options{}, entry(postModel(), &ModelConfig{Description: "A blog post"}))

	s := g.GetSchema()
	assert.Equal(t, postSDL, s.TypeDefs)
	assert.Equal(t, []string{
		"Mutation.createPost",
		"Mutation.deletePost",
		"Mutation.updatePost",
		"Query.post",
		"Query.postCount",
		"Query.postList",
	}, s.Resolvers.Keys())

	_, err := s.Executable()
	require.NoError(t, err)
}

func TestGetSchema_Deterministic(t *testing.T) {
	build := func() Schema {
		author := userModel()
		post := postModel()
		post.assocs = []model.Association{{Name: "author", Kind: model.BelongsTo, Target: "User"}}
		author.assocs = []model.Association{{Name: "posts", Kind: model.HasMany, Target: "Post"}}
		g := newGenerator(t, Options{Blacklist: []string{"createdAt"}},
			entry(author, &ModelConfig{Operations: &Operations{Query: true, Subscription: true}}),
			entry(post, &ModelConfig{}),
		)
		return g.GetSchema()
	}

	first, second := build(), build()
	if diff := pretty.Compare(first.TypeDefs, second.TypeDefs); diff != "" {
		t.Errorf("TypeDefs differ between runs (-first +second):\n%s", diff)
	}
	if diff := pretty.Compare(first.Resolvers.Keys(), second.Resolvers.Keys()); diff != "" {
		t.Errorf("resolver keys differ between runs (-first +second):\n%s", diff)
	}

	assert.Contains(t, first.TypeDefs, "  posts: [Post]\n")
	assert.Contains(t, first.TypeDefs, "  author: User!\n")
	assert.Contains(t, first.TypeDefs, "type Subscription {\n  userCreated: User\n  userUpdated: User\n  userDeleted: User\n}\n")
	assert.NotContains(t, first.TypeDefs, "input UserInput")
	assert.Contains(t, first.Resolvers.Keys(), "Post.author")
	assert.Contains(t, first.Resolvers.Keys(), "User.posts")
}

func TestGetSchema_Blacklist(t *testing.T) {
	tests := []struct {
		name      string
		blacklist []string
	}{
		{"model and field", []string{"Post.title"}},
		{"bare field", []string{"title"}},
		{"padded", []string{"  Post.title "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator(t, Options{Blacklist: tt.blacklist}, entry(postModel(), &ModelConfig{}))
			sdl := g.GetSchema().TypeDefs

			assert.NotContains(t, sdl, "title")
			assert.Contains(t, sdl, "type Post {\n  id: Int!\n  createdAt: DateTime\n}")
			assert.Contains(t, sdl, "input PostInput {\n  id: Int\n  createdAt: DateTime\n}")
		})
	}

	t.Run("bare model", func(t *testing.T) {
		g := newGenerator(t, Options{Blacklist: []string{"Post"}},
			entry(postModel(), &ModelConfig{}),
			entry(userModel(), &ModelConfig{}),
		)
		s := g.GetSchema()
		assert.NotContains(t, s.TypeDefs, "Post")
		assert.Contains(t, s.TypeDefs, "type User {")
		_, ok := g.Registry().Model("Post")
		assert.True(t, ok, "blacklisted models stay registered")
	})
}

func TestGetSchema_Whitelist(t *testing.T) {
	post := postModel()
	post.assocs = []model.Association{{Name: "author", Kind: model.BelongsTo, Target: "User"}}

	g := newGenerator(t, Options{Whitelist: []string{"Post"}},
		entry(post, &ModelConfig{}),
		entry(userModel(), &ModelConfig{}),
	)
	s := g.GetSchema()

	assert.NotContains(t, s.TypeDefs, "type User")
	assert.NotContains(t, s.TypeDefs, "author", "relations into hidden models are dropped")
	assert.NotContains(t, s.Resolvers.Keys(), "Query.user")
	_, ok := g.Registry().Model("User")
	assert.True(t, ok)

	_, err := s.Executable()
	require.NoError(t, err)
}

func TestGetSchema_ExcludedAndUnconfigured(t *testing.T) {
	g := newGenerator(t, Options{},
		entry(postModel(), &ModelConfig{Exclude: true}),
		entry(userModel(), nil),
	)
	s := g.GetSchema()

	assert.NotContains(t, s.TypeDefs, "type Post")
	assert.NotContains(t, s.TypeDefs, "type User")
	assert.Contains(t, s.TypeDefs, "type Query {\n  _empty: Boolean\n}\n")
	assert.NotContains(t, s.TypeDefs, "type Mutation")
	assert.Empty(t, s.Resolvers.Keys())

	_, err := s.Executable()
	require.NoError(t, err)
}

func TestGetSchema_FieldConfig(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	cfg := &ModelConfig{
		TypeName: "Article",
		Fields: map[string]FieldConfig{
			"id":        {Type: "ID"},
			"title":     {Nullable: Bool(false), Description: "Headline"},
			"createdAt": {Operations: &Operations{Query: true}},
		},
		CustomFields: map[string]FieldConfig{
			"wordCount": {Type: "Int"},
			"tags":      {CustomType: "[String!]!"},
		},
	}
	g := newGenerator(t, Options{Logger: zap.New(core)}, entry(postModel(), cfg))
	s := g.GetSchema()

	assert.Contains(t, s.TypeDefs, `type Article {
  id: ID!
  """Headline"""
  title: String!
  createdAt: DateTime
  tags: [String!]!
  wordCount: Int
}`)
	assert.Contains(t, s.TypeDefs, "input ArticleInput {\n  id: ID\n  title: String\n}")
	assert.Contains(t, s.TypeDefs, "article(id: String!): Article")
	assert.Contains(t, s.TypeDefs, "createArticle(input: ArticleInput!): Article")
	assert.Zero(t, logs.Len())
}

func TestGetSchema_NoInputFieldsDisablesMutations(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	cfg := &ModelConfig{ExcludeFields: []string{"id", "createdAt"}, Fields: map[string]FieldConfig{
		"title": {Operations: &Operations{Query: true}},
	}}
	g := newGenerator(t, Options{Logger: zap.New(core)}, entry(postModel(), cfg))
	s := g.GetSchema()

	assert.NotContains(t, s.TypeDefs, "PostInput")
	assert.NotContains(t, s.TypeDefs, "type Mutation")
	require.Equal(t, 1, logs.FilterMessage("model has no input fields, skipping mutations").Len())
}

func TestGetSchema_Contributions(t *testing.T) {
	g := newGenerator(t, Options{}, entry(postModel(), &ModelConfig{Operations: &Operations{Query: true}}))
	g.AddTypeDefs("type Stats { posts: Int }")
	g.AddQuery("stats: Stats")
	g.AddMutation("ping: Boolean")

	s := g.GetSchema()
	assert.True(t, strings.Index(s.TypeDefs, "type Stats") < strings.Index(s.TypeDefs, "type Query"))
	assert.Contains(t, s.TypeDefs, "  postCount(where: JSON): Int\n  stats: Stats\n}")
	assert.Contains(t, s.TypeDefs, "type Mutation {\n  ping: Boolean\n}")

	_, err := s.Executable()
	require.NoError(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(postModel(), &ModelConfig{}))

	err := reg.Register(postModel(), &ModelConfig{})
	assert.ErrorIs(t, err, ErrDuplicateModel)

	err = reg.Register(userModel(), &ModelConfig{Fields: map[string]FieldConfig{"email": {}}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = reg.Register(userModel(), &ModelConfig{CustomFields: map[string]FieldConfig{"name": {Type: "String"}}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = reg.Register(userModel(), &ModelConfig{CustomFields: map[string]FieldConfig{"score": {}}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	for _, name := range []string{"My User", "1User", "__User"} {
		err = reg.Register(userModel(), &ModelConfig{TypeName: name})
		assert.ErrorIs(t, err, ErrInvalidConfig, name)
	}

	require.NoError(t, reg.Register(userModel(), nil))
	_, ok := reg.Config("User")
	assert.False(t, ok)
	assert.Equal(t, []string{"Post", "User"}, reg.Names())

	assert.True(t, reg.Unregister("Post"))
	assert.False(t, reg.Unregister("Post"))
	assert.Equal(t, []string{"User"}, reg.Names())
}
