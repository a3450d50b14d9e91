// Command blog mounts two ORM models, an owner-scoped hook and a hand-written
// "me" query on an in-memory SQLite database.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/events"
	"github.com/eddieafk/ormql/generator"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/handler"
	"github.com/eddieafk/ormql/host"
	"github.com/eddieafk/ormql/internal/logger"
	"github.com/eddieafk/ormql/model"
	"github.com/eddieafk/ormql/orm"
)

const schemaSQL = `
CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);
CREATE TABLE posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	published BOOLEAN,
	created_at DATETIME,
	author_id INTEGER NOT NULL REFERENCES users(id)
);
INSERT INTO users (name) VALUES ('ada');
`

func main() {
	logger.Init(os.Getenv("APP_ENV"))
	defer logger.Sync()
	log := logger.L()

	secret := []byte(os.Getenv("ORMQL_JWT_SECRET"))
	if len(secret) == 0 {
		secret = []byte("blog-dev-secret")
	}

	ctx := context.Background()
	db, err := orm.Open(ctx, "sqlite", ":memory:", orm.WithLogger(log))
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	db.SQL().SetMaxOpenConns(1)
	defer db.Close()

	if _, err := db.SQL().ExecContext(ctx, schemaSQL); err != nil {
		log.Fatal("create schema", zap.Error(err))
	}

	users, err := db.Define("User", orm.Definition{
		Attributes: []model.Attribute{{Name: "name", Type: "STRING"}},
		Associations: []model.Association{
			{Name: "posts", Kind: model.HasMany, Target: "Post", ForeignKey: "authorId"},
		},
	})
	if err != nil {
		log.Fatal("define User", zap.Error(err))
	}
	posts, err := db.Define("Post", orm.Definition{
		Attributes: []model.Attribute{
			{Name: "title", Type: "STRING", Comment: "Headline shown in lists"},
			{Name: "published", Type: "BOOLEAN", AllowNull: true},
			{Name: "createdAt", Type: "DATE", AllowNull: true},
			{Name: "authorId", Type: "INTEGER"},
		},
		Associations: []model.Association{
			{Name: "author", Kind: model.BelongsTo, Target: "User", ForeignKey: "authorId"},
		},
	})
	if err != nil {
		log.Fatal("define Post", zap.Error(err))
	}

	h := host.New(host.Options{
		Broker: events.NewMemory(16, log),
		Server: handler.Config{
			EnablePlayground: true,
			PlaygroundTitle:  "blog",
			Endpoint:         "/graphql",
			RequestTimeout:   10 * time.Second,
		},
		JWTSecret: secret,
		RateLimit: 20,
		RateBurst: 40,
		Tracing:   true,
		Logger:    log,
	})

	err = h.Mount(ctx, []host.Contribution{
		{AppID: "accounts", Kind: host.KindModel, Item: host.ModelItem{
			Model:  users,
			Config: &generator.ModelConfig{Operations: &generator.Operations{Query: true}},
		}},
		{AppID: "blog", Kind: host.KindModel, Item: host.ModelItem{
			Model: posts,
			Config: &generator.ModelConfig{
				Description:  "A blog post",
				Operations:   &generator.Operations{Query: true, Mutation: true, Subscription: true},
				AuthRequired: true,
				AuthHandler:  auth.Owner("authorId"),
				Fields: map[string]generator.FieldConfig{
					"createdAt": {Operations: &generator.Operations{Query: true}},
				},
			},
		}},
		{AppID: "accounts", Kind: host.KindQuery, Item: "me: User"},
		{AppID: "accounts", Kind: host.KindResolver, Item: graph.ResolverTable{
			"Query": {"me": func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
				id, ok := auth.UserID(graph.CallerFrom(ctx))
				if !ok {
					return nil, nil
				}
				inst, err := users.FindByPk(ctx, id)
				if err != nil || inst == nil {
					return nil, err
				}
				return inst.ToJSON(), nil
			}},
		}},
	})
	if err != nil {
		log.Fatal("mount", zap.Error(err))
	}

	token, err := auth.NewToken(secret, "1", 24*time.Hour)
	if err != nil {
		log.Fatal("sign token", zap.Error(err))
	}
	log.Info("token for user 1", zap.String("authorization", "Bearer "+token))

	mux := http.NewServeMux()
	h.Routes(mux)

	log.Info("listening", zap.String("addr", ":8080"))
	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}
