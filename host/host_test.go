package host

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/generator"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/handler"
	"github.com/eddieafk/ormql/model"
	"github.com/eddieafk/ormql/orm"
)

var secret = []byte("test-secret")

type gqlResult struct {
	Data   map[string]interface{} `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
}

func postModel(t *testing.T) model.Model {
	t.Helper()
	ctx := context.Background()

	db, err := orm.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	db.SQL().SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.SQL().ExecContext(ctx, `CREATE TABLE posts (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT)`)
	require.NoError(t, err)

	posts, err := db.Define("Post", orm.Definition{
		Attributes: []model.Attribute{{Name: "title", Type: "STRING", AllowNull: true}},
	})
	require.NoError(t, err)

	_, err = posts.Create(ctx, model.Record{"title": "hello"})
	require.NoError(t, err)
	return posts
}

func newHost(t *testing.T, opts Options) (*Host, *observer.ObservedLogs, *httptest.Server) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	opts.Logger = zap.New(core)
	opts.JWTSecret = secret
	opts.Server.EnablePlayground = true
	opts.Server.PlaygroundTitle = "blog"

	h := New(opts)
	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, logs, srv
}

func post(t *testing.T, srv *httptest.Server, query, token string) (int, gqlResult) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"query": query})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/graphql", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out gqlResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func modelItem(m model.Model, cfg *generator.ModelConfig) Contribution {
	return Contribution{AppID: "blog", Kind: KindModel, Item: ModelItem{Model: m, Config: cfg}}
}

func TestMount_ServesGraphQL(t *testing.T) {
	h, logs, srv := newHost(t, Options{})
	require.NoError(t, h.Mount(context.Background(), []Contribution{
		modelItem(postModel(t), &generator.ModelConfig{}),
	}))

	status, out := post(t, srv, `{ postList { id title } }`, "")
	assert.Equal(t, http.StatusOK, status)
	require.Empty(t, out.Errors)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": float64(1), "title": "hello"},
	}, out.Data["postList"])
	require.Eventually(t, func() bool { return logs.FilterMessage("incoming request").Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, logs.FilterMessage("incoming request").All()[0].ContextMap()["request_id"])

	resp, err := http.Get(srv.URL + "/graphql")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "blog")

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	text, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(text), "ormql_graphql_requests_total")
	assert.Contains(t, string(text), `ormql_host_mounts_total{status="ok"} 1`)

	s, ok := h.Schema()
	require.True(t, ok)
	assert.Contains(t, s.TypeDefs, "type Post {")
}

// panicModel panics on the first method the registry calls
type panicModel struct {
	model.Model
}

func TestMount_SkipsFailingItems(t *testing.T) {
	h, logs, srv := newHost(t, Options{})

	err := h.Mount(context.Background(), []Contribution{
		{AppID: "broken", Kind: KindModel, Item: ModelItem{}},
		{AppID: "broken", Kind: KindModel, Item: ModelItem{Model: panicModel{}}},
		{AppID: "broken", Kind: KindQuery, Item: 42},
		{AppID: "broken", Kind: "widget", Item: "x"},
		modelItem(postModel(t), &generator.ModelConfig{}),
	})
	require.NoError(t, err)

	errs := h.Errors()
	require.Len(t, errs, 4)
	assert.Contains(t, errs[1].Error(), "panic:")
	assert.Contains(t, errs[3].Error(), `unknown contribution kind "widget"`)

	assert.Equal(t, 4, logs.FilterMessage("skipping contribution").Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(h.Metrics().SkippedItems.WithLabelValues("model")))

	_, out := post(t, srv, `{ postCount }`, "")
	require.Empty(t, out.Errors)
	assert.Equal(t, float64(1), out.Data["postCount"])
}

func TestContributeBeforeAndAfterMount(t *testing.T) {
	h, logs, srv := newHost(t, Options{})
	ctx := context.Background()

	h.Contribute(modelItem(postModel(t), &generator.ModelConfig{}))
	require.NoError(t, h.Mount(ctx, nil))
	assert.Equal(t, 0, h.Pending())

	h.Contribute(Contribution{AppID: "greeter", Kind: KindQuery, Item: "hello: String"})
	h.Contribute(Contribution{AppID: "greeter", Kind: KindResolver, Item: graph.ResolverTable{
		"Query": {"hello": func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
			return "world", nil
		}},
	}})
	assert.Equal(t, 2, h.Pending())
	assert.Equal(t, 2, logs.FilterMessage("contribution queued until remount").Len())

	_, out := post(t, srv, `{ hello }`, "")
	require.NotEmpty(t, out.Errors, "queued contributions are not served yet")

	require.NoError(t, h.Remount(ctx))
	assert.Equal(t, 0, h.Pending())

	_, out = post(t, srv, `{ hello postCount }`, "")
	require.Empty(t, out.Errors)
	assert.Equal(t, "world", out.Data["hello"])
	assert.Equal(t, float64(1), out.Data["postCount"])
}

func TestRemountWith_ReplacesApp(t *testing.T) {
	h, _, srv := newHost(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.Mount(ctx, []Contribution{
		modelItem(postModel(t), &generator.ModelConfig{}),
		{AppID: "greeter", Kind: KindQuery, Item: "hello: String"},
	}))

	require.NoError(t, h.RemountWith(ctx, map[string][]Contribution{
		"greeter": {{AppID: "greeter", Kind: KindQuery, Item: "goodbye: String"}},
	}))

	s, _ := h.Schema()
	assert.Contains(t, s.TypeDefs, "goodbye: String")
	assert.NotContains(t, s.TypeDefs, "hello: String")

	_, out := post(t, srv, `{ postCount }`, "")
	assert.Empty(t, out.Errors)
}

func TestMountLifecycleErrors(t *testing.T) {
	h, _, _ := newHost(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.Remount(ctx), ErrNotMounted)
	require.NoError(t, h.Mount(ctx, nil))
	assert.ErrorIs(t, h.Mount(ctx, nil), ErrAlreadyMounted)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	h.Contribute(Contribution{AppID: "a", Kind: KindQuery, Item: "x: Int"})
	assert.ErrorIs(t, h.Remount(canceled), context.Canceled)
	assert.Equal(t, 1, h.Pending(), "a failed remount keeps the queue")
}

func TestUnmountedAndBrokenSchemaAre500(t *testing.T) {
	h, _, srv := newHost(t, Options{})

	status, out := post(t, srv, `{ postCount }`, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "internal server error", out.Errors[0].Message)
	assert.Equal(t, "no schema is mounted", out.Errors[0].Extensions["detail"])

	err := h.Mount(context.Background(), []Contribution{
		{AppID: "bad", Kind: KindTypeDef, Item: "type {"},
	})
	require.NoError(t, err)
	require.Len(t, h.Errors(), 1)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.Metrics().Mounts.WithLabelValues("error")))

	status, out = post(t, srv, `{ _empty }`, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, out.Errors)
}

func widgetModel(t *testing.T) model.Model {
	t.Helper()
	db, err := orm.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	widgets, err := db.Define("Widget", orm.Definition{
		Attributes: []model.Attribute{{Name: "name", Type: "STRING", AllowNull: true}},
	})
	require.NoError(t, err)
	return widgets
}

func TestMount_MalformedAppIsIsolated(t *testing.T) {
	h, logs, srv := newHost(t, Options{})
	ctx := context.Background()
	shop := func(kind Kind, item interface{}) Contribution {
		return Contribution{AppID: "shop", Kind: kind, Item: item}
	}

	err := h.Mount(ctx, []Contribution{
		{AppID: "blog", Kind: KindQuery, Item: "latestTitle: String"},
		{AppID: "blog", Kind: KindQuery, Item: "firstPost: Post"},
		modelItem(postModel(t), &generator.ModelConfig{}),
		{AppID: "blog", Kind: KindResolver, Item: graph.ResolverTable{
			"Query": {"latestTitle": func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
				return "hello", nil
			}},
		}},
		shop(KindModel, ModelItem{Model: widgetModel(t), Config: &generator.ModelConfig{
			CustomFields: map[string]generator.FieldConfig{"price": {Type: "Money"}},
		}}),
		shop(KindModel, ModelItem{Model: widgetModel(t), Config: &generator.ModelConfig{TypeName: "Post"}}),
		shop(KindTypeDef, "type Broken {"),
		shop(KindQuery, "gadgets: [Gadget]"),
	})
	require.NoError(t, err)

	errs := h.Errors()
	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.True(t, strings.HasPrefix(err.Error(), "shop "), err.Error())
	}
	assert.Contains(t, errs[0].Error(), "Money")
	assert.Equal(t, 4, logs.FilterMessage("skipping contribution").Len())

	s, ok := h.Schema()
	require.True(t, ok)
	assert.Contains(t, s.TypeDefs, "firstPost: Post")
	assert.NotContains(t, s.TypeDefs, "Widget")

	status, out := post(t, srv, `{ postCount latestTitle }`, "")
	assert.Equal(t, http.StatusOK, status)
	require.Empty(t, out.Errors)
	assert.Equal(t, float64(1), out.Data["postCount"])
	assert.Equal(t, "hello", out.Data["latestTitle"])

	h.Contribute(shop(KindQuery, "more: [Gadget]"))
	require.NoError(t, h.Remount(ctx))
	assert.Len(t, h.Errors(), 5)

	status, _ = post(t, srv, `{ postCount }`, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestResolverPanicIs500AndServerSurvives(t *testing.T) {
	h, _, srv := newHost(t, Options{})
	require.NoError(t, h.Mount(context.Background(), []Contribution{
		modelItem(postModel(t), &generator.ModelConfig{}),
		{AppID: "x", Kind: KindQuery, Item: "boom: String"},
		{AppID: "x", Kind: KindResolver, Item: graph.ResolverTable{
			"Query": {"boom": func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
				panic("kaboom")
			}},
		}},
	}))

	status, out := post(t, srv, `{ boom }`, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "panic: kaboom", out.Errors[0].Extensions["detail"])

	status, out = post(t, srv, `{ postCount }`, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, out.Errors)
}

func TestBearerTokenReachesAuthHook(t *testing.T) {
	h, _, srv := newHost(t, Options{})
	require.NoError(t, h.Mount(context.Background(), []Contribution{
		modelItem(postModel(t), &generator.ModelConfig{
			AuthRequired: true,
			AuthHandler:  auth.Authenticated(),
		}),
	}))

	_, out := post(t, srv, `{ postCount }`, "")
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "FORBIDDEN", out.Errors[0].Extensions["code"])

	token, err := auth.NewToken(secret, "u1", time.Hour)
	require.NoError(t, err)
	_, out = post(t, srv, `{ postCount }`, token)
	require.Empty(t, out.Errors)
	assert.Equal(t, float64(1), out.Data["postCount"])
}

func TestRateLimitSurvivesRemount(t *testing.T) {
	h, _, srv := newHost(t, Options{RateLimit: 0.001, RateBurst: 1, Extensions: []handler.Extension{handler.NewTracing()}})
	ctx := context.Background()
	require.NoError(t, h.Mount(ctx, []Contribution{modelItem(postModel(t), &generator.ModelConfig{})}))

	_, out := post(t, srv, `{ postCount }`, "")
	require.Empty(t, out.Errors)

	require.NoError(t, h.Remount(ctx))

	_, out = post(t, srv, `{ postCount }`, "")
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "RATE_LIMITED", out.Errors[0].Extensions["code"])
	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics().RateLimited))
}
