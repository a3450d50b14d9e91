package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/internal/metrics"
)

const testSDL = `
type Query {
  hello(name: String): String
  boom: String
  denied: String
}

type Mutation {
  touch: Boolean
}
`

type forbidden struct{}

func (forbidden) Error() string                      { return "nope" }
func (forbidden) Extensions() map[string]interface{} { return map[string]interface{}{"code": "FORBIDDEN"} }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	es, err := graph.NewExecutableSchema(testSDL)
	require.NoError(t, err)

	table := graph.ResolverTable{}
	table.Set("Query", "hello", func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		name, _ := args["name"].(string)
		if name == "" {
			name = "world"
		}
		return "hello " + name, nil
	})
	table.Set("Query", "boom", func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		panic("boom")
	})
	table.Set("Query", "denied", func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		return nil, forbidden{}
	})
	table.Set("Mutation", "touch", func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		return true, nil
	})
	es.SetResolvers(graph.NewResolverMapFromTable(table))

	return NewWithConfig(es, cfg)
}

func postJSON(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func TestServer_POST(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w, out := postJSON(t, s, `{"query":"query($n: String) { hello(name: $n) }","variables":{"n":"ann"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, map[string]interface{}{"hello": "hello ann"}, out["data"])
	assert.Nil(t, out["errors"])

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{ hello }`))
	req.Header.Set("Content-Type", "application/graphql")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.JSONEq(t, `{"data":{"hello":"hello world"}}`, w.Body.String())
}

func TestServer_BadRequests(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w, out := postJSON(t, s, `{"query":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, out["errors"])

	w, _ = postJSON(t, s, `{"variables":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/graphql", nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported transport")
}

func TestServer_FieldErrorsKeepStatus200(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w, out := postJSON(t, s, `{"query":"{ denied hello }"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"denied": nil, "hello": "hello world"}, out["data"])

	errs := out["errors"].([]interface{})
	require.Len(t, errs, 1)
	first := errs[0].(map[string]interface{})
	assert.Equal(t, "nope", first["message"])
	assert.Equal(t, map[string]interface{}{"code": "FORBIDDEN"}, first["extensions"])
}

func TestServer_PanicIs500(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w, out := postJSON(t, s, `{"query":"{ boom }"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, []interface{}{map[string]interface{}{
		"message":    "internal server error",
		"extensions": map[string]interface{}{"code": "INTERNAL", "detail": "panic: boom"},
	}}, out["errors"])

	// the server keeps serving
	w, _ = postJSON(t, s, `{"query":"{ hello }"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_NoSchemaIs500(t *testing.T) {
	s := NewWithConfig(nil, DefaultConfig())

	w, out := postJSON(t, s, `{"query":"{ hello }"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, out["errors"])
}

func TestServer_GET(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql?query="+url.QueryEscape("{ hello }"), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"hello":"hello world"}}`, w.Body.String())

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql?query="+url.QueryEscape("mutation { touch }"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ErrMutationOverGET.Error())

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql?query=%7B+hello+%7D&variables=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Playground(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "ormql")

	cfg := DefaultConfig()
	cfg.EnablePlayground = false
	s = newTestServer(t, cfg)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_OPTIONS(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/graphql", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

type recordingExtension struct {
	name  string
	trace *[]string
	stop  bool
}

func (e *recordingExtension) ExtensionName() string { return e.name }

func (e *recordingExtension) InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response {
	*e.trace = append(*e.trace, e.name+":before")
	if e.stop {
		return errorResponse("stopped by "+e.name, "STOPPED")
	}
	resp := next(ctx, params)
	*e.trace = append(*e.trace, e.name+":after")
	return resp
}

func TestServer_InterceptorChain(t *testing.T) {
	var trace []string
	s := newTestServer(t, DefaultConfig())
	s.Use(&recordingExtension{name: "outer", trace: &trace})
	s.Use(&recordingExtension{name: "inner", trace: &trace})

	_, out := postJSON(t, s, `{"query":"{ hello }"}`)
	assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, trace)
	assert.NotNil(t, out["data"])

	trace = nil
	s = newTestServer(t, DefaultConfig())
	s.Use(&recordingExtension{name: "gate", trace: &trace, stop: true})
	s.Use(&recordingExtension{name: "never", trace: &trace})

	_, out = postJSON(t, s, `{"query":"{ hello }"}`)
	assert.Equal(t, []string{"gate:before"}, trace)
	assert.Nil(t, out["data"])
}

func TestTracing(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.Use(NewTracing())

	_, out := postJSON(t, s, `{"query":"{ hello }"}`)
	ext := out["extensions"].(map[string]interface{})
	tracing := ext["tracing"].(map[string]interface{})
	assert.Equal(t, float64(1), tracing["version"])
	assert.GreaterOrEqual(t, tracing["duration"].(float64), float64(0))
	_, err := time.Parse(time.RFC3339Nano, tracing["startTime"].(string))
	assert.NoError(t, err)
}

func TestIntrospectionDisabler(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.Use(NewIntrospectionDisabler())

	for _, q := range []string{
		`{ __schema { queryType { name } } }`,
		`{ __type(name: \"Query\") { name } }`,
		`query { ...F } fragment F on Query { __schema { types { name } } }`,
	} {
		_, out := postJSON(t, s, `{"query":"`+q+`"}`)
		errs := out["errors"].([]interface{})
		assert.Equal(t, "INTROSPECTION_DISABLED", errs[0].(map[string]interface{})["extensions"].(map[string]interface{})["code"], q)
	}

	_, out := postJSON(t, s, `{"query":"{ __typename hello }"}`)
	assert.Nil(t, out["errors"])
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	s := newTestServer(t, DefaultConfig())
	s.Use(limiter)

	send := func(user interface{}, remote string) map[string]interface{} {
		req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ hello }"}`))
		req.RemoteAddr = remote
		ctx := graph.WithCaller(req.Context(), &graph.Caller{User: user, Request: req})
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req.WithContext(ctx))

		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	assert.Nil(t, send(nil, "10.0.0.1:1234")["errors"])
	limited := send(nil, "10.0.0.1:5678")["errors"].([]interface{})
	assert.Equal(t, "RATE_LIMITED", limited[0].(map[string]interface{})["extensions"].(map[string]interface{})["code"])

	assert.Nil(t, send(nil, "10.0.0.2:1234")["errors"], "other IPs have their own bucket")
	assert.Nil(t, send("u1", "10.0.0.1:1234")["errors"], "users are keyed by id")
	assert.NotNil(t, send("u1", "10.0.0.9:1234")["errors"])
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.limiter("ip:a")
	limiter.limiter("ip:b")
	assert.Len(t, limiter.visitors, 2)

	now = now.Add(10 * time.Minute)
	limiter.limiter("ip:c")
	assert.Len(t, limiter.visitors, 1)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := newTestServer(t, DefaultConfig())
	s.Use(NewLogging(zap.New(core)))

	postJSON(t, s, `{"query":"query Q { denied }","operationName":"Q"}`)

	warns := logs.FilterMessage("graphql error").All()
	require.Len(t, warns, 1)
	assert.Equal(t, "FORBIDDEN", warns[0].ContextMap()["code"])

	ops := logs.FilterMessage("graphql operation").All()
	require.Len(t, ops, 1)
	assert.Equal(t, "Q", ops[0].ContextMap()["operation"])
	assert.Equal(t, "query", ops[0].ContextMap()["type"])
	assert.Equal(t, int64(1), ops[0].ContextMap()["errors"])
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	s := newTestServer(t, DefaultConfig())
	s.Use(NewMetrics(m))
	s.Use(NewRateLimiter(0.001, 1))

	postJSON(t, s, `{"query":"{ hello }"}`)
	postJSON(t, s, `{"query":"mutation { touch }"}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unknown", "error")), "limited before execution")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("RATE_LIMITED")))
}
