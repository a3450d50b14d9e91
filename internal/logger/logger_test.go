package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, observed := observer.New(zapcore.InfoLevel)

	original := current.Load()
	current.Store(zap.New(core))
	t.Cleanup(func() { current.Store(original) })
	return observed
}

func TestInit(t *testing.T) {
	original := current.Load()
	defer current.Store(original)

	Init("production")
	assert.NotNil(t, current.Load())

	Init("development")
	assert.NotNil(t, current.Load())

	current.Store(nil)
	defaultOnce = sync.Once{}
	t.Setenv("APP_ENV", "test")
	assert.NotNil(t, L())
	assert.NotPanics(t, Sync)
}

func TestLConcurrentFirstUse(t *testing.T) {
	original := current.Load()
	defer current.Store(original)
	current.Store(nil)
	defaultOnce = sync.Once{}

	var wg sync.WaitGroup
	got := make([]*zap.Logger, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			FromCtx(WithRequestID(context.Background(), "r")).Debug("first use")
			got[i] = L()
		}(i)
	}
	wg.Wait()

	for _, l := range got {
		assert.Same(t, got[0], l)
	}
}

func TestFromCtx(t *testing.T) {
	observed := observe(t)

	FromCtx(WithRequestID(context.Background(), "req-1")).Info("with id")
	FromCtx(context.Background()).Info("without id")

	logs := observed.TakeAll()
	require.Len(t, logs, 2)
	assert.Equal(t, "req-1", logs[0].ContextMap()["request_id"])
	_, ok := logs[1].ContextMap()["request_id"]
	assert.False(t, ok)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	req.Header.Set("X-Request-ID", "fixed")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "fixed", seen)
	assert.Equal(t, "fixed", w.Header().Get("X-Request-ID"))
}

func TestLoggingMiddleware(t *testing.T) {
	observed := observe(t)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/graphql", nil))

	logs := observed.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, "incoming request", logs[0].Message)
	assert.Equal(t, "/graphql", logs[0].ContextMap()["path"])
	assert.Equal(t, int64(http.StatusTeapot), logs[0].ContextMap()["status"])
}

func TestAccessLogUsesGivenLogger(t *testing.T) {
	global := observe(t)
	core, own := observer.New(zapcore.InfoLevel)

	h := RequestIDMiddleware(AccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql", nil))

	assert.Equal(t, 0, global.Len())
	logs := own.TakeAll()
	require.Len(t, logs, 1)
	assert.NotEmpty(t, logs[0].ContextMap()["request_id"])
}
