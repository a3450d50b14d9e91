package handler

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/internal/logger"
	"github.com/eddieafk/ormql/internal/metrics"
)

// Extension is the base interface for server extensions
type Extension interface {
	// ExtensionName returns the name of the extension
	ExtensionName() string
}

// OperationInterceptor wraps operation execution. Returning without calling
// next short-circuits the operation.
type OperationInterceptor interface {
	Extension
	InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response
}

// ResponseInterceptor intercepts response generation
type ResponseInterceptor interface {
	Extension
	// InterceptResponse allows modification of the response before sending
	InterceptResponse(ctx context.Context, response *graph.Response) *graph.Response
}

// ExtensionData provides data to be added to the response extensions
type ExtensionData interface {
	Extension
	// ExtensionData returns data to add to response.extensions
	ExtensionData(ctx context.Context) map[string]interface{}
}

func errorResponse(message, code string) *graph.Response {
	return &graph.Response{Errors: []*graph.Error{{
		Message:    message,
		Extensions: map[string]interface{}{"code": code},
	}}}
}

// errorCode reads extensions.code of a GraphQL error
func errorCode(err *graph.Error) string {
	if code, ok := err.Extensions["code"].(string); ok {
		return code
	}
	return ""
}

// Tracing reports operation timing under extensions.tracing
type Tracing struct {
	version int
}

// NewTracing creates a new tracing extension
func NewTracing() *Tracing {
	return &Tracing{version: 1}
}

// ExtensionName returns the extension name
func (t *Tracing) ExtensionName() string {
	return "tracing"
}

// InterceptOperation records start and end of the operation
func (t *Tracing) InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response {
	start := time.Now()
	resp := next(ctx, params)

	if rc := graph.GetRequestContext(ctx); rc != nil {
		rc.Set("tracing:start", start)
		rc.Set("tracing:end", time.Now())
	}
	return resp
}

// ExtensionData returns tracing data
func (t *Tracing) ExtensionData(ctx context.Context) map[string]interface{} {
	rc := graph.GetRequestContext(ctx)
	if rc == nil {
		return nil
	}

	startVal, ok := rc.Get("tracing:start")
	if !ok {
		return nil
	}
	endVal, _ := rc.Get("tracing:end")
	start, _ := startVal.(time.Time)
	end, _ := endVal.(time.Time)

	return map[string]interface{}{
		"tracing": map[string]interface{}{
			"version":   t.version,
			"startTime": start.UTC().Format(time.RFC3339Nano),
			"endTime":   end.UTC().Format(time.RFC3339Nano),
			"duration":  end.Sub(start).Nanoseconds(),
		},
	}
}

// IntrospectionDisabler rejects operations that select __schema or __type
type IntrospectionDisabler struct{}

// NewIntrospectionDisabler creates a new introspection disabler
func NewIntrospectionDisabler() *IntrospectionDisabler {
	return &IntrospectionDisabler{}
}

// ExtensionName returns the extension name
func (i *IntrospectionDisabler) ExtensionName() string {
	return "introspectionDisabler"
}

// InterceptOperation blocks introspection queries
func (i *IntrospectionDisabler) InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response {
	if containsIntrospection(params.Query) {
		return errorResponse("introspection is disabled", "INTROSPECTION_DISABLED")
	}
	return next(ctx, params)
}

// containsIntrospection walks every operation and fragment of query
func containsIntrospection(query string) bool {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return false
	}

	var walk func(set ast.SelectionSet) bool
	walk = func(set ast.SelectionSet) bool {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if s.Name == "__schema" || s.Name == "__type" || walk(s.SelectionSet) {
					return true
				}
			case *ast.InlineFragment:
				if walk(s.SelectionSet) {
					return true
				}
			}
		}
		return false
	}

	for _, op := range doc.Operations {
		if walk(op.SelectionSet) {
			return true
		}
	}
	for _, frag := range doc.Fragments {
		if walk(frag.SelectionSet) {
			return true
		}
	}
	return false
}

// visitor is one rate limit bucket and when it was last used
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per caller. Authenticated callers are
// keyed by user id, anonymous ones by remote IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows requestsPerSecond with the given burst per caller
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     3 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// ExtensionName returns the extension name
func (r *RateLimiter) ExtensionName() string {
	return "rateLimiter"
}

// InterceptOperation applies rate limiting
func (r *RateLimiter) InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response {
	if !r.limiter(callerKey(ctx)).AllowN(r.now(), 1) {
		return errorResponse("rate limit exceeded", "RATE_LIMITED")
	}
	return next(ctx, params)
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) > r.idle {
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) > r.idle {
				delete(r.visitors, k)
			}
		}
		r.lastSweep = now
	}

	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func callerKey(ctx context.Context) string {
	caller := graph.CallerFrom(ctx)
	if id, ok := auth.UserID(caller); ok {
		return fmt.Sprintf("user:%v", id)
	}
	if caller.Request != nil {
		ip, _, err := net.SplitHostPort(caller.Request.RemoteAddr)
		if err != nil {
			ip = caller.Request.RemoteAddr
		}
		return "ip:" + ip
	}
	return "anonymous"
}

// Logging logs every operation and each error it produced
type Logging struct {
	logger *zap.Logger
}

// NewLogging creates a logging extension
func NewLogging(l *zap.Logger) *Logging {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logging{logger: l}
}

// ExtensionName returns the extension name
func (l *Logging) ExtensionName() string {
	return "logging"
}

// InterceptOperation logs the completed operation
func (l *Logging) InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response {
	start := time.Now()
	resp := next(ctx, params)

	log := logger.Scoped(ctx, l.logger)
	for _, err := range resp.Errors {
		log.Warn("graphql error",
			zap.String("message", err.Message),
			zap.Any("path", err.Path),
			zap.String("code", errorCode(err)),
		)
	}
	log.Info("graphql operation",
		zap.String("operation", params.OperationName),
		zap.String("type", operationType(ctx)),
		zap.Int("errors", len(resp.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
	return resp
}

// Metrics records Prometheus metrics per operation
type Metrics struct {
	metrics *metrics.Metrics
}

// NewMetrics creates a metrics extension
func NewMetrics(m *metrics.Metrics) *Metrics {
	return &Metrics{metrics: m}
}

// ExtensionName returns the extension name
func (m *Metrics) ExtensionName() string {
	return "metrics"
}

// InterceptOperation times the operation and counts its errors
func (m *Metrics) InterceptOperation(ctx context.Context, params *RequestParams, next OperationHandler) *graph.Response {
	start := time.Now()
	resp := next(ctx, params)

	m.metrics.RecordRequest(operationType(ctx), resp.HasErrors(), time.Since(start))
	for _, err := range resp.Errors {
		code := errorCode(err)
		if code == "RATE_LIMITED" {
			m.metrics.RateLimited.Inc()
		}
		m.metrics.RecordError(code)
	}
	return resp
}

// operationType is the executed operation's type, once the executor chose one
func operationType(ctx context.Context) string {
	if rc := graph.GetRequestContext(ctx); rc != nil && rc.Operation != nil {
		return rc.Operation.OperationType
	}
	return ""
}
