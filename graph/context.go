package graph

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Context keys
type contextKey string

const (
	operationCtxKey contextKey = "ormql:operation"
	resolveInfoKey  contextKey = "ormql:resolveinfo"
	requestCtxKey   contextKey = "ormql:request"
	callerKey       contextKey = "ormql:caller"
)

// RequestContext holds request-scoped data
type RequestContext struct {
	mu sync.RWMutex

	// Request identification
	RequestID string
	StartTime time.Time

	// GraphQL operation
	Query         string
	OperationName string
	Variables     map[string]interface{}

	// Parsed operation
	Operation *OperationContext

	// Response data
	Data   interface{}
	Errors []*Error

	// Extensions data
	Extensions map[string]interface{}

	// Custom data storage
	values map[string]interface{}
}

// Error represents a GraphQL error
type Error struct {
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`

	err error
}

// Location represents a location in a GraphQL document
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the resolver error this error was built from, if any
func (e *Error) Unwrap() error {
	return e.err
}

// ExtendedError is implemented by errors that carry GraphQL error extensions
type ExtendedError interface {
	error
	Extensions() map[string]interface{}
}

// WrapError converts any error into a GraphQL error at path. Extensions of an
// ExtendedError anywhere in the chain are copied.
func WrapError(err error, path []interface{}) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		if gerr.Path == nil && path != nil {
			cp := *gerr
			cp.Path = path
			return &cp
		}
		return gerr
	}

	var qerr *gqlerror.Error
	if errors.As(err, &qerr) {
		out := &Error{Message: qerr.Message, Path: path, Extensions: qerr.Extensions, err: err}
		for _, loc := range qerr.Locations {
			out.Locations = append(out.Locations, Location{Line: loc.Line, Column: loc.Column})
		}
		return out
	}

	out := &Error{Message: err.Error(), Path: path, err: err}
	var ext ExtendedError
	if errors.As(err, &ext) {
		out.Extensions = ext.Extensions()
	}
	return out
}

// Caller identifies who issued the request
type Caller struct {
	User     interface{}
	Request  *http.Request
	Response http.ResponseWriter
}

// WithCaller adds the caller to a context
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored in ctx, or an empty caller
func CallerFrom(ctx context.Context) *Caller {
	if c, ok := ctx.Value(callerKey).(*Caller); ok && c != nil {
		return c
	}
	return &Caller{}
}

// NewRequestContext creates a new request context
func NewRequestContext() *RequestContext {
	return &RequestContext{
		StartTime:  time.Now(),
		Variables:  make(map[string]interface{}),
		Errors:     make([]*Error, 0),
		Extensions: make(map[string]interface{}),
		values:     make(map[string]interface{}),
	}
}

// WithRequestContext adds request context to a context
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, rc)
}

// GetRequestContext retrieves request context from a context
func GetRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestCtxKey).(*RequestContext); ok {
		return rc
	}
	return nil
}

// WithOperationContext adds operation context to a context
func WithOperationContext(ctx context.Context, oc *OperationContext) context.Context {
	return context.WithValue(ctx, operationCtxKey, oc)
}

// GetOperationContext retrieves operation context from a context
func GetOperationContext(ctx context.Context) *OperationContext {
	if oc, ok := ctx.Value(operationCtxKey).(*OperationContext); ok {
		return oc
	}
	return nil
}

// WithResolveInfo adds resolve info to a context
func WithResolveInfo(ctx context.Context, info *ResolveInfo) context.Context {
	return context.WithValue(ctx, resolveInfoKey, info)
}

// GetResolveInfo retrieves resolve info from a context
func GetResolveInfo(ctx context.Context) *ResolveInfo {
	if info, ok := ctx.Value(resolveInfoKey).(*ResolveInfo); ok {
		return info
	}
	return nil
}

// Set stores a value in the request context
func (rc *RequestContext) Set(key string, value interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Get retrieves a value from the request context
func (rc *RequestContext) Get(key string) (interface{}, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// AddError adds an error to the request context
func (rc *RequestContext) AddError(err *Error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.Errors = append(rc.Errors, err)
}

// HasErrors returns true if there are errors
func (rc *RequestContext) HasErrors() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.Errors) > 0
}

// Duration returns the elapsed time since request start
func (rc *RequestContext) Duration() time.Duration {
	return time.Since(rc.StartTime)
}

// Response represents a GraphQL response
type Response struct {
	Data       interface{}            `json:"data,omitempty"`
	Errors     []*Error               `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// HasErrors returns true if response has errors
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// NewResponse creates a new response from request context
func NewResponse(rc *RequestContext) *Response {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	resp := &Response{
		Errors: rc.Errors,
	}
	// A nil *Object must not become a non-nil interface
	if obj, ok := rc.Data.(*Object); !ok || obj != nil {
		resp.Data = rc.Data
	}

	if len(rc.Extensions) > 0 {
		resp.Extensions = rc.Extensions
	}

	return resp
}
