package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"go.uber.org/zap"

	"github.com/eddieafk/ormql/graph"
)

// Server is the main GraphQL HTTP server
type Server struct {
	mu sync.RWMutex

	executableSchema *graph.ExecutableSchema
	transports       []Transport
	extensions       []Extension
	errorPresenter   ErrorPresenterFunc
	recoverFunc      RecoverFunc
	logger           *zap.Logger

	requestTimeout   time.Duration
	enablePlayground bool
	playgroundTitle  string
	endpoint         string
	playground       http.Handler
}

// Config holds server configuration
type Config struct {
	EnablePlayground bool
	PlaygroundTitle  string
	// Endpoint is the path the playground sends queries to
	Endpoint       string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		EnablePlayground: true,
		PlaygroundTitle:  "ormql",
		Endpoint:         "/graphql",
		RequestTimeout:   30 * time.Second,
	}
}

// New creates a server with the POST, GET and OPTIONS transports
func New(es *graph.ExecutableSchema) *Server {
	return NewWithConfig(es, DefaultConfig())
}

// NewWithConfig creates a server with custom configuration
func NewWithConfig(es *graph.ExecutableSchema, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/graphql"
	}

	s := &Server{
		executableSchema: es,
		transports:       []Transport{NewPOST(), NewGET(), NewOPTIONS()},
		errorPresenter:   DefaultErrorPresenter,
		recoverFunc:      DefaultRecoverFunc,
		logger:           logger,
		requestTimeout:   cfg.RequestTimeout,
		enablePlayground: cfg.EnablePlayground,
		playgroundTitle:  cfg.PlaygroundTitle,
		endpoint:         cfg.Endpoint,
	}
	if s.enablePlayground {
		s.playground = playground.Handler(cfg.PlaygroundTitle, cfg.Endpoint)
	}
	return s
}

// Use adds an extension to the server. The first extension added is the
// outermost operation interceptor.
func (s *Server) Use(extension Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions = append(s.extensions, extension)
}

// AddTransport adds a transport ahead of the default ones
func (s *Server) AddTransport(transport Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports = append([]Transport{transport}, s.transports...)
}

// SetErrorPresenter sets a custom error presenter
func (s *Server) SetErrorPresenter(f ErrorPresenterFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorPresenter = f
}

// SetRecoverFunc sets a custom recovery function
func (s *Server) SetRecoverFunc(f RecoverFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoverFunc = f
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// A GET without a query is a browser asking for the UI
	if s.playground != nil && r.Method == http.MethodGet && r.URL.Query().Get("query") == "" {
		s.playground.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	s.mu.RLock()
	transports := s.transports
	s.mu.RUnlock()

	for _, transport := range transports {
		if transport.Supports(r) {
			s.handleRequest(ctx, w, r, transport)
			return
		}
	}

	s.writeError(w, http.StatusBadRequest, errors.New("unsupported transport"))
}

// handleRequest handles a GraphQL request with the given transport
func (s *Server) handleRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, transport Transport) {
	defer func() {
		if rec := recover(); rec != nil {
			s.mu.RLock()
			recoverFunc := s.recoverFunc
			s.mu.RUnlock()

			s.logger.Error("panic while executing operation", zap.Any("panic", rec), zap.Stack("stack"))
			s.writeInternalError(w, recoverFunc(ctx, rec))
		}
	}()

	params, err := transport.ParseRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if params == nil {
		transport.WriteResponse(w, nil)
		return
	}
	if s.executableSchema == nil {
		s.writeInternalError(w, errors.New("no schema is mounted"))
		return
	}

	s.mu.RLock()
	extensions := s.extensions
	s.mu.RUnlock()

	rc := graph.GetRequestContext(ctx)
	if rc == nil {
		rc = graph.NewRequestContext()
		ctx = graph.WithRequestContext(ctx, rc)
	}
	rc.Query = params.Query
	rc.OperationName = params.OperationName
	rc.Variables = params.Variables

	response := chain(extensions, s.executeOperation)(ctx, params)

	for _, ext := range extensions {
		if hook, ok := ext.(ResponseInterceptor); ok {
			response = hook.InterceptResponse(ctx, response)
		}
	}

	for _, ext := range extensions {
		if hook, ok := ext.(ExtensionData); ok {
			for k, v := range hook.ExtensionData(ctx) {
				if response.Extensions == nil {
					response.Extensions = make(map[string]interface{})
				}
				response.Extensions[k] = v
			}
		}
	}

	transport.WriteResponse(w, response)
}

// OperationHandler runs one parsed request
type OperationHandler func(ctx context.Context, params *RequestParams) *graph.Response

// chain wraps final with every OperationInterceptor in registration order
func chain(extensions []Extension, final OperationHandler) OperationHandler {
	next := final
	for i := len(extensions) - 1; i >= 0; i-- {
		hook, ok := extensions[i].(OperationInterceptor)
		if !ok {
			continue
		}
		inner := next
		next = func(ctx context.Context, params *RequestParams) *graph.Response {
			return hook.InterceptOperation(ctx, params, inner)
		}
	}
	return next
}

// executeOperation executes a GraphQL operation
func (s *Server) executeOperation(ctx context.Context, params *RequestParams) *graph.Response {
	return s.executableSchema.Execute(ctx, graph.ExecuteParams{
		Query:         params.Query,
		OperationName: params.OperationName,
		Variables:     params.Variables,
	})
}

// writeError writes a request-level error response
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.mu.RLock()
	presenter := s.errorPresenter
	s.mu.RUnlock()

	writeJSON(w, status, &graph.Response{Errors: []*graph.Error{presenter(context.Background(), err)}})
}

// writeInternalError reports an engine failure with a 500
func (s *Server) writeInternalError(w http.ResponseWriter, err error) {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, &graph.Response{Errors: []*graph.Error{{
		Message:    "internal server error",
		Extensions: map[string]interface{}{"code": "INTERNAL", "detail": detail},
	}}})
}

func writeJSON(w http.ResponseWriter, status int, response *graph.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// RequestParams contains parsed request parameters
type RequestParams struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
	Extensions    map[string]interface{} `json:"extensions"`
}

// ErrorPresenterFunc formats errors for response
type ErrorPresenterFunc func(ctx context.Context, err error) *graph.Error

// DefaultErrorPresenter is the default error presenter
func DefaultErrorPresenter(ctx context.Context, err error) *graph.Error {
	return graph.WrapError(err, nil)
}

// RecoverFunc turns a recovered panic value into an error
type RecoverFunc func(ctx context.Context, err interface{}) error

// DefaultRecoverFunc is the default recover function
func DefaultRecoverFunc(ctx context.Context, err interface{}) error {
	if e, ok := err.(error); ok {
		return e
	}
	return fmt.Errorf("panic: %v", err)
}

// GetSchema returns the executable schema
func (s *Server) GetSchema() *graph.ExecutableSchema {
	return s.executableSchema
}

// RegisterResolver registers a resolver for a type and field
func (s *Server) RegisterResolver(typeName, fieldName string, resolver graph.ResolverFunc) *Server {
	s.executableSchema.RegisterResolver(typeName, fieldName, resolver)
	return s
}
