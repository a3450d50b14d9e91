package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/eddieafk/ormql/graph"
)

// Transport defines how GraphQL requests are received and responses are sent
type Transport interface {
	// Supports returns true if this transport can handle the request
	Supports(r *http.Request) bool

	// ParseRequest parses the HTTP request into GraphQL parameters. nil params
	// with a nil error means there is nothing to execute.
	ParseRequest(r *http.Request) (*RequestParams, error)

	// WriteResponse writes the GraphQL response
	WriteResponse(w http.ResponseWriter, response *graph.Response)
}

// ErrMutationOverGET is returned for a GET request selecting a mutation
var ErrMutationOverGET = errors.New("mutations are not allowed over GET")

// POST transport handles POST requests with a JSON or application/graphql body
type POST struct {
	// MaxBodySize limits the request body size (default: 1MB)
	MaxBodySize int64
}

// NewPOST creates a new POST transport
func NewPOST() *POST {
	return &POST{
		MaxBodySize: 1024 * 1024,
	}
}

// Supports returns true for POST requests with JSON content type
func (t *POST) Supports(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return true // Assume JSON
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	return mediaType == "application/json" || mediaType == "application/graphql"
}

// ParseRequest parses a POST request
func (t *POST) ParseRequest(r *http.Request) (*RequestParams, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	body := r.Body
	if t.MaxBodySize > 0 {
		body = http.MaxBytesReader(nil, body, t.MaxBodySize)
	}

	if mediaType == "application/graphql" {
		queryBytes, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return &RequestParams{Query: string(queryBytes)}, nil
	}

	var params RequestParams
	if err := json.NewDecoder(body).Decode(&params); err != nil {
		return nil, errors.New("request body is not a valid GraphQL JSON request")
	}
	if params.Query == "" {
		return nil, errors.New("query is required")
	}
	return &params, nil
}

// WriteResponse writes a JSON response
func (t *POST) WriteResponse(w http.ResponseWriter, response *graph.Response) {
	writeJSON(w, http.StatusOK, response)
}

// GET transport handles GET requests with query parameters
type GET struct {
	// MaxQueryLength limits the query string length
	MaxQueryLength int
}

// NewGET creates a new GET transport
func NewGET() *GET {
	return &GET{
		MaxQueryLength: 2048,
	}
}

// Supports returns true for GET requests carrying a query
func (t *GET) Supports(r *http.Request) bool {
	return r.Method == http.MethodGet && r.URL.Query().Get("query") != ""
}

// ParseRequest parses a GET request. Only queries may be sent this way.
func (t *GET) ParseRequest(r *http.Request) (*RequestParams, error) {
	query := r.URL.Query()

	params := &RequestParams{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}
	if t.MaxQueryLength > 0 && len(params.Query) > t.MaxQueryLength {
		return nil, errors.New("query is too long")
	}

	if varsStr := query.Get("variables"); varsStr != "" {
		if err := json.Unmarshal([]byte(varsStr), &params.Variables); err != nil {
			return nil, errors.New("variables are not valid JSON")
		}
	}

	if extStr := query.Get("extensions"); extStr != "" {
		if err := json.Unmarshal([]byte(extStr), &params.Extensions); err != nil {
			return nil, errors.New("extensions are not valid JSON")
		}
	}

	if isMutation(params.Query, params.OperationName) {
		return nil, ErrMutationOverGET
	}
	return params, nil
}

// WriteResponse writes a JSON response
func (t *GET) WriteResponse(w http.ResponseWriter, response *graph.Response) {
	writeJSON(w, http.StatusOK, response)
}

// isMutation reports whether the operation a request selects is a mutation.
// Unparsable documents are left for the executor to report.
func isMutation(query, operationName string) bool {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return false
	}
	for _, op := range doc.Operations {
		if operationName == "" || op.Name == operationName {
			if op.Operation == ast.Mutation {
				return true
			}
		}
	}
	return false
}

// OPTIONS transport answers CORS preflight requests
type OPTIONS struct {
	AllowOrigin string
}

// NewOPTIONS creates a new OPTIONS transport
func NewOPTIONS() *OPTIONS {
	return &OPTIONS{AllowOrigin: "*"}
}

// Supports returns true for OPTIONS requests
func (t *OPTIONS) Supports(r *http.Request) bool {
	return r.Method == http.MethodOptions
}

// ParseRequest returns nil params; preflight executes nothing
func (t *OPTIONS) ParseRequest(r *http.Request) (*RequestParams, error) {
	return nil, nil
}

// WriteResponse writes CORS headers
func (t *OPTIONS) WriteResponse(w http.ResponseWriter, response *graph.Response) {
	w.Header().Set("Allow", "OPTIONS, GET, POST")
	w.Header().Set("Access-Control-Allow-Origin", t.AllowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET, POST")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.WriteHeader(http.StatusNoContent)
}
