// Package auth decides whether a caller may run a generated operation and
// which extra conditions the ORM query must carry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/model"
)

// Operation names the kind of access a resolver is about to perform
type Operation string

const (
	OpQuery  Operation = "query"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ErrAccessDenied is matched by every authorization failure
var ErrAccessDenied = errors.New("access denied")

// Result is what a Hook decides. Where is merged over the resolver's own
// conditions; on a key collision the hook's value wins. A non-empty
// AllowedOperations list must contain the current operation.
type Result struct {
	Allowed           bool
	Where             model.Conditions
	AllowedOperations []Operation
}

// Allow is a Result granting access without extra conditions
func Allow() Result {
	return Result{Allowed: true}
}

// Deny is a Result refusing access
func Deny() Result {
	return Result{}
}

// Hook authorizes an operation on a model
type Hook func(ctx context.Context, caller *graph.Caller, where model.Conditions, op Operation) (Result, error)

// Legacy adapts a plain allow/deny function to a Hook
func Legacy(fn func(ctx context.Context, caller *graph.Caller, where model.Conditions, op Operation) (bool, error)) Hook {
	return func(ctx context.Context, caller *graph.Caller, where model.Conditions, op Operation) (Result, error) {
		ok, err := fn(ctx, caller, where, op)
		if err != nil {
			return Result{}, err
		}
		return Result{Allowed: ok}, nil
	}
}

// Owner denies anonymous callers and restricts every operation to rows whose
// field equals the caller's user id
func Owner(field string) Hook {
	return func(ctx context.Context, caller *graph.Caller, where model.Conditions, op Operation) (Result, error) {
		id, ok := UserID(caller)
		if !ok {
			return Deny(), nil
		}
		return Result{Allowed: true, Where: model.Conditions{field: id}}, nil
	}
}

// Authenticated allows any caller with a user id and adds no conditions
func Authenticated() Hook {
	return func(ctx context.Context, caller *graph.Caller, where model.Conditions, op Operation) (Result, error) {
		if _, ok := UserID(caller); !ok {
			return Deny(), nil
		}
		return Allow(), nil
	}
}

// AccessDeniedError reports a refused operation
type AccessDeniedError struct {
	Model  string
	Op     Operation
	Reason string
}

func (e *AccessDeniedError) Error() string {
	msg := fmt.Sprintf("access denied: %s on %s", e.Op, e.Model)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrAccessDenied) hold
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// Extensions tags the GraphQL error
func (e *AccessDeniedError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": "FORBIDDEN"}
}

// Authorize runs hook for modelName and returns the conditions the ORM call
// must use. A nil hook denies.
func Authorize(ctx context.Context, modelName string, hook Hook, where model.Conditions, op Operation) (model.Conditions, error) {
	if hook == nil {
		return nil, &AccessDeniedError{Model: modelName, Op: op, Reason: "no authorization handler"}
	}

	res, err := hook(ctx, graph.CallerFrom(ctx), where, op)
	if err != nil {
		return nil, fmt.Errorf("authorize %s on %s: %w", op, modelName, err)
	}
	if !res.Allowed {
		return nil, &AccessDeniedError{Model: modelName, Op: op}
	}
	if len(res.AllowedOperations) > 0 && !slices.Contains(res.AllowedOperations, op) {
		return nil, &AccessDeniedError{Model: modelName, Op: op, Reason: "operation not allowed"}
	}

	return model.MergeConditions(where, res.Where), nil
}

// Identifier is implemented by user values that know their id
type Identifier interface {
	UserID() interface{}
}

// UserID extracts the caller's user id from the common user shapes: JWT
// claims (sub, user_id or id), an Identifier, or a bare string or integer.
func UserID(caller *graph.Caller) (interface{}, bool) {
	if caller == nil || caller.User == nil {
		return nil, false
	}

	switch u := caller.User.(type) {
	case Identifier:
		id := u.UserID()
		return id, id != nil
	case jwt.MapClaims:
		return claimID(u)
	case map[string]interface{}:
		return claimID(u)
	case string:
		return u, u != ""
	case int, int64, uint, uint64:
		return u, true
	}
	return nil, false
}

func claimID(claims map[string]interface{}) (interface{}, bool) {
	for _, key := range []string{"sub", "user_id", "id"} {
		if v, ok := claims[key]; ok && v != nil && v != "" {
			// JSON numbers decode as float64
			if f, ok := v.(float64); ok && f == float64(int64(f)) {
				return int64(f), true
			}
			return v, true
		}
	}
	return nil, false
}
