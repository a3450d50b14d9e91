package stringifiers

import (
	"github.com/eddieafk/ormql/sql/dialect"
)

// Args collects positional parameters for a parameterized statement
type Args struct {
	dialect dialect.Dialect
	params  []interface{}
}

// NewArgs creates an empty parameter collector
func NewArgs(d dialect.Dialect) *Args {
	return &Args{dialect: d}
}

// Add appends a parameter and returns its placeholder
func (a *Args) Add(v interface{}) string {
	a.params = append(a.params, v)
	return a.dialect.Placeholder(len(a.params))
}

// Params returns the collected parameters
func (a *Args) Params() []interface{} {
	return a.params
}
