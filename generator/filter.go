package generator

import "strings"

// Filter applies the whitelist and blacklist at generation time. Models it
// rejects stay in the registry.
type Filter struct {
	whitelist map[string]struct{}
	blacklist map[string]struct{}
}

// NewFilter builds a filter. Blacklist entries are "Model.field", "field" or
// "Model".
func NewFilter(whitelist, blacklist []string) Filter {
	f := Filter{
		whitelist: make(map[string]struct{}, len(whitelist)),
		blacklist: make(map[string]struct{}, len(blacklist)),
	}
	for _, w := range whitelist {
		if w = strings.TrimSpace(w); w != "" {
			f.whitelist[w] = struct{}{}
		}
	}
	for _, b := range blacklist {
		if b = strings.TrimSpace(b); b != "" {
			f.blacklist[b] = struct{}{}
		}
	}
	return f
}

// ModelAllowed reports whether a model passes the whitelist. An empty
// whitelist allows every model.
func (f Filter) ModelAllowed(name string) bool {
	if len(f.whitelist) == 0 {
		return true
	}
	_, ok := f.whitelist[name]
	return ok
}

// ModelBlacklisted reports a bare "Model" blacklist entry
func (f Filter) ModelBlacklisted(name string) bool {
	_, ok := f.blacklist[name]
	return ok
}

// FieldAllowed checks the three blacklist forms independently
func (f Filter) FieldAllowed(modelName, field string) bool {
	if f.ModelBlacklisted(modelName) {
		return false
	}
	if _, ok := f.blacklist[field]; ok {
		return false
	}
	_, ok := f.blacklist[modelName+"."+field]
	return !ok
}
