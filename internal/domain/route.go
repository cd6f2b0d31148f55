package domain

import "strings"

// Route maps an HTTP method and path pattern (with "{name}" placeholders)
// to a target function name. The catch-all surface matches routes in table
// order; the first match wins.
type Route struct {
	Method   string `yaml:"method" json:"method"`
	Path     string `yaml:"path" json:"path"`
	Function string `yaml:"function" json:"function"`
}

// Match attempts to match method+path against this route's pattern. It
// returns the extracted path parameters and whether the route matched.
// "*" as Method matches any HTTP method.
func (r Route) Match(method, path string) (params map[string]string, ok bool) {
	if r.Method != "*" && !strings.EqualFold(r.Method, method) {
		return nil, false
	}

	patternSegs := splitPath(r.Path)
	pathSegs := splitPath(path)
	if len(patternSegs) != len(pathSegs) {
		return nil, false
	}

	params = make(map[string]string)
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			params[name] = pathSegs[i]
			continue
		}
		if seg != pathSegs[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Table is an ordered list of Routes, matched in order with first-match-wins
// semantics, as required by the route-table contract.
type Table struct {
	routes []Route
}

// NewTable builds a route Table, preserving input order.
func NewTable(routes []Route) *Table {
	return &Table{routes: routes}
}

// MatchResult is the outcome of a successful route match.
type MatchResult struct {
	Function string
	Params   map[string]string
	// CanonicalPath is the route pattern itself, used as API Gateway's
	// "resource" field in the event delivered to the RIE.
	CanonicalPath string
}

// Match returns the first route in table order that matches method+path.
func (t *Table) Match(method, path string) (MatchResult, bool) {
	for _, route := range t.routes {
		params, ok := route.Match(method, path)
		if !ok {
			continue
		}
		return MatchResult{Function: route.Function, Params: params, CanonicalPath: route.Path}, true
	}
	return MatchResult{}, false
}
