package resolve

import "fmt"

// ResolveError reports that no candidate satisfies a constraint, e.g.
// "no package named `nonexistent` found (required by `foo`)\nlocation
// searched: the package registry\nversion required: >= 0.0.0".
type ResolveError struct {
	Name       string
	RequiredBy string
	Location   string
	Req        string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("no package named `%s` found (required by `%s`)\nlocation searched: %s\nversion required: %s",
		e.Name, e.RequiredBy, e.Location, e.Req)
}

// CycleError reports a dependency cycle detected during DFS recursion. The
// resolution graph is a DAG by construction; cycle detection during
// recursion aborts with this error rather than recursing forever.
type CycleError struct {
	Name string
	Via  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s depends (transitively) on itself via %s", e.Name, e.Via)
}

// ConflictError reports a dependency name already committed to a version
// that doesn't satisfy a later requirement on it.
type ConflictError struct {
	Name       string
	Committed  string
	Req        string
	RequiredBy string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on `%s`: already resolved to %s, which does not satisfy %s required by `%s`",
		e.Name, e.Committed, e.Req, e.RequiredBy)
}
