// Package model holds the data types shared across the resolver, the
// registry source, and the lockfile manager: PackageId, SourceId,
// Dependency, Summary, and Resolve.
package model

import (
	"fmt"
	"sort"

	"github.com/corgo-rs/corgo/internal/semverx"
)

// SourceKind tags the origin of a SourceId.
type SourceKind uint8

const (
	SourceRegistry SourceKind = iota
	SourcePath
	SourceGit
)

// SourceId identifies a package's origin. Equality is structural; String()
// is the canonical form persisted in the lockfile.
type SourceId struct {
	Kind SourceKind
	// URL is the registry URL for SourceRegistry, the directory for
	// SourcePath, and the remote URL for SourceGit.
	URL string
	// Ref is the git ref (branch, tag, or revision) for SourceGit. Empty
	// otherwise.
	Ref string
}

func (s SourceId) String() string {
	switch s.Kind {
	case SourceRegistry:
		return fmt.Sprintf("registry+%s", s.URL)
	case SourcePath:
		return fmt.Sprintf("path+%s", s.URL)
	case SourceGit:
		if s.Ref != "" {
			return fmt.Sprintf("git+%s?ref=%s", s.URL, s.Ref)
		}
		return fmt.Sprintf("git+%s", s.URL)
	default:
		return "unknown+" + s.URL
	}
}

// PackageId is the tuple (name, version, source) that globally identifies a
// package instance. Two packages with the same name/version from different
// sources are distinct.
type PackageId struct {
	Name    string
	Version semverx.Version
	Source  SourceId
}

func (p PackageId) String() string {
	return fmt.Sprintf("%s v%s (%s)", p.Name, p.Version, p.Source)
}

// Eq reports structural equality.
func (p PackageId) Eq(o PackageId) bool {
	return p.Name == o.Name && p.Version.String() == o.Version.String() && p.Source == o.Source
}

// DependencyKind distinguishes normal, build, and dev dependencies.
// Dev-dependencies participate in resolution only for the root package.
type DependencyKind uint8

const (
	KindNormal DependencyKind = iota
	KindBuild
	KindDev
)

// Dependency is one edge a package declares toward another by name,
// requirement, source, and kind.
type Dependency struct {
	Name     string
	Req      semverx.VersionReq
	Source   SourceId
	Kind     DependencyKind
	Optional bool
	Features []string
}

// Summary is a lightweight package description carrying no source tree: its
// identity, declared dependencies, and (for registry sources) checksum.
type Summary struct {
	ID       PackageId
	Deps     []Dependency
	Checksum string // hex sha-256, registry sources only
	Yanked   bool
}

// Name returns the summary's package name, a convenience for error messages
// that need "required by <name>" without unpacking ID.
func (s Summary) Name() string { return s.ID.Name }

// Resolve is the output of resolution: the set of chosen packages plus, for
// each, a mapping from each declared dependency name to the PackageId that
// satisfies it.
type Resolve struct {
	Root  PackageId
	Nodes map[PackageId]Summary
	// Edges maps a package to its resolved dependency name -> PackageId.
	Edges map[PackageId]map[string]PackageId
}

// NewResolve creates an empty Resolve rooted at root.
func NewResolve(root PackageId) *Resolve {
	return &Resolve{
		Root:  root,
		Nodes: make(map[PackageId]Summary),
		Edges: make(map[PackageId]map[string]PackageId),
	}
}

// Add inserts a node (idempotently) into the resolution.
func (r *Resolve) Add(s Summary) {
	if _, ok := r.Nodes[s.ID]; !ok {
		r.Nodes[s.ID] = s
		r.Edges[s.ID] = make(map[string]PackageId)
	}
}

// SetEdge records that, from pkg's perspective, the dependency named name
// resolved to dep.
func (r *Resolve) SetEdge(pkg PackageId, name string, dep PackageId) {
	if r.Edges[pkg] == nil {
		r.Edges[pkg] = make(map[string]PackageId)
	}
	r.Edges[pkg][name] = dep
}

// Packages returns all resolved packages sorted by (name, version, source),
// the deterministic order the lockfile manager requires for serialization.
func (r *Resolve) Packages() []PackageId {
	out := make([]PackageId, 0, len(r.Nodes))
	for id := range r.Nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return lessPackageId(out[i], out[j]) })
	return out
}

func lessPackageId(a, b PackageId) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if c := a.Version.Compare(b.Version); c != 0 {
		return c < 0
	}
	return a.Source.String() < b.Source.String()
}

// Prune drops any node (and its edges) not reachable from Root, restoring
// minimality after a resolver's backtracking leaves behind nodes that were
// tentatively added then abandoned in favor of a sibling candidate.
func (r *Resolve) Prune() {
	reached := map[PackageId]bool{r.Root: true}
	queue := []PackageId{r.Root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range r.Edges[cur] {
			if !reached[dep] {
				reached[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	for id := range r.Nodes {
		if !reached[id] {
			delete(r.Nodes, id)
			delete(r.Edges, id)
		}
	}
}

// Minimal reports whether every node is reachable from Root. It is used
// defensively in tests; the resolver's output never holds unreachable
// nodes, since Resolve prunes them before returning.
func (r *Resolve) Minimal() bool {
	reached := map[PackageId]bool{r.Root: true}
	queue := []PackageId{r.Root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range r.Edges[cur] {
			if !reached[dep] {
				reached[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return len(reached) == len(r.Nodes)
}
