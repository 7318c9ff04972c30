// Package lockfile reads a persisted Resolve, exposes a bias function the
// resolver uses to prefer previously-chosen versions, serializes a new
// Resolve deterministically, and supports scoped forced updates.
//
// Grounded on golang-dep's lock.go (rawLock/lockedDep decoded into
// gps.LockedProject, SortedLockedProjects for deterministic output,
// locksAreEquivalent for change detection) and gps/verify/lock.go
// (LockSatisfiesInputs, the staleness-check shape) — adapted from dep's
// JSON encoding and VCS revisions to TOML and registry checksums.
package lockfile

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/semverx"
)

// FileName is the lockfile's canonical name.
const FileName = "corgo.lock"

type rawLock struct {
	Package  []rawPackage      `toml:"package"`
	Metadata map[string]string `toml:"metadata,omitempty"`
}

type rawPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

// Lock is the in-memory, parsed lockfile: one entry per resolved package,
// keyed by (name, source).
type Lock struct {
	entries map[key]entry
	// reresolving marks names whose lock entry must NOT bias the resolver
	// this run — set by ForceUpdate.
	reresolving map[string]bool
}

type key struct {
	name, source string
}

type entry struct {
	id       model.PackageId
	deps     []model.PackageId
	checksum string
}

// Load reads path, returning an empty (non-nil) Lock if the file does not
// exist, so a first build has something consistent to bias against (i.e.
// nothing).
func Load(path string) (*Lock, error) {
	l := &Lock{entries: make(map[key]entry), reresolving: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read lockfile %s: %w", path, err)
	}

	var raw rawLock
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse lockfile %s: %w", path, err)
	}

	// First pass: build PackageIds so dependency strings can be resolved to
	// real identities in the second pass.
	ids := make(map[string]model.PackageId, len(raw.Package))
	for _, rp := range raw.Package {
		id, err := toPackageId(rp.Name, rp.Version, rp.Source)
		if err != nil {
			return nil, err
		}
		ids[depString(rp.Name, rp.Version, rp.Source)] = id
	}

	for _, rp := range raw.Package {
		id := ids[depString(rp.Name, rp.Version, rp.Source)]
		deps := make([]model.PackageId, 0, len(rp.Dependencies))
		for _, ds := range rp.Dependencies {
			dep, ok := ids[ds]
			if !ok {
				return nil, fmt.Errorf("lockfile entry %s references unknown dependency %q", rp.Name, ds)
			}
			deps = append(deps, dep)
		}
		l.entries[key{rp.Name, rp.Source}] = entry{
			id:       id,
			deps:     deps,
			checksum: raw.Metadata[metaKey(rp.Name, rp.Version, rp.Source)],
		}
	}

	return l, nil
}

func toPackageId(name, version, src string) (model.PackageId, error) {
	v, err := semverx.ParseVersion(version)
	if err != nil {
		return model.PackageId{}, fmt.Errorf("lockfile entry %s: %w", name, err)
	}
	sid, err := parseSourceId(src)
	if err != nil {
		return model.PackageId{}, fmt.Errorf("lockfile entry %s: %w", name, err)
	}
	return model.PackageId{Name: name, Version: v, Source: sid}, nil
}

// depString renders the "<name> <version> (<source>)" form used for a
// lockfile's dependencies array.
func depString(name, version, source string) string {
	return fmt.Sprintf("%s %s (%s)", name, version, source)
}

func metaKey(name, version, source string) string {
	return fmt.Sprintf("checksum %s", depString(name, version, source))
}

// Biased implements resolve.LockBias: it reports the PackageId previously
// chosen for (name, src), unless ForceUpdate named it for re-resolution.
func (l *Lock) Biased(name string, src model.SourceId) (model.PackageId, bool) {
	if l.reresolving[name] {
		return model.PackageId{}, false
	}
	e, ok := l.entries[key{name, src.String()}]
	if !ok {
		return model.PackageId{}, false
	}
	return e.id, true
}

// LockedVersion implements source.LockBias.LockedVersion: the bare version
// string pinned for name, across any source, used by the registry source's
// yank-tolerance check.
func (l *Lock) LockedVersion(name string) (string, bool) {
	for k, e := range l.entries {
		if k.name == name {
			return e.id.Version.String(), true
		}
	}
	return "", false
}

// Reresolving implements source.LockBias.Reresolving.
func (l *Lock) Reresolving(name string) bool { return l.reresolving[name] }

// Names returns every package name currently locked, for callers (like
// `update` with no -p filter) that want to force re-resolution of the
// whole lockfile rather than a scoped subset.
func (l *Lock) Names() []string {
	seen := make(map[string]bool, len(l.entries))
	names := make([]string, 0, len(l.entries))
	for k := range l.entries {
		if !seen[k.name] {
			seen[k.name] = true
			names = append(names, k.name)
		}
	}
	return names
}

// ForceUpdate marks names, plus any locked package reachable only through
// one of names (its "unique dependents"), for re-resolution, leaving all
// other entries pinned.
func (l *Lock) ForceUpdate(names ...string) {
	forced := make(map[string]bool, len(names))
	for _, n := range names {
		forced[n] = true
	}

	// Count, for every locked package, how many distinct other packages
	// depend on it. A package is a "unique dependent" of a forced name if
	// all of its in-edges come from names already in the forced set.
	dependents := make(map[key][]key)
	for k, e := range l.entries {
		for _, d := range e.deps {
			dk := key{d.Name, d.Source.String()}
			dependents[dk] = append(dependents[dk], k)
		}
	}

	changed := true
	for changed {
		changed = false
		for k := range l.entries {
			if forced[k.name] {
				continue
			}
			ins := dependents[k]
			if len(ins) == 0 {
				continue
			}
			allForced := true
			for _, in := range ins {
				if !forced[in.name] {
					allForced = false
					break
				}
			}
			if allForced {
				forced[k.name] = true
				changed = true
			}
		}
	}

	for n := range forced {
		l.reresolving[n] = true
	}
}

// Write serializes resolve deterministically: entries sorted by (name,
// version, source), so two runs producing the same Resolve produce
// byte-identical lockfiles.
func Write(path string, resolve *model.Resolve) error {
	raw := rawLock{Metadata: make(map[string]string)}

	ids := resolve.Packages() // already sorted by (name, version, source)
	for _, id := range ids {
		summary := resolve.Nodes[id]
		edges := resolve.Edges[id]

		depNames := make([]string, 0, len(edges))
		for name := range edges {
			depNames = append(depNames, name)
		}
		sort.Strings(depNames)

		deps := make([]string, 0, len(depNames))
		for _, name := range depNames {
			d := edges[name]
			deps = append(deps, depString(d.Name, d.Version.String(), d.Source.String()))
		}

		raw.Package = append(raw.Package, rawPackage{
			Name:         id.Name,
			Version:      id.Version.String(),
			Source:       id.Source.String(),
			Dependencies: deps,
		})

		if summary.Checksum != "" {
			raw.Metadata[metaKey(id.Name, id.Version.String(), id.Source.String())] = summary.Checksum
		}
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("encode lockfile: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write lockfile: %w", err)
	}
	return os.Rename(tmp, path)
}

// parseSourceId is lockfile.go's inverse of model.SourceId.String(); it is
// intentionally narrow (registry+, path+, git+ prefixes only) since that's
// the only vocabulary Write ever emits.
func parseSourceId(s string) (model.SourceId, error) {
	switch {
	case len(s) > len("registry+") && s[:len("registry+")] == "registry+":
		return model.SourceId{Kind: model.SourceRegistry, URL: s[len("registry+"):]}, nil
	case len(s) > len("path+") && s[:len("path+")] == "path+":
		return model.SourceId{Kind: model.SourcePath, URL: s[len("path+"):]}, nil
	case len(s) > len("git+") && s[:len("git+")] == "git+":
		url, ref, _ := strings.Cut(s[len("git+"):], "?ref=")
		return model.SourceId{Kind: model.SourceGit, URL: url, Ref: ref}, nil
	default:
		return model.SourceId{}, fmt.Errorf("unrecognized source id %q", s)
	}
}
