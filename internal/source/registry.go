package source

import (
	"context"
	"fmt"

	"github.com/corgo-rs/corgo/internal/archive"
	"github.com/corgo-rs/corgo/internal/index"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/semverx"
)

// LockBias lets a lockfile manager bias a RegistrySource's yank policy:
// LockedVersion reports the version a prior lockfile pinned for name (if
// any), and Reresolving reports whether an explicit re-resolution has been
// requested for name (e.g. `update -p name`), which disables yank tolerance
// for that one name.
type LockBias struct {
	LockedVersion func(name string) (string, bool)
	Reresolving   func(name string) bool
}

// RegistrySource adapts an Index Store and an Archive Cache to the uniform
// Source contract.
type RegistrySource struct {
	id    model.SourceId
	idx   *index.Store
	arc   *archive.Cache
	bias  LockBias
}

// NewRegistrySource builds a RegistrySource over idx/arc, identified by id
// (its canonical SourceId, used to stamp resolved PackageIds).
func NewRegistrySource(id model.SourceId, idx *index.Store, arc *archive.Cache, bias LockBias) *RegistrySource {
	return &RegistrySource{id: id, idx: idx, arc: arc, bias: bias}
}

var _ Source = (*RegistrySource)(nil)

// Query returns all non-yanked versions matching dep.Req, plus any yanked
// version the active lockfile already pins for this name when no
// re-resolution is in flight for it, highest-version-first.
func (r *RegistrySource) Query(ctx context.Context, dep model.Dependency) ([]model.Summary, error) {
	entries, err := r.idx.Query(dep.Name)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		// Re-entry: lazily refresh once for a name resolution actually needs.
		if err := r.idx.EnsureFresh(ctx, dep.Name); err != nil {
			return nil, err
		}
		entries, err = r.idx.Query(dep.Name)
		if err != nil {
			return nil, err
		}
	}

	var lockedVer string
	var hasLock bool
	if r.bias.LockedVersion != nil {
		lockedVer, hasLock = r.bias.LockedVersion(dep.Name)
	}
	reresolving := r.bias.Reresolving != nil && r.bias.Reresolving(dep.Name)

	type cand struct {
		v semverx.Version
		e index.Entry
	}
	var cands []cand
	for _, e := range entries {
		v, err := semverx.ParseVersion(e.Vers)
		if err != nil {
			continue // malformed entries are skipped, not fatal
		}
		if e.Yanked {
			eligible := hasLock && !reresolving && e.Vers == lockedVer
			if !eligible {
				continue
			}
		}
		if !dep.Req.Matches(v) {
			continue
		}
		cands = append(cands, cand{v: v, e: e})
	}

	summaries := make([]model.Summary, len(cands))
	for i, c := range cands {
		summaries[i] = r.toSummary(c.e, c.v)
	}
	// highest-first.
	for i := 0; i < len(summaries); i++ {
		for j := i + 1; j < len(summaries); j++ {
			if summaries[j].ID.Version.Compare(summaries[i].ID.Version) > 0 {
				summaries[i], summaries[j] = summaries[j], summaries[i]
			}
		}
	}
	return summaries, nil
}

func (r *RegistrySource) toSummary(e index.Entry, v semverx.Version) model.Summary {
	id := model.PackageId{Name: e.Name, Version: v, Source: r.id}
	deps := make([]model.Dependency, 0, len(e.Deps))
	for _, d := range e.Deps {
		req, err := semverx.ParseVersionReq(d.Req)
		if err != nil {
			req = semverx.Any()
		}
		kind := model.KindNormal
		switch d.Kind {
		case "build":
			kind = model.KindBuild
		case "dev":
			kind = model.KindDev
		}
		deps = append(deps, model.Dependency{
			Name:     d.Name,
			Req:      req,
			Source:   r.id,
			Kind:     kind,
			Optional: d.Optional,
			Features: d.Features,
		})
	}
	return model.Summary{ID: id, Deps: deps, Checksum: e.Cksum, Yanked: e.Yanked}
}

// Download materializes pkg's unpacked source tree, fetching and verifying
// the tarball as needed.
func (r *RegistrySource) Download(ctx context.Context, pkg model.PackageId) (string, error) {
	cksum, err := r.Fingerprint(pkg)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/%s/%s/download", r.id.URL, pkg.Name, pkg.Version)
	return r.arc.Ensure(ctx, url, pkg, cksum)
}

// Fingerprint returns pkg's registry-recorded checksum.
func (r *RegistrySource) Fingerprint(pkg model.PackageId) (string, error) {
	entries, err := r.idx.Query(pkg.Name)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Vers == pkg.Version.String() {
			return e.Cksum, nil
		}
	}
	return "", fmt.Errorf("no index entry for %s v%s", pkg.Name, pkg.Version)
}

// Update forces the index to be marked stale (see index.Store.Update); it
// downloads nothing itself.
func (r *RegistrySource) Update(ctx context.Context) error {
	return r.idx.Update(ctx, true)
}
