// Package resolve implements depth-first, greedy-with-local-backtracking
// assignment of one concrete PackageId per dependency name, biased toward
// a prior lockfile's choices.
//
// Grounded on golang-dep's selection.go (a flat name -> chosen-package
// assignment plus a per-name constraint) and satisfy.go (the
// candidate-try/undo-on-failure shape), adapted from gps's full bimodal
// import-graph SAT-ish solver down to a simpler first-satisfiable-wins
// algorithm: no cost function, no whole-graph backtracking, just per-edge
// candidate iteration with commit-or-undo.
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/source"
)

// LockBias lets a lockfile manager bias candidate ordering: Locked reports
// the PackageId a prior lockfile pinned for (name, src), if any.
type LockBias func(name string, src model.SourceId) (model.PackageId, bool)

// Resolver walks a dependency graph from a root summary to a Resolve.
type Resolver struct {
	sources func(id model.SourceId) (source.Source, error)
	locked  LockBias
	log     *corgolog.Logger
}

// New builds a Resolver. sources resolves a SourceId to the Source that
// serves it (registry, path, or git); locked may be nil if there is no
// prior lockfile to bias toward.
func New(sources func(model.SourceId) (source.Source, error), locked LockBias, log *corgolog.Logger) *Resolver {
	return &Resolver{sources: sources, locked: locked, log: log}
}

// Resolve walks root's dependency graph and returns a Resolve that is
// minimal, acyclic, has exactly one root, and whose every edge's chosen
// version satisfies its requirement.
func (r *Resolver) Resolve(ctx context.Context, root model.Summary) (*model.Resolve, error) {
	res := model.NewResolve(root.ID)
	res.Add(root)

	assigned := make(map[string]model.PackageId)
	if err := r.resolveDeps(ctx, root.ID, root.Name(), root.Deps, res, assigned, []model.PackageId{root.ID}, true); err != nil {
		return nil, err
	}

	res.Prune()
	return res, nil
}

func (r *Resolver) resolveDeps(ctx context.Context, parent model.PackageId, parentName string, deps []model.Dependency, res *model.Resolve, assigned map[string]model.PackageId, ancestry []model.PackageId, isRoot bool) error {
	sorted := make([]model.Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Kind == model.KindDev && !isRoot {
			continue // dev-dependencies resolve only for the root
		}
		sorted = append(sorted, d)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, dep := range sorted {
		if err := r.resolveOne(ctx, parent, parentName, dep, res, assigned, ancestry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveOne(ctx context.Context, parent model.PackageId, parentName string, dep model.Dependency, res *model.Resolve, assigned map[string]model.PackageId, ancestry []model.PackageId) error {
	if chosen, ok := assigned[dep.Name]; ok {
		if !dep.Req.Matches(chosen.Version) {
			return &ConflictError{Name: dep.Name, Committed: chosen.Version.String(), Req: dep.Req.String(), RequiredBy: parentName}
		}
		res.SetEdge(parent, dep.Name, chosen)
		return nil
	}

	src, err := r.sources(dep.Source)
	if err != nil {
		return err
	}

	candidates, err := src.Query(ctx, dep)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return &ResolveError{Name: dep.Name, RequiredBy: parentName, Location: location(dep.Source), Req: dep.Req.String()}
	}

	candidates = r.applyBias(dep, candidates)

	var lastErr error
	for _, cand := range candidates {
		id := cand.ID
		if isAncestor(ancestry, id) {
			lastErr = &CycleError{Name: dep.Name, Via: parentName}
			continue
		}

		before := make(map[string]bool, len(assigned))
		for name := range assigned {
			before[name] = true
		}

		assigned[dep.Name] = id
		res.Add(cand)
		res.SetEdge(parent, dep.Name, id)

		err := r.resolveDeps(ctx, id, dep.Name, cand.Deps, res, assigned, append(append([]model.PackageId{}, ancestry...), id), false)
		if err == nil {
			return nil
		}

		// Undo every assignment made under this candidate, not just its own.
		for name := range assigned {
			if !before[name] {
				delete(assigned, name)
			}
		}
		delete(res.Edges[parent], dep.Name)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = &ResolveError{Name: dep.Name, RequiredBy: parentName, Location: location(dep.Source), Req: dep.Req.String()}
	}
	return lastErr
}

// applyBias lifts the lockfile-pinned candidate (if eligible) to the front
// of the list, regardless of semver order.
func (r *Resolver) applyBias(dep model.Dependency, candidates []model.Summary) []model.Summary {
	if r.locked == nil {
		return candidates
	}
	pinned, ok := r.locked(dep.Name, dep.Source)
	if !ok {
		return candidates
	}
	for i, c := range candidates {
		if c.ID.Eq(pinned) {
			if i == 0 {
				return candidates
			}
			out := make([]model.Summary, len(candidates))
			out[0] = candidates[i]
			copy(out[1:], append(append([]model.Summary{}, candidates[:i]...), candidates[i+1:]...))
			return out
		}
	}
	return candidates
}

func isAncestor(ancestry []model.PackageId, id model.PackageId) bool {
	for _, a := range ancestry {
		if a.Eq(id) {
			return true
		}
	}
	return false
}

func location(src model.SourceId) string {
	if src.Kind == model.SourceRegistry {
		return "the package registry"
	}
	return fmt.Sprintf("%s", src.String())
}
