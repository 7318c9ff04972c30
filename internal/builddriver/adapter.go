// Package builddriver is the sole handoff between the resolved dependency
// graph and the external compilation orchestrator: a topologically sorted
// list of units, each with its on-disk source path and its dependencies'
// paths.
package builddriver

import (
	"context"
	"fmt"

	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/source"
)

// Unit is one package ready for compilation: its identity, its on-disk
// source path, and a name->path map for each of its resolved dependencies.
type Unit struct {
	ID      model.PackageId
	Path    string
	DepPath map[string]string
}

// TopoSort returns resolve's packages in dependency-first order (a package
// appears before anything that depends on it), using Kahn's algorithm.
// Resolve is acyclic by construction; a cycle here indicates a bug
// elsewhere in the core and is reported rather than silently ignored.
func TopoSort(resolve *model.Resolve) ([]model.PackageId, error) {
	indegree := make(map[model.PackageId]int, len(resolve.Nodes))
	dependents := make(map[model.PackageId][]model.PackageId)

	for id := range resolve.Nodes {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range resolve.Edges[id] {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []model.PackageId
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	sortIds(queue)

	var order []model.PackageId
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)

		var freed []model.PackageId
		for _, dep := range dependents[cur] {
			indegree[dep]--
			if indegree[dep] == 0 {
				freed = append(freed, dep)
			}
		}
		sortIds(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(resolve.Nodes) {
		return nil, fmt.Errorf("dependency graph contains a cycle: resolved %d of %d packages", len(order), len(resolve.Nodes))
	}
	return order, nil
}

func sortIds(ids []model.PackageId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1].Name > ids[j].Name; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Build resolves each unit's on-disk path (fetching via the appropriate
// Source as needed) and returns them in dependency-first order, emitting a
// "Compiling" progress line per unit as it is handed off.
func Build(ctx context.Context, resolve *model.Resolve, sourceFor func(model.SourceId) (source.Source, error), log *corgolog.Logger) ([]Unit, error) {
	order, err := TopoSort(resolve)
	if err != nil {
		return nil, err
	}

	paths := make(map[model.PackageId]string, len(order))
	units := make([]Unit, 0, len(order))

	for _, id := range order {
		src, err := sourceFor(id.Source)
		if err != nil {
			return nil, err
		}
		path, err := src.Download(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to download package %s: %w", id, err)
		}
		paths[id] = path

		depPaths := make(map[string]string, len(resolve.Edges[id]))
		for name, dep := range resolve.Edges[id] {
			depPaths[name] = paths[dep]
		}

		log.Line("Compiling", id.Name, id.Version.String(), id.Source.String())
		units = append(units, Unit{ID: id, Path: path, DepPath: depPaths})
	}

	return units, nil
}
