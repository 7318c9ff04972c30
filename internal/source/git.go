package source

import (
	"context"
	"fmt"

	"github.com/corgo-rs/corgo/internal/model"
)

// GitSource is the narrow interface named for git-origin dependencies.
// Fetching over source control is out of scope for this core; GitSource
// exists only so the resolver's tagged union of sources is complete, and
// so a manifest referencing a git dependency fails with a clear error
// instead of a nil-interface panic.
type GitSource struct {
	id model.SourceId
}

// NewGitSource builds a GitSource identified by id.
func NewGitSource(id model.SourceId) *GitSource { return &GitSource{id: id} }

var _ Source = (*GitSource)(nil)

func (g *GitSource) Query(ctx context.Context, dep model.Dependency) ([]model.Summary, error) {
	return nil, fmt.Errorf("git sources are not implemented by this core (dependency %s, remote %s): fetching is delegated to an external collaborator", dep.Name, g.id.URL)
}

func (g *GitSource) Download(ctx context.Context, pkg model.PackageId) (string, error) {
	return "", fmt.Errorf("git sources are not implemented by this core (package %s)", pkg)
}

func (g *GitSource) Fingerprint(pkg model.PackageId) (string, error) { return "", nil }

func (g *GitSource) Update(ctx context.Context) error { return nil }
