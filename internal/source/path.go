package source

import (
	"context"
	"fmt"
	"os"

	"github.com/corgo-rs/corgo/internal/archive"
	"github.com/corgo-rs/corgo/internal/manifest"
	"github.com/corgo-rs/corgo/internal/model"
)

// PathSource adapts a directory on disk (a `path = "..."` dependency) to
// the uniform Source contract. It carries no version history: its manifest
// declares exactly one version, itself. Fetching source control (beyond
// reading the manifest already on disk) is out of scope for this core.
type PathSource struct {
	id  model.SourceId
	arc *archive.Cache
}

// NewPathSource builds a PathSource rooted at id.URL.
func NewPathSource(id model.SourceId, arc *archive.Cache) *PathSource {
	return &PathSource{id: id, arc: arc}
}

var _ Source = (*PathSource)(nil)

func (p *PathSource) readManifest() (*manifest.Manifest, error) {
	data, err := os.ReadFile(p.id.URL + "/corgo.toml")
	if err != nil {
		return nil, fmt.Errorf("read manifest for path dependency %s: %w", p.id.URL, err)
	}
	return manifest.Parse(data)
}

// Query returns the single summary this path directory declares, if its
// version satisfies dep.Req.
func (p *PathSource) Query(ctx context.Context, dep model.Dependency) ([]model.Summary, error) {
	m, err := p.readManifest()
	if err != nil {
		return nil, err
	}
	if !dep.Req.Matches(m.Version) {
		return nil, nil
	}
	return []model.Summary{{
		ID:   model.PackageId{Name: m.Name, Version: m.Version, Source: p.id},
		Deps: m.AllDependencies(false),
	}}, nil
}

// Download copies the path directory into the cache's unpacked-tree layout.
func (p *PathSource) Download(ctx context.Context, pkg model.PackageId) (string, error) {
	return p.arc.MaterializePath(p.id.URL, pkg)
}

// Fingerprint has no checksum to offer for a path source; callers must not
// rely on it for verification.
func (p *PathSource) Fingerprint(pkg model.PackageId) (string, error) { return "", nil }

// Update is a no-op: a path source's freshness is simply the filesystem's.
func (p *PathSource) Update(ctx context.Context) error { return nil }
