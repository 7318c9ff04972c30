// Package source defines the uniform capability set the resolver consumes
// — query, download, fingerprint, update — and the three concrete
// implementations of a package's origin: Registry, Path, and Git.
//
// Grounded on golang-dep's SourceManager interface (source_manager.go): the
// resolver consumes any value satisfying the capability set, represented
// as a tagged union rather than a deep inheritance hierarchy.
package source

import (
	"context"

	"github.com/corgo-rs/corgo/internal/model"
)

// Source is the capability set a Resolver needs from any package origin.
type Source interface {
	// Query returns candidate summaries for dep, ordered per the source's
	// own precedence rule (registry: semver-descending).
	Query(ctx context.Context, dep model.Dependency) ([]model.Summary, error)
	// Download materializes pkg's source tree on disk and returns its path.
	Download(ctx context.Context, pkg model.PackageId) (string, error)
	// Fingerprint returns a stable cache key for pkg (typically its
	// checksum for registry sources).
	Fingerprint(pkg model.PackageId) (string, error)
	// Update brings the source's local view of available versions fully
	// up to date. The resolver never calls this speculatively.
	Update(ctx context.Context) error
}
