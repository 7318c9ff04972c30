package builddriver

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/source"
)

// Prefetch downloads every resolved package concurrently, bounded by
// concurrency, before Build walks the topological order. Archive fetches
// for distinct PackageIds have no ordering dependency on one another, so
// fanning them out here means Build's later sequential pass over the same
// packages mostly just hits the archive cache's already-unpacked sentinel.
func Prefetch(ctx context.Context, resolve *model.Resolve, sourceFor func(model.SourceId) (source.Source, error), concurrency int, log *corgolog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, id := range resolve.Packages() {
		id := id
		g.Go(func() error {
			src, err := sourceFor(id.Source)
			if err != nil {
				return err
			}
			if _, err := src.Download(ctx, id); err != nil {
				return fmt.Errorf("failed to download package %s: %w", id, err)
			}
			return nil
		})
	}

	return g.Wait()
}
