// Package verify stages a project into a tarball, unpacks it into a
// scratch workspace, rewrites path dependencies to their registry form,
// and resolves the result against the real registry — without ever
// consulting the project's own lockfile, so the check simulates a fresh
// consumer. The staged copy is resolved only; it is not built.
//
// Grounded on golang-dep's txn_writer.go (stage-then-atomically-commit
// shape) for the "stage into scratch, verify, then report" flow, and on the
// hashicorp-go-slug example repo for the pack/unpack primitives golang-dep
// has no equivalent of (dep never shipped a packaging command).
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"

	slug "github.com/hashicorp/go-slug"

	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/manifest"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/resolve"
	"github.com/corgo-rs/corgo/internal/source"
)

// Verifier drives the package/verify flow against a registry.
type Verifier struct {
	registrySource func(model.SourceId) (source.Source, error)
	log            *corgolog.Logger
}

// New builds a Verifier. registrySource must resolve any SourceId to the
// Source that serves it; it is expected to ignore any local lockfile bias
// entirely.
func New(registrySource func(model.SourceId) (source.Source, error), log *corgolog.Logger) *Verifier {
	return &Verifier{registrySource: registrySource, log: log}
}

// VerifyError reports that a staged tarball could not be packed, unpacked,
// or resolved against the registry.
type VerifyError struct {
	Cause error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("failed to verify package tarball: %v", e.Cause)
}
func (e *VerifyError) Unwrap() error { return e.Cause }

// Verify stages projectDir into a tarball, unpacks it into a scratch
// workspace, synthesizes a manifest with path dependencies rewritten to
// their registry form, and resolves that synthesized manifest against the
// real registry identified by registryID.
func (v *Verifier) Verify(ctx context.Context, projectDir string, m *manifest.Manifest, registryID model.SourceId) (*model.Resolve, error) {
	v.log.Line("Packaging", m.Name, m.Version.String(), projectDir)

	var buf bytes.Buffer
	if _, err := slug.Pack(projectDir, &buf, false); err != nil {
		return nil, &VerifyError{Cause: fmt.Errorf("stage tarball: %w", err)}
	}

	scratch, err := os.MkdirTemp("", "corgo-verify-*")
	if err != nil {
		return nil, &VerifyError{Cause: err}
	}
	defer os.RemoveAll(scratch)

	if err := slug.Unpack(bytes.NewReader(buf.Bytes()), scratch); err != nil {
		return nil, &VerifyError{Cause: fmt.Errorf("unpack staged tarball: %w", err)}
	}

	root := model.Summary{
		ID:   model.PackageId{Name: m.Name, Version: m.Version, Source: registryID},
		Deps: rewritePathDeps(m.AllDependencies(false), registryID),
	}

	v.log.Line("Verifying", m.Name, m.Version.String(), projectDir)

	// No lock bias: verification must simulate a fresh consumer, so the
	// project's own corgo.lock is never passed in here.
	r := resolve.New(v.registrySource, nil, v.log)
	res, err := r.Resolve(ctx, root)
	if err != nil {
		return nil, &VerifyError{Cause: err}
	}
	return res, nil
}

// rewritePathDeps converts every path dependency into a registry
// dependency, keeping the requirement the manifest already declared for it
// (the usual default/caret semver rules, same as any registry dependency)
// and only swapping the source. A path dependency that hasn't been
// published yet is not detected here: it surfaces later as an ordinary
// resolve failure when the registry has no matching package, which Verify
// then wraps as a VerifyError.
func rewritePathDeps(deps []model.Dependency, registryID model.SourceId) []model.Dependency {
	out := make([]model.Dependency, len(deps))
	for i, d := range deps {
		if d.Source.Kind != model.SourcePath {
			out[i] = d
			continue
		}
		rewritten := d
		rewritten.Source = registryID
		out[i] = rewritten
	}
	return out
}
