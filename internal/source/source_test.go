package source_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/corgo-rs/corgo/internal/archive"
	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/manifest"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/semverx"
	"github.com/corgo-rs/corgo/internal/source"
)

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustParseReq(t *testing.T, s string) semverx.VersionReq {
	t.Helper()
	req, err := semverx.ParseVersionReq(s)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestPathSourceQueryMatchesOwnVersion(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "sibling"
version = "0.2.0"
`)
	id := model.SourceId{Kind: model.SourcePath, URL: dir}
	arc, err := archive.New(filepath.Join(dir, "..", "cache"), filepath.Join(dir, "..", "srcroot"), &http.Client{}, corgolog.New(false))
	if err != nil {
		t.Fatal(err)
	}
	ps := source.NewPathSource(id, arc)

	summaries, err := ps.Query(context.Background(), model.Dependency{Name: "sibling", Req: mustParseReq(t, "^0.2.0")})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one summary for a path dependency, got %d", len(summaries))
	}
	if summaries[0].ID.Name != "sibling" || summaries[0].ID.Version.String() != "0.2.0" {
		t.Errorf("unexpected summary identity: %+v", summaries[0].ID)
	}
}

func TestPathSourceQueryRejectsMismatchedRequirement(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "sibling"
version = "0.2.0"
`)
	id := model.SourceId{Kind: model.SourcePath, URL: dir}
	arc, err := archive.New(filepath.Join(dir, "..", "cache"), filepath.Join(dir, "..", "srcroot"), &http.Client{}, corgolog.New(false))
	if err != nil {
		t.Fatal(err)
	}
	ps := source.NewPathSource(id, arc)

	summaries, err := ps.Query(context.Background(), model.Dependency{Name: "sibling", Req: mustParseReq(t, "^9.0.0")})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected no match for an incompatible requirement, got %d summaries", len(summaries))
	}
}

func TestPathSourceDownloadMaterializesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "sibling"
version = "0.2.0"
`)
	id := model.SourceId{Kind: model.SourcePath, URL: dir}
	arc, err := archive.New(filepath.Join(dir, "..", "cache"), filepath.Join(dir, "..", "srcroot"), &http.Client{}, corgolog.New(false))
	if err != nil {
		t.Fatal(err)
	}
	ps := source.NewPathSource(id, arc)

	v, err := semverx.ParseVersion("0.2.0")
	if err != nil {
		t.Fatal(err)
	}
	pkg := model.PackageId{Name: "sibling", Version: v, Source: id}

	dest, err := ps.Download(context.Background(), pkg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, manifest.FileName)); err != nil {
		t.Errorf("expected the manifest to be materialized alongside the rest of the tree: %v", err)
	}
}

func TestGitSourceQueryAndDownloadReturnErrors(t *testing.T) {
	id := model.SourceId{Kind: model.SourceGit, URL: "https://example.invalid/repo.git"}
	gs := source.NewGitSource(id)

	if _, err := gs.Query(context.Background(), model.Dependency{Name: "upstream", Req: mustParseReq(t, "*")}); err == nil {
		t.Error("expected Query on a git source to fail: fetching is out of scope for this core")
	}

	v, err := semverx.ParseVersion("0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	pkg := model.PackageId{Name: "upstream", Version: v, Source: id}
	if _, err := gs.Download(context.Background(), pkg); err == nil {
		t.Error("expected Download on a git source to fail: fetching is out of scope for this core")
	}
}

func TestGitSourceUpdateIsANoOp(t *testing.T) {
	gs := source.NewGitSource(model.SourceId{Kind: model.SourceGit, URL: "https://example.invalid/repo.git"})
	if err := gs.Update(context.Background()); err != nil {
		t.Errorf("Update should never fail on a git source stub, got %v", err)
	}
}
