package verify_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/corgo-rs/corgo/internal/archive"
	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/index"
	"github.com/corgo-rs/corgo/internal/manifest"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/registrytest"
	"github.com/corgo-rs/corgo/internal/source"
	"github.com/corgo-rs/corgo/internal/verify"
)

func writeProject(t *testing.T, manifestBody string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(manifestBody), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", "lib.rs"), []byte("// hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newVerifier(t *testing.T, reg *registrytest.Registry) (*verify.Verifier, model.SourceId) {
	t.Helper()
	log := corgolog.New(false)
	client := &http.Client{}
	tmp := t.TempDir()

	idx, err := index.New(filepath.Join(tmp, "index"), reg.URL(), client, log)
	if err != nil {
		t.Fatal(err)
	}
	arc, err := archive.New(filepath.Join(tmp, "cache"), filepath.Join(tmp, "src"), client, log)
	if err != nil {
		t.Fatal(err)
	}
	registryID := model.SourceId{Kind: model.SourceRegistry, URL: reg.URL()}
	rs := source.NewRegistrySource(registryID, idx, arc, source.LockBias{})

	v := verify.New(func(id model.SourceId) (source.Source, error) { return rs, nil }, log)
	return v, registryID
}

func TestVerifySucceedsWhenAllDepsArePublished(t *testing.T) {
	reg := registrytest.New()
	defer reg.Close()
	if _, err := reg.Publish("bar", "0.0.1", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}

	dir := writeProject(t, `
[project]
name = "foo"
version = "0.0.1"

[dependencies]
bar = "^0.0.1"
`)
	m, err := manifest.Parse(mustRead(t, filepath.Join(dir, manifest.FileName)))
	if err != nil {
		t.Fatal(err)
	}

	v, registryID := newVerifier(t, reg)
	res, err := v.Verify(context.Background(), dir, m, registryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Nodes) != 2 {
		t.Errorf("expected foo and bar in the verified resolution, got %d nodes", len(res.Nodes))
	}
}

func TestVerifyFailsWhenPathDependencyIsUnpublished(t *testing.T) {
	reg := registrytest.New()
	defer reg.Close()

	siblingDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(siblingDir, manifest.FileName), []byte(`
[project]
name = "sibling"
version = "0.0.1"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	dir := writeProject(t, `
[project]
name = "foo"
version = "0.0.1"

[dependencies]
sibling = { path = "`+siblingDir+`" }
`)
	m, err := manifest.Parse(mustRead(t, filepath.Join(dir, manifest.FileName)))
	if err != nil {
		t.Fatal(err)
	}

	v, registryID := newVerifier(t, reg)
	_, err = v.Verify(context.Background(), dir, m, registryID)
	if err == nil {
		t.Fatal("expected verification to fail: sibling has never been published to the registry")
	}
	var verr *verify.VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a *verify.VerifyError, got %T: %v", err, err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
