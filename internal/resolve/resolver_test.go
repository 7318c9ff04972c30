package resolve_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/corgo-rs/corgo/internal/archive"
	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/index"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/registrytest"
	"github.com/corgo-rs/corgo/internal/resolve"
	"github.com/corgo-rs/corgo/internal/semverx"
	"github.com/corgo-rs/corgo/internal/source"
)

// harness wires a registrytest.Registry to a real RegistrySource, the way
// cmd/corgo's env does, so these tests exercise the Index Store and
// Archive Cache along with the Resolver.
type harness struct {
	reg        *registrytest.Registry
	registryID model.SourceId
	sources    func(model.SourceId) (source.Source, error)
}

func newHarness(t *testing.T, bias source.LockBias) *harness {
	t.Helper()
	reg := registrytest.New()
	t.Cleanup(reg.Close)

	log := corgolog.New(false)
	client := &http.Client{}
	dir := t.TempDir()

	idx, err := index.New(filepath.Join(dir, "index"), reg.URL(), client, log)
	if err != nil {
		t.Fatal(err)
	}
	arc, err := archive.New(filepath.Join(dir, "cache"), filepath.Join(dir, "src"), client, log)
	if err != nil {
		t.Fatal(err)
	}

	registryID := model.SourceId{Kind: model.SourceRegistry, URL: reg.URL()}
	rs := source.NewRegistrySource(registryID, idx, arc, bias)

	return &harness{
		reg:        reg,
		registryID: registryID,
		sources: func(id model.SourceId) (source.Source, error) {
			if id.Kind != model.SourceRegistry {
				return nil, errors.New("only registry sources are used in this test")
			}
			return rs, nil
		},
	}
}

func req(t *testing.T, s string) semverx.VersionReq {
	t.Helper()
	r, err := semverx.ParseVersionReq(s)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func ver(t *testing.T, s string) semverx.Version {
	t.Helper()
	v, err := semverx.ParseVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestResolveSimple(t *testing.T) {
	h := newHarness(t, source.LockBias{})
	if _, err := h.reg.Publish("bar", "0.0.1", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}

	root := model.Summary{
		ID: model.PackageId{Name: "foo", Version: ver(t, "0.0.1"), Source: h.registryID},
		Deps: []model.Dependency{
			{Name: "bar", Req: req(t, "^0.0.1"), Source: h.registryID},
		},
	}

	r := resolve.New(h.sources, nil, corgolog.New(false))
	res, err := r.Resolve(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("expected 2 resolved nodes, got %d", len(res.Nodes))
	}
	chosen := res.Edges[root.ID]["bar"]
	if chosen.Version.String() != "0.0.1" {
		t.Errorf("resolved bar to %s, want 0.0.1", chosen.Version)
	}
}

func TestResolveTransitiveDeps(t *testing.T) {
	h := newHarness(t, source.LockBias{})
	if _, err := h.reg.Publish("baz", "0.0.1", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.reg.Publish("bar", "0.0.1", []index.Dep{
		registrytest.DepReq("baz", "^0.0.1", ""),
	}, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}

	root := model.Summary{
		ID: model.PackageId{Name: "foo", Version: ver(t, "0.0.1"), Source: h.registryID},
		Deps: []model.Dependency{
			{Name: "bar", Req: req(t, "^0.0.1"), Source: h.registryID},
		},
	}

	r := resolve.New(h.sources, nil, corgolog.New(false))
	res, err := r.Resolve(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("expected 3 resolved nodes (foo, bar, baz), got %d", len(res.Nodes))
	}
	bar := res.Edges[root.ID]["bar"]
	if res.Edges[bar]["baz"].Name != "baz" {
		t.Error("expected bar -> baz edge in the resolution")
	}
}

func TestResolveNonexistentPackage(t *testing.T) {
	h := newHarness(t, source.LockBias{})

	root := model.Summary{
		ID: model.PackageId{Name: "foo", Version: ver(t, "0.0.1"), Source: h.registryID},
		Deps: []model.Dependency{
			{Name: "nonexistent", Req: req(t, ">=0.0.0"), Source: h.registryID},
		},
	}

	r := resolve.New(h.sources, nil, corgolog.New(false))
	_, err := r.Resolve(context.Background(), root)
	if err == nil {
		t.Fatal("expected a resolve error for a package absent from the registry")
	}

	var rerr *resolve.ResolveError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a *resolve.ResolveError, got %T: %v", err, err)
	}
	if rerr.Name != "nonexistent" || rerr.RequiredBy != "foo" {
		t.Errorf("unexpected ResolveError fields: %+v", rerr)
	}
}

func TestResolveYankedVersionExcludedByDefault(t *testing.T) {
	h := newHarness(t, source.LockBias{})
	if _, err := h.reg.Publish("bar", "0.0.1", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.reg.Publish("bar", "0.0.2", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}
	h.reg.Yank("bar", "0.0.2", true)

	root := model.Summary{
		ID: model.PackageId{Name: "foo", Version: ver(t, "0.0.1"), Source: h.registryID},
		Deps: []model.Dependency{
			{Name: "bar", Req: req(t, ">=0.0.1"), Source: h.registryID},
		},
	}

	r := resolve.New(h.sources, nil, corgolog.New(false))
	res, err := r.Resolve(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	chosen := res.Edges[root.ID]["bar"]
	if chosen.Version.String() != "0.0.1" {
		t.Errorf("resolved bar to %s, want 0.0.1 (0.0.2 is yanked)", chosen.Version)
	}
}

func TestResolveYankedVersionToleratedWhenLockPinned(t *testing.T) {
	h := newHarness(t, source.LockBias{
		LockedVersion: func(name string) (string, bool) {
			if name == "bar" {
				return "0.0.2", true
			}
			return "", false
		},
	})
	if _, err := h.reg.Publish("bar", "0.0.1", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.reg.Publish("bar", "0.0.2", nil, map[string]string{"src/lib.rs": ""}); err != nil {
		t.Fatal(err)
	}
	h.reg.Yank("bar", "0.0.2", true)

	root := model.Summary{
		ID: model.PackageId{Name: "foo", Version: ver(t, "0.0.1"), Source: h.registryID},
		Deps: []model.Dependency{
			{Name: "bar", Req: req(t, ">=0.0.1"), Source: h.registryID},
		},
	}

	r := resolve.New(h.sources, nil, corgolog.New(false))
	res, err := r.Resolve(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	chosen := res.Edges[root.ID]["bar"]
	if chosen.Version.String() != "0.0.2" {
		t.Errorf("resolved bar to %s, want the lock-pinned 0.0.2 despite its yank", chosen.Version)
	}
}
