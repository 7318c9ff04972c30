package builddriver_test

import (
	"context"
	"testing"

	"github.com/corgo-rs/corgo/internal/builddriver"
	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/semverx"
	"github.com/corgo-rs/corgo/internal/source"
)

func mustVer(t *testing.T, s string) semverx.Version {
	t.Helper()
	v, err := semverx.ParseVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// fakeSource serves fixed paths for a fixed set of packages without
// touching the network or filesystem, isolating TopoSort/Build from the
// registry/archive stack.
type fakeSource struct {
	paths map[string]string
}

func (f fakeSource) Query(ctx context.Context, dep model.Dependency) ([]model.Summary, error) {
	return nil, nil
}
func (f fakeSource) Download(ctx context.Context, pkg model.PackageId) (string, error) {
	return f.paths[pkg.Name], nil
}
func (f fakeSource) Fingerprint(pkg model.PackageId) (string, error) { return "", nil }
func (f fakeSource) Update(ctx context.Context) error                { return nil }

func TestTopoSortOrdersDependenciesBeforeDependents(t *testing.T) {
	reg := model.SourceId{Kind: model.SourceRegistry, URL: "https://example.invalid"}
	root := model.PackageId{Name: "foo", Version: mustVer(t, "0.1.0"), Source: reg}
	bar := model.PackageId{Name: "bar", Version: mustVer(t, "0.0.1"), Source: reg}
	baz := model.PackageId{Name: "baz", Version: mustVer(t, "0.0.1"), Source: reg}

	res := model.NewResolve(root)
	res.Add(model.Summary{ID: root})
	res.Add(model.Summary{ID: bar})
	res.Add(model.Summary{ID: baz})
	res.SetEdge(root, "bar", bar)
	res.SetEdge(bar, "baz", baz)

	order, err := builddriver.TopoSort(res)
	if err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id.Name] = i
	}
	if pos["baz"] > pos["bar"] {
		t.Errorf("expected baz before bar, got order %v", order)
	}
	if pos["bar"] > pos["foo"] {
		t.Errorf("expected bar before foo, got order %v", order)
	}
}

func TestBuildEmitsEveryUnitIncludingRoot(t *testing.T) {
	reg := model.SourceId{Kind: model.SourceRegistry, URL: "https://example.invalid"}
	root := model.PackageId{Name: "foo", Version: mustVer(t, "0.1.0"), Source: reg}
	bar := model.PackageId{Name: "bar", Version: mustVer(t, "0.0.1"), Source: reg}

	res := model.NewResolve(root)
	res.Add(model.Summary{ID: root})
	res.Add(model.Summary{ID: bar})
	res.SetEdge(root, "bar", bar)

	fs := fakeSource{paths: map[string]string{"foo": "/work/foo", "bar": "/cache/bar"}}
	sourceFor := func(id model.SourceId) (source.Source, error) { return fs, nil }

	units, err := builddriver.Build(context.Background(), res, sourceFor, corgolog.New(false))
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units (foo and bar), got %d", len(units))
	}
	if units[len(units)-1].ID.Name != "foo" {
		t.Errorf("expected root package foo to be compiled last, got %s", units[len(units)-1].ID.Name)
	}
	if units[0].DepPath != nil && len(units[0].DepPath) != 0 {
		t.Errorf("bar has no dependencies, expected an empty DepPath, got %v", units[0].DepPath)
	}
}
