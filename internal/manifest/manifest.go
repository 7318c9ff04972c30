// Package manifest parses a project's corgo.toml into typed dependency
// declarations. It does not resolve anything; it hands the resolver typed
// Dependency values.
//
// This plays the same role golang-dep's manifest.go plays for its
// manifest.json: a raw form decoded from the wire format, converted
// field-by-field into the domain's Dependency type — adapted here from
// JSON to TOML and from branch/revision/version dependency properties to
// corgo's version/path/git/branch/tag/rev properties.
package manifest

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/semverx"
)

// FileName is the manifest's canonical name.
const FileName = "corgo.toml"

// Manifest is the parsed form of corgo.toml.
type Manifest struct {
	Name    string
	Version semverx.Version
	Authors []string

	Dependencies      []model.Dependency
	DevDependencies   []model.Dependency
	BuildDependencies []model.Dependency
}

type rawManifest struct {
	Project *rawProject `toml:"project"`
	Package *rawProject `toml:"package"`

	Dependencies      map[string]rawDepProps `toml:"dependencies"`
	DevDependencies   map[string]rawDepProps `toml:"dev-dependencies"`
	BuildDependencies map[string]rawDepProps `toml:"build-dependencies"`
}

type rawProject struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Authors []string `toml:"authors"`
}

// rawDepProps captures every shape a [dependencies.<name>] table may take.
// Exactly one of Path, Git, or Version-ish fields is expected to apply; the
// simple `name = "1.2.3"` form unmarshals into Version via UnmarshalTOML
// below.
type rawDepProps struct {
	Version         string   `toml:"version"`
	Path            string   `toml:"path"`
	Git             string   `toml:"git"`
	Branch          string   `toml:"branch"`
	Tag             string   `toml:"tag"`
	Rev             string   `toml:"rev"`
	Features        []string `toml:"features"`
	Optional        bool     `toml:"optional"`
	DefaultFeatures *bool    `toml:"default-features"`
}

// UnmarshalTOML lets `name = "1.2.3"` decode as a bare version requirement,
// while `name = { path = "...", ... }` decodes as a table.
func (p *rawDepProps) UnmarshalTOML(v interface{}) error {
	switch t := v.(type) {
	case string:
		p.Version = t
		return nil
	case map[string]interface{}:
		b, err := toml.Marshal(t)
		if err != nil {
			return err
		}
		type alias rawDepProps
		var a alias
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			return fmt.Errorf("unknown field in dependency table: %w", err)
		}
		*p = rawDepProps(a)
		return nil
	default:
		return fmt.Errorf("unsupported dependency value of type %T", v)
	}
}

// Parse decodes a corgo.toml document. Unknown top-level and dependency
// fields are rejected as errors.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	proj := raw.Project
	if proj == nil {
		proj = raw.Package
	}
	if proj == nil {
		return nil, fmt.Errorf("manifest has no [project] or [package] table")
	}
	if proj.Name == "" {
		return nil, fmt.Errorf("manifest [project] table requires a name")
	}

	ver, err := semverx.ParseVersion(proj.Version)
	if err != nil {
		return nil, fmt.Errorf("manifest version: %w", err)
	}

	m := &Manifest{Name: proj.Name, Version: ver, Authors: proj.Authors}

	if m.Dependencies, err = toDeps(raw.Dependencies, model.KindNormal); err != nil {
		return nil, err
	}
	if m.DevDependencies, err = toDeps(raw.DevDependencies, model.KindDev); err != nil {
		return nil, err
	}
	if m.BuildDependencies, err = toDeps(raw.BuildDependencies, model.KindBuild); err != nil {
		return nil, err
	}

	return m, nil
}

func toDeps(raw map[string]rawDepProps, kind model.DependencyKind) ([]model.Dependency, error) {
	deps := make([]model.Dependency, 0, len(raw))
	for name, p := range raw {
		d, err := toDependency(name, p, kind)
		if err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, nil
}

func toDependency(name string, p rawDepProps, kind model.DependencyKind) (model.Dependency, error) {
	var nset int
	if p.Path != "" {
		nset++
	}
	if p.Git != "" {
		nset++
	}
	if nset > 1 {
		return model.Dependency{}, fmt.Errorf("dependency %q specifies more than one of path/git", name)
	}

	d := model.Dependency{
		Name:     name,
		Kind:     kind,
		Optional: p.Optional,
		Features: p.Features,
	}

	switch {
	case p.Path != "":
		d.Source = model.SourceId{Kind: model.SourcePath, URL: p.Path}
		req, err := semverx.ParseVersionReq(p.Version)
		if err != nil {
			return model.Dependency{}, fmt.Errorf("dependency %q: %w", name, err)
		}
		d.Req = req
	case p.Git != "":
		ref := p.Rev
		if ref == "" {
			ref = p.Tag
		}
		if ref == "" {
			ref = p.Branch
		}
		d.Source = model.SourceId{Kind: model.SourceGit, URL: p.Git, Ref: ref}
		d.Req = semverx.Any()
	default:
		req, err := semverx.ParseVersionReq(p.Version)
		if err != nil {
			return model.Dependency{}, fmt.Errorf("dependency %q: %w", name, err)
		}
		d.Req = req
	}

	return d, nil
}

// AllDependencies returns normal + build dependencies, and dev dependencies
// too when includeDev is set. Dev-dependencies participate in resolution
// only for the root package, so callers only pass true there.
func (m *Manifest) AllDependencies(includeDev bool) []model.Dependency {
	out := make([]model.Dependency, 0, len(m.Dependencies)+len(m.BuildDependencies)+len(m.DevDependencies))
	out = append(out, m.Dependencies...)
	out = append(out, m.BuildDependencies...)
	if includeDev {
		out = append(out, m.DevDependencies...)
	}
	return out
}
