// Package semverx adapts github.com/Masterminds/semver/v3 to the narrower
// vocabulary the resolver needs: a single Version type and a VersionReq
// constraint type, with set-intersection semantics over the version lattice.
package semverx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a concrete, parsed semantic version.
type Version struct {
	v *semver.Version
}

// ParseVersion parses a semantic version string such as "1.2.3" or
// "2.0.0-beta.1".
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

func (v Version) String() string { return v.v.Original() }

// Prerelease reports whether v carries a pre-release component.
func (v Version) Prerelease() bool { return v.v.Prerelease() != "" }

// SameTriple reports whether v and o share (major, minor, patch).
func (v Version) SameTriple(o Version) bool {
	return v.v.Major() == o.v.Major() && v.v.Minor() == o.v.Minor() && v.v.Patch() == o.v.Patch()
}

// Compare returns -1, 0, or 1 per semver ordering.
func (v Version) Compare(o Version) int { return v.v.Compare(o.v) }

// VersionReq is a constraint over concrete versions: the universe (`*`), a
// pin (`=v`), or a comparator set composed by Masterminds/semver (`^`, `~`,
// `>=`, ranges joined with commas/spaces).
type VersionReq struct {
	raw    string
	star   bool
	exact  *Version
	constr *semver.Constraints
}

// Any is the universal requirement: it matches every version.
func Any() VersionReq { return VersionReq{raw: "*", star: true} }

// Exact builds the requirement that matches v and only v, formatted the way
// a registry index records it ("= 1.2.3", with the space).
func Exact(v Version) VersionReq {
	return VersionReq{raw: "= " + v.String(), exact: &v}
}

// ParseVersionReq parses a requirement expression. An empty string and "*"
// are both treated as the universal requirement.
func ParseVersionReq(s string) (VersionReq, error) {
	if s == "" || s == "*" {
		return Any(), nil
	}
	if len(s) > 0 && s[0] == '=' {
		v, err := ParseVersion(strings.TrimSpace(s[1:]))
		if err != nil {
			return VersionReq{}, fmt.Errorf("parse exact requirement %q: %w", s, err)
		}
		return Exact(v), nil
	}

	c, err := semver.NewConstraint(s)
	if err != nil {
		return VersionReq{}, fmt.Errorf("parse requirement %q: %w", s, err)
	}
	return VersionReq{raw: s, constr: c}, nil
}

func (r VersionReq) String() string {
	if r.star {
		return "*"
	}
	return r.raw
}

// Matches reports whether v satisfies the requirement, applying the usual
// semver pre-release rule: a pre-release version only matches a range
// whose lower bound shares its (major, minor, patch) and is itself a
// pre-release. Masterminds/semver already enforces this rule internally for
// constraint sets; the exact-pin and universal cases are handled directly
// here since they bypass semver.Constraints.
func (r VersionReq) Matches(v Version) bool {
	if r.star {
		return true
	}
	if r.exact != nil {
		if v.Prerelease() && !r.exact.Prerelease() {
			return false
		}
		return v.Compare(*r.exact) == 0
	}
	return r.constr.Check(v.v)
}

// SortDescending orders versions highest-first, the order the registry
// source's Query must return candidates in.
func SortDescending(vs []Version) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Compare(vs[j]) > 0 })
}
