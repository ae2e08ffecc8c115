// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cargo discovers the members of a cargo workspace, selects which of
// them should be published, rewrites their manifests so local path
// dependencies carry exact versions, and builds the dependency DAG the
// publish scheduler drives.
package cargo

import (
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// DependencyKind classifies a declared dependency edge.
type DependencyKind int

const (
	// Normal is an ordinary runtime dependency.
	Normal DependencyKind = iota
	// Development is a dev-dependency, only used for tests/examples.
	Development
	// Build is a build-dependency, only used by build.rs.
	Build
	// Other covers target-specific or otherwise unclassified dependencies.
	Other
)

// DepEdge is a single dependency declaration on a workspace member.
type DepEdge struct {
	Name       string
	Kind       DependencyKind
	VersionReq string
	Path       string // empty unless the dependency is path-based
}

// IsWildcard reports whether the declared requirement pins no version at
// all (the bare "*" or an equivalent open range).
func (d DepEdge) IsWildcard() bool {
	return isWildcardReq(d.VersionReq)
}

// Package is a single workspace member, shared by reference among its
// dependants. The edge maps and the published flag are mutated after
// construction and are protected by per-field locks; the
// remaining fields are set once at construction and never change.
type Package struct {
	Name         string
	Version      *semver.Version
	ManifestPath string // path to this package's Cargo.toml
	PackageDir   string // parent directory of ManifestPath
	DeclaredDeps []DepEdge

	// ShouldPublish is false when `publish = []` (or similar) excludes the
	// package, or when it was filtered out by --include/--exclude. A
	// non-publishable package is never a node in the graph; a selected
	// package that path-depends on one is a configuration error caught
	// during DAG construction.
	ShouldPublish bool

	mu        sync.Mutex
	published bool

	edgesMu    sync.RWMutex
	deps       map[string]*Package
	dependants map[string]*Package
}

// NewPackage constructs a Package with empty edge maps.
func NewPackage(name string, version *semver.Version, manifestPath, packageDir string, deps []DepEdge, shouldPublish bool) *Package {
	return &Package{
		Name:          name,
		Version:       version,
		ManifestPath:  manifestPath,
		PackageDir:    packageDir,
		DeclaredDeps:  deps,
		ShouldPublish: shouldPublish,
		deps:          make(map[string]*Package),
		dependants:    make(map[string]*Package),
	}
}

// Published reports whether the package has been successfully published.
func (p *Package) Published() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// MarkPublished transitions Published() to true. It is safe to call more
// than once; only the first call has an effect, and the flag never
// transitions back.
func (p *Package) MarkPublished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = true
}

// AddDep records a resolved outgoing edge to dep, and the corresponding
// inverse edge on dep.
func (p *Package) AddDep(dep *Package) {
	p.edgesMu.Lock()
	p.deps[dep.Name] = dep
	p.edgesMu.Unlock()

	dep.edgesMu.Lock()
	dep.dependants[p.Name] = p
	dep.edgesMu.Unlock()
}

// Deps returns a snapshot of the resolved outgoing edges.
func (p *Package) Deps() []*Package {
	p.edgesMu.RLock()
	defer p.edgesMu.RUnlock()
	out := make([]*Package, 0, len(p.deps))
	for _, d := range p.deps {
		out = append(out, d)
	}
	return out
}

// Dependants returns a snapshot of the resolved inverse edges.
func (p *Package) Dependants() []*Package {
	p.edgesMu.RLock()
	defer p.edgesMu.RUnlock()
	out := make([]*Package, 0, len(p.dependants))
	for _, d := range p.dependants {
		out = append(out, d)
	}
	return out
}

// Ready reports whether every outgoing dependency edge has been published.
func (p *Package) Ready() bool {
	p.edgesMu.RLock()
	defer p.edgesMu.RUnlock()
	for _, d := range p.deps {
		if !d.Published() {
			return false
		}
	}
	return true
}

// Options configures a publish run. It is immutable for the duration of
// the run.
type Options struct {
	// Path to a package or workspace manifest, or the directory containing one.
	Path string

	// RegistryToken is bound to CARGO_REGISTRY_TOKEN for `cargo publish`.
	RegistryToken string

	// DryRun performs all checks without publishing.
	DryRun bool

	// PublishDelay is the settle delay after a package becomes visible on
	// the registry, before dependants are unblocked. nil means the default
	// of 30s; a zero value means no delay.
	PublishDelay *time.Duration

	// NoVerify disables `cargo publish`'s local build verification.
	NoVerify bool

	// ResolveVersions rewrites local path dependency version requirements
	// to an exact match of the target package's version.
	ResolveVersions bool

	// Include, if non-empty, restricts publishing to these package names.
	Include []string

	// Exclude removes these package names from publishing. Exclude wins
	// over Include when both name the same package.
	Exclude []string

	// MaxRetries bounds publish attempts. Zero means "unset": publish.Run
	// defaults it to max(2*len(selected), 10).
	MaxRetries int

	// ConcurrencyLimit bounds in-flight publish tasks. Zero means "unset":
	// the scheduler defaults to 4.
	ConcurrencyLimit int

	// CargoPath overrides the executable invoked for `cargo`, defaulting
	// to "cargo". Tests substitute stub scripts here.
	CargoPath string
}

// CargoExe returns the cargo executable to invoke.
func (o *Options) CargoExe() string {
	if o.CargoPath != "" {
		return o.CargoPath
	}
	return "cargo"
}
