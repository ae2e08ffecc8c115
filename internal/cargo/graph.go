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

package cargo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// manifestFanOut bounds the concurrent per-package dependency resolution
// of the combined rewrite+graph walk. The manifest reads and writes that
// follow it run one at a time.
const manifestFanOut = 8

// Sentinel errors for the dependency walk, matchable with errors.Is.
var (
	// ErrLocalDepUnresolved means a path= dependency points at no known
	// workspace member.
	ErrLocalDepUnresolved = errors.New("could not resolve local dependency")
	// ErrDepNotPublishable means a path= dependency resolves to a member
	// that will not be published.
	ErrDepNotPublishable = errors.New("dependency will not be published")
	// ErrWildcardRequirement means a registry dependency carries no usable
	// version requirement.
	ErrWildcardRequirement = errors.New("dependency has no specific version")
)

// Graph is the output of the combined manifest-rewrite and DAG-build walk:
// a directed graph over selected members plus the derived initial ready
// set.
type Graph struct {
	Packages []*Package
	Ready    []*Package
}

// graphNode adapts *Package to gonum's graph.Node interface.
type graphNode struct {
	id  int64
	pkg *Package
}

func (n *graphNode) ID() int64 { return n.id }

// BuildAndRewrite performs the manifest rewrite walk and the DAG
// construction as a single pass over selected; both need the same
// dependency resolution. byName must contain every workspace member,
// selected or not, keyed by package name.
func BuildAndRewrite(ctx context.Context, opts *Options, workspaceRoot string, selected []*Package, byName map[string]*Package) (*Graph, error) {
	var (
		mu              sync.Mutex
		editsByManifest = make(map[string][]manifestEdit)
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(manifestFanOut)

	for _, p := range selected {
		p := p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			edits, err := resolveOne(p, byName, opts.ResolveVersions)
			if err != nil {
				return err
			}
			if len(edits) > 0 {
				mu.Lock()
				editsByManifest[p.ManifestPath] = append(editsByManifest[p.ManifestPath], edits...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for manifestPath, edits := range editsByManifest {
		if _, err := rewriteManifest(manifestPath, edits, opts.DryRun); err != nil {
			return nil, err
		}
	}

	if workspaceRoot != "" {
		workspaceManifest := filepath.Join(workspaceRoot, "Cargo.toml")
		resolve := func(name string) (string, bool) {
			q, ok := byName[name]
			if !ok || !opts.ResolveVersions {
				return "", false
			}
			return exactVersionReq(q.Version), true
		}
		if _, err := amendWorkspaceDependencies(workspaceManifest, resolve, opts.DryRun); err != nil {
			return nil, err
		}
	}

	return buildGraph(selected)
}

// resolveOne walks a package's declared dependencies: resolving path=
// edges, validating non-publishable targets, computing manifest edits
// when versions are being resolved, and rejecting path-less wildcards.
func resolveOne(p *Package, byName map[string]*Package, resolveVersions bool) ([]manifestEdit, error) {
	var edits []manifestEdit
	for _, d := range p.DeclaredDeps {
		if d.Path == "" {
			if d.IsWildcard() {
				return nil, fmt.Errorf("%s depends on %s: %w", p.Name, d.Name, ErrWildcardRequirement)
			}
			if err := validateReq(d, p.Name); err != nil {
				return nil, err
			}
			continue
		}

		q, ok := byName[d.Name]
		if !ok {
			return nil, fmt.Errorf("%s depends on %s: %w", p.Name, d.Name, ErrLocalDepUnresolved)
		}
		if !q.ShouldPublish {
			return nil, fmt.Errorf("cannot publish %s: %s: %w", p.Name, q.Name, ErrDepNotPublishable)
		}

		p.AddDep(q)

		if !resolveVersions {
			continue
		}
		newReq := exactVersionReq(q.Version)
		if newReq == d.VersionReq {
			continue
		}
		section, ok := depSections[d.Kind]
		if !ok {
			// Target-specific or otherwise unclassified dependency tables
			// are out of scope for the rewriter.
			continue
		}
		edits = append(edits, manifestEdit{section: section, key: d.Name, newVersion: newReq})
	}
	return edits, nil
}

// exactVersionReq pins a requirement to the member's release, dropping any
// pre-release suffix.
func exactVersionReq(v *semver.Version) string {
	return fmt.Sprintf("=%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// buildGraph wires a gonum directed graph over selected for cycle
// detection and derives the initial ready set.
func buildGraph(selected []*Package) (*Graph, error) {
	g := simple.NewDirectedGraph()
	nodes := make(map[*Package]*graphNode, len(selected))
	for i, p := range selected {
		n := &graphNode{id: int64(i), pkg: p}
		nodes[p] = n
		g.AddNode(n)
	}
	for _, p := range selected {
		for _, dep := range p.Deps() {
			if dn, ok := nodes[dep]; ok {
				g.SetEdge(g.NewEdge(nodes[p], dn))
			}
		}
	}

	if _, err := topo.Sort(g); err != nil {
		if _, ok := err.(topo.Unorderable); ok {
			return nil, fmt.Errorf("dependency graph is not acyclic: not all published")
		}
		return nil, err
	}

	var ready []*Package
	for _, p := range selected {
		if len(p.Deps()) == 0 {
			ready = append(ready, p)
		}
	}

	return &Graph{Packages: selected, Ready: ready}, nil
}
