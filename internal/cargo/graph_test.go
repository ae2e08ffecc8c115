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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testPackage(t *testing.T, name, version string, shouldPublish bool, deps ...DepEdge) *Package {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	manifest := filepath.Join(dir, "Cargo.toml")
	return NewPackage(name, mustVersion(t, version), manifest, dir, deps, shouldPublish)
}

func TestResolveOneRecordsEdges(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true)
	b := testPackage(t, "b", "0.2.0", true,
		DepEdge{Name: "a", Kind: Normal, VersionReq: "*", Path: a.PackageDir},
		DepEdge{Name: "serde", Kind: Normal, VersionReq: "^1"},
	)
	byName := map[string]*Package{"a": a, "b": b}

	edits, err := resolveOne(b, byName, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 1 || edits[0].key != "a" || edits[0].newVersion != "=1.0.0" || edits[0].section != "dependencies" {
		t.Errorf("unexpected edits: %+v", edits)
	}
	if len(b.Deps()) != 1 || b.Deps()[0] != a {
		t.Error("expected b to depend on a")
	}
	if len(a.Dependants()) != 1 || a.Dependants()[0] != b {
		t.Error("expected a to list b as dependant")
	}
}

func TestResolveOneDevDependencySection(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true)
	b := testPackage(t, "b", "0.2.0", true,
		DepEdge{Name: "a", Kind: Development, VersionReq: "*", Path: a.PackageDir},
	)
	byName := map[string]*Package{"a": a, "b": b}

	edits, err := resolveOne(b, byName, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 1 || edits[0].section != "dev-dependencies" {
		t.Errorf("unexpected edits: %+v", edits)
	}
}

func TestResolveOneAlreadyExact(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true)
	b := testPackage(t, "b", "0.2.0", true,
		DepEdge{Name: "a", Kind: Normal, VersionReq: "=1.0.0", Path: a.PackageDir},
	)
	byName := map[string]*Package{"a": a, "b": b}

	edits, err := resolveOne(b, byName, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 0 {
		t.Errorf("an already exact requirement must produce no edits, got %+v", edits)
	}
}

func TestResolveOneUnresolvedLocalDependency(t *testing.T) {
	b := testPackage(t, "b", "0.2.0", true,
		DepEdge{Name: "ghost", Kind: Normal, VersionReq: "*", Path: "/nowhere/ghost"},
	)
	_, err := resolveOne(b, map[string]*Package{"b": b}, true)
	if !errors.Is(err, ErrLocalDepUnresolved) {
		t.Errorf("expected ErrLocalDepUnresolved, got %v", err)
	}
}

func TestResolveOneNonPublishableDependency(t *testing.T) {
	x := testPackage(t, "x", "1.0.0", false)
	a := testPackage(t, "a", "1.0.0", true,
		DepEdge{Name: "x", Kind: Normal, VersionReq: "*", Path: x.PackageDir},
	)
	byName := map[string]*Package{"a": a, "x": x}

	_, err := resolveOne(a, byName, true)
	if !errors.Is(err, ErrDepNotPublishable) {
		t.Errorf("expected ErrDepNotPublishable, got %v", err)
	}
}

func TestResolveOneWildcardWithoutPath(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true,
		DepEdge{Name: "foo", Kind: Normal, VersionReq: "*"},
	)
	_, err := resolveOne(a, map[string]*Package{"a": a}, false)
	if !errors.Is(err, ErrWildcardRequirement) {
		t.Errorf("expected ErrWildcardRequirement, got %v", err)
	}
}

func TestResolveOneDevWildcardWithoutPath(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true,
		DepEdge{Name: "foo", Kind: Development, VersionReq: "*"},
	)
	_, err := resolveOne(a, map[string]*Package{"a": a}, false)
	if !errors.Is(err, ErrWildcardRequirement) {
		t.Errorf("expected ErrWildcardRequirement for dev dependencies too, got %v", err)
	}
}

func TestBuildGraphReadySet(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true)
	b := testPackage(t, "b", "1.0.0", true)
	c := testPackage(t, "c", "1.0.0", true)
	b.AddDep(a)
	c.AddDep(a)
	c.AddDep(b)

	graph, err := buildGraph([]*Package{a, b, c})
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Ready) != 1 || graph.Ready[0] != a {
		t.Errorf("expected only a to be initially ready, got %v", graph.Ready)
	}
}

func TestBuildGraphCycle(t *testing.T) {
	a := testPackage(t, "a", "1.0.0", true)
	b := testPackage(t, "b", "1.0.0", true)
	a.AddDep(b)
	b.AddDep(a)

	_, err := buildGraph([]*Package{a, b})
	if err == nil || !strings.Contains(err.Error(), "not all published") {
		t.Errorf("expected cycle rejection, got %v", err)
	}
}

// TestBuildAndRewrite exercises the combined walk end to end against
// manifests on disk: edges recorded, b's manifest rewritten, and the
// workspace manifest's path-only entry amended.
func TestBuildAndRewrite(t *testing.T) {
	root := t.TempDir()
	writeFile := func(rel, contents string) string {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	writeFile("Cargo.toml", strings.Join([]string{
		`[workspace]`,
		`members = ["a", "b"]`,
		``,
		`[workspace.dependencies]`,
		`a = { path = "a" }`,
		``,
	}, "\n"))
	aManifest := writeFile("a/Cargo.toml", "[package]\nname = \"a\"\nversion = \"1.0.0\"\n")
	bManifest := writeFile("b/Cargo.toml", strings.Join([]string{
		`[package]`,
		`name = "b"`,
		`version = "0.2.0"`,
		``,
		`[dependencies]`,
		`a = { path = "../a" }`,
		``,
	}, "\n"))

	a := NewPackage("a", mustVersion(t, "1.0.0"), aManifest, filepath.Dir(aManifest), nil, true)
	b := NewPackage("b", mustVersion(t, "0.2.0"), bManifest, filepath.Dir(bManifest), []DepEdge{
		{Name: "a", Kind: Normal, VersionReq: "*", Path: filepath.Dir(aManifest)},
	}, true)
	byName := map[string]*Package{"a": a, "b": b}

	opts := &Options{ResolveVersions: true}
	graph, err := BuildAndRewrite(context.Background(), opts, root, []*Package{a, b}, byName)
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Ready) != 1 || graph.Ready[0] != a {
		t.Errorf("expected a to be the only ready package, got %v", graph.Ready)
	}

	contents, err := os.ReadFile(bManifest)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(contents), `a = { path = "../a", version = "=1.0.0" }`) {
		t.Errorf("expected b's manifest to pin a, got:\n%s", contents)
	}
	workspace, err := os.ReadFile(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(workspace), `a = { path = "a", version = "=1.0.0" }`) {
		t.Errorf("expected the workspace manifest to pin a, got:\n%s", workspace)
	}
}
