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
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// rawMetadata mirrors the subset of `cargo metadata --format-version=1`'s
// JSON output this loader needs. cargo emits considerably more (features,
// targets, build scripts); everything else is ignored by omission.
type rawMetadata struct {
	WorkspaceRoot    string       `json:"workspace_root"`
	Packages         []rawPackage `json:"packages"`
	WorkspaceMembers []string     `json:"workspace_members"`
}

type rawPackage struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	ID           string    `json:"id"`
	ManifestPath string    `json:"manifest_path"`
	Publish      *[]string `json:"publish"`
	Dependencies []rawDep  `json:"dependencies"`
}

type rawDep struct {
	Name string `json:"name"`
	Req  string `json:"req"`
	Kind string `json:"kind"` // "", "dev", "build"
	Path string `json:"path"`
}

// WorkspacePackage is the loader's view of a single member, before
// selection or graph construction. Publish is nil when the manifest omits
// the field (publishable to every registry); a non-nil empty slice means
// `publish = []` (not publishable); a non-nil non-empty slice still means
// publishable, just restricted to specific registries.
type WorkspacePackage struct {
	Name         string
	Version      *semver.Version
	ManifestPath string
	Publish      *[]string
	Dependencies []DepEdge
}

// Publishable reports whether the publish field allows publishing to
// some registry.
func (w WorkspacePackage) Publishable() bool {
	return w.Publish == nil || len(*w.Publish) > 0
}

// WorkspaceMetadata is the resolved output of the metadata loader.
type WorkspaceMetadata struct {
	WorkspaceRoot string
	Packages      []WorkspacePackage
}

// LoadMetadata resolves path to a workspace manifest and invokes `cargo
// metadata` against it. path may be a manifest file or a
// directory containing one.
func LoadMetadata(ctx context.Context, opts *Options, path string) (*WorkspaceMetadata, error) {
	manifestPath, err := resolveManifestPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace manifest: %w", err)
	}

	cmd := exec.CommandContext(ctx, opts.CargoExe(), "metadata", "--format-version=1", "--no-deps", "--manifest-path", manifestPath)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("cargo metadata --manifest-path %s: %w", manifestPath, exitErrorWithStderr(err))
	}

	var raw rawMetadata
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("parsing cargo metadata output: %w", err)
	}

	packages := make([]WorkspacePackage, 0, len(raw.Packages))
	for _, p := range raw.Packages {
		// Member versions are exact published versions, never ranges;
		// StrictNewVersion rejects the partial forms NewVersion coerces.
		version, err := semver.StrictNewVersion(p.Version)
		if err != nil {
			return nil, fmt.Errorf("package %s has invalid version %q: %w", p.Name, p.Version, err)
		}
		deps := make([]DepEdge, 0, len(p.Dependencies))
		for _, d := range p.Dependencies {
			deps = append(deps, DepEdge{
				Name:       d.Name,
				Kind:       parseKind(d.Kind),
				VersionReq: d.Req,
				Path:       d.Path,
			})
		}
		packages = append(packages, WorkspacePackage{
			Name:         p.Name,
			Version:      version,
			ManifestPath: p.ManifestPath,
			Publish:      p.Publish,
			Dependencies: deps,
		})
	}

	return &WorkspaceMetadata{
		WorkspaceRoot: raw.WorkspaceRoot,
		Packages:      packages,
	}, nil
}

func parseKind(kind string) DependencyKind {
	switch kind {
	case "dev":
		return Development
	case "build":
		return Build
	case "":
		return Normal
	default:
		return Other
	}
}

// resolveManifestPath accepts either a manifest file or a directory
// containing one.
func resolveManifestPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return filepath.Join(path, "Cargo.toml"), nil
	}
	return path, nil
}

// exitErrorWithStderr folds an *exec.ExitError's stderr into the returned
// error so callers don't need to special-case the type themselves.
func exitErrorWithStderr(err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, exitErr.Stderr)
	}
	return err
}
