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
	"log/slog"
	"path/filepath"
)

// Select applies the publishability filter and returns one Package per
// workspace member that passes, plus the underlying publishability
// decision for every member (selected or not) so the manifest rewriter and
// DAG builder can look up non-selected path= targets by name.
//
// select(P) = publishable(P) ∧ included(P) ∧ ¬excluded(P); exclude wins
// over include.
func Select(meta *WorkspaceMetadata, include, exclude []string) (selected []*Package, byName map[string]*Package) {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	byName = make(map[string]*Package, len(meta.Packages))
	for _, w := range meta.Packages {
		shouldPublish := selectOne(w, includeSet, excludeSet)
		pkg := NewPackage(w.Name, w.Version, w.ManifestPath, filepath.Dir(w.ManifestPath), w.Dependencies, shouldPublish)
		byName[w.Name] = pkg
		if shouldPublish {
			selected = append(selected, pkg)
		} else {
			slog.Info("skipping package that will not be published", "name", w.Name, "version", w.Version.String())
		}
	}
	return selected, byName
}

func selectOne(w WorkspacePackage, include, exclude map[string]struct{}) bool {
	publishable := w.Publishable()
	included := len(include) == 0
	if !included {
		_, included = include[w.Name]
	}
	_, excluded := exclude[w.Name]
	return publishable && included && !excluded
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
