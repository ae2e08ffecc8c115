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
	"fmt"
	"os"
	"regexp"
	"strings"
)

// This rewriter edits only the inline-table form of a dependency
// declaration:
//
//	foo = { path = "../foo", version = "1" }
//
// The dotted-key and separate-table forms (`[dependencies.foo]`) are out of
// scope: go-toml/v2 has no position-preserving document model, so editing
// them would mean reformatting the whole file.

var sectionHeaderRe = regexp.MustCompile(`^\[(.+)\]\s*$`)

// depSections maps a DependencyKind to the manifest table that declares it.
var depSections = map[DependencyKind]string{
	Normal:      "dependencies",
	Development: "dev-dependencies",
	Build:       "build-dependencies",
}

// manifestEdit names a single inline-table key whose version field must be
// set (or inserted) to newVersion.
type manifestEdit struct {
	section    string
	key        string
	newVersion string
}

// rewriteManifest applies edits to the manifest at path, preserving every
// other line verbatim. It returns whether the file changed. When dryRun is
// true, the computed content is discarded without writing.
func rewriteManifest(path string, edits []manifestEdit, dryRun bool) (bool, error) {
	if len(edits) == 0 {
		return false, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	byKeyPerSection := make(map[string]map[string]string, len(edits))
	for _, e := range edits {
		m, ok := byKeyPerSection[e.section]
		if !ok {
			m = make(map[string]string)
			byKeyPerSection[e.section] = m
		}
		m[e.key] = e.newVersion
	}

	lines := strings.Split(string(contents), "\n")
	section := ""
	changed := false
	for i, line := range lines {
		if m := sectionHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			section = m[1]
			continue
		}
		pending, ok := byKeyPerSection[section]
		if !ok {
			continue
		}
		key, ok := inlineTableKey(line)
		if !ok {
			continue
		}
		newVersion, ok := pending[key]
		if !ok {
			continue
		}
		newLine, ok := setInlineVersion(line, newVersion)
		if !ok {
			continue
		}
		if newLine != line {
			lines[i] = newLine
			changed = true
		}
		delete(pending, key)
	}

	if !changed {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return false, fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return true, nil
}

var inlineTableLineRe = regexp.MustCompile(`^([A-Za-z0-9_-]+)\s*=\s*\{(.*)\}\s*$`)

// inlineTableKey extracts the dependency name from a line of the form
// `foo = { ... }`.
func inlineTableKey(line string) (string, bool) {
	m := inlineTableLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

var versionFieldRe = regexp.MustCompile(`version\s*=\s*"[^"]*"`)

// setInlineVersion rewrites or inserts the version field of an inline
// table line, preserving path and all other keys and their order.
func setInlineVersion(line, newVersion string) (string, bool) {
	m := inlineTableLineRe.FindStringSubmatch(line)
	if m == nil {
		return line, false
	}
	body := m[2]
	replacement := fmt.Sprintf(`version = "%s"`, newVersion)
	if versionFieldRe.MatchString(body) {
		body = versionFieldRe.ReplaceAllString(body, replacement)
	} else {
		body = strings.TrimRight(strings.TrimSpace(body), ",")
		body = body + ", " + replacement
	}
	prefix := line[:strings.Index(line, "{")+1]
	return prefix + " " + strings.TrimSpace(body) + " }", true
}

// amendWorkspaceDependencies amends the workspace manifest:
// any inline-table entry under [workspace.dependencies] with `path=` and no
// `version=` gets one filled in from resolve. Plain string entries and
// entries that already carry a version are left untouched.
func amendWorkspaceDependencies(path string, resolve func(name string) (string, bool), dryRun bool) (bool, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading workspace manifest %s: %w", path, err)
	}
	lines := strings.Split(string(contents), "\n")
	section := ""
	changed := false
	for i, line := range lines {
		if m := sectionHeaderRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			section = m[1]
			continue
		}
		if section != "workspace.dependencies" {
			continue
		}
		key, ok := inlineTableKey(line)
		if !ok {
			continue
		}
		if !strings.Contains(line, "path") || strings.Contains(line, "version") {
			continue
		}
		version, ok := resolve(key)
		if !ok {
			continue
		}
		newLine, ok := setInlineVersion(line, version)
		if !ok {
			continue
		}
		lines[i] = newLine
		changed = true
	}
	if !changed || dryRun {
		return changed, nil
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return false, fmt.Errorf("writing workspace manifest %s: %w", path, err)
	}
	return true, nil
}
