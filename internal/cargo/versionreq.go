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
	"strings"

	"github.com/Masterminds/semver/v3"
)

// wildcard probes: a requirement that admits both of these admits every
// release, which is what "no specific version" means for a registry.
var (
	probeLow  = semver.MustParse("0.0.1")
	probeHigh = semver.MustParse("999999.999999.999999")
)

// isWildcardReq reports whether a declared version requirement pins
// nothing at all. The bare "*" (and the empty requirement cargo reports
// for it) is the common case; requirements like ">=0" that also admit
// every version are treated the same way.
func isWildcardReq(req string) bool {
	trimmed := strings.TrimSpace(req)
	if trimmed == "" || trimmed == "*" {
		return true
	}
	c, err := semver.NewConstraint(trimmed)
	if err != nil {
		return false
	}
	return c.Check(probeLow) && c.Check(probeHigh)
}

// validateReq checks that a declared requirement is parseable. cargo
// itself rejects malformed requirements long before a publish run, so a
// failure here usually means the metadata came from a stub or a newer
// requirement syntax.
func validateReq(d DepEdge, owner string) error {
	if d.VersionReq == "" {
		return nil
	}
	if _, err := semver.NewConstraint(d.VersionReq); err != nil {
		return fmt.Errorf("dependency %s of %s has unparseable version requirement %q: %w", d.Name, owner, d.VersionReq, err)
	}
	return nil
}
