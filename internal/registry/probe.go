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

// Package registry probes the crates.io read API and artifact endpoint to
// determine whether a specific package version has become visible after
// publishing.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
)

// DefaultBaseURL is the crates.io API root used when Probe.BaseURL is empty.
const DefaultBaseURL = "https://crates.io"

// errNotFound marks a get_crate response saying the package does not
// exist; IsAvailable folds it into a false return rather than an error.
var errNotFound = errors.New("registry: crate not found")

// Probe queries a crates.io-compatible registry for version visibility.
// The zero value is usable and talks to the real crates.io.
type Probe struct {
	BaseURL string
	Client  *http.Client

	// PollInterval is the fixed tick for WaitUntilAvailable; zero means 5s.
	PollInterval time.Duration
}

func (p *Probe) baseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return DefaultBaseURL
}

func (p *Probe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

type getCrateResponse struct {
	Versions []struct {
		Num    string `json:"num"`
		DlPath string `json:"dl_path"`
	} `json:"versions"`
}

// IsAvailable reports whether a version is visible: it must appear in
// the registry's index AND its artifact must respond to HEAD with 200.
func (p *Probe) IsAvailable(ctx context.Context, name string, version *semver.Version) (bool, error) {
	resp, err := p.getCrate(ctx, name)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, err
	}

	var dlPath string
	found := false
	for _, v := range resp.Versions {
		// Yanked or pre-publishing-policy versions with non-semver nums are
		// skipped rather than failing the whole probe.
		parsed, err := semver.StrictNewVersion(v.Num)
		if err != nil {
			continue
		}
		if parsed.Equal(version) {
			dlPath = v.DlPath
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL()+dlPath, nil)
	if err != nil {
		return false, fmt.Errorf("building HEAD request for %s: %w", dlPath, err)
	}
	httpResp, err := p.client().Do(req)
	if err != nil {
		return false, fmt.Errorf("HEAD %s: %w", dlPath, err)
	}
	defer httpResp.Body.Close()
	return httpResp.StatusCode == http.StatusOK, nil
}

func (p *Probe) getCrate(ctx context.Context, name string) (*getCrateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+"/api/v1/crates/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("building get_crate request for %s: %w", name, err)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("get_crate %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get_crate %s: unexpected status %s", name, resp.Status)
	}

	var decoded getCrateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding get_crate response for %s: %w", name, err)
	}
	return &decoded, nil
}

// ErrTimeout is returned by WaitUntilAvailable when timeout elapses before
// the version becomes visible.
var ErrTimeout = errors.New("registry: timed out waiting for version to become available")

// WaitUntilAvailable polls IsAvailable on a fixed tick (the first tick
// fires after one interval) until it returns true or timeout elapses.
func (p *Probe) WaitUntilAvailable(ctx context.Context, name string, version *semver.Version, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	deadline := time.Now().Add(timeout)

	interval := p.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			available, err := p.IsAvailable(ctx, name, version)
			if err != nil {
				return fmt.Errorf("checking availability of %s@%s: %w", name, version, err)
			}
			if available {
				return nil
			}
			if now.After(deadline) {
				slog.Warn("timed out waiting for registry visibility", "name", name, "version", version.String())
				return fmt.Errorf("%w: %s@%s after %s", ErrTimeout, name, version, timeout)
			}
		}
	}
}
