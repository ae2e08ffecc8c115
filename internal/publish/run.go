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

package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/romnn/cargo-publish-go/internal/cargo"
	"github.com/romnn/cargo-publish-go/internal/registry"
)

const defaultPublishDelay = 30 * time.Second

// Run executes a complete publish run against the workspace at
// opts.Path: load metadata, select members, rewrite manifests and build
// the dependency graph, then drive every selected package through the
// publish attempt engine in topological order.
func Run(ctx context.Context, opts *cargo.Options) error {
	return runWithProber(ctx, opts, &registry.Probe{})
}

func runWithProber(ctx context.Context, opts *cargo.Options, prober Prober) error {
	meta, err := cargo.LoadMetadata(ctx, opts, opts.Path)
	if err != nil {
		return err
	}

	selected, byName := cargo.Select(meta, opts.Include, opts.Exclude)
	if len(selected) == 0 {
		slog.Info("no publishable packages selected, nothing to do")
		return nil
	}
	for _, p := range selected {
		slog.Info("selected for publishing", "name", p.Name, "version", p.Version.String())
	}

	graph, err := cargo.BuildAndRewrite(ctx, opts, meta.WorkspaceRoot, selected, byName)
	if err != nil {
		return fmt.Errorf("building publish graph: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2 * len(selected)
		if maxRetries < 10 {
			maxRetries = 10
		}
	}
	publishDelay := defaultPublishDelay
	if opts.PublishDelay != nil {
		publishDelay = *opts.PublishDelay
	}

	engine := NewEngine(EngineConfig{
		CargoPath:       opts.CargoPath,
		RegistryToken:   opts.RegistryToken,
		DryRun:          opts.DryRun,
		NoVerify:        opts.NoVerify,
		ResolveVersions: opts.ResolveVersions,
		PublishDelay:    publishDelay,
		MaxRetries:      maxRetries,
		Prober:          prober,
	})

	return NewScheduler(graph, engine, opts.ConcurrencyLimit).Run(ctx)
}
