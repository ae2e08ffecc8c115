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
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"

	"github.com/romnn/cargo-publish-go/internal/cargo"
)

// Prober is the subset of internal/registry.Probe the attempt engine
// needs. Tests supply a fake.
type Prober interface {
	WaitUntilAvailable(ctx context.Context, name string, version *semver.Version, timeout time.Duration) error
}

const visibilityTimeout = 120 * time.Second

// EngineConfig configures a publish attempt engine for a single run. It is
// shared, read-only, across every package's attempt.
type EngineConfig struct {
	CargoPath       string
	RegistryToken   string
	DryRun          bool
	NoVerify        bool
	ResolveVersions bool
	PublishDelay    time.Duration
	MaxRetries      int
	Prober          Prober

	// Sleep is overridable so tests don't wait out the real settle delay.
	Sleep func(ctx context.Context, d time.Duration) error

	// Timer drives the retry backoff; nil uses backoff's real timer.
	// Tests substitute one that fires immediately.
	Timer backoff.Timer
}

// Engine runs the publish-attempt algorithm for one package at a time.
// It holds no per-package mutable state; it is safe for concurrent use by
// the scheduler across multiple packages.
type Engine struct {
	cfg EngineConfig
}

// NewEngine constructs an Engine from cfg. Callers supply an already
// resolved PublishDelay; a zero value means no settle delay at all.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Sleep == nil {
		cfg.Sleep = ctxSleep
	}
	return &Engine{cfg: cfg}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Publish drives a single package through command assembly, the dry-run
// short-circuit, the retry loop, and the post-publish
// visibility/settle/update steps. It marks p published on every success
// path.
func (e *Engine) Publish(ctx context.Context, p *cargo.Package) error {
	if e.cfg.DryRun && e.cfg.ResolveVersions && len(p.Deps()) > 0 {
		slog.Info("dry-run short-circuit: local path dependencies were rewritten and will not resolve", "name", p.Name, "version", p.Version.String())
		p.MarkPublished()
		return nil
	}

	if err := e.attemptLoop(ctx, p); err != nil {
		return err
	}

	if e.cfg.DryRun {
		p.MarkPublished()
		return nil
	}

	if err := e.cfg.Prober.WaitUntilAvailable(ctx, p.Name, p.Version, visibilityTimeout); err != nil {
		return fmt.Errorf("waiting for %s@%s to become visible: %w", p.Name, p.Version, err)
	}

	if err := e.cfg.Sleep(ctx, e.cfg.PublishDelay); err != nil {
		return fmt.Errorf("waiting out settle delay for %s: %w", p.Name, err)
	}

	if err := e.runCargoUpdate(ctx, p); err != nil {
		return fmt.Errorf("cargo update after publishing %s: %w", p.Name, err)
	}

	p.MarkPublished()
	slog.Info("published", "name", p.Name, "version", p.Version.String())
	return nil
}

// attemptLoop runs cargo publish until it succeeds, fails fatally, or
// exhausts maxRetries. It returns nil on success (including the
// AlreadyPublished path).
func (e *Engine) attemptLoop(ctx context.Context, p *cargo.Package) error {
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}

	// The op below both classifies the failure and decides the next wait,
	// so the backoff policy is just "whatever the last classification said".
	var wait time.Duration
	bo := backoff.WithContext(&verdictBackOff{next: &wait}, ctx)

	attempt := 0
	op := func() error {
		attempt++
		output, err := e.runCargoPublish(ctx, p)
		if err == nil {
			return nil
		}

		verdict := Classify(string(output))
		switch verdict.Class {
		case AlreadyPublished:
			slog.Info("version already exists on the index, treating publish as successful", "name", p.Name, "version", p.Version.String())
			return nil
		case Fatal:
			return backoff.Permanent(fmt.Errorf("publishing %s@%s: %w\n%s", p.Name, p.Version, err, tail(output)))
		}

		if attempt >= maxRetries {
			return backoff.Permanent(fmt.Errorf("publishing %s@%s: exceeded %d attempts: %w\n%s", p.Name, p.Version, maxRetries, err, tail(output)))
		}

		wait = 5 * time.Minute
		if verdict.Code == http.StatusTooManyRequests {
			wait = 10 * time.Minute
		}
		slog.Warn("publish failed, retrying", "name", p.Name, "version", p.Version.String(), "class", verdict.Class, "in", wait, "at", time.Now().Add(wait).Format(time.RFC3339))
		return err
	}

	if e.cfg.Timer != nil {
		return backoff.RetryNotifyWithTimer(op, bo, nil, e.cfg.Timer)
	}
	return backoff.Retry(op, bo)
}

// verdictBackOff reads the wait the retry op last computed. The op and
// NextBackOff run sequentially on the same goroutine, so the shared
// duration needs no locking.
type verdictBackOff struct {
	next *time.Duration
}

func (b *verdictBackOff) NextBackOff() time.Duration { return *b.next }
func (b *verdictBackOff) Reset()                     {}

// tail keeps error messages readable when cargo dumps a long build log.
func tail(output []byte) []byte {
	const max = 2048
	if len(output) <= max {
		return output
	}
	return output[len(output)-max:]
}

func (e *Engine) runCargoPublish(ctx context.Context, p *cargo.Package) ([]byte, error) {
	args := []string{"publish"}
	if e.cfg.NoVerify {
		args = append(args, "--no-verify")
	}
	if e.cfg.DryRun {
		args = append(args, "--dry-run")
	}
	if e.cfg.ResolveVersions {
		args = append(args, "--allow-dirty")
	}

	// A peer task's failure cancels ctx for every in-flight sibling, but a
	// cargo invocation that has already started is never forcibly killed:
	// it runs to completion and the task winds down at its next wait.
	cmd := exec.CommandContext(context.WithoutCancel(ctx), e.cargoExe(), args...)
	cmd.Dir = p.PackageDir
	if e.cfg.RegistryToken != "" {
		cmd.Env = append(os.Environ(), "CARGO_REGISTRY_TOKEN="+e.cfg.RegistryToken)
	}
	return cmd.CombinedOutput()
}

func (e *Engine) runCargoUpdate(ctx context.Context, p *cargo.Package) error {
	// Never killed mid-run for the same reason as runCargoPublish: a
	// half-finished lockfile refresh is worse than a late one.
	cmd := exec.CommandContext(context.WithoutCancel(ctx), e.cargoExe(), "update")
	cmd.Dir = p.PackageDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%v: %w\n%s", cmd, err, output)
	}
	return nil
}

func (e *Engine) cargoExe() string {
	if e.cfg.CargoPath != "" {
		return e.cfg.CargoPath
	}
	return "cargo"
}
