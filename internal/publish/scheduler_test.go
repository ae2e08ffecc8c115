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
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-cmp/cmp"

	"github.com/romnn/cargo-publish-go/internal/cargo"
)

// fakePublisher records publish order and concurrency, marking packages
// published unless told otherwise.
type fakePublisher struct {
	delay    time.Duration
	fail     map[string]error
	skipMark map[string]bool

	mu          sync.Mutex
	order       []string
	inFlight    int
	maxInFlight int
}

func (f *fakePublisher) Publish(ctx context.Context, p *cargo.Package) error {
	f.mu.Lock()
	f.order = append(f.order, p.Name)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err := f.fail[p.Name]; err != nil {
		return err
	}
	if !f.skipMark[p.Name] {
		p.MarkPublished()
	}
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func schedulerPackage(t *testing.T, name string) *cargo.Package {
	t.Helper()
	version, err := semver.StrictNewVersion("1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	return cargo.NewPackage(name, version, dir+"/Cargo.toml", dir, nil, true)
}

// testGraph derives the ready set from the edges already wired onto pkgs.
func testGraph(pkgs ...*cargo.Package) *cargo.Graph {
	graph := &cargo.Graph{Packages: pkgs}
	for _, p := range pkgs {
		if len(p.Deps()) == 0 {
			graph.Ready = append(graph.Ready, p)
		}
	}
	return graph
}

func TestSchedulerLinear(t *testing.T) {
	a := schedulerPackage(t, "a")
	b := schedulerPackage(t, "b")
	b.AddDep(a)

	pub := &fakePublisher{}
	if err := NewScheduler(testGraph(a, b), pub, 4).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, pub.published()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
	if !a.Published() || !b.Published() {
		t.Error("expected both packages to be published")
	}
}

func TestSchedulerFanOut(t *testing.T) {
	a := schedulerPackage(t, "a")
	b := schedulerPackage(t, "b")
	c := schedulerPackage(t, "c")
	b.AddDep(a)
	c.AddDep(a)

	pub := &fakePublisher{delay: 20 * time.Millisecond}
	if err := NewScheduler(testGraph(a, b, c), pub, 4).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	order := pub.published()
	if len(order) != 3 || order[0] != "a" {
		t.Errorf("expected a to publish first, got %v", order)
	}
	if pub.maxInFlight < 2 {
		t.Errorf("expected b and c to overlap, max in-flight was %d", pub.maxInFlight)
	}
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	var pkgs []*cargo.Package
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		pkgs = append(pkgs, schedulerPackage(t, name))
	}

	pub := &fakePublisher{delay: 10 * time.Millisecond}
	if err := NewScheduler(testGraph(pkgs...), pub, 2).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if pub.maxInFlight > 2 {
		t.Errorf("concurrency cap violated: %d in flight", pub.maxInFlight)
	}
	if len(pub.published()) != 6 {
		t.Errorf("expected every package to publish, got %v", pub.published())
	}
}

func TestSchedulerDiamondPublishesOnce(t *testing.T) {
	a := schedulerPackage(t, "a")
	b := schedulerPackage(t, "b")
	c := schedulerPackage(t, "c")
	d := schedulerPackage(t, "d")
	b.AddDep(a)
	c.AddDep(a)
	d.AddDep(b)
	d.AddDep(c)

	pub := &fakePublisher{delay: 5 * time.Millisecond}
	if err := NewScheduler(testGraph(a, b, c, d), pub, 4).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	order := pub.published()
	slices.Sort(order)
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, order); diff != "" {
		t.Errorf("every package must publish exactly once (-want, +got):\n%s", diff)
	}
}

func TestSchedulerErrorAborts(t *testing.T) {
	a := schedulerPackage(t, "a")
	b := schedulerPackage(t, "b")
	b.AddDep(a)

	wantErr := errors.New("boom")
	pub := &fakePublisher{fail: map[string]error{"a": wantErr}}
	err := NewScheduler(testGraph(a, b), pub, 4).Run(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the task error to surface, got %v", err)
	}
	if slices.Contains(pub.published(), "b") {
		t.Error("a dependant of a failed package must never start")
	}
}

func TestSchedulerNotAllPublished(t *testing.T) {
	a := schedulerPackage(t, "a")
	pub := &fakePublisher{skipMark: map[string]bool{"a": true}}
	err := NewScheduler(testGraph(a), pub, 4).Run(context.Background())
	if !errors.Is(err, ErrNotAllPublished) {
		t.Fatalf("expected ErrNotAllPublished, got %v", err)
	}
}

func TestSchedulerEmptyGraph(t *testing.T) {
	pub := &fakePublisher{}
	if err := NewScheduler(testGraph(), pub, 4).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(pub.published()) != 0 {
		t.Errorf("expected zero publish attempts, got %v", pub.published())
	}
}

func TestSchedulerDefaultConcurrency(t *testing.T) {
	s := NewScheduler(testGraph(), &fakePublisher{}, 0)
	if s.concurrencyLimit != defaultConcurrencyLimit {
		t.Errorf("mismatch in default concurrency, want=%d, got=%d", defaultConcurrencyLimit, s.concurrencyLimit)
	}
}
