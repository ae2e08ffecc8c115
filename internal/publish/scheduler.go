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

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/romnn/cargo-publish-go/internal/cargo"
)

// ErrNotAllPublished is returned when the scheduler's ready/in-flight
// structures both empty out while some selected publishable package never
// reached published=true (also reached when the graph turns out not to
// be acyclic).
var ErrNotAllPublished = errors.New("publish: not all published")

const defaultConcurrencyLimit = 4

// Publisher runs a single package's publish attempt. *Engine satisfies it.
type Publisher interface {
	Publish(ctx context.Context, p *cargo.Package) error
}

// Scheduler drives graph.Ready through Publisher.Publish in dependency
// order, bounded by a concurrency cap.
type Scheduler struct {
	graph            *cargo.Graph
	publisher        Publisher
	concurrencyLimit int64
}

// NewScheduler constructs a Scheduler. concurrencyLimit <= 0 uses the
// default of 4.
func NewScheduler(graph *cargo.Graph, publisher Publisher, concurrencyLimit int) *Scheduler {
	limit := int64(concurrencyLimit)
	if limit <= 0 {
		limit = defaultConcurrencyLimit
	}
	return &Scheduler{graph: graph, publisher: publisher, concurrencyLimit: limit}
}

// Run drives every node in s.graph to published=true, or returns the first
// task error (cancelling the rest) or ErrNotAllPublished.
func (s *Scheduler) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(s.concurrencyLimit)

	ready := append([]*cargo.Package(nil), s.graph.Ready...)
	// Buffered so a finishing task never blocks on the driver; the driver
	// may itself be blocked in sem.Acquire waiting for that task's permit.
	completions := make(chan *cargo.Package, len(s.graph.Packages))
	inFlight := 0

	// A dependant can look ready while two of its dependencies have
	// completed but only one completion has been processed; enqueued keeps
	// it from entering the ready queue twice.
	enqueued := make(map[*cargo.Package]bool, len(s.graph.Packages))
	for _, p := range ready {
		enqueued[p] = true
	}

	launch := func(p *cargo.Package) {
		inFlight++
		if err := sem.Acquire(ctx, 1); err != nil {
			// context already cancelled; unwind without launching
			inFlight--
			return
		}
		eg.Go(func() error {
			defer sem.Release(1)
			// Cancellation (a peer's failure) stops new launches and
			// interrupts Publish only at its waits; a cargo subprocess
			// that has already started runs to completion (see
			// Engine.runCargoPublish).
			err := s.publisher.Publish(ctx, p)
			completions <- p
			return err
		})
	}

	// Every node handed to the scheduler is publishable: cargo.Select keeps
	// non-publishable members out of the graph (and logs the skip there).
	for len(ready) > 0 || inFlight > 0 {
		for len(ready) > 0 {
			p := ready[0]
			ready = ready[1:]
			launch(p)
		}

		if inFlight == 0 {
			break
		}

		select {
		case completed := <-completions:
			inFlight--
			appendReadyDependants(completed, &ready, enqueued)
		case <-ctx.Done():
			inFlight = 0
			ready = nil
		}
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	for _, p := range s.graph.Packages {
		if !p.Published() {
			return ErrNotAllPublished
		}
	}
	return nil
}

// appendReadyDependants implements the completion-phase fan-out: for every
// dependant of completed that is now ready and not yet published, append it
// to the ready queue, in discovery order (FIFO, no further ordering
// guaranteed).
func appendReadyDependants(completed *cargo.Package, ready *[]*cargo.Package, enqueued map[*cargo.Package]bool) {
	for _, dependant := range completed.Dependants() {
		if dependant.Ready() && !dependant.Published() && !enqueued[dependant] {
			enqueued[dependant] = true
			*ready = append(*ready, dependant)
		}
	}
}
