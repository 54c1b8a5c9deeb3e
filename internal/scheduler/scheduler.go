// Package scheduler implements the cooperative task runtime (component F)
// that drives the futures returned by the graph engine (component E): a
// bounded worker pool, deadline/cancellation plumbing, and workunit
// progress reporting (start/complete/fail).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/graph"
)

// WorkUnit is one unit of progress reporting: one node request's lifecycle
// (§3 "Workunit": "one node or subprocess start/complete event").
type WorkUnit struct {
	ID        string
	Name      string
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Reporter receives workunit lifecycle events. Implementations must be safe
// for concurrent use; the pool calls these from as many goroutines as its
// configured parallelism.
type Reporter interface {
	Started(WorkUnit)
	Completed(WorkUnit)
	Failed(WorkUnit)
}

// NoopReporter discards every event, for callers that don't need progress
// output (tests, one-shot intrinsics invoked outside a session).
type NoopReporter struct{}

func (NoopReporter) Started(WorkUnit)   {}
func (NoopReporter) Completed(WorkUnit) {}
func (NoopReporter) Failed(WorkUnit)    {}

// Request is one root-product request the scheduler should drive to
// completion: a node key plus a human-readable name for workunit reporting.
type Request struct {
	Key  graph.Key
	Name string
}

// Pool is a bounded worker pool over the graph engine: it caps parallelism
// with a fixed-size semaphore (§4.F "caps parallelism with a configurable
// fixed-size worker pool") and schedules both CPU-bound rule bodies and
// I/O-bound process waits on that same pool, trusting the engine's request
// suspension points for fairness rather than separating queues by kind.
type Pool struct {
	sem      *semaphore.Weighted
	reporter Reporter
}

// New creates a Pool capped at maxParallelism concurrent node requests.
// reporter may be nil, in which case workunit events are discarded.
func New(maxParallelism int64, reporter Reporter) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = 1
	}
	if reporter == nil {
		reporter = NoopReporter{}
	}
	return &Pool{sem: semaphore.NewWeighted(maxParallelism), reporter: reporter}
}

// Request schedules a single root-product request against eng, acquiring a
// worker slot, reporting a workunit, and releasing the slot on return.
func (p *Pool) Request(ctx context.Context, eng *graph.Engine, req Request) (any, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, strataerrors.New(strataerrors.KindCancelled, err)
	}
	defer p.sem.Release(1)

	wu := WorkUnit{ID: uuid.NewString(), Name: req.Name, StartedAt: time.Now()}
	p.reporter.Started(wu)

	value, err := eng.Request(ctx, req.Key)

	wu.EndedAt = time.Now()
	if err != nil {
		wu.Err = err
		p.reporter.Failed(wu)
		return nil, err
	}
	p.reporter.Completed(wu)
	return value, nil
}

// Results is the outcome of a batch of root-product requests: one value per
// request in input order, and the accumulated failures (possibly more than
// one, under keep-going semantics).
type Results struct {
	Values []any
	Errs   []error
}

// RunGoals drives every request in reqs, honoring keepGoing (§4.I
// "--keep-going semantics"): when false, the first failure cancels the
// remaining in-flight requests via an errgroup-derived context and further
// pending requests are never started; when true, every request runs to
// completion (success or failure) regardless of its siblings' outcomes, and
// every failure is collected rather than just the first.
func (p *Pool) RunGoals(ctx context.Context, eng *graph.Engine, reqs []Request, keepGoing bool) (Results, error) {
	values := make([]any, len(reqs))

	if !keepGoing {
		eg, gctx := errgroup.WithContext(ctx)
		for i, req := range reqs {
			i, req := i, req
			eg.Go(func() error {
				v, err := p.Request(gctx, eng, req)
				if err != nil {
					return fmt.Errorf("%s: %w", req.Name, err)
				}
				values[i] = v
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Results{Values: values, Errs: []error{err}}, err
		}
		return Results{Values: values}, nil
	}

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Request(ctx, eng, req)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", req.Name, err)
				return
			}
			values[i] = v
		}()
	}
	wg.Wait()

	var collected []error
	for _, e := range errs {
		if e != nil {
			collected = append(collected, e)
		}
	}
	if len(collected) > 0 {
		return Results{Values: values, Errs: collected}, collected[0]
	}
	return Results{Values: values}, nil
}
