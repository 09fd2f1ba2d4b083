// Package worker provides the bounded fan-out pool that drives multi-ticker
// analysis jobs. A single dispatcher feeds units in input order to N
// workers; settled outcomes are drained by the caller's goroutine, so the
// progress callback is invoked exactly once per unit and never concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultSize is the worker count when the pool is built with size <= 0.
	DefaultSize = 10
	// DefaultUnitTimeout bounds one unit end to end, fetch through persistence.
	DefaultUnitTimeout = 60 * time.Second
)

// Sentinels for the two abnormal unit endings. Both settle the unit as a
// failure; neither aborts the run.
var (
	ErrTimeout = errors.New("worker: unit timed out")
	ErrPanic   = errors.New("worker: recovered panic")
)

// Func runs one unit and returns its payload. The context carries the
// per-unit deadline; implementations must respect it.
type Func func(ctx context.Context, unit string) (any, error)

// Outcome is one settled unit.
type Outcome struct {
	Index   int    // 1-based input position
	Unit    string
	Value   any   // payload from Func, nil on failure
	Err     error // nil on success
	Elapsed time.Duration
}

// ProgressFunc observes settled outcomes. Calls are serialized.
type ProgressFunc func(o Outcome)

// Counts summarizes a drained run.
type Counts struct {
	Dispatched int
	Succeeded  int
	Failed     int
	// Skipped units were never dispatched because the run was cancelled.
	Skipped int
}

// Pool is a reusable bounded executor. The zero value is not usable; build
// with New.
type Pool struct {
	size        int
	unitTimeout time.Duration
}

// New builds a pool with the given worker count and per-unit timeout.
// Non-positive arguments fall back to the defaults.
func New(size int, unitTimeout time.Duration) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if unitTimeout <= 0 {
		unitTimeout = DefaultUnitTimeout
	}
	return &Pool{size: size, unitTimeout: unitTimeout}
}

// Size reports the worker bound.
func (p *Pool) Size() int { return p.size }

// Run fans units out over the pool and blocks until every dispatched unit
// has settled. Cancelling ctx stops dispatch; units already running are
// left to finish under their own deadline rather than being torn down,
// which keeps half-written progress out of the store.
func (p *Pool) Run(ctx context.Context, units []string, fn Func, progress ProgressFunc) Counts {
	if len(units) == 0 {
		return Counts{}
	}

	type item struct {
		index int
		unit  string
	}
	work := make(chan item)
	results := make(chan Outcome)

	n := p.size
	if n > len(units) {
		n = len(units)
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for it := range work {
				results <- p.runUnit(ctx, it.index, it.unit, fn)
			}
		}()
	}

	go func() {
		defer close(work)
		for i, u := range units {
			// checked before the select: a ready worker and a done context
			// would otherwise race inside it
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case work <- item{index: i + 1, unit: u}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var c Counts
	for o := range results {
		c.Dispatched++
		if o.Err != nil {
			c.Failed++
		} else {
			c.Succeeded++
		}
		if progress != nil {
			progress(o)
		}
	}
	c.Skipped = len(units) - c.Dispatched
	return c
}

// runUnit executes fn under the per-unit deadline with panic containment.
// The unit context is detached from the run context so an in-flight unit
// survives cooperative cancellation; only its own deadline can cut it off.
func (p *Pool) runUnit(ctx context.Context, index int, unit string, fn Func) Outcome {
	start := time.Now()
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.unitTimeout)
	defer cancel()

	type settled struct {
		value any
		err   error
	}
	done := make(chan settled, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- settled{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := fn(uctx, unit)
		done <- settled{value: v, err: err}
	}()

	select {
	case s := <-done:
		return Outcome{Index: index, Unit: unit, Value: s.value, Err: s.err, Elapsed: time.Since(start)}
	case <-uctx.Done():
		// The fn goroutine keeps running until it observes uctx; its late
		// result lands in the buffered channel and is dropped.
		return Outcome{
			Index:   index,
			Unit:    unit,
			Err:     fmt.Errorf("%w after %s", ErrTimeout, p.unitTimeout),
			Elapsed: time.Since(start),
		}
	}
}
