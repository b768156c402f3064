// Package bridge runs database work on a dedicated worker pool and blocks the
// calling goroutine until that work finishes.
//
// The host's boundary functions are synchronous: a WASM guest calling into the
// host cannot yield. Engine work is therefore submitted to a pool of workers
// that is separate from whatever goroutines service the boundary, and the
// caller is parked on a Promise until its result is ready. Callers must come
// from goroutines that tolerate blocking; never call Run from inside work that
// is itself running on the same Bridge, as a saturated pool would deadlock.
//
// Operations are not cancelled once submitted. Run strips cancellation from
// the context it passes along, so the engine runs each operation to completion
// or failure. The only bounded wait is RunWithTimeout, used for remote sync.
// Its work runs on a goroutine of its own rather than on the pool, so a sync
// that outlives its caller never holds a worker that other operations need.
package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// DefaultSyncTimeout bounds remote sync when the caller supplies no timeout.
const DefaultSyncTimeout = 30 * time.Second

// Config sizes a Bridge.
type Config struct {
	// Workers is the maximum number of concurrently executing operations.
	// Zero selects 4 * GOMAXPROCS.
	Workers int
	// ReleaseTimeout bounds how long Close waits for running operations.
	ReleaseTimeout time.Duration
}

// Bridge owns a worker pool for engine operations.
type Bridge struct {
	pool           *ants.Pool
	releaseTimeout time.Duration
	// abandoned counts timed operations still running after their caller
	// stopped waiting.
	abandoned atomic.Int64
}

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide Bridge, creating it on first use. It is
// never closed.
func Default() *Bridge {
	defaultOnce.Do(func() {
		b, err := New(Config{})
		if err != nil {
			log.WithField("err", err).Fatal("failed to create default bridge")
		}
		defaultBridge = b
	})
	return defaultBridge
}

// New creates a Bridge with its own worker pool.
func New(cfg Config) (*Bridge, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4 * runtime.GOMAXPROCS(0)
	}
	releaseTimeout := cfg.ReleaseTimeout
	if releaseTimeout <= 0 {
		releaseTimeout = 3 * time.Second
	}

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		log.WithField("panic", v).Error("bridge worker panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Bridge{pool: pool, releaseTimeout: releaseTimeout}, nil
}

// Abandoned returns the number of RunWithTimeout operations that timed out
// and have not finished yet.
func (b *Bridge) Abandoned() int {
	return int(b.abandoned.Load())
}

// Cap returns the worker pool capacity.
func (b *Bridge) Cap() int {
	return b.pool.Cap()
}

// Close releases the worker pool, waiting up to the configured timeout for
// running operations.
func (b *Bridge) Close() error {
	return b.pool.ReleaseTimeout(b.releaseTimeout)
}

type result[T any] struct {
	value T
	err   error
}

// invoke runs fn, storing its outcome in out, and resolves done.
func invoke[T any](ctx context.Context, fn func(context.Context) (T, error), out *result[T], done Promise) {
	defer done.Resolve()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("recovered panic in bridged operation")
			out.err = fmt.Errorf("bridged operation panicked: %v", r)
		}
	}()
	out.value, out.err = fn(ctx)
}

// submit schedules fn on the pool. The returned Promise resolves once *out
// holds the outcome.
func submit[T any](b *Bridge, ctx context.Context, fn func(context.Context) (T, error), out *result[T]) (Promise, error) {
	done := make(Promise)
	err := b.pool.Submit(func() { invoke(ctx, fn, out, done) })
	if err != nil {
		return nil, fmt.Errorf("failed to submit operation: %w", err)
	}
	return done, nil
}

// Run executes fn on b's worker pool and blocks until it returns. The context
// passed to fn carries ctx's values but never its cancellation.
func Run[T any](b *Bridge, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out result[T]
	done, err := submit(b, context.WithoutCancel(ctx), fn, &out)
	if err != nil {
		var zero T
		return zero, err
	}
	done.Wait()
	return out.value, out.err
}

// RunWithTimeout is Run with a bound on how long the caller waits. If fn has
// not returned after d, RunWithTimeout returns ErrTimeout and fn's context is
// cancelled. An fn that ignores its context keeps running and its eventual
// result is discarded. fn runs outside the worker pool, so such leftovers
// never delay other operations.
func RunWithTimeout[T any](b *Bridge, ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		d = DefaultSyncTimeout
	}
	if b.pool.IsClosed() {
		return zero, fmt.Errorf("failed to submit operation: %w", ants.ErrPoolClosed)
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d)
	out := new(result[T])
	done := make(Promise)
	go invoke(opCtx, fn, out, done)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		return out.value, out.err
	case <-timer.C:
		cancel()
		b.abandoned.Add(1)
		go func() {
			done.Wait()
			b.abandoned.Add(-1)
		}()
		return zero, fmt.Errorf("no result after %s: %w", d, types.ErrTimeout)
	}
}
