package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

func newTestBridge(t *testing.T, workers int) *Bridge {
	t.Helper()
	b, err := New(Config{Workers: workers})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRunReturnsResult(t *testing.T) {
	b := newTestBridge(t, 2)

	v, err := Run(b, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRunPropagatesError(t *testing.T) {
	b := newTestBridge(t, 2)
	boom := errors.New("boom")

	_, err := Run(b, context.Background(), func(context.Context) (string, error) {
		return "", boom
	})
	assert.Same(t, boom, err)
}

func TestRunRecoversPanic(t *testing.T) {
	b := newTestBridge(t, 1)

	_, err := Run(b, context.Background(), func(context.Context) (int, error) {
		panic("engine exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine exploded")

	// The pool keeps working afterwards.
	v, err := Run(b, context.Background(), func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	b := newTestBridge(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := Run(b, ctx, func(opCtx context.Context) (bool, error) {
		time.Sleep(5 * time.Millisecond)
		return opCtx.Err() == nil, nil
	})
	require.NoError(t, err)
	assert.True(t, v, "operation context must not inherit cancellation")
}

func TestRunExecutesConcurrently(t *testing.T) {
	b := newTestBridge(t, 4)

	var inFlight, peak atomic.Int32
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := Run(b, context.Background(), func(context.Context) (struct{}, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				inFlight.Add(-1)
				return struct{}{}, nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Greater(t, peak.Load(), int32(1), "operations should overlap on the pool")
}

func TestRunWithTimeoutExpires(t *testing.T) {
	b := newTestBridge(t, 1)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := RunWithTimeout(b, context.Background(), 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.True(t, errors.Is(err, types.ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAbandonedWorkDoesNotHoldWorkers(t *testing.T) {
	b := newTestBridge(t, 2)
	release := make(chan struct{})

	// Two timed operations that ignore their context, one per worker.
	for i := 0; i < 2; i++ {
		_, err := RunWithTimeout(b, context.Background(), 10*time.Millisecond, func(context.Context) (int, error) {
			<-release
			return 0, nil
		})
		require.ErrorIs(t, err, types.ErrTimeout)
	}
	assert.Equal(t, 2, b.Abandoned())

	result := make(chan int, 1)
	go func() {
		v, _ := Run(b, context.Background(), func(context.Context) (int, error) { return 7, nil })
		result <- v
	}()
	select {
	case v := <-result:
		assert.Equal(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked behind abandoned operations")
	}

	close(release)
	assert.Eventually(t, func() bool { return b.Abandoned() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunWithTimeoutCancelsContext(t *testing.T) {
	b := newTestBridge(t, 1)
	stopped := make(chan error, 1)

	_, err := RunWithTimeout(b, context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		stopped <- ctx.Err()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, types.ErrTimeout)
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestRunWithTimeoutCompletes(t *testing.T) {
	b := newTestBridge(t, 1)

	v, err := RunWithTimeout(b, context.Background(), time.Second, func(ctx context.Context) (string, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return "synced", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "synced", v)
}

func TestRunAfterCloseFails(t *testing.T) {
	b, err := New(Config{Workers: 1})
	require.NoError(t, err)
	_ = b.Close()

	_, err = Run(b, context.Background(), func(context.Context) (int, error) { return 0, nil })
	assert.Error(t, err)
	_, err = RunWithTimeout(b, context.Background(), time.Second, func(context.Context) (int, error) { return 0, nil })
	assert.Error(t, err)
}

func TestDefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.Greater(t, Default().Cap(), 0)
}
