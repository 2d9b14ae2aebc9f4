package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryLease struct {
	mu       sync.Mutex
	holders  map[string]string
	released []string
	err      error
}

func newMemoryLease() *memoryLease {
	return &memoryLease{holders: map[string]string{}}
}

func (l *memoryLease) Acquire(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, held := l.holders[name]; held {
		return "", false, nil
	}
	l.holders[name] = "token-" + name
	return l.holders[name], true, nil
}

func (l *memoryLease) Release(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[name] == token {
		delete(l.holders, name)
	}
	l.released = append(l.released, name)
	return nil
}

func TestRunner_RunOnce(t *testing.T) {
	t.Run("runs and releases the lease", func(t *testing.T) {
		lease := newMemoryLease()
		runs := 0
		job := Job{Name: "release", Interval: time.Minute, Run: func(context.Context) error {
			runs++
			return nil
		}}

		ran, err := NewRunner(lease, discard).RunOnce(context.Background(), job)

		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, 1, runs)
		assert.Equal(t, []string{"release"}, lease.released)
		assert.Empty(t, lease.holders)
	})

	t.Run("skips while another replica holds the lease", func(t *testing.T) {
		lease := newMemoryLease()
		lease.holders["release"] = "someone-else"
		job := Job{Name: "release", Interval: time.Minute, Run: func(context.Context) error {
			t.Fatal("job must not run")
			return nil
		}}

		ran, err := NewRunner(lease, discard).RunOnce(context.Background(), job)

		require.NoError(t, err)
		assert.False(t, ran)
		assert.Equal(t, "someone-else", lease.holders["release"])
	})

	t.Run("releases the lease when the job fails", func(t *testing.T) {
		lease := newMemoryLease()
		boom := errors.New("boom")
		job := Job{Name: "release", Interval: time.Minute, Run: func(context.Context) error { return boom }}

		ran, err := NewRunner(lease, discard).RunOnce(context.Background(), job)

		assert.True(t, ran)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, lease.holders)
	})

	t.Run("lease errors stop the run", func(t *testing.T) {
		lease := newMemoryLease()
		lease.err = errors.New("redis down")
		job := Job{Name: "release", Interval: time.Minute, Run: func(context.Context) error {
			t.Fatal("job must not run")
			return nil
		}}

		ran, err := NewRunner(lease, discard).RunOnce(context.Background(), job)

		assert.False(t, ran)
		assert.Error(t, err)
	})

	t.Run("bounds the run by the timeout", func(t *testing.T) {
		job := Job{Name: "slow", Interval: time.Minute, Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}

		_, err := NewRunner(nil, discard).RunOnce(context.Background(), job)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRunner_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu   sync.Mutex
		runs int
	)
	job := Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		if runs == 3 {
			cancel()
		}
		return nil
	}}

	done := make(chan struct{})
	go func() {
		NewRunner(nil, discard).Start(ctx, job)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, runs, 3)
}
