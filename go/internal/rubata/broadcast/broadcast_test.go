package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	envs     []events.Envelope
	failures int
	block    chan struct{}
}

func (r *recorder) Publish(ctx context.Context, env events.Envelope) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("transport down")
	}
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) received() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Envelope(nil), r.envs...)
}

func envelope(t *testing.T, version int64) events.Envelope {
	t.Helper()
	id := uuid.New()
	env, err := events.NewEnvelope(events.EventTypePhaseChanged, id, uuid.New(), time.Now(), events.PhaseChangedPayload{
		SessionID:       id,
		NewPhase:        models.RubataPhaseOffering,
		SnapshotVersion: version,
	})
	require.NoError(t, err)
	return env
}

func runAsync(t *testing.T, a *Async) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-a.Done()
	})
	return cancel
}

func TestAsyncDeliversInOrder(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, AsyncConfig{QueueSize: 16, RetryDelay: time.Millisecond})
	runAsync(t, a)

	for v := int64(1); v <= 5; v++ {
		require.NoError(t, a.Publish(context.Background(), envelope(t, v)))
	}

	require.Eventually(t, func() bool { return len(rec.received()) == 5 }, time.Second, 5*time.Millisecond)
	for i, env := range rec.received() {
		p, err := env.PhaseChanged()
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), p.SnapshotVersion)
	}
}

func TestAsyncRetriesFailures(t *testing.T) {
	rec := &recorder{failures: 2}
	a := NewAsync(rec, AsyncConfig{QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond})
	runAsync(t, a)

	require.NoError(t, a.Publish(context.Background(), envelope(t, 1)))
	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAsyncPublishNeverBlocks(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, AsyncConfig{QueueSize: 1, RetryDelay: time.Millisecond})
	runAsync(t, a)
	defer close(rec.block)

	require.NoError(t, a.Publish(context.Background(), envelope(t, 1)))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, a.Publish(context.Background(), envelope(t, 2)))

	done := make(chan error, 1)
	go func() { done <- a.Publish(context.Background(), envelope(t, 3)) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestAsyncRunTwice(t *testing.T) {
	a := NewAsync(&recorder{}, DefaultAsyncConfig())
	runAsync(t, a)
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.running
	}, time.Second, time.Millisecond)

	assert.Error(t, a.Run(context.Background()))
}

func TestFanout(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{failures: 1}
	f := Fanout{failing, ok}

	err := f.Publish(context.Background(), envelope(t, 1))
	assert.Error(t, err)
	assert.Len(t, ok.received(), 1, "later publishers still receive the event")

	assert.NoError(t, f.Publish(context.Background(), envelope(t, 2)))
	assert.Len(t, failing.received(), 1)
}
