// Package broadcast delivers committed rubata events to subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/rs/zerolog/log"
)

var ErrQueueFull = errors.New("broadcast queue full")

// Publisher is the narrow capability the engine is given.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// AsyncConfig bounds the dispatch queue and the retries per event.
type AsyncConfig struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		QueueSize:  1024,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Async decouples the engine from slow transports. Publish enqueues and
// returns; a single worker forwards events in commit order. Delivery failures
// are logged and never reach the engine.
type Async struct {
	next  Publisher
	cfg   AsyncConfig
	queue chan events.Envelope

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewAsync(next Publisher, cfg AsyncConfig) *Async {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultAsyncConfig().QueueSize
	}
	return &Async{
		next:  next,
		cfg:   cfg,
		queue: make(chan events.Envelope, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

// Publish enqueues env without blocking.
func (a *Async) Publish(ctx context.Context, env events.Envelope) error {
	select {
	case a.queue <- env:
		return nil
	default:
		log.Warn().
			Str("session_id", env.SessionID.String()).
			Str("event_type", env.EventType).
			Msg("broadcast queue full, dropping event")
		return ErrQueueFull
	}
}

// Run forwards queued events until ctx is done. Events still queued at
// shutdown are flushed with a short deadline.
func (a *Async) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("broadcast dispatcher already running")
	}
	a.running = true
	a.mu.Unlock()
	defer close(a.done)

	log.Info().Int("queue_size", a.cfg.QueueSize).Msg("broadcast dispatcher started")
	for {
		select {
		case <-ctx.Done():
			a.flush()
			log.Info().Msg("broadcast dispatcher shutting down")
			return nil
		case env := <-a.queue:
			a.deliver(ctx, env)
		}
	}
}

// Done is closed when Run returns.
func (a *Async) Done() <-chan struct{} { return a.done }

func (a *Async) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case env := <-a.queue:
			a.deliver(ctx, env)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, env events.Envelope) {
	if err := a.publishWithRetry(ctx, env); err != nil {
		log.Error().
			Err(err).
			Str("event_id", env.EventID.String()).
			Str("session_id", env.SessionID.String()).
			Str("event_type", env.EventType).
			Msg("failed to broadcast event")
	}
}

func (a *Async) publishWithRetry(ctx context.Context, env events.Envelope) error {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := a.next.Publish(ctx, env); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", env.EventID.String()).
				Msg("broadcast attempt failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("publish after %d attempts: %w", a.cfg.MaxRetries+1, lastErr)
}
