// Package engine runs the rubata state machine for one session.
//
// Every external call and every timer expiry enters through Engine.mu. A
// transition is applied to a clone of the session, committed through the Store
// with the expected version, and only then swapped in and published. A failed
// commit leaves the session, the timer and the subscribers untouched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/mcdev12/rubata/go/internal/rubata/timer"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/rs/zerolog/log"
)

const (
	// expiryRetryDelay re-arms an expiry whose commit failed.
	expiryRetryDelay = time.Second
	// maxExpiryRetries failed expiry commits in a row retire the engine.
	maxExpiryRetries = 5
)

// Rules are the per-deployment phase durations.
type Rules struct {
	OfferingDuration time.Duration
	AuctionDuration  time.Duration
	ResetTimerOnBid  bool
}

// DefaultRules returns 30s offer windows and 20s auctions with bid resets.
func DefaultRules() Rules {
	return Rules{
		OfferingDuration: 30 * time.Second,
		AuctionDuration:  20 * time.Second,
		ResetTimerOnBid:  true,
	}
}

// Deps are the collaborators shared by every engine of a process.
type Deps struct {
	Store     Store
	Publisher Publisher
	Roster    validator.RosterProvider
	Clock     clockwork.Clock
	Rules     Rules
}

// Engine is the single authority over one session.
type Engine struct {
	mu      sync.Mutex
	session *models.Session
	closed  bool

	store     Store
	publisher Publisher
	roster    validator.RosterProvider
	validator *validator.Validator
	clock     clockwork.Clock
	rules     Rules
	timer     *timer.Timer

	expiryFailures int
	// evict removes the engine from its Manager. Nil for standalone engines.
	evict func()
}

// change collects the side records of one transition.
type change struct {
	reason       string
	trigger      models.TransitionTrigger
	actor        *uuid.UUID
	bids         []models.Bid
	appeal       *models.Appeal
	transfer     *models.Transfer
	prophecy     *models.Prophecy
	timerTouched bool
}

// New creates an engine over a session already present in the store. The
// timer is rebuilt from the session's persisted deadline.
func New(s *models.Session, deps Deps) *Engine {
	return newEngine(s, deps, nil)
}

// newEngine sets evict before the restored timer can fire.
func newEngine(s *models.Session, deps Deps, evict func()) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		session:   s.Clone(),
		store:     deps.Store,
		publisher: deps.Publisher,
		roster:    deps.Roster,
		validator: validator.New(s.LeagueID, deps.Roster),
		clock:     clock,
		rules:     deps.Rules,
		evict:     evict,
	}
	e.timer = timer.New(clock, e.onExpire)
	e.timer.Restore(s.TimerExpiresAt, s.PausedRemaining, s.Phase == models.RubataPhasePaused)
	return e
}

// ID returns the session id.
func (e *Engine) ID() uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ID
}

// Close stops the timer. Later expiries are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.timer.Stop()
}

// mutate runs fn against a clone of the session and commits the result.
func (e *Engine) mutate(ctx context.Context, fn func(next *models.Session, c *change) error) error {
	if e.closed {
		return fmt.Errorf("%w: engine closed", ErrSessionNotFound)
	}
	prev := e.session
	next := prev.Clone()
	c := &change{trigger: models.TriggerOrganic}

	if err := fn(next, c); err != nil {
		e.rollbackTimer(prev, c)
		if errors.Is(err, errNoop) {
			return nil
		}
		return err
	}
	if next.Phase != prev.Phase && !CanTransition(prev.Phase, next.Phase) {
		e.rollbackTimer(prev, c)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Phase, next.Phase)
	}

	now := e.clock.Now()
	next.Version = prev.Version + 1
	next.UpdatedAt = now

	m := Mutation{
		Session:         next,
		ExpectedVersion: prev.Version,
		Bids:            c.bids,
		Appeal:          c.appeal,
		Transfer:        c.transfer,
		Prophecy:        c.prophecy,
		Audit: []models.AuditEntry{{
			ID:        uuid.New(),
			SessionID: next.ID,
			Version:   next.Version,
			FromPhase: prev.Phase,
			ToPhase:   next.Phase,
			Trigger:   c.trigger,
			ActorID:   c.actor,
			Reason:    c.reason,
			At:        now,
		}},
	}
	if err := e.store.Commit(ctx, m); err != nil {
		e.rollbackTimer(prev, c)
		log.Error().
			Err(err).
			Str("session_id", prev.ID.String()).
			Str("phase", string(prev.Phase)).
			Str("reason", c.reason).
			Msg("failed to commit rubata transition")
		return fmt.Errorf("commit session %s: %w", prev.ID, err)
	}

	e.session = next
	e.expiryFailures = 0
	e.logTransition(prev.Phase, next, c)
	e.publish(ctx, next, c)
	e.applyTransfer(ctx, next.LeagueID, c.transfer)
	return nil
}

// rollbackTimer puts the timer back to the state recorded in prev.
func (e *Engine) rollbackTimer(prev *models.Session, c *change) {
	if !c.timerTouched {
		return
	}
	e.timer.Restore(prev.TimerExpiresAt, prev.PausedRemaining, prev.Phase == models.RubataPhasePaused)
}

func (e *Engine) logTransition(from models.RubataPhase, next *models.Session, c *change) {
	evt := log.Info()
	if c.trigger == models.TriggerForced {
		evt = log.Warn().Bool("forced", true)
	}
	if c.actor != nil {
		evt = evt.Str("actor_id", c.actor.String())
	}
	evt.Str("session_id", next.ID.String()).
		Str("from", string(from)).
		Str("to", string(next.Phase)).
		Str("trigger", string(c.trigger)).
		Str("reason", c.reason).
		Int64("version", next.Version).
		Msg("rubata transition")
}

func (e *Engine) publish(ctx context.Context, next *models.Session, c *change) {
	if e.publisher == nil {
		return
	}
	now := e.clock.Now()
	envs := make([]events.Envelope, 0, 2)
	for _, b := range c.bids {
		env, err := events.NewEnvelope(events.EventTypeBidPlaced, next.ID, next.LeagueID, now, events.BidPlacedPayload{
			SessionID:       next.ID,
			AuctionID:       b.AuctionID,
			BidderID:        b.BidderID,
			Amount:          b.Amount,
			Deadline:        next.Auction.BiddingDeadline,
			SnapshotVersion: next.Version,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to build bid event")
			continue
		}
		envs = append(envs, env)
	}
	env, err := events.NewEnvelope(events.EventTypePhaseChanged, next.ID, next.LeagueID, now, events.PhaseChangedPayload{
		SessionID:       next.ID,
		NewPhase:        next.Phase,
		Reason:          c.reason,
		SnapshotVersion: next.Version,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build phase event")
	} else {
		envs = append(envs, env)
	}

	for _, env := range envs {
		if err := e.publisher.Publish(ctx, env); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", next.ID.String()).
				Str("event_type", env.EventType).
				Msg("failed to publish rubata event")
		}
	}
}

func (e *Engine) applyTransfer(ctx context.Context, leagueID uuid.UUID, t *models.Transfer) {
	if t == nil {
		return
	}
	applier, ok := e.roster.(TransferApplier)
	if !ok {
		return
	}
	if err := applier.ApplyTransfer(ctx, leagueID, *t); err != nil {
		log.Error().
			Err(err).
			Str("transfer_id", t.ID.String()).
			Msg("failed to apply transfer to roster")
	}
}

// onExpire is the timer callback. It takes the same lock as external calls
// and drops expiries superseded by a stop, pause or restart.
func (e *Engine) onExpire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.timer.IsCurrent(gen) {
		log.Debug().Uint64("generation", gen).Msg("ignoring stale timer expiry")
		return
	}

	ctx := context.Background()
	var err error
	switch e.session.Phase {
	case models.RubataPhaseOffering:
		err = e.mutate(ctx, func(next *models.Session, c *change) error {
			c.trigger = models.TriggerTimer
			c.reason = "offer_expired"
			return e.keepItem(next, c)
		})
	case models.RubataPhaseAuction:
		err = e.mutate(ctx, func(next *models.Session, c *change) error {
			c.trigger = models.TriggerTimer
			c.reason = "auction_expired"
			return e.closeAuction(next, c)
		})
	default:
		return
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSessionNotFound) {
		log.Error().
			Err(err).
			Str("session_id", e.session.ID.String()).
			Msg("session changed outside this engine, evicting")
		e.retire()
		return
	}
	e.expiryFailures++
	if e.expiryFailures >= maxExpiryRetries {
		log.Error().
			Err(err).
			Str("session_id", e.session.ID.String()).
			Int("attempts", e.expiryFailures).
			Msg("timer transition keeps failing, evicting")
		e.retire()
		return
	}
	log.Warn().
		Err(err).
		Str("session_id", e.session.ID.String()).
		Int("attempt", e.expiryFailures).
		Dur("retry_in", expiryRetryDelay).
		Msg("timer transition failed, retrying")
	e.timer.Start(expiryRetryDelay)
}

// retire closes the engine and drops it from its Manager, so the next Get
// reloads the session from the store. Callers hold e.mu.
func (e *Engine) retire() {
	e.closed = true
	e.timer.Stop()
	if e.evict != nil {
		e.evict()
	}
}

// timer helpers keep the session's persisted deadline in step with the timer

func (e *Engine) armTimer(next *models.Session, c *change, d time.Duration) time.Time {
	at := e.timer.Start(d)
	next.TimerExpiresAt = &at
	next.PausedRemaining = 0
	c.timerTouched = true
	return at
}

func (e *Engine) stopTimer(next *models.Session, c *change) {
	e.timer.Stop()
	next.TimerExpiresAt = nil
	next.PausedRemaining = 0
	c.timerTouched = true
}

func (e *Engine) pauseTimer(next *models.Session, c *change) {
	next.PausedRemaining = e.timer.Pause()
	next.TimerExpiresAt = nil
	c.timerTouched = true
}

func (e *Engine) resumeTimer(next *models.Session, c *change) time.Time {
	at := e.timer.Resume()
	next.TimerExpiresAt = &at
	next.PausedRemaining = 0
	c.timerTouched = true
	return at
}
