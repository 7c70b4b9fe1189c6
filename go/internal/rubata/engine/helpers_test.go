package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*models.Session
	mutations []Mutation
	attempts  int
	fail      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[uuid.UUID]*models.Session)}
}

func (s *fakeStore) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *fakeStore) LoadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *fakeStore) Commit(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.fail != nil {
		return s.fail
	}
	cur, ok := s.sessions[m.Session.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if cur.Version != m.ExpectedVersion {
		return ErrVersionConflict
	}
	s.sessions[m.Session.ID] = m.Session.Clone()
	s.mutations = append(s.mutations, m)
	return nil
}

func (s *fakeStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *fakeStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// bumpVersion simulates a write from outside the engine.
func (s *fakeStore) bumpVersion(id uuid.UUID, by int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id].Version += by
}

func (s *fakeStore) commits() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.mutations...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) phaseEvents(t *testing.T) []events.PhaseChangedPayload {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.PhaseChangedPayload
	for _, env := range p.envs {
		if env.EventType != events.EventTypePhaseChanged {
			continue
		}
		pc, err := env.PhaseChanged()
		require.NoError(t, err)
		out = append(out, pc)
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

// harness is a session with members a, b, c and a non-member admin. Item 0
// belongs to a league member outside the session, item 1 to a.
type harness struct {
	t       *testing.T
	ctx     context.Context
	fc      *clockwork.FakeClock
	store   *fakeStore
	pub     *recordingPublisher
	roster  *validator.MemoryRoster
	manager *Manager
	eng     *Engine

	league, admin, owner, a, b, c uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		fc:     clockwork.NewFakeClock(),
		store:  newFakeStore(),
		pub:    &recordingPublisher{},
		roster: validator.NewMemoryRoster(map[string]int{"WR": 3, "RB": 3}),
		league: uuid.New(),
		admin:  uuid.New(),
		owner:  uuid.New(),
		a:      uuid.New(),
		b:      uuid.New(),
		c:      uuid.New(),
	}
	for _, m := range []uuid.UUID{h.owner, h.a, h.b, h.c} {
		h.roster.SetMember(h.league, m, validator.MemberRoster{Budget: 100, Slots: map[string]int{"WR": 1, "RB": 1}})
	}
	h.manager = NewManager(Deps{
		Store:     h.store,
		Publisher: h.pub,
		Roster:    h.roster,
		Clock:     h.fc,
		Rules: Rules{
			OfferingDuration: 30 * time.Second,
			AuctionDuration:  20 * time.Second,
			ResetTimerOnBid:  true,
		},
	})
	t.Cleanup(h.manager.Close)

	eng, err := h.manager.Create(h.ctx, CreateParams{
		LeagueID: h.league,
		Members:  []uuid.UUID{h.a, h.b, h.c},
		Admins:   []uuid.UUID{h.admin},
		Items: []models.BoardItem{
			{OwnerID: h.owner, PlayerID: uuid.New(), Category: "WR", BasePrice: 10},
			{OwnerID: h.a, PlayerID: uuid.New(), Category: "RB", BasePrice: 5},
		},
	})
	require.NoError(t, err)
	h.eng = eng
	return h
}

// registered returns the engine the manager holds for id, if any.
func (h *harness) registered(id uuid.UUID) *Engine {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()
	return h.manager.engines[id]
}

// toAuction runs item 0 to an open auction at its base price of 10.
func (h *harness) toAuction() {
	h.t.Helper()
	h.toOffering()
	require.NoError(h.t, h.eng.DeclareIntentToContest(h.ctx, h.a))
	h.each(h.eng.SetReady)
	h.requirePhase(models.RubataPhaseAuction)
}

func (h *harness) members() []uuid.UUID { return []uuid.UUID{h.a, h.b, h.c} }

func (h *harness) session() *models.Session { return h.eng.Snapshot().Session }

func (h *harness) phase() models.RubataPhase { return h.session().Phase }

func (h *harness) requirePhase(want models.RubataPhase) {
	h.t.Helper()
	require.Equal(h.t, want, h.phase())
}

func (h *harness) waitPhase(want models.RubataPhase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.phase() == want }, time.Second, 5*time.Millisecond,
		"phase never reached %s", want)
}

func (h *harness) waitIndex(want int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.session().CurrentIndex == want }, time.Second, 5*time.Millisecond)
}

// advance moves the fake clock once the armed phase timer is waiting on it.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, time.Second)
	defer cancel()
	require.NoError(h.t, h.fc.BlockUntilContext(ctx, 1))
	h.fc.Advance(d)
}

func (h *harness) each(fn func(ctx context.Context, id uuid.UUID) error) {
	h.t.Helper()
	for _, m := range h.members() {
		require.NoError(h.t, fn(h.ctx, m))
	}
}

func (h *harness) toOffering() {
	h.t.Helper()
	require.NoError(h.t, h.eng.StartSession(h.ctx, h.admin))
	h.each(h.eng.SetReady)
	h.requirePhase(models.RubataPhaseOffering)
}

// toPendingAck runs item 0 to PENDING_ACK with bids b=12 and c=15.
func (h *harness) toPendingAck() {
	h.t.Helper()
	h.toOffering()
	require.NoError(h.t, h.eng.DeclareIntentToContest(h.ctx, h.a))
	h.each(h.eng.SetReady)
	h.requirePhase(models.RubataPhaseAuction)
	require.NoError(h.t, h.eng.PlaceBid(h.ctx, h.b, 12))
	require.NoError(h.t, h.eng.PlaceBid(h.ctx, h.c, 15))
	h.advance(20 * time.Second)
	h.waitPhase(models.RubataPhasePendingAck)
}

func (h *harness) ackAppealAll() {
	h.t.Helper()
	h.each(h.eng.AcknowledgeAppealDecision)
}

func (h *harness) ackAll() {
	h.t.Helper()
	h.each(func(ctx context.Context, id uuid.UUID) error {
		return h.eng.AcknowledgeTransaction(ctx, id, "")
	})
}
