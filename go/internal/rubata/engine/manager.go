package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Manager hands out the single engine of each session in this process.
type Manager struct {
	mu      sync.Mutex
	engines map[uuid.UUID]*Engine
	deps    Deps
}

// NewManager creates an empty registry.
func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		engines: make(map[uuid.UUID]*Engine),
		deps:    deps,
	}
}

// CreateParams describe a new session.
type CreateParams struct {
	LeagueID uuid.UUID
	Members  []uuid.UUID
	Admins   []uuid.UUID
	Items    []models.BoardItem
}

// Create persists a new session in WAITING and registers its engine.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Engine, error) {
	s, err := newSession(p, m.deps.Clock)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.register(s)

	log.Info().
		Str("session_id", s.ID.String()).
		Str("league_id", s.LeagueID.String()).
		Int("items", len(s.Items)).
		Int("members", len(s.Members)).
		Msg("rubata session created")
	return e, nil
}

// Get returns the engine of a session, loading it from the store on first use.
// A loaded session resumes its persisted deadline; a paused one stays paused.
// The store is read without holding the registry lock.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Engine, error) {
	m.mu.Lock()
	e, ok := m.engines[id]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	s, err := m.deps.Store.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[id]; ok {
		return e, nil
	}
	e = m.register(s)

	log.Info().
		Str("session_id", id.String()).
		Str("phase", string(s.Phase)).
		Int64("version", s.Version).
		Msg("rubata session restored")
	return e, nil
}

// register builds the engine of s and adds it to the registry. Callers hold
// m.mu. A retired engine removes itself unless another engine replaced it.
func (m *Manager) register(s *models.Session) *Engine {
	id := s.ID
	var e *Engine
	e = newEngine(s, m.deps, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.engines[id] == e {
			delete(m.engines, id)
		}
	})
	m.engines[id] = e
	return e
}

// Evict closes and forgets an engine. The next Get reloads it from the store.
func (m *Manager) Evict(id uuid.UUID) {
	m.mu.Lock()
	e, ok := m.engines[id]
	delete(m.engines, id)
	m.mu.Unlock()

	if ok {
		e.Close()
	}
}

// Close stops every engine.
func (m *Manager) Close() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[uuid.UUID]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}

func newSession(p CreateParams, clock clockwork.Clock) (*models.Session, error) {
	if p.LeagueID == uuid.Nil {
		return nil, fmt.Errorf("%w: league id is required", ErrInvalidSession)
	}
	if len(p.Members) == 0 {
		return nil, fmt.Errorf("%w: at least one member is required", ErrInvalidSession)
	}
	if len(p.Admins) == 0 {
		return nil, fmt.Errorf("%w: at least one admin is required", ErrInvalidSession)
	}

	now := clock.Now()
	s := &models.Session{
		ID:        uuid.New(),
		LeagueID:  p.LeagueID,
		Members:   append([]uuid.UUID(nil), p.Members...),
		Admins:    append([]uuid.UUID(nil), p.Admins...),
		Items:     make([]models.BoardItem, 0, len(p.Items)),
		Phase:     models.RubataPhaseWaiting,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, item := range p.Items {
		if item.OwnerID == uuid.Nil {
			return nil, fmt.Errorf("%w: item %d has no owner", ErrInvalidSession, i)
		}
		if item.BasePrice < 0 {
			return nil, fmt.Errorf("%w: item %d has a negative base price", ErrInvalidSession, i)
		}
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.Resolved = false
		item.Outcome = models.ItemOutcomeNone
		s.Items = append(s.Items, item)
	}
	return s, nil
}
