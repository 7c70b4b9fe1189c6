// Package memory is an in-process Store for tests and single-node demos.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
)

var _ storage.Store = (*Store)(nil)

type prefKey struct {
	league, member, player uuid.UUID
}

// Store keeps every row in maps guarded by one mutex. A Commit is applied
// entirely or not at all.
type Store struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*models.Session
	bids        map[uuid.UUID][]models.Bid
	appeals     map[uuid.UUID]*models.Appeal
	transfers   map[uuid.UUID][]models.Transfer
	prophecies  map[uuid.UUID][]models.Prophecy
	audit       map[uuid.UUID][]models.AuditEntry
	preferences map[prefKey]models.Preference
	rosters     *validator.MemoryRoster
}

func New() *Store {
	return &Store{
		sessions:    make(map[uuid.UUID]*models.Session),
		bids:        make(map[uuid.UUID][]models.Bid),
		appeals:     make(map[uuid.UUID]*models.Appeal),
		transfers:   make(map[uuid.UUID][]models.Transfer),
		prophecies:  make(map[uuid.UUID][]models.Prophecy),
		audit:       make(map[uuid.UUID][]models.AuditEntry),
		preferences: make(map[prefKey]models.Preference),
		rosters:     validator.NewMemoryRoster(nil),
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrSessionExists, sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) LoadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) Commit(ctx context.Context, m engine.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := m.Session.ID
	cur, ok := s.sessions[id]
	if !ok {
		return engine.ErrSessionNotFound
	}
	if cur.Version != m.ExpectedVersion {
		return fmt.Errorf("%w: stored %d, expected %d", engine.ErrVersionConflict, cur.Version, m.ExpectedVersion)
	}
	if m.Transfer != nil {
		// Rosters of members the league never seeded are left alone.
		if err := s.rosters.ApplyTransfer(ctx, m.Session.LeagueID, *m.Transfer); err != nil && !errors.Is(err, validator.ErrUnknownMember) {
			return err
		}
	}

	s.sessions[id] = m.Session.Clone()
	s.bids[id] = append(s.bids[id], m.Bids...)
	if m.Appeal != nil {
		s.appeals[m.Appeal.ID] = m.Appeal.Clone()
	}
	if m.Transfer != nil {
		s.transfers[id] = append(s.transfers[id], *m.Transfer)
	}
	if m.Prophecy != nil {
		s.prophecies[id] = append(s.prophecies[id], *m.Prophecy)
	}
	s.audit[id] = append(s.audit[id], m.Audit...)
	return nil
}

func (s *Store) LoadMember(ctx context.Context, leagueID, memberID uuid.UUID) (validator.MemberRoster, error) {
	return s.rosters.LoadMember(ctx, leagueID, memberID)
}

func (s *Store) SaveMember(ctx context.Context, leagueID, memberID uuid.UUID, m validator.MemberRoster) error {
	return s.rosters.SaveMember(ctx, leagueID, memberID, m)
}

func (s *Store) ListAudit(ctx context.Context, sessionID uuid.UUID) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditEntry(nil), s.audit[sessionID]...), nil
}

func (s *Store) ListTransfers(ctx context.Context, sessionID uuid.UUID) ([]models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Transfer(nil), s.transfers[sessionID]...), nil
}

func (s *Store) ListBids(ctx context.Context, sessionID uuid.UUID) ([]models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Bid(nil), s.bids[sessionID]...), nil
}

func (s *Store) ListProphecies(ctx context.Context, sessionID uuid.UUID) ([]models.Prophecy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Prophecy(nil), s.prophecies[sessionID]...), nil
}

func (s *Store) GetAppeal(ctx context.Context, id uuid.UUID) (*models.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appeals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrAppealNotFound, id)
	}
	return a.Clone(), nil
}

func (s *Store) GetPreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) (*models.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[prefKey{leagueID, memberID, playerID}]
	if !ok {
		return nil, preference.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPreferences(ctx context.Context, leagueID, memberID uuid.UUID) ([]models.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Preference
	for k, p := range s.preferences {
		if k.league == leagueID && k.member == memberID {
			out = append(out, p)
		}
	}
	sortPreferences(out)
	return out, nil
}

func (s *Store) UpsertPreference(ctx context.Context, p models.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[prefKey{p.LeagueID, p.MemberID, p.PlayerID}] = p
	return nil
}

func (s *Store) DeletePreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := prefKey{leagueID, memberID, playerID}
	if _, ok := s.preferences[k]; !ok {
		return preference.ErrNotFound
	}
	delete(s.preferences, k)
	return nil
}

// sortPreferences orders by priority (unset last), then player id.
func sortPreferences(prefs []models.Preference) {
	sort.Slice(prefs, func(i, j int) bool {
		pi, pj := prefs[i].Priority, prefs[j].Priority
		switch {
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		case pi != nil && pj != nil && *pi != *pj:
			return *pi < *pj
		}
		return prefs[i].PlayerID.String() < prefs[j].PlayerID.String()
	})
}
