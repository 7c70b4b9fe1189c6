package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RosterStore persists league rosters. A store settles each committed
// transfer against the rosters in the same transaction as the transfer row.
type RosterStore interface {
	// LoadMember fails with ErrUnknownMember for members never saved.
	LoadMember(ctx context.Context, leagueID, memberID uuid.UUID) (MemberRoster, error)
	SaveMember(ctx context.Context, leagueID, memberID uuid.UUID, m MemberRoster) error
}

// Seed is a member's starting roster. A nil Budget or Slots keeps what the
// league already holds for that member.
type Seed struct {
	MemberID uuid.UUID
	Budget   *int64
	Slots    map[string]int
}

// StoredRoster reads every budget and slot count through a RosterStore. The
// league roster outlives sessions and restarts.
type StoredRoster struct {
	mu       sync.Mutex
	store    RosterStore
	capacity map[string]int
}

// NewStoredRoster reads through store. A category missing from capacity is
// unlimited.
func NewStoredRoster(store RosterStore, capacity map[string]int) *StoredRoster {
	c := make(map[string]int, len(capacity))
	for k, v := range capacity {
		c[k] = v
	}
	return &StoredRoster{store: store, capacity: c}
}

func (r *StoredRoster) RemainingBudget(ctx context.Context, leagueID, memberID uuid.UUID) (int64, error) {
	m, err := r.store.LoadMember(ctx, leagueID, memberID)
	if err != nil {
		return 0, err
	}
	return m.Budget, nil
}

func (r *StoredRoster) SlotUsage(ctx context.Context, leagueID, memberID uuid.UUID, category string) (int, int, error) {
	m, err := r.store.LoadMember(ctx, leagueID, memberID)
	if err != nil {
		return 0, 0, err
	}
	return m.Slots[category], r.capacity[category], nil
}

// Member returns one member's stored roster.
func (r *StoredRoster) Member(ctx context.Context, leagueID, memberID uuid.UUID) (MemberRoster, error) {
	return r.store.LoadMember(ctx, leagueID, memberID)
}

// Seed registers the members of a new session. Members the league does not
// hold yet start at defaultBudget with empty slots. Known members keep their
// roster unless the seed sets a budget or slots.
func (r *StoredRoster) Seed(ctx context.Context, leagueID uuid.UUID, defaultBudget int64, seeds []Seed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range seeds {
		cur, err := r.store.LoadMember(ctx, leagueID, s.MemberID)
		switch {
		case errors.Is(err, ErrUnknownMember):
			cur = MemberRoster{Budget: defaultBudget, Slots: make(map[string]int)}
		case err != nil:
			return fmt.Errorf("load roster of %s: %w", s.MemberID, err)
		case s.Budget == nil && s.Slots == nil:
			continue
		}
		if s.Budget != nil {
			cur.Budget = *s.Budget
		}
		if s.Slots != nil {
			cur.Slots = make(map[string]int, len(s.Slots))
			for k, v := range s.Slots {
				cur.Slots[k] = v
			}
		}
		if err := r.store.SaveMember(ctx, leagueID, s.MemberID, cur); err != nil {
			return fmt.Errorf("save roster of %s: %w", s.MemberID, err)
		}
	}
	return nil
}
