package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
)

// ErrUnknownMember is returned for members the roster has never seen.
var ErrUnknownMember = errors.New("unknown league member")

// MemberRoster is the budget and slot usage of one member.
type MemberRoster struct {
	Budget int64          `json:"budget" yaml:"budget"`
	Slots  map[string]int `json:"slots" yaml:"slots"`
}

// MemoryRoster is an in-process RosterProvider. It also serves as the roster
// table of the memory store. Acknowledged sales are applied through
// ApplyTransfer.
type MemoryRoster struct {
	mu       sync.RWMutex
	capacity map[string]int
	leagues  map[uuid.UUID]map[uuid.UUID]*MemberRoster
}

// NewMemoryRoster creates an empty roster with per-category slot capacity.
// A category missing from capacity is unlimited.
func NewMemoryRoster(capacity map[string]int) *MemoryRoster {
	c := make(map[string]int, len(capacity))
	for k, v := range capacity {
		c[k] = v
	}
	return &MemoryRoster{
		capacity: c,
		leagues:  make(map[uuid.UUID]map[uuid.UUID]*MemberRoster),
	}
}

// SetMember replaces the roster of one member.
func (r *MemoryRoster) SetMember(leagueID, memberID uuid.UUID, m MemberRoster) {
	r.mu.Lock()
	defer r.mu.Unlock()

	league, ok := r.leagues[leagueID]
	if !ok {
		league = make(map[uuid.UUID]*MemberRoster)
		r.leagues[leagueID] = league
	}
	slots := make(map[string]int, len(m.Slots))
	for k, v := range m.Slots {
		slots[k] = v
	}
	league[memberID] = &MemberRoster{Budget: m.Budget, Slots: slots}
}

// Member returns a copy of one member's roster.
func (r *MemoryRoster) Member(leagueID, memberID uuid.UUID) (MemberRoster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.lookup(leagueID, memberID)
	if !ok {
		return MemberRoster{}, false
	}
	slots := make(map[string]int, len(m.Slots))
	for k, v := range m.Slots {
		slots[k] = v
	}
	return MemberRoster{Budget: m.Budget, Slots: slots}, true
}

func (r *MemoryRoster) RemainingBudget(ctx context.Context, leagueID, memberID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.lookup(leagueID, memberID)
	if !ok {
		return 0, ErrUnknownMember
	}
	return m.Budget, nil
}

func (r *MemoryRoster) SlotUsage(ctx context.Context, leagueID, memberID uuid.UUID, category string) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.lookup(leagueID, memberID)
	if !ok {
		return 0, 0, ErrUnknownMember
	}
	return m.Slots[category], r.capacity[category], nil
}

// LoadMember returns one member's roster or ErrUnknownMember.
func (r *MemoryRoster) LoadMember(ctx context.Context, leagueID, memberID uuid.UUID) (MemberRoster, error) {
	m, ok := r.Member(leagueID, memberID)
	if !ok {
		return MemberRoster{}, ErrUnknownMember
	}
	return m, nil
}

func (r *MemoryRoster) SaveMember(ctx context.Context, leagueID, memberID uuid.UUID, m MemberRoster) error {
	r.SetMember(leagueID, memberID, m)
	return nil
}

// ApplyTransfer moves the player: the buyer pays the price to the seller and
// the category slot moves with it.
func (r *MemoryRoster) ApplyTransfer(ctx context.Context, leagueID uuid.UUID, t models.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	buyer, ok := r.lookup(leagueID, t.ToMember)
	if !ok {
		return fmt.Errorf("buyer %s: %w", t.ToMember, ErrUnknownMember)
	}
	seller, ok := r.lookup(leagueID, t.FromMember)
	if !ok {
		return fmt.Errorf("seller %s: %w", t.FromMember, ErrUnknownMember)
	}
	Settle(buyer, seller, t)
	return nil
}

// Settle charges the buyer, pays the seller and moves the category slot.
func Settle(buyer, seller *MemberRoster, t models.Transfer) {
	if buyer.Slots == nil {
		buyer.Slots = make(map[string]int)
	}
	if seller.Slots == nil {
		seller.Slots = make(map[string]int)
	}
	buyer.Budget -= t.Price
	seller.Budget += t.Price
	buyer.Slots[t.Category]++
	if seller.Slots[t.Category] > 0 {
		seller.Slots[t.Category]--
	}
}

func (r *MemoryRoster) lookup(leagueID, memberID uuid.UUID) (*MemberRoster, bool) {
	league, ok := r.leagues[leagueID]
	if !ok {
		return nil, false
	}
	m, ok := league[memberID]
	return m, ok
}
