// Package validator approves or rejects bids against a roster and budget
// snapshot owned by the league.
package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
)

var (
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrSlotFull           = errors.New("roster slot full")
)

// RosterProvider exposes the external roster/budget snapshot.
type RosterProvider interface {
	RemainingBudget(ctx context.Context, leagueID, memberID uuid.UUID) (int64, error)
	SlotUsage(ctx context.Context, leagueID, memberID uuid.UUID, category string) (used, capacity int, err error)
}

// Validator is stateless; every call reads the provider.
type Validator struct {
	leagueID uuid.UUID
	roster   RosterProvider
}

// New creates a validator for one league.
func New(leagueID uuid.UUID, roster RosterProvider) *Validator {
	return &Validator{leagueID: leagueID, roster: roster}
}

// CanBid checks the member can afford amount and has a free slot for the item's category.
func (v *Validator) CanBid(ctx context.Context, memberID uuid.UUID, amount int64, item models.BoardItem) error {
	budget, err := v.roster.RemainingBudget(ctx, v.leagueID, memberID)
	if err != nil {
		return fmt.Errorf("failed to read budget: %w", err)
	}
	if amount > budget {
		return fmt.Errorf("%w: bid %d exceeds remaining %d", ErrInsufficientBudget, amount, budget)
	}

	used, capacity, err := v.roster.SlotUsage(ctx, v.leagueID, memberID, item.Category)
	if err != nil {
		return fmt.Errorf("failed to read slot usage: %w", err)
	}
	if capacity > 0 && used >= capacity {
		return fmt.Errorf("%w: %s %d/%d", ErrSlotFull, item.Category, used, capacity)
	}
	return nil
}
