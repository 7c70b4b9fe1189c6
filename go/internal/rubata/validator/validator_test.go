package validator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanBid(t *testing.T) {
	league := uuid.New()
	member := uuid.New()
	item := models.BoardItem{ID: uuid.New(), Category: "QB", BasePrice: 10}

	cases := []struct {
		name    string
		budget  int64
		slots   int
		amount  int64
		wantErr error
	}{
		{name: "affordable with free slot", budget: 50, slots: 1, amount: 20},
		{name: "exactly the remaining budget", budget: 20, slots: 0, amount: 20},
		{name: "over budget", budget: 19, slots: 0, amount: 20, wantErr: ErrInsufficientBudget},
		{name: "category at capacity", budget: 100, slots: 2, amount: 20, wantErr: ErrSlotFull},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roster := NewMemoryRoster(map[string]int{"QB": 2})
			roster.SetMember(league, member, MemberRoster{Budget: tc.budget, Slots: map[string]int{"QB": tc.slots}})

			err := New(league, roster).CanBid(context.Background(), member, tc.amount, item)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCanBidUnknownMember(t *testing.T) {
	roster := NewMemoryRoster(nil)
	err := New(uuid.New(), roster).CanBid(context.Background(), uuid.New(), 1, models.BoardItem{})
	assert.ErrorIs(t, err, ErrUnknownMember)
}

func TestUnlimitedCategory(t *testing.T) {
	league, member := uuid.New(), uuid.New()
	roster := NewMemoryRoster(map[string]int{"QB": 1})
	roster.SetMember(league, member, MemberRoster{Budget: 10, Slots: map[string]int{"WR": 9}})

	err := New(league, roster).CanBid(context.Background(), member, 5, models.BoardItem{Category: "WR"})
	assert.NoError(t, err)
}

func TestApplyTransfer(t *testing.T) {
	league, buyer, seller := uuid.New(), uuid.New(), uuid.New()
	roster := NewMemoryRoster(map[string]int{"RB": 3})
	roster.SetMember(league, buyer, MemberRoster{Budget: 100, Slots: map[string]int{"RB": 1}})
	roster.SetMember(league, seller, MemberRoster{Budget: 40, Slots: map[string]int{"RB": 2}})

	err := roster.ApplyTransfer(context.Background(), league, models.Transfer{
		FromMember: seller,
		ToMember:   buyer,
		Category:   "RB",
		Price:      15,
	})
	require.NoError(t, err)

	b, _ := roster.Member(league, buyer)
	s, _ := roster.Member(league, seller)
	assert.Equal(t, int64(85), b.Budget)
	assert.Equal(t, 2, b.Slots["RB"])
	assert.Equal(t, int64(55), s.Budget)
	assert.Equal(t, 1, s.Slots["RB"])
}
