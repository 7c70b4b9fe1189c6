package preference_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClockAt(time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC))
	svc := preference.NewService(memory.New(), fc)
	maxBid := int64(40)

	saved, err := svc.Save(ctx, models.Preference{
		LeagueID:    uuid.New(),
		MemberID:    uuid.New(),
		PlayerID:    uuid.New(),
		IsWatchlist: true,
		MaxBid:      &maxBid,
		Notes:       "  target for the playoffs ",
	})
	require.NoError(t, err)
	assert.Equal(t, fc.Now(), saved.UpdatedAt)
	assert.Equal(t, "target for the playoffs", saved.Notes)

	got, err := svc.Get(ctx, saved.LeagueID, saved.MemberID, saved.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), *got.MaxBid)

	fc.Advance(time.Hour)
	saved.IsWatchlist = false
	saved.IsAutoPass = true
	updated, err := svc.Save(ctx, *saved)
	require.NoError(t, err)
	assert.True(t, updated.IsAutoPass)
	assert.Equal(t, fc.Now(), updated.UpdatedAt)

	list, err := svc.List(ctx, saved.LeagueID, saved.MemberID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveValidation(t *testing.T) {
	svc := preference.NewService(memory.New(), nil)
	neg := int64(-1)
	zero := 0

	base := func() models.Preference {
		return models.Preference{LeagueID: uuid.New(), MemberID: uuid.New(), PlayerID: uuid.New()}
	}
	cases := map[string]func(p *models.Preference){
		"missing player":   func(p *models.Preference) { p.PlayerID = uuid.Nil },
		"negative max bid": func(p *models.Preference) { p.MaxBid = &neg },
		"priority too low": func(p *models.Preference) { p.Priority = &zero },
		"watch and pass":   func(p *models.Preference) { p.IsWatchlist, p.IsAutoPass = true, true },
		"notes too long":   func(p *models.Preference) { p.Notes = strings.Repeat("x", 501) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base()
			mutate(&p)
			_, err := svc.Save(context.Background(), p)
			assert.ErrorIs(t, err, preference.ErrInvalid)
		})
	}
}

func TestGetMissing(t *testing.T) {
	svc := preference.NewService(memory.New(), nil)
	_, err := svc.Get(context.Background(), uuid.New(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, preference.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), uuid.New(), uuid.New(), uuid.New()), preference.ErrNotFound)
}
