package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/storetest"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rubata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return openTempStore(t) })
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rubata.db")
	s, err := Open(path)
	require.NoError(t, err)
	sess := storetest.NewSession()
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Version, got.Version)
}

func TestManagerRestoresFromDisk(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	fc := clockwork.NewFakeClock()
	admin, a, b := uuid.New(), uuid.New(), uuid.New()

	mgr := engine.NewManager(engine.Deps{Store: s, Clock: fc, Rules: engine.DefaultRules()})
	eng, err := mgr.Create(ctx, engine.CreateParams{
		LeagueID: uuid.New(),
		Members:  []uuid.UUID{a, b},
		Admins:   []uuid.UUID{admin},
		Items:    []models.BoardItem{{OwnerID: a, PlayerID: uuid.New(), Category: "TE", BasePrice: 4}},
	})
	require.NoError(t, err)
	id := eng.ID()
	require.NoError(t, eng.StartSession(ctx, admin))
	require.NoError(t, eng.ForceReadyAll(ctx, admin))
	require.NoError(t, eng.Pause(ctx, admin))
	mgr.Close()

	again := engine.NewManager(engine.Deps{Store: s, Clock: fc, Rules: engine.DefaultRules()})
	t.Cleanup(again.Close)
	restored, err := again.Get(ctx, id)
	require.NoError(t, err)
	snap := restored.Snapshot()
	assert.Equal(t, models.RubataPhasePaused, snap.Session.Phase)
	assert.Equal(t, models.RubataPhaseOffering, snap.Session.PausedFromPhase)
	assert.Equal(t, int64(30), snap.TimeRemainingSec)

	audit, err := s.ListAudit(ctx, id)
	require.NoError(t, err)
	assert.Len(t, audit, 3)
}

func TestRestartKeepsRosterForBidding(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rubata.db")
	s, err := Open(path)
	require.NoError(t, err)
	fc := clockwork.NewFakeClock()
	league, admin, owner, a, b := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()

	roster := validator.NewStoredRoster(s, nil)
	require.NoError(t, roster.Seed(ctx, league, 50, []validator.Seed{{MemberID: owner}, {MemberID: a}, {MemberID: b}}))

	mgr := engine.NewManager(engine.Deps{Store: s, Roster: roster, Clock: fc, Rules: engine.DefaultRules()})
	eng, err := mgr.Create(ctx, engine.CreateParams{
		LeagueID: league,
		Members:  []uuid.UUID{a, b},
		Admins:   []uuid.UUID{admin},
		Items:    []models.BoardItem{{OwnerID: owner, PlayerID: uuid.New(), Category: "WR", BasePrice: 10}},
	})
	require.NoError(t, err)
	id := eng.ID()
	require.NoError(t, eng.StartSession(ctx, admin))
	require.NoError(t, eng.ForceReadyAll(ctx, admin))
	require.NoError(t, eng.DeclareIntentToContest(ctx, a))
	require.NoError(t, eng.ForceReadyAll(ctx, admin))
	require.NoError(t, eng.PlaceBid(ctx, a, 12))
	mgr.Close()
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	roster = validator.NewStoredRoster(s, nil)
	restarted := engine.NewManager(engine.Deps{Store: s, Roster: roster, Clock: fc, Rules: engine.DefaultRules()})
	t.Cleanup(restarted.Close)

	eng, err = restarted.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, eng.PlaceBid(ctx, b, 15))
	assert.ErrorIs(t, eng.PlaceBid(ctx, a, 60), engine.ErrInsufficientBudget)
	require.NoError(t, eng.Advance(ctx, admin))
	require.NoError(t, eng.AcknowledgeTransaction(ctx, a, ""))
	require.NoError(t, eng.AcknowledgeTransaction(ctx, b, ""))
	assert.Equal(t, models.RubataPhaseCompleted, eng.Snapshot().Session.Phase)

	buyer, err := roster.Member(ctx, league, b)
	require.NoError(t, err)
	assert.Equal(t, int64(35), buyer.Budget)
	assert.Equal(t, 1, buyer.Slots["WR"])
	seller, err := roster.Member(ctx, league, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(65), seller.Budget)

	_, err = roster.Member(ctx, league, uuid.New())
	assert.ErrorIs(t, err, validator.ErrUnknownMember)
}
