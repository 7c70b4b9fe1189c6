// Package storetest checks a storage.Store implementation against the
// behavior the engine relies on.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store from open in each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("SessionRoundTrip", func(t *testing.T) { testSessionRoundTrip(t, open(t)) })
	t.Run("CommitVersionConflict", func(t *testing.T) { testVersionConflict(t, open(t)) })
	t.Run("CommitWritesHistory", func(t *testing.T) { testCommitHistory(t, open(t)) })
	t.Run("FailedCommitWritesNothing", func(t *testing.T) { testFailedCommit(t, open(t)) })
	t.Run("Preferences", func(t *testing.T) { testPreferences(t, open(t)) })
	t.Run("RostersSettleTransfers", func(t *testing.T) { testRosters(t, open(t)) })
}

var epoch = time.Date(2026, time.September, 5, 18, 30, 0, 0, time.UTC)

// NewSession returns a session mid-auction with every optional field set.
func NewSession() *models.Session {
	a, b, admin := uuid.New(), uuid.New(), uuid.New()
	item := models.BoardItem{ID: uuid.New(), OwnerID: a, PlayerID: uuid.New(), Category: "WR", BasePrice: 10}
	deadline := epoch.Add(20 * time.Second)
	auction := &models.ActiveAuction{
		ID:           uuid.New(),
		ItemID:       item.ID,
		SellerID:     a,
		BasePrice:    10,
		CurrentPrice: 10,
	}
	return &models.Session{
		ID:             uuid.New(),
		LeagueID:       uuid.New(),
		Members:        []uuid.UUID{a, b},
		Admins:         []uuid.UUID{admin},
		Items:          []models.BoardItem{item},
		Phase:          models.RubataPhaseAuction,
		TimerExpiresAt: &deadline,
		ContesterID:    &b,
		Auction:        auction,
		Version:        1,
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
	}
}

func testSessionRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sess := NewSession()
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.ErrorIs(t, s.CreateSession(ctx, sess), storage.ErrSessionExists)

	got, err := s.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Phase, got.Phase)
	assert.Equal(t, sess.Members, got.Members)
	assert.Equal(t, sess.Items, got.Items)
	require.NotNil(t, got.TimerExpiresAt)
	assert.True(t, sess.TimerExpiresAt.Equal(*got.TimerExpiresAt))
	require.NotNil(t, got.Auction)
	assert.Equal(t, sess.Auction.ID, got.Auction.ID)

	_, err = s.LoadSession(ctx, uuid.New())
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
}

func testVersionConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sess := NewSession()
	require.NoError(t, s.CreateSession(ctx, sess))

	next := sess.Clone()
	next.Version = 2
	require.NoError(t, s.Commit(ctx, engine.Mutation{Session: next, ExpectedVersion: 1}))

	stale := sess.Clone()
	stale.Version = 2
	stale.Phase = models.RubataPhasePaused
	err := s.Commit(ctx, engine.Mutation{Session: stale, ExpectedVersion: 1})
	assert.ErrorIs(t, err, engine.ErrVersionConflict)

	got, err := s.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RubataPhaseAuction, got.Phase)

	orphan := NewSession()
	orphan.Version = 2
	err = s.Commit(ctx, engine.Mutation{Session: orphan, ExpectedVersion: 1})
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
}

func testCommitHistory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sess := NewSession()
	require.NoError(t, s.CreateSession(ctx, sess))
	seller, bidder := sess.Members[0], sess.Members[1]
	item := sess.Items[0]

	bid := models.Bid{ID: uuid.New(), AuctionID: sess.Auction.ID, BidderID: bidder, Amount: 12, ServerTimestamp: epoch.Add(time.Second)}
	next := sess.Clone()
	next.Version = 2
	next.Auction.Bids = append(next.Auction.Bids, bid)
	next.Auction.CurrentPrice = 12
	require.NoError(t, s.Commit(ctx, engine.Mutation{
		Session:         next,
		ExpectedVersion: 1,
		Bids:            []models.Bid{bid},
		Audit: []models.AuditEntry{{
			ID: uuid.New(), SessionID: sess.ID, Version: 2,
			FromPhase: models.RubataPhaseAuction, ToPhase: models.RubataPhaseAuction,
			Trigger: models.TriggerOrganic, ActorID: &bidder, Reason: "bid_placed", At: bid.ServerTimestamp,
		}},
	}))

	decidedAt := epoch.Add(time.Minute)
	appeal := &models.Appeal{
		ID: uuid.New(), SessionID: sess.ID, ItemID: item.ID, SubmittedBy: seller,
		Reason: "lag", Status: models.AppealStatusRejected, AdminNotes: "stands",
		DecidedBy: &sess.Admins[0], Snapshot: next.Auction.Clone(),
		CreatedAt: epoch.Add(30 * time.Second), DecidedAt: &decidedAt,
	}
	transfer := &models.Transfer{
		ID: uuid.New(), SessionID: sess.ID, ItemID: item.ID, PlayerID: item.PlayerID, Category: item.Category,
		FromMember: seller, ToMember: bidder, Price: 12, CreatedAt: decidedAt,
	}
	prophecy := &models.Prophecy{ID: uuid.New(), SessionID: sess.ID, ItemID: item.ID, MemberID: bidder, Text: "he breaks out", CreatedAt: decidedAt}
	final := next.Clone()
	final.Version = 3
	final.Phase = models.RubataPhaseCompleted
	final.Auction = nil
	final.TimerExpiresAt = nil
	require.NoError(t, s.Commit(ctx, engine.Mutation{
		Session:         final,
		ExpectedVersion: 2,
		Appeal:          appeal,
		Transfer:        transfer,
		Prophecy:        prophecy,
		Audit: []models.AuditEntry{{
			ID: uuid.New(), SessionID: sess.ID, Version: 3,
			FromPhase: models.RubataPhasePendingAck, ToPhase: models.RubataPhaseCompleted,
			Trigger: models.TriggerForced, Reason: "forced_pending_ack", At: decidedAt,
		}},
	}))

	got, err := s.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Nil(t, got.Auction)
	assert.Nil(t, got.TimerExpiresAt)

	bids, err := s.ListBids(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, bid.ID, bids[0].ID)
	assert.Equal(t, int64(12), bids[0].Amount)
	assert.True(t, bid.ServerTimestamp.Equal(bids[0].ServerTimestamp))

	audit, err := s.ListAudit(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "bid_placed", audit[0].Reason)
	require.NotNil(t, audit[0].ActorID)
	assert.Equal(t, bidder, *audit[0].ActorID)
	assert.Equal(t, models.TriggerForced, audit[1].Trigger)
	assert.Nil(t, audit[1].ActorID)

	gotAppeal, err := s.GetAppeal(ctx, appeal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppealStatusRejected, gotAppeal.Status)
	require.NotNil(t, gotAppeal.Snapshot)
	assert.Len(t, gotAppeal.Snapshot.Bids, 1)
	require.NotNil(t, gotAppeal.DecidedAt)
	assert.True(t, decidedAt.Equal(*gotAppeal.DecidedAt))
	_, err = s.GetAppeal(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrAppealNotFound)

	transfers, err := s.ListTransfers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, bidder, transfers[0].ToMember)
	assert.Equal(t, int64(12), transfers[0].Price)

	prophecies, err := s.ListProphecies(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, prophecies, 1)
	assert.Equal(t, "he breaks out", prophecies[0].Text)
}

func testFailedCommit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sess := NewSession()
	require.NoError(t, s.CreateSession(ctx, sess))

	next := sess.Clone()
	next.Version = 2
	err := s.Commit(ctx, engine.Mutation{
		Session:         next,
		ExpectedVersion: 5,
		Bids:            []models.Bid{{ID: uuid.New(), AuctionID: sess.Auction.ID, BidderID: sess.Members[1], Amount: 11, ServerTimestamp: epoch}},
		Audit:           []models.AuditEntry{{ID: uuid.New(), SessionID: sess.ID, Version: 2, At: epoch}},
	})
	require.ErrorIs(t, err, engine.ErrVersionConflict)

	bids, err := s.ListBids(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)
	audit, err := s.ListAudit(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func testPreferences(t *testing.T, s storage.Store) {
	ctx := context.Background()
	league, member := uuid.New(), uuid.New()
	one, four := 1, 4
	maxBid := int64(25)

	late := models.Preference{LeagueID: league, MemberID: member, PlayerID: uuid.New(), Priority: &four, UpdatedAt: epoch}
	first := models.Preference{LeagueID: league, MemberID: member, PlayerID: uuid.New(), Priority: &one, MaxBid: &maxBid, IsWatchlist: true, Notes: "must get", UpdatedAt: epoch}
	unranked := models.Preference{LeagueID: league, MemberID: member, PlayerID: uuid.New(), IsAutoPass: true, UpdatedAt: epoch}
	for _, p := range []models.Preference{late, unranked, first} {
		require.NoError(t, s.UpsertPreference(ctx, p))
	}
	require.NoError(t, s.UpsertPreference(ctx, models.Preference{LeagueID: league, MemberID: uuid.New(), PlayerID: uuid.New(), UpdatedAt: epoch}))

	list, err := s.ListPreferences(ctx, league, member)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, first.PlayerID, list[0].PlayerID)
	assert.Equal(t, late.PlayerID, list[1].PlayerID)
	assert.Equal(t, unranked.PlayerID, list[2].PlayerID)

	got, err := s.GetPreference(ctx, league, member, first.PlayerID)
	require.NoError(t, err)
	require.NotNil(t, got.MaxBid)
	assert.Equal(t, int64(25), *got.MaxBid)
	assert.Equal(t, "must get", got.Notes)
	assert.True(t, got.IsWatchlist)
	assert.True(t, epoch.Equal(got.UpdatedAt))

	first.Notes = "changed my mind"
	first.IsWatchlist = false
	first.MaxBid = nil
	require.NoError(t, s.UpsertPreference(ctx, first))
	got, err = s.GetPreference(ctx, league, member, first.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, "changed my mind", got.Notes)
	assert.Nil(t, got.MaxBid)

	require.NoError(t, s.DeletePreference(ctx, league, member, first.PlayerID))
	_, err = s.GetPreference(ctx, league, member, first.PlayerID)
	assert.ErrorIs(t, err, preference.ErrNotFound)
	assert.ErrorIs(t, s.DeletePreference(ctx, league, member, first.PlayerID), preference.ErrNotFound)
}

func testRosters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sess := NewSession()
	require.NoError(t, s.CreateSession(ctx, sess))
	seller, bidder := sess.Members[0], sess.Members[1]
	item := sess.Items[0]

	_, err := s.LoadMember(ctx, sess.LeagueID, bidder)
	assert.ErrorIs(t, err, validator.ErrUnknownMember)

	require.NoError(t, s.SaveMember(ctx, sess.LeagueID, seller, validator.MemberRoster{Budget: 40, Slots: map[string]int{"WR": 2}}))
	require.NoError(t, s.SaveMember(ctx, sess.LeagueID, bidder, validator.MemberRoster{Budget: 100}))
	got, err := s.LoadMember(ctx, sess.LeagueID, bidder)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Budget)
	assert.NotNil(t, got.Slots)

	_, err = s.LoadMember(ctx, uuid.New(), bidder)
	assert.ErrorIs(t, err, validator.ErrUnknownMember, "rosters are per league")

	transfer := &models.Transfer{
		ID: uuid.New(), SessionID: sess.ID, ItemID: item.ID, PlayerID: item.PlayerID, Category: item.Category,
		FromMember: seller, ToMember: bidder, Price: 15, CreatedAt: epoch,
	}
	next := sess.Clone()
	next.Version = 2

	err = s.Commit(ctx, engine.Mutation{Session: next, ExpectedVersion: 9, Transfer: transfer})
	require.ErrorIs(t, err, engine.ErrVersionConflict)
	got, err = s.LoadMember(ctx, sess.LeagueID, bidder)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Budget, "a failed commit settles nothing")

	require.NoError(t, s.Commit(ctx, engine.Mutation{Session: next, ExpectedVersion: 1, Transfer: transfer}))
	buyer, err := s.LoadMember(ctx, sess.LeagueID, bidder)
	require.NoError(t, err)
	assert.Equal(t, int64(85), buyer.Budget)
	assert.Equal(t, 1, buyer.Slots["WR"])
	paid, err := s.LoadMember(ctx, sess.LeagueID, seller)
	require.NoError(t, err)
	assert.Equal(t, int64(55), paid.Budget)
	assert.Equal(t, 1, paid.Slots["WR"])
}
