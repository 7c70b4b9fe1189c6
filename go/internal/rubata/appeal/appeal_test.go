package appeal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedAuction(amounts ...int64) *models.ActiveAuction {
	a := &models.ActiveAuction{
		ID:           uuid.New(),
		ItemID:       uuid.New(),
		SellerID:     uuid.New(),
		BasePrice:    10,
		CurrentPrice: 10,
		Closed:       true,
	}
	for _, amt := range amounts {
		a.Bids = append(a.Bids, models.Bid{ID: uuid.New(), AuctionID: a.ID, BidderID: uuid.New(), Amount: amt})
		a.CurrentPrice = amt
	}
	return a
}

func validParams() SubmitParams {
	auction := closedAuction(12, 15)
	return SubmitParams{
		SessionID:   uuid.New(),
		Phase:       models.RubataPhasePendingAck,
		SubmittedBy: uuid.New(),
		Reason:      "bid landed after the buzzer",
		Auction:     auction,
		ItemID:      auction.ItemID,
		Now:         time.Now(),
	}
}

func TestSubmit(t *testing.T) {
	p := validParams()

	a, err := Submit(p)
	require.NoError(t, err)
	assert.Equal(t, models.AppealStatusPending, a.Status)
	assert.Equal(t, p.SubmittedBy, a.SubmittedBy)
	require.NotNil(t, a.Snapshot)
	assert.Len(t, a.Snapshot.Bids, 2)

	p.Auction.Bids = append(p.Auction.Bids, models.Bid{Amount: 99})
	assert.Len(t, a.Snapshot.Bids, 2, "snapshot must be a copy")
}

func TestSubmitNotAllowed(t *testing.T) {
	cases := map[string]func(p *SubmitParams){
		"wrong phase":     func(p *SubmitParams) { p.Phase = models.RubataPhaseAuction },
		"quorum met":      func(p *SubmitParams) { p.QuorumMet = true },
		"already pending": func(p *SubmitParams) { p.Current = &models.Appeal{ID: uuid.New(), Status: models.AppealStatusPending} },
		"empty reason":    func(p *SubmitParams) { p.Reason = "  " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := validParams()
			mutate(&p)
			_, err := Submit(p)
			assert.ErrorIs(t, err, ErrAppealNotAllowed)
		})
	}
}

func TestSubmitAfterDecidedAppeal(t *testing.T) {
	p := validParams()
	p.Current = &models.Appeal{ID: uuid.New(), Status: models.AppealStatusRejected}

	_, err := Submit(p)
	assert.NoError(t, err)
}

func TestDecide(t *testing.T) {
	a, err := Submit(validParams())
	require.NoError(t, err)
	admin := uuid.New()

	decided, err := Decide(a, admin, models.AppealStatusRejected, "bid was on time", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.AppealStatusRejected, decided.Status)
	assert.Equal(t, "bid was on time", decided.AdminNotes)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, admin, *decided.DecidedBy)
	assert.Equal(t, models.AppealStatusPending, a.Status, "input untouched")

	_, err = Decide(decided, admin, models.AppealStatusAccepted, "", time.Now())
	assert.ErrorIs(t, err, ErrNoPendingAppeal)

	_, err = Decide(a, admin, models.AppealStatusPending, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestRollbackAuction(t *testing.T) {
	a, err := Submit(validParams())
	require.NoError(t, err)

	_, err = RollbackAuction(a)
	assert.Error(t, err, "pending appeals cannot roll back")

	accepted, err := Decide(a, uuid.New(), models.AppealStatusAccepted, "late bid", time.Now())
	require.NoError(t, err)

	restored, err := RollbackAuction(accepted)
	require.NoError(t, err)
	require.Len(t, restored.Bids, 1)
	assert.Equal(t, int64(12), restored.CurrentPrice)
	assert.Len(t, accepted.Snapshot.Bids, 2)
}

func TestRollbackSingleBidReturnsToBase(t *testing.T) {
	p := validParams()
	p.Auction = closedAuction(11)
	a, err := Submit(p)
	require.NoError(t, err)
	accepted, err := Decide(a, uuid.New(), models.AppealStatusAccepted, "", time.Now())
	require.NoError(t, err)

	restored, err := RollbackAuction(accepted)
	require.NoError(t, err)
	assert.Empty(t, restored.Bids)
	assert.Equal(t, int64(10), restored.CurrentPrice)
}
