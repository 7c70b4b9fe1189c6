// Package appeal adjudicates disputes raised against a pending transaction.
package appeal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/ledger"
)

var (
	ErrAppealNotAllowed = errors.New("appeal not allowed")
	ErrNoPendingAppeal  = errors.New("no pending appeal")
	ErrInvalidDecision  = errors.New("decision must be ACCEPTED or REJECTED")
)

// SubmitParams carries what the engine knows when a member appeals.
type SubmitParams struct {
	SessionID   uuid.UUID
	Phase       models.RubataPhase
	QuorumMet   bool
	Current     *models.Appeal
	SubmittedBy uuid.UUID
	Reason      string
	Auction     *models.ActiveAuction
	ItemID      uuid.UUID
	Now         time.Time
}

// Submit creates a pending appeal with a deep copy of the closed auction.
func Submit(p SubmitParams) (*models.Appeal, error) {
	if p.Phase != models.RubataPhasePendingAck {
		return nil, fmt.Errorf("%w: phase is %s", ErrAppealNotAllowed, p.Phase)
	}
	if p.QuorumMet {
		return nil, fmt.Errorf("%w: transaction already acknowledged", ErrAppealNotAllowed)
	}
	if p.Current != nil && p.Current.Status == models.AppealStatusPending {
		return nil, fmt.Errorf("%w: appeal %s is pending", ErrAppealNotAllowed, p.Current.ID)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrAppealNotAllowed)
	}

	return &models.Appeal{
		ID:          uuid.New(),
		SessionID:   p.SessionID,
		ItemID:      p.ItemID,
		SubmittedBy: p.SubmittedBy,
		Reason:      p.Reason,
		Status:      models.AppealStatusPending,
		Snapshot:    p.Auction.Clone(),
		CreatedAt:   p.Now,
	}, nil
}

// Decide records the admin's verdict on a pending appeal and returns the
// decided copy. The input is not modified.
func Decide(a *models.Appeal, adminID uuid.UUID, outcome models.AppealStatus, notes string, now time.Time) (*models.Appeal, error) {
	if a == nil || a.Status != models.AppealStatusPending {
		return nil, ErrNoPendingAppeal
	}
	if outcome != models.AppealStatusAccepted && outcome != models.AppealStatusRejected {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidDecision, outcome)
	}

	decided := a.Clone()
	decided.Status = outcome
	decided.AdminNotes = notes
	by := adminID
	decided.DecidedBy = &by
	at := now
	decided.DecidedAt = &at
	return decided, nil
}

// RollbackAuction returns the auction state an accepted appeal restores: the
// snapshot without its last bid.
func RollbackAuction(a *models.Appeal) (*models.ActiveAuction, error) {
	if a == nil || a.Status != models.AppealStatusAccepted {
		return nil, errors.New("rollback requires an accepted appeal")
	}
	if a.Snapshot == nil {
		return nil, errors.New("appeal has no auction snapshot")
	}
	return ledger.RollbackOf(a.Snapshot), nil
}
