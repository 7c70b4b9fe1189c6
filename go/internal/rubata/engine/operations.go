package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/appeal"
	"github.com/mcdev12/rubata/go/internal/rubata/ledger"
	"github.com/mcdev12/rubata/go/internal/rubata/quorum"
)

// OpenPreview shows the board to members before the ready check.
func (e *Engine) OpenPreview(ctx context.Context, adminID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhaseWaiting {
			return invalid(next.Phase, "open preview")
		}
		c.actor = &adminID
		c.reason = "preview_opened"
		next.Phase = models.RubataPhasePreview
		return nil
	})
}

// StartSession opens the initial ready check.
func (e *Engine) StartSession(ctx context.Context, adminID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhaseWaiting && next.Phase != models.RubataPhasePreview {
			return invalid(next.Phase, "start session")
		}
		c.actor = &adminID
		c.reason = "session_started"
		next.Phase = models.RubataPhaseReadyCheck
		next.ReadyStatus = quorum.Open(models.QuorumGateReadyCheck, next.Members).Status()
		return nil
	})
}

// SetReady acknowledges the ready check, the auction ready check or the
// resume check of a paused session.
func (e *Engine) SetReady(ctx context.Context, memberID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var gate models.QuorumGate
	switch e.session.Phase {
	case models.RubataPhaseReadyCheck:
		gate = models.QuorumGateReadyCheck
	case models.RubataPhaseAuctionReadyCheck:
		gate = models.QuorumGateAuctionReadyCheck
	case models.RubataPhasePaused:
		gate = models.QuorumGatePauseResume
	default:
		return invalid(e.session.Phase, "set ready")
	}
	return e.ack(ctx, memberID, gate, "")
}

// ForceReadyAll satisfies whichever quorum gate is open.
func (e *Engine) ForceReadyAll(ctx context.Context, adminID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		rs := next.ReadyStatus
		if rs == nil || gatePhase(rs.Gate) != next.Phase {
			return invalid(next.Phase, "force ready")
		}
		q := quorum.FromStatus(rs)
		q.Force(adminID)
		next.ReadyStatus = q.Status()
		c.trigger = models.TriggerForced
		c.actor = &adminID
		c.reason = "forced_" + strings.ToLower(string(rs.Gate))
		return e.satisfyGate(next, c)
	})
}

// Advance is the admin override for the running window: an offer closes with
// the owner keeping the item, an auction closes at its current price.
func (e *Engine) Advance(ctx context.Context, adminID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		c.trigger = models.TriggerForced
		c.actor = &adminID
		switch next.Phase {
		case models.RubataPhaseOffering:
			c.reason = "offer_advanced"
			return e.keepItem(next, c)
		case models.RubataPhaseAuction:
			c.reason = "auction_advanced"
			return e.closeAuction(next, c)
		default:
			return invalid(next.Phase, "advance")
		}
	})
}

// DeclareIntentToContest moves the offered item to an auction ready check.
// The declaration places no bid.
func (e *Engine) DeclareIntentToContest(ctx context.Context, memberID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireMember(next, memberID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhaseOffering {
			return invalid(next.Phase, "declare intent")
		}
		item, ok := next.CurrentItem()
		if !ok {
			return invalid(next.Phase, "declare intent")
		}
		if item.OwnerID == memberID {
			return fmt.Errorf("%w: owner cannot contest own item", ErrSellerCannotBid)
		}
		e.stopTimer(next, c)
		contester := memberID
		next.ContesterID = &contester
		next.Phase = models.RubataPhaseAuctionReadyCheck
		next.ReadyStatus = quorum.Open(models.QuorumGateAuctionReadyCheck, next.Members).Status()
		c.actor = &contester
		c.reason = "intent_declared"
		return nil
	})
}

// PlaceBid records a bid on the active auction.
func (e *Engine) PlaceBid(ctx context.Context, memberID uuid.UUID, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireMember(next, memberID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhaseAuction {
			if postClose(next.Phase) {
				return ErrAuctionClosed
			}
			return invalid(next.Phase, "place bid")
		}
		item, ok := next.CurrentItem()
		if !ok {
			return ErrAuctionClosed
		}

		l := ledger.New(e.validator, next.Auction)
		bid, err := l.PlaceBid(ctx, memberID, amount, *item, e.clock.Now())
		if err != nil {
			return err
		}
		if e.rules.ResetTimerOnBid {
			l.ExtendDeadline(e.armTimer(next, c, e.rules.AuctionDuration))
		}
		next.Auction = l.Auction()
		c.bids = append(c.bids, bid)
		c.actor = &bid.BidderID
		c.reason = "bid_placed"
		return nil
	})
}

// Pause freezes a running offer window or auction.
func (e *Engine) Pause(ctx context.Context, adminID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhaseOffering && next.Phase != models.RubataPhaseAuction {
			return invalid(next.Phase, "pause")
		}
		e.pauseTimer(next, c)
		next.PausedFromPhase = next.Phase
		next.Phase = models.RubataPhasePaused
		next.ReadyStatus = nil
		c.actor = &adminID
		c.reason = "paused"
		return nil
	})
}

// Resume opens the ready check that ends a pause. The session stays paused
// until the check is satisfied.
func (e *Engine) Resume(ctx context.Context, adminID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhasePaused || next.ReadyStatus != nil {
			return invalid(next.Phase, "resume")
		}
		next.ReadyStatus = quorum.Open(models.QuorumGatePauseResume, next.Members).Status()
		c.actor = &adminID
		c.reason = "resume_requested"
		return nil
	})
}

// SubmitAppeal disputes the pending transaction.
func (e *Engine) SubmitAppeal(ctx context.Context, memberID uuid.UUID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireMember(next, memberID); err != nil {
			return err
		}
		var itemID uuid.UUID
		if item, ok := next.CurrentItem(); ok {
			itemID = item.ID
		}
		a, err := appeal.Submit(appeal.SubmitParams{
			SessionID:   next.ID,
			Phase:       next.Phase,
			QuorumMet:   next.ReadyStatus != nil && quorum.FromStatus(next.ReadyStatus).IsSatisfied(),
			Current:     next.ActiveAppeal,
			SubmittedBy: memberID,
			Reason:      reason,
			Auction:     next.Auction,
			ItemID:      itemID,
			Now:         e.clock.Now(),
		})
		if err != nil {
			return err
		}
		next.ActiveAppeal = a
		next.Phase = models.RubataPhaseAppealReview
		next.ReadyStatus = nil
		c.appeal = a
		c.actor = &memberID
		c.reason = "appeal_submitted"
		return nil
	})
}

// DecideAppeal records the admin verdict and opens the decision acknowledgement.
func (e *Engine) DecideAppeal(ctx context.Context, adminID uuid.UUID, outcome models.AppealStatus, notes string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mutate(ctx, func(next *models.Session, c *change) error {
		if err := requireAdmin(next, adminID); err != nil {
			return err
		}
		if next.Phase != models.RubataPhaseAppealReview {
			return invalid(next.Phase, "decide appeal")
		}
		decided, err := appeal.Decide(next.ActiveAppeal, adminID, outcome, notes, e.clock.Now())
		if err != nil {
			return err
		}
		next.ActiveAppeal = decided
		next.Phase = models.RubataPhaseAwaitingAppealAck
		next.ReadyStatus = quorum.Open(models.QuorumGateAppealAck, next.Members).Status()
		c.appeal = decided
		c.actor = &adminID
		c.reason = "appeal_" + strings.ToLower(string(outcome))
		return nil
	})
}

// AcknowledgeTransaction acks the pending outcome, optionally with a prophecy.
func (e *Engine) AcknowledgeTransaction(ctx context.Context, memberID uuid.UUID, prophecy string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Phase != models.RubataPhasePendingAck {
		return invalid(e.session.Phase, "acknowledge transaction")
	}
	return e.ack(ctx, memberID, models.QuorumGatePendingAck, prophecy)
}

// AcknowledgeAppealDecision acks the admin's appeal verdict.
func (e *Engine) AcknowledgeAppealDecision(ctx context.Context, memberID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Phase != models.RubataPhaseAwaitingAppealAck {
		return invalid(e.session.Phase, "acknowledge appeal decision")
	}
	return e.ack(ctx, memberID, models.QuorumGateAppealAck, "")
}

// MarkReadyToResume acks the restart of a rolled-back auction.
func (e *Engine) MarkReadyToResume(ctx context.Context, memberID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Phase != models.RubataPhaseAwaitingResume {
		return invalid(e.session.Phase, "mark ready to resume")
	}
	return e.ack(ctx, memberID, models.QuorumGateAwaitingResume, "")
}

// ack records one organic acknowledgement. Duplicates commit nothing.
func (e *Engine) ack(ctx context.Context, memberID uuid.UUID, gate models.QuorumGate, prophecy string) error {
	return e.mutate(ctx, func(next *models.Session, c *change) error {
		rs := next.ReadyStatus
		if rs == nil || rs.Gate != gate || gatePhase(gate) != next.Phase {
			return invalid(next.Phase, "acknowledge "+string(gate))
		}
		q := quorum.FromStatus(rs)
		changed, err := q.Ack(memberID)
		if errors.Is(err, quorum.ErrNotRequired) {
			return fmt.Errorf("%w: %s is not part of %s", ErrUnauthorized, memberID, gate)
		}
		if err != nil {
			return err
		}
		if !changed {
			return errNoop
		}
		next.ReadyStatus = q.Status()
		c.actor = &memberID
		c.reason = "ack_" + strings.ToLower(string(gate))
		if text := strings.TrimSpace(prophecy); text != "" {
			var itemID uuid.UUID
			if item, ok := next.CurrentItem(); ok {
				itemID = item.ID
			}
			c.prophecy = &models.Prophecy{
				ID:        uuid.New(),
				SessionID: next.ID,
				ItemID:    itemID,
				MemberID:  memberID,
				Text:      text,
				CreatedAt: e.clock.Now(),
			}
		}
		if q.IsSatisfied() {
			return e.satisfyGate(next, c)
		}
		return nil
	})
}

// satisfyGate performs the transition guarded by the open quorum.
func (e *Engine) satisfyGate(next *models.Session, c *change) error {
	if c.trigger != models.TriggerForced {
		c.reason = "quorum_" + strings.ToLower(string(next.ReadyStatus.Gate))
	}
	switch next.ReadyStatus.Gate {
	case models.QuorumGateReadyCheck:
		return e.openOffering(next, c)
	case models.QuorumGateAuctionReadyCheck:
		return e.openAuction(next, c)
	case models.QuorumGatePendingAck:
		return e.settleOutcome(next, c)
	case models.QuorumGateAppealAck:
		return e.afterAppealAck(next, c)
	case models.QuorumGateAwaitingResume:
		return e.resumeAfterAppeal(next, c)
	case models.QuorumGatePauseResume:
		return e.resumeFromPause(next, c)
	default:
		return fmt.Errorf("unknown quorum gate %q", next.ReadyStatus.Gate)
	}
}

// openOffering opens the offer window of the current item, or completes the
// session when the board is exhausted.
func (e *Engine) openOffering(next *models.Session, c *change) error {
	next.ReadyStatus = nil
	next.ContesterID = nil
	if _, ok := next.CurrentItem(); !ok {
		e.stopTimer(next, c)
		next.Phase = models.RubataPhaseCompleted
		return nil
	}
	e.armTimer(next, c, e.rules.OfferingDuration)
	next.Phase = models.RubataPhaseOffering
	return nil
}

// keepItem resolves an uncontested offer in the owner's favor.
func (e *Engine) keepItem(next *models.Session, c *change) error {
	item, ok := next.CurrentItem()
	if !ok {
		return invalid(next.Phase, "keep item")
	}
	item.Resolved = true
	item.Outcome = models.ItemOutcomeKept
	next.CurrentIndex++
	return e.openOffering(next, c)
}

func (e *Engine) openAuction(next *models.Session, c *change) error {
	item, ok := next.CurrentItem()
	if !ok {
		return invalid(next.Phase, "open auction")
	}
	l := ledger.New(e.validator, next.Auction)
	if l.Active() {
		return ErrAuctionAlreadyActive
	}
	deadline := e.armTimer(next, c, e.rules.AuctionDuration)
	if _, err := l.Open(*item, deadline); err != nil {
		return err
	}
	next.Auction = l.Auction()
	next.ReadyStatus = nil
	next.Phase = models.RubataPhaseAuction
	return nil
}

// closeAuction finalizes the ledger and opens the transaction acknowledgement.
func (e *Engine) closeAuction(next *models.Session, c *change) error {
	l := ledger.New(e.validator, next.Auction)
	res, err := l.Finalize()
	if err != nil {
		return err
	}
	e.stopTimer(next, c)
	next.Auction = l.Auction()
	next.PendingOutcome = &models.PendingOutcome{
		AuctionID: res.AuctionID,
		ItemID:    res.ItemID,
		SellerID:  res.SellerID,
		WinnerID:  res.WinnerID,
		Price:     res.Price,
	}
	next.Phase = models.RubataPhasePendingAck
	next.ReadyStatus = quorum.Open(models.QuorumGatePendingAck, next.Members).Status()
	return nil
}

// settleOutcome commits the acknowledged outcome and moves to the next item.
func (e *Engine) settleOutcome(next *models.Session, c *change) error {
	item, ok := next.CurrentItem()
	if !ok || next.PendingOutcome == nil {
		return invalid(next.Phase, "settle outcome")
	}
	out := next.PendingOutcome
	if out.Sold() {
		c.transfer = &models.Transfer{
			ID:         uuid.New(),
			SessionID:  next.ID,
			ItemID:     item.ID,
			PlayerID:   item.PlayerID,
			Category:   item.Category,
			FromMember: out.SellerID,
			ToMember:   *out.WinnerID,
			Price:      out.Price,
			CreatedAt:  e.clock.Now(),
		}
		item.OwnerID = *out.WinnerID
		item.Outcome = models.ItemOutcomeSold
	} else {
		item.Outcome = models.ItemOutcomeKept
	}
	item.Resolved = true

	next.Auction = nil
	next.PendingOutcome = nil
	next.ActiveAppeal = nil
	next.CurrentIndex++
	return e.openOffering(next, c)
}

func (e *Engine) afterAppealAck(next *models.Session, c *change) error {
	if next.ActiveAppeal == nil {
		return invalid(next.Phase, "acknowledge appeal decision")
	}
	switch next.ActiveAppeal.Status {
	case models.AppealStatusRejected:
		next.Phase = models.RubataPhasePendingAck
		next.ReadyStatus = quorum.Open(models.QuorumGatePendingAck, next.Members).Status()
	case models.AppealStatusAccepted:
		next.Phase = models.RubataPhaseAwaitingResume
		next.ReadyStatus = quorum.Open(models.QuorumGateAwaitingResume, next.Members).Status()
	default:
		return fmt.Errorf("%w: appeal %s undecided", ErrInvalidTransition, next.ActiveAppeal.ID)
	}
	return nil
}

// resumeAfterAppeal reopens the auction without the disputed bid, or the offer
// window when no bid survives.
func (e *Engine) resumeAfterAppeal(next *models.Session, c *change) error {
	rolledBack, err := appeal.RollbackAuction(next.ActiveAppeal)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	next.PendingOutcome = nil
	next.ReadyStatus = nil

	if len(rolledBack.Bids) == 0 {
		next.Auction = nil
		next.ActiveAppeal = nil
		return e.openOffering(next, c)
	}

	l := ledger.New(e.validator, nil)
	deadline := e.armTimer(next, c, e.rules.AuctionDuration)
	if _, err := l.Restore(rolledBack, deadline); err != nil {
		return err
	}
	next.Auction = l.Auction()
	next.ActiveAppeal = nil
	next.Phase = models.RubataPhaseAuction
	return nil
}

func (e *Engine) resumeFromPause(next *models.Session, c *change) error {
	if next.PausedFromPhase == "" {
		return invalid(next.Phase, "resume")
	}
	at := e.resumeTimer(next, c)
	if next.PausedFromPhase == models.RubataPhaseAuction {
		l := ledger.New(e.validator, next.Auction)
		l.ExtendDeadline(at)
		next.Auction = l.Auction()
	}
	next.Phase = next.PausedFromPhase
	next.PausedFromPhase = ""
	next.ReadyStatus = nil
	return nil
}

func requireAdmin(s *models.Session, id uuid.UUID) error {
	if !s.IsAdmin(id) {
		return fmt.Errorf("%w: %s is not an admin of session %s", ErrUnauthorized, id, s.ID)
	}
	return nil
}

func requireMember(s *models.Session, id uuid.UUID) error {
	if !s.IsMember(id) {
		return fmt.Errorf("%w: %s is not a member of session %s", ErrUnauthorized, id, s.ID)
	}
	return nil
}
