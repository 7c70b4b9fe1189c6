package models

import (
	"time"

	"github.com/google/uuid"
)

// RubataPhase is the phase of a rubata session state machine.
type RubataPhase string

const (
	RubataPhaseWaiting           RubataPhase = "WAITING"
	RubataPhasePreview           RubataPhase = "PREVIEW"
	RubataPhaseReadyCheck        RubataPhase = "READY_CHECK"
	RubataPhaseOffering          RubataPhase = "OFFERING"
	RubataPhaseAuctionReadyCheck RubataPhase = "AUCTION_READY_CHECK"
	RubataPhaseAuction           RubataPhase = "AUCTION"
	RubataPhasePendingAck        RubataPhase = "PENDING_ACK"
	RubataPhaseAppealReview      RubataPhase = "APPEAL_REVIEW"
	RubataPhaseAwaitingAppealAck RubataPhase = "AWAITING_APPEAL_ACK"
	RubataPhaseAwaitingResume    RubataPhase = "AWAITING_RESUME"
	RubataPhasePaused            RubataPhase = "PAUSED"
	RubataPhaseCompleted         RubataPhase = "COMPLETED"
)

// Timed reports whether the phase runs against a deadline.
func (p RubataPhase) Timed() bool {
	return p == RubataPhaseOffering || p == RubataPhaseAuction
}

// ItemOutcome records how a board item left the rubata sequence.
type ItemOutcome string

const (
	ItemOutcomeNone ItemOutcome = ""
	ItemOutcomeKept ItemOutcome = "KEPT"
	ItemOutcomeSold ItemOutcome = "SOLD"
)

// BoardItem is a rostered player that can be contested in the rubata sequence.
type BoardItem struct {
	ID        uuid.UUID   `json:"id"`
	OwnerID   uuid.UUID   `json:"owner_id"`
	PlayerID  uuid.UUID   `json:"player_id"`
	Category  string      `json:"category"`
	BasePrice int64       `json:"base_price"`
	Resolved  bool        `json:"resolved"`
	Outcome   ItemOutcome `json:"outcome,omitempty"`
}

// Bid is a single accepted offer, ordered by server arrival.
type Bid struct {
	ID              uuid.UUID `json:"id"`
	AuctionID       uuid.UUID `json:"auction_id"`
	BidderID        uuid.UUID `json:"bidder_id"`
	Amount          int64     `json:"amount"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}

// ActiveAuction is the single live auction of a session.
type ActiveAuction struct {
	ID              uuid.UUID `json:"id"`
	ItemID          uuid.UUID `json:"item_id"`
	SellerID        uuid.UUID `json:"seller_id"`
	BasePrice       int64     `json:"base_price"`
	CurrentPrice    int64     `json:"current_price"`
	Bids            []Bid     `json:"bids"`
	BiddingDeadline time.Time `json:"bidding_deadline"`
	Closed          bool      `json:"closed"`
}

// Clone returns a deep copy.
func (a *ActiveAuction) Clone() *ActiveAuction {
	if a == nil {
		return nil
	}
	c := *a
	c.Bids = append([]Bid(nil), a.Bids...)
	return &c
}

// LastBid returns the highest (latest) bid, if any.
func (a *ActiveAuction) LastBid() (Bid, bool) {
	if a == nil || len(a.Bids) == 0 {
		return Bid{}, false
	}
	return a.Bids[len(a.Bids)-1], true
}

// QuorumGate names the phase a ready status belongs to.
type QuorumGate string

const (
	QuorumGateReadyCheck        QuorumGate = "READY_CHECK"
	QuorumGateAuctionReadyCheck QuorumGate = "AUCTION_READY_CHECK"
	QuorumGatePendingAck        QuorumGate = "PENDING_ACK"
	QuorumGateAppealAck         QuorumGate = "AWAITING_APPEAL_ACK"
	QuorumGateAwaitingResume    QuorumGate = "AWAITING_RESUME"
	QuorumGatePauseResume       QuorumGate = "PAUSE_RESUME"
)

// ReadyStatus is the acknowledgement state of a quorum gate.
type ReadyStatus struct {
	Gate     QuorumGate  `json:"gate"`
	Required []uuid.UUID `json:"required"`
	Acked    []uuid.UUID `json:"acked"`
	Forced   bool        `json:"forced"`
	ForcedBy *uuid.UUID  `json:"forced_by,omitempty"`
}

// PendingOutcome is the provisional result of a closed auction awaiting acknowledgement.
type PendingOutcome struct {
	AuctionID uuid.UUID  `json:"auction_id"`
	ItemID    uuid.UUID  `json:"item_id"`
	SellerID  uuid.UUID  `json:"seller_id"`
	WinnerID  *uuid.UUID `json:"winner_id,omitempty"`
	Price     int64      `json:"price"`
}

// Sold reports whether the outcome moves the item to a new owner.
func (o *PendingOutcome) Sold() bool {
	return o != nil && o.WinnerID != nil
}

// AppealStatus is the adjudication state of an appeal.
type AppealStatus string

const (
	AppealStatusPending  AppealStatus = "PENDING"
	AppealStatusAccepted AppealStatus = "ACCEPTED"
	AppealStatusRejected AppealStatus = "REJECTED"
)

// Appeal is a dispute raised against a pending transaction.
type Appeal struct {
	ID          uuid.UUID      `json:"id"`
	SessionID   uuid.UUID      `json:"session_id"`
	ItemID      uuid.UUID      `json:"item_id"`
	SubmittedBy uuid.UUID      `json:"submitted_by"`
	Reason      string         `json:"reason"`
	Status      AppealStatus   `json:"status"`
	AdminNotes  string         `json:"admin_notes,omitempty"`
	DecidedBy   *uuid.UUID     `json:"decided_by,omitempty"`
	Snapshot    *ActiveAuction `json:"snapshot"`
	CreatedAt   time.Time      `json:"created_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}

// Clone returns a deep copy.
func (a *Appeal) Clone() *Appeal {
	if a == nil {
		return nil
	}
	c := *a
	c.Snapshot = a.Snapshot.Clone()
	return &c
}

// Preference is a member's advisory note about a player. The engine never enforces it.
type Preference struct {
	LeagueID    uuid.UUID `json:"league_id"`
	MemberID    uuid.UUID `json:"member_id"`
	PlayerID    uuid.UUID `json:"player_id"`
	IsWatchlist bool      `json:"is_watchlist"`
	IsAutoPass  bool      `json:"is_auto_pass"`
	MaxBid      *int64    `json:"max_bid,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transfer records an acknowledged sale.
type Transfer struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	ItemID     uuid.UUID `json:"item_id"`
	PlayerID   uuid.UUID `json:"player_id"`
	Category   string    `json:"category"`
	FromMember uuid.UUID `json:"from_member"`
	ToMember   uuid.UUID `json:"to_member"`
	Price      int64     `json:"price"`
	CreatedAt  time.Time `json:"created_at"`
}

// Prophecy is the free text a member attaches to a transaction acknowledgement.
type Prophecy struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	ItemID    uuid.UUID `json:"item_id"`
	MemberID  uuid.UUID `json:"member_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// TransitionTrigger tags what caused a phase change in the audit stream.
type TransitionTrigger string

const (
	TriggerOrganic TransitionTrigger = "ORGANIC"
	TriggerTimer   TransitionTrigger = "TIMER"
	TriggerForced  TransitionTrigger = "FORCED"
)

// AuditEntry is one row of the session audit log.
type AuditEntry struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	Version   int64             `json:"version"`
	FromPhase RubataPhase       `json:"from_phase"`
	ToPhase   RubataPhase       `json:"to_phase"`
	Trigger   TransitionTrigger `json:"trigger"`
	ActorID   *uuid.UUID        `json:"actor_id,omitempty"`
	Reason    string            `json:"reason"`
	At        time.Time         `json:"at"`
}

// Session is the rubata aggregate. It is mutated only by the engine.
type Session struct {
	ID              uuid.UUID       `json:"id"`
	LeagueID        uuid.UUID       `json:"league_id"`
	Members         []uuid.UUID     `json:"members"`
	Admins          []uuid.UUID     `json:"admins"`
	Items           []BoardItem     `json:"items"`
	CurrentIndex    int             `json:"current_index"`
	Phase           RubataPhase     `json:"phase"`
	TimerExpiresAt  *time.Time      `json:"timer_expires_at,omitempty"`
	PausedRemaining time.Duration   `json:"paused_remaining"`
	PausedFromPhase RubataPhase     `json:"paused_from_phase,omitempty"`
	ContesterID     *uuid.UUID      `json:"contester_id,omitempty"`
	ReadyStatus     *ReadyStatus    `json:"ready_status,omitempty"`
	Auction         *ActiveAuction  `json:"auction,omitempty"`
	PendingOutcome  *PendingOutcome `json:"pending_outcome,omitempty"`
	ActiveAppeal    *Appeal         `json:"active_appeal,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CurrentItem returns the board item under contest, if any remain.
func (s *Session) CurrentItem() (*BoardItem, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Items) {
		return nil, false
	}
	return &s.Items[s.CurrentIndex], true
}

// IsMember reports whether id takes part in the session.
func (s *Session) IsMember(id uuid.UUID) bool {
	for _, m := range s.Members {
		if m == id {
			return true
		}
	}
	return false
}

// IsAdmin reports whether id may run admin operations.
func (s *Session) IsAdmin(id uuid.UUID) bool {
	for _, a := range s.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the aggregate.
func (s *Session) Clone() *Session {
	c := *s
	c.Members = append([]uuid.UUID(nil), s.Members...)
	c.Admins = append([]uuid.UUID(nil), s.Admins...)
	c.Items = append([]BoardItem(nil), s.Items...)
	if s.TimerExpiresAt != nil {
		t := *s.TimerExpiresAt
		c.TimerExpiresAt = &t
	}
	if s.ContesterID != nil {
		id := *s.ContesterID
		c.ContesterID = &id
	}
	if s.ReadyStatus != nil {
		rs := *s.ReadyStatus
		rs.Required = append([]uuid.UUID(nil), s.ReadyStatus.Required...)
		rs.Acked = append([]uuid.UUID(nil), s.ReadyStatus.Acked...)
		if s.ReadyStatus.ForcedBy != nil {
			by := *s.ReadyStatus.ForcedBy
			rs.ForcedBy = &by
		}
		c.ReadyStatus = &rs
	}
	c.Auction = s.Auction.Clone()
	if s.PendingOutcome != nil {
		po := *s.PendingOutcome
		if s.PendingOutcome.WinnerID != nil {
			w := *s.PendingOutcome.WinnerID
			po.WinnerID = &w
		}
		c.PendingOutcome = &po
	}
	c.ActiveAppeal = s.ActiveAppeal.Clone()
	return &c
}
