package engine

import (
	"errors"

	"github.com/mcdev12/rubata/go/internal/rubata/appeal"
	"github.com/mcdev12/rubata/go/internal/rubata/ledger"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSessionNotFound   = errors.New("session not found")
	ErrVersionConflict   = errors.New("session version conflict")
	ErrInvalidSession    = errors.New("invalid session")

	ErrInsufficientBudget   = validator.ErrInsufficientBudget
	ErrSlotFull             = validator.ErrSlotFull
	ErrUnknownMember        = validator.ErrUnknownMember
	ErrBidTooLow            = ledger.ErrBidTooLow
	ErrSellerCannotBid      = ledger.ErrSellerCannotBid
	ErrAuctionAlreadyActive = ledger.ErrAuctionAlreadyActive
	ErrAuctionClosed        = ledger.ErrAuctionClosed
	ErrAppealNotAllowed     = appeal.ErrAppealNotAllowed
	ErrNoPendingAppeal      = appeal.ErrNoPendingAppeal
	ErrInvalidDecision      = appeal.ErrInvalidDecision
)

// errNoop aborts a mutation that leaves the session unchanged, such as a
// duplicate acknowledgement. It never reaches callers.
var errNoop = errors.New("no change")
