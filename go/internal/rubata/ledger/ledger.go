// Package ledger holds the single active auction of a rubata session.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
)

var (
	ErrAuctionAlreadyActive = errors.New("an auction is already active")
	ErrAuctionClosed        = errors.New("auction is closed")
	ErrSellerCannotBid      = errors.New("seller cannot bid on own item")
	ErrBidTooLow            = errors.New("bid must exceed the current price")
)

// BidValidator approves a bid against the bidder's budget and roster slots.
type BidValidator interface {
	CanBid(ctx context.Context, memberID uuid.UUID, amount int64, item models.BoardItem) error
}

// Result is the outcome of a finalized auction.
type Result struct {
	AuctionID uuid.UUID
	ItemID    uuid.UUID
	SellerID  uuid.UUID
	WinnerID  *uuid.UUID
	Price     int64
	Bids      int
}

// Ledger operates on the session's auction record. At most one unclosed
// auction exists at any time.
type Ledger struct {
	validator BidValidator
	auction   *models.ActiveAuction
}

// New binds a ledger to the current auction record, which may be nil.
func New(validator BidValidator, auction *models.ActiveAuction) *Ledger {
	return &Ledger{validator: validator, auction: auction}
}

// Auction returns the record the ledger operates on, open or closed.
func (l *Ledger) Auction() *models.ActiveAuction { return l.auction }

// Active reports whether an auction accepts bids.
func (l *Ledger) Active() bool {
	return l.auction != nil && !l.auction.Closed
}

// Open creates the auction for item starting at its base price.
func (l *Ledger) Open(item models.BoardItem, deadline time.Time) (*models.ActiveAuction, error) {
	if l.Active() {
		return nil, ErrAuctionAlreadyActive
	}
	l.auction = &models.ActiveAuction{
		ID:              uuid.New(),
		ItemID:          item.ID,
		SellerID:        item.OwnerID,
		BasePrice:       item.BasePrice,
		CurrentPrice:    item.BasePrice,
		BiddingDeadline: deadline,
	}
	return l.auction, nil
}

// PlaceBid appends a bid in arrival order. The roster provider is consulted last.
func (l *Ledger) PlaceBid(ctx context.Context, bidderID uuid.UUID, amount int64, item models.BoardItem, now time.Time) (models.Bid, error) {
	if !l.Active() {
		return models.Bid{}, ErrAuctionClosed
	}
	a := l.auction
	if bidderID == a.SellerID {
		return models.Bid{}, ErrSellerCannotBid
	}
	if amount <= a.CurrentPrice {
		return models.Bid{}, fmt.Errorf("%w: %d <= %d", ErrBidTooLow, amount, a.CurrentPrice)
	}
	if l.validator != nil {
		if err := l.validator.CanBid(ctx, bidderID, amount, item); err != nil {
			return models.Bid{}, err
		}
	}

	bid := models.Bid{
		ID:              uuid.New(),
		AuctionID:       a.ID,
		BidderID:        bidderID,
		Amount:          amount,
		ServerTimestamp: now,
	}
	a.Bids = append(a.Bids, bid)
	a.CurrentPrice = amount
	return bid, nil
}

// ExtendDeadline moves the bidding deadline of the active auction.
func (l *Ledger) ExtendDeadline(deadline time.Time) {
	if l.Active() {
		l.auction.BiddingDeadline = deadline
	}
}

// Finalize closes the auction and returns its winner, if any. No bid is
// accepted after Finalize returns.
func (l *Ledger) Finalize() (Result, error) {
	if !l.Active() {
		return Result{}, ErrAuctionClosed
	}
	a := l.auction
	a.Closed = true

	res := Result{
		AuctionID: a.ID,
		ItemID:    a.ItemID,
		SellerID:  a.SellerID,
		Price:     a.CurrentPrice,
		Bids:      len(a.Bids),
	}
	if last, ok := a.LastBid(); ok {
		winner := last.BidderID
		res.WinnerID = &winner
		res.Price = last.Amount
	}
	return res, nil
}

// Restore reopens a rolled-back auction (see RollbackOf) with a new deadline.
// It reports false when the auction carries no bids.
func (l *Ledger) Restore(rolledBack *models.ActiveAuction, deadline time.Time) (bool, error) {
	if l.Active() {
		return false, ErrAuctionAlreadyActive
	}
	if rolledBack == nil {
		return false, errors.New("no auction to restore")
	}
	restored := rolledBack.Clone()
	restored.Closed = false
	restored.BiddingDeadline = deadline
	l.auction = restored
	return len(restored.Bids) > 0, nil
}

// Clear drops the auction record once its outcome is settled.
func (l *Ledger) Clear() {
	l.auction = nil
}

// RollbackOf returns the auction as it stood immediately before its last bid.
func RollbackOf(snapshot *models.ActiveAuction) *models.ActiveAuction {
	restored := snapshot.Clone()
	if n := len(restored.Bids); n > 0 {
		restored.Bids = restored.Bids[:n-1]
	}
	if last, ok := restored.LastBid(); ok {
		restored.CurrentPrice = last.Amount
	} else {
		restored.CurrentPrice = restored.BasePrice
	}
	return restored
}
