package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
)

// Mutation is everything one engine transition writes. A Store applies it in a
// single transaction, or not at all.
type Mutation struct {
	Session         *models.Session
	ExpectedVersion int64
	Bids            []models.Bid
	Appeal          *models.Appeal
	Transfer        *models.Transfer
	Prophecy        *models.Prophecy
	Audit           []models.AuditEntry
}

// Store is the write-through persistence the engine commits to.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	LoadSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// Commit fails with ErrVersionConflict when the stored version is not
	// ExpectedVersion.
	Commit(ctx context.Context, m Mutation) error
}

// Publisher delivers committed events to league members. Publish must not
// block the caller.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// TransferApplier receives acknowledged sales after they commit.
type TransferApplier interface {
	ApplyTransfer(ctx context.Context, leagueID uuid.UUID, t models.Transfer) error
}
