// Package storage holds what the rubata store implementations share.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
)

var (
	ErrSessionExists  = errors.New("session already exists")
	ErrAppealNotFound = errors.New("appeal not found")
)

// Reader exposes the history rows a Commit writes.
type Reader interface {
	ListAudit(ctx context.Context, sessionID uuid.UUID) ([]models.AuditEntry, error)
	ListTransfers(ctx context.Context, sessionID uuid.UUID) ([]models.Transfer, error)
	ListBids(ctx context.Context, sessionID uuid.UUID) ([]models.Bid, error)
	ListProphecies(ctx context.Context, sessionID uuid.UUID) ([]models.Prophecy, error)
	GetAppeal(ctx context.Context, id uuid.UUID) (*models.Appeal, error)
}

// Store is the full surface every backend implements.
type Store interface {
	engine.Store
	preference.Store
	validator.RosterStore
	Reader
}
