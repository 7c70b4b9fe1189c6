// Package preference stores members' advisory notes about players. The engine
// never reads them.
package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("preference not found")
	ErrInvalid  = errors.New("invalid preference")
)

const maxNotesLength = 500

// Store persists preferences keyed by league, member and player.
type Store interface {
	GetPreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) (*models.Preference, error)
	ListPreferences(ctx context.Context, leagueID, memberID uuid.UUID) ([]models.Preference, error)
	UpsertPreference(ctx context.Context, p models.Preference) error
	DeletePreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) error
}

type Service struct {
	store Store
	clock clockwork.Clock
}

func NewService(store Store, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, clock: clock}
}

// Get returns one preference or ErrNotFound.
func (s *Service) Get(ctx context.Context, leagueID, memberID, playerID uuid.UUID) (*models.Preference, error) {
	p, err := s.store.GetPreference(ctx, leagueID, memberID, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return p, nil
}

// List returns a member's preferences, highest priority first.
func (s *Service) List(ctx context.Context, leagueID, memberID uuid.UUID) ([]models.Preference, error) {
	prefs, err := s.store.ListPreferences(ctx, leagueID, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return prefs, nil
}

// Save validates and upserts a preference.
func (s *Service) Save(ctx context.Context, p models.Preference) (*models.Preference, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	p.Notes = strings.TrimSpace(p.Notes)
	p.UpdatedAt = s.clock.Now().UTC()

	if err := s.store.UpsertPreference(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save preference: %w", err)
	}

	log.Debug().
		Str("league_id", p.LeagueID.String()).
		Str("member_id", p.MemberID.String()).
		Str("player_id", p.PlayerID.String()).
		Bool("watchlist", p.IsWatchlist).
		Bool("auto_pass", p.IsAutoPass).
		Msg("preference saved")
	return &p, nil
}

func (s *Service) Delete(ctx context.Context, leagueID, memberID, playerID uuid.UUID) error {
	if err := s.store.DeletePreference(ctx, leagueID, memberID, playerID); err != nil {
		return fmt.Errorf("failed to delete preference: %w", err)
	}
	return nil
}

func validate(p models.Preference) error {
	if p.LeagueID == uuid.Nil || p.MemberID == uuid.Nil || p.PlayerID == uuid.Nil {
		return fmt.Errorf("%w: league, member and player are required", ErrInvalid)
	}
	if p.MaxBid != nil && *p.MaxBid < 0 {
		return fmt.Errorf("%w: max bid must not be negative", ErrInvalid)
	}
	if p.Priority != nil && (*p.Priority < 1 || *p.Priority > 5) {
		return fmt.Errorf("%w: priority must be between 1 and 5", ErrInvalid)
	}
	if p.IsWatchlist && p.IsAutoPass {
		return fmt.Errorf("%w: a player cannot be both watched and auto-passed", ErrInvalid)
	}
	if len(p.Notes) > maxNotesLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalid, maxNotesLength)
	}
	return nil
}
