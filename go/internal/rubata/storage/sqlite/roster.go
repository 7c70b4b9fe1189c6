package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) LoadMember(ctx context.Context, leagueID, memberID uuid.UUID) (validator.MemberRoster, error) {
	return loadRoster(ctx, s.db, leagueID, memberID)
}

func (s *Store) SaveMember(ctx context.Context, leagueID, memberID uuid.UUID, m validator.MemberRoster) error {
	return saveRoster(ctx, s.db, leagueID, memberID, m)
}

func loadRoster(ctx context.Context, q dbtx, leagueID, memberID uuid.UUID) (validator.MemberRoster, error) {
	var (
		m     validator.MemberRoster
		slots []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT budget, slots_json FROM rubata_rosters WHERE league_id = ? AND member_id = ?`,
		leagueID, memberID,
	).Scan(&m.Budget, &slots)
	if errors.Is(err, sql.ErrNoRows) {
		return m, validator.ErrUnknownMember
	}
	if err != nil {
		return m, fmt.Errorf("load roster: %w", err)
	}
	if err := json.Unmarshal(slots, &m.Slots); err != nil {
		return m, fmt.Errorf("decode roster slots: %w", err)
	}
	if m.Slots == nil {
		m.Slots = make(map[string]int)
	}
	return m, nil
}

func saveRoster(ctx context.Context, q dbtx, leagueID, memberID uuid.UUID, m validator.MemberRoster) error {
	slots := m.Slots
	if slots == nil {
		slots = map[string]int{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode roster slots: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO rubata_rosters (league_id, member_id, budget, slots_json)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (league_id, member_id) DO UPDATE SET
		   budget = excluded.budget,
		   slots_json = excluded.slots_json`,
		leagueID, memberID, m.Budget, raw,
	)
	if err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	return nil
}

// settleTransfer applies a committed sale to both rosters inside tx. Rosters
// of members the league never seeded are left alone.
func settleTransfer(ctx context.Context, tx *sql.Tx, leagueID uuid.UUID, t *models.Transfer) error {
	buyer, err := loadRoster(ctx, tx, leagueID, t.ToMember)
	if errors.Is(err, validator.ErrUnknownMember) {
		return nil
	}
	if err != nil {
		return err
	}
	seller, err := loadRoster(ctx, tx, leagueID, t.FromMember)
	if errors.Is(err, validator.ErrUnknownMember) {
		return nil
	}
	if err != nil {
		return err
	}
	validator.Settle(&buyer, &seller, *t)
	if err := saveRoster(ctx, tx, leagueID, t.ToMember, buyer); err != nil {
		return err
	}
	return saveRoster(ctx, tx, leagueID, t.FromMember, seller)
}
