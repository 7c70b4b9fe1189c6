package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectRoster          = `SELECT budget, slots FROM rubata_rosters WHERE league_id = $1 AND member_id = $2`
	selectRosterForUpdate = selectRoster + ` FOR UPDATE`
)

func (s *Store) LoadMember(ctx context.Context, leagueID, memberID uuid.UUID) (validator.MemberRoster, error) {
	return loadRoster(ctx, s.pool, selectRoster, leagueID, memberID)
}

func (s *Store) SaveMember(ctx context.Context, leagueID, memberID uuid.UUID, m validator.MemberRoster) error {
	return saveRoster(ctx, s.pool, leagueID, memberID, m)
}

func loadRoster(ctx context.Context, q querier, query string, leagueID, memberID uuid.UUID) (validator.MemberRoster, error) {
	var (
		m     validator.MemberRoster
		slots []byte
	)
	err := q.QueryRow(ctx, query, leagueID, memberID).Scan(&m.Budget, &slots)
	if errors.Is(err, pgx.ErrNoRows) {
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

func saveRoster(ctx context.Context, q querier, leagueID, memberID uuid.UUID, m validator.MemberRoster) error {
	slots := m.Slots
	if slots == nil {
		slots = map[string]int{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode roster slots: %w", err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO rubata_rosters (league_id, member_id, budget, slots)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (league_id, member_id) DO UPDATE SET
		   budget = EXCLUDED.budget,
		   slots = EXCLUDED.slots`,
		leagueID, memberID, m.Budget, raw,
	)
	if err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	return nil
}

// settleTransfer locks both rosters and applies a committed sale inside tx.
// Rosters of members the league never seeded are left alone.
func settleTransfer(ctx context.Context, tx pgx.Tx, leagueID uuid.UUID, t *models.Transfer) error {
	buyer, err := loadRoster(ctx, tx, selectRosterForUpdate, leagueID, t.ToMember)
	if errors.Is(err, validator.ErrUnknownMember) {
		return nil
	}
	if err != nil {
		return err
	}
	seller, err := loadRoster(ctx, tx, selectRosterForUpdate, leagueID, t.FromMember)
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
