// Package postgres provides the pgx-backed rubata store used in production.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/rubata/go/internal/dbconfig"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/postgres/migrations"
	"github.com/mcdev12/rubata/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

var _ storage.Store = (*Store)(nil)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool, pings it and applies embedded migrations.
func Connect(ctx context.Context, cfg dbconfig.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to postgres")
	return s, nil
}

// New wraps an existing pool without migrating it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the pool so NOTIFY publishing can share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies each embedded migration once, in name order.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		up := string(content)
		if i := strings.Index(up, "-- +migrate Down"); i != -1 {
			up = up[:i]
		}
		err = sqlutil.RunPgx(ctx, s.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
				name, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("record migration %s: %w", name, err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, up); err != nil {
				return fmt.Errorf("exec migration %s: %w", name, err)
			}
			log.Info().Str("migration", name).Msg("applied migration")
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return sqlutil.RunPgx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO rubata_sessions (id, league_id, phase, current_index, timer_expires_at,
			   paused_remaining_seconds, paused_from_phase, version, state_json, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sess.ID, sess.LeagueID, string(sess.Phase), sess.CurrentIndex, sess.TimerExpiresAt,
			sess.PausedRemaining.Seconds(), string(sess.PausedFromPhase), sess.Version, state,
			sess.CreatedAt, sess.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", storage.ErrSessionExists, sess.ID)
			}
			return fmt.Errorf("insert session: %w", err)
		}
		rows := make([][]any, 0, len(sess.Items))
		for i, it := range sess.Items {
			rows = append(rows, []any{sess.ID, i, it.ID, it.OwnerID, it.PlayerID, it.Category, it.BasePrice, it.Resolved, string(it.Outcome)})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"rubata_board_items"},
			[]string{"session_id", "position", "id", "owner_id", "player_id", "category", "base_price", "resolved", "outcome"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert board items: %w", err)
		}
		return nil
	})
}

func (s *Store) LoadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var state []byte
	err := s.pool.QueryRow(ctx, `SELECT state_json FROM rubata_sessions WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(state, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) Commit(ctx context.Context, m engine.Mutation) error {
	state, err := json.Marshal(m.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return sqlutil.RunPgx(ctx, s.pool, func(tx pgx.Tx) error {
		var stored int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM rubata_sessions WHERE id = $1 FOR UPDATE`, m.Session.ID,
		).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if stored != m.ExpectedVersion {
			return fmt.Errorf("%w: stored %d, expected %d", engine.ErrVersionConflict, stored, m.ExpectedVersion)
		}

		if m.Transfer != nil {
			if err := settleTransfer(ctx, tx, m.Session.LeagueID, m.Transfer); err != nil {
				return err
			}
		}

		batch := &pgx.Batch{}
		batch.Queue(
			`UPDATE rubata_sessions SET phase = $2, current_index = $3, timer_expires_at = $4,
			   paused_remaining_seconds = $5, paused_from_phase = $6, version = $7, state_json = $8, updated_at = $9
			 WHERE id = $1`,
			m.Session.ID, string(m.Session.Phase), m.Session.CurrentIndex, m.Session.TimerExpiresAt,
			m.Session.PausedRemaining.Seconds(), string(m.Session.PausedFromPhase), m.Session.Version, state,
			m.Session.UpdatedAt,
		)
		for i, it := range m.Session.Items {
			batch.Queue(
				`UPDATE rubata_board_items SET owner_id = $3, resolved = $4, outcome = $5
				 WHERE session_id = $1 AND position = $2`,
				m.Session.ID, i, it.OwnerID, it.Resolved, string(it.Outcome),
			)
		}
		for _, b := range m.Bids {
			batch.Queue(
				`INSERT INTO rubata_bids (id, session_id, auction_id, bidder_id, amount, server_timestamp)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				b.ID, m.Session.ID, b.AuctionID, b.BidderID, b.Amount, b.ServerTimestamp,
			)
		}
		if a := m.Appeal; a != nil {
			var snapshot []byte
			if a.Snapshot != nil {
				if snapshot, err = json.Marshal(a.Snapshot); err != nil {
					return fmt.Errorf("encode appeal snapshot: %w", err)
				}
			}
			batch.Queue(
				`INSERT INTO rubata_appeals (id, session_id, item_id, submitted_by, reason, status, admin_notes, decided_by, snapshot, created_at, decided_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				 ON CONFLICT (id) DO UPDATE SET
				   status = EXCLUDED.status,
				   admin_notes = EXCLUDED.admin_notes,
				   decided_by = EXCLUDED.decided_by,
				   snapshot = EXCLUDED.snapshot,
				   decided_at = EXCLUDED.decided_at`,
				a.ID, a.SessionID, a.ItemID, a.SubmittedBy, a.Reason, string(a.Status), a.AdminNotes,
				sqlutil.ToNullUUID(a.DecidedBy), snapshot, a.CreatedAt, sqlutil.ToSqlTime(a.DecidedAt),
			)
		}
		if t := m.Transfer; t != nil {
			batch.Queue(
				`INSERT INTO rubata_transfers (id, session_id, item_id, player_id, category, from_member, to_member, price, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				t.ID, t.SessionID, t.ItemID, t.PlayerID, t.Category, t.FromMember, t.ToMember, t.Price, t.CreatedAt,
			)
		}
		if p := m.Prophecy; p != nil {
			batch.Queue(
				`INSERT INTO rubata_prophecies (id, session_id, item_id, member_id, body, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				p.ID, p.SessionID, p.ItemID, p.MemberID, p.Text, p.CreatedAt,
			)
		}
		for _, a := range m.Audit {
			batch.Queue(
				`INSERT INTO rubata_audit (id, session_id, version, from_phase, to_phase, trigger_kind, actor_id, reason, at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				a.ID, a.SessionID, a.Version, string(a.FromPhase), string(a.ToPhase), string(a.Trigger),
				sqlutil.ToNullUUID(a.ActorID), a.Reason, a.At,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write mutation: %w", err)
		}
		return nil
	})
}

func (s *Store) GetAppeal(ctx context.Context, id uuid.UUID) (*models.Appeal, error) {
	var (
		a         models.Appeal
		status    string
		decidedBy uuid.NullUUID
		snapshot  []byte
		decidedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, item_id, submitted_by, reason, status, admin_notes, decided_by, snapshot, created_at, decided_at
		 FROM rubata_appeals WHERE id = $1`, id,
	).Scan(&a.ID, &a.SessionID, &a.ItemID, &a.SubmittedBy, &a.Reason, &status, &a.AdminNotes,
		&decidedBy, &snapshot, &a.CreatedAt, &decidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrAppealNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appeal: %w", err)
	}
	a.Status = models.AppealStatus(status)
	a.DecidedBy = sqlutil.FromNullUUID(decidedBy)
	a.DecidedAt = decidedAt
	if snapshot != nil {
		a.Snapshot = &models.ActiveAuction{}
		if err := json.Unmarshal(snapshot, a.Snapshot); err != nil {
			return nil, fmt.Errorf("decode appeal snapshot: %w", err)
		}
	}
	return &a, nil
}

func (s *Store) ListBids(ctx context.Context, sessionID uuid.UUID) ([]models.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, bidder_id, amount, server_timestamp
		 FROM rubata_bids WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Bid, error) {
		var b models.Bid
		err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.ServerTimestamp)
		return b, err
	})
}

func (s *Store) ListTransfers(ctx context.Context, sessionID uuid.UUID) ([]models.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, item_id, player_id, category, from_member, to_member, price, created_at
		 FROM rubata_transfers WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Transfer, error) {
		var t models.Transfer
		err := row.Scan(&t.ID, &t.SessionID, &t.ItemID, &t.PlayerID, &t.Category,
			&t.FromMember, &t.ToMember, &t.Price, &t.CreatedAt)
		return t, err
	})
}

func (s *Store) ListProphecies(ctx context.Context, sessionID uuid.UUID) ([]models.Prophecy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, item_id, member_id, body, created_at
		 FROM rubata_prophecies WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list prophecies: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Prophecy, error) {
		var p models.Prophecy
		err := row.Scan(&p.ID, &p.SessionID, &p.ItemID, &p.MemberID, &p.Text, &p.CreatedAt)
		return p, err
	})
}

func (s *Store) ListAudit(ctx context.Context, sessionID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, version, from_phase, to_phase, trigger_kind, actor_id, reason, at
		 FROM rubata_audit WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditEntry, error) {
		var (
			a             models.AuditEntry
			from, to, trg string
			actor         uuid.NullUUID
		)
		if err := row.Scan(&a.ID, &a.SessionID, &a.Version, &from, &to, &trg, &actor, &a.Reason, &a.At); err != nil {
			return a, err
		}
		a.FromPhase = models.RubataPhase(from)
		a.ToPhase = models.RubataPhase(to)
		a.Trigger = models.TransitionTrigger(trg)
		a.ActorID = sqlutil.FromNullUUID(actor)
		return a, nil
	})
}

const preferenceColumns = `league_id, member_id, player_id, is_watchlist, is_auto_pass, max_bid, priority, notes, updated_at`

func scanPreference(row pgx.Row) (models.Preference, error) {
	var p models.Preference
	err := row.Scan(&p.LeagueID, &p.MemberID, &p.PlayerID, &p.IsWatchlist, &p.IsAutoPass,
		&p.MaxBid, &p.Priority, &p.Notes, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetPreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) (*models.Preference, error) {
	p, err := scanPreference(s.pool.QueryRow(ctx,
		`SELECT `+preferenceColumns+` FROM rubata_preferences
		 WHERE league_id = $1 AND member_id = $2 AND player_id = $3`,
		leagueID, memberID, playerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, preference.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPreferences(ctx context.Context, leagueID, memberID uuid.UUID) ([]models.Preference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+preferenceColumns+` FROM rubata_preferences
		 WHERE league_id = $1 AND member_id = $2
		 ORDER BY priority NULLS LAST, player_id`,
		leagueID, memberID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Preference, error) {
		return scanPreference(row)
	})
}

func (s *Store) UpsertPreference(ctx context.Context, p models.Preference) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rubata_preferences (`+preferenceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (league_id, member_id, player_id) DO UPDATE SET
		   is_watchlist = EXCLUDED.is_watchlist,
		   is_auto_pass = EXCLUDED.is_auto_pass,
		   max_bid = EXCLUDED.max_bid,
		   priority = EXCLUDED.priority,
		   notes = EXCLUDED.notes,
		   updated_at = EXCLUDED.updated_at`,
		p.LeagueID, p.MemberID, p.PlayerID, p.IsWatchlist, p.IsAutoPass,
		p.MaxBid, p.Priority, p.Notes, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (s *Store) DeletePreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rubata_preferences WHERE league_id = $1 AND member_id = $2 AND player_id = $3`,
		leagueID, memberID, playerID)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return preference.ErrNotFound
	}
	return nil
}
