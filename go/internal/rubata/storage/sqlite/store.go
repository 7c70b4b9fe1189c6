// Package sqlite provides a SQLite-backed rubata store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/sqlite/migrations"
	"github.com/mcdev12/rubata/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var _ storage.Store = (*Store)(nil)

// Store persists rubata sessions and their history in SQLite. The session
// aggregate is kept as a JSON document next to its version token.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps commits serialized across engines.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rubata_sessions (id, league_id, phase, current_index, timer_expires_at,
			   paused_remaining_seconds, paused_from_phase, version, state_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.LeagueID, string(sess.Phase), sess.CurrentIndex, sqlutil.ToNullMillis(sess.TimerExpiresAt),
			sess.PausedRemaining.Seconds(), string(sess.PausedFromPhase), sess.Version, state,
			sqlutil.ToMillis(sess.CreatedAt), sqlutil.ToMillis(sess.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", storage.ErrSessionExists, sess.ID)
			}
			return fmt.Errorf("insert session: %w", err)
		}
		for i, it := range sess.Items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rubata_board_items (session_id, position, id, owner_id, player_id, category, base_price, resolved, outcome)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sess.ID, i, it.ID, it.OwnerID, it.PlayerID, it.Category, it.BasePrice, it.Resolved, string(it.Outcome),
			); err != nil {
				return fmt.Errorf("insert board item: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) LoadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM rubata_sessions WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
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
	return sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rubata_sessions SET phase = ?, current_index = ?, timer_expires_at = ?,
			   paused_remaining_seconds = ?, paused_from_phase = ?, version = ?, state_json = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			string(m.Session.Phase), m.Session.CurrentIndex, sqlutil.ToNullMillis(m.Session.TimerExpiresAt),
			m.Session.PausedRemaining.Seconds(), string(m.Session.PausedFromPhase), m.Session.Version, state,
			sqlutil.ToMillis(m.Session.UpdatedAt), m.Session.ID, m.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n == 0 {
			return versionMiss(ctx, tx, m)
		}

		for i, it := range m.Session.Items {
			if _, err := tx.ExecContext(ctx,
				`UPDATE rubata_board_items SET owner_id = ?, resolved = ?, outcome = ?
				 WHERE session_id = ? AND position = ?`,
				it.OwnerID, it.Resolved, string(it.Outcome), m.Session.ID, i,
			); err != nil {
				return fmt.Errorf("update board item: %w", err)
			}
		}
		for _, b := range m.Bids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rubata_bids (id, session_id, auction_id, bidder_id, amount, server_timestamp)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				b.ID, m.Session.ID, b.AuctionID, b.BidderID, b.Amount, sqlutil.ToMillis(b.ServerTimestamp),
			); err != nil {
				return fmt.Errorf("insert bid: %w", err)
			}
		}
		if m.Appeal != nil {
			if err := upsertAppeal(ctx, tx, m.Appeal); err != nil {
				return err
			}
		}
		if t := m.Transfer; t != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rubata_transfers (id, session_id, item_id, player_id, category, from_member, to_member, price, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.SessionID, t.ItemID, t.PlayerID, t.Category, t.FromMember, t.ToMember, t.Price,
				sqlutil.ToMillis(t.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert transfer: %w", err)
			}
			if err := settleTransfer(ctx, tx, m.Session.LeagueID, t); err != nil {
				return err
			}
		}
		if p := m.Prophecy; p != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rubata_prophecies (id, session_id, item_id, member_id, body, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				p.ID, p.SessionID, p.ItemID, p.MemberID, p.Text, sqlutil.ToMillis(p.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert prophecy: %w", err)
			}
		}
		for _, a := range m.Audit {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rubata_audit (id, session_id, version, from_phase, to_phase, trigger_kind, actor_id, reason, at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, a.SessionID, a.Version, string(a.FromPhase), string(a.ToPhase), string(a.Trigger),
				sqlutil.ToNullUUID(a.ActorID), a.Reason, sqlutil.ToMillis(a.At),
			); err != nil {
				return fmt.Errorf("insert audit: %w", err)
			}
		}
		return nil
	})
}

// versionMiss tells a missing session apart from a stale version token.
func versionMiss(ctx context.Context, tx *sql.Tx, m engine.Mutation) error {
	var stored int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM rubata_sessions WHERE id = ?`, m.Session.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("read session version: %w", err)
	}
	return fmt.Errorf("%w: stored %d, expected %d", engine.ErrVersionConflict, stored, m.ExpectedVersion)
}

func upsertAppeal(ctx context.Context, tx *sql.Tx, a *models.Appeal) error {
	snapshot := pqtype.NullRawMessage{}
	if a.Snapshot != nil {
		raw, err := json.Marshal(a.Snapshot)
		if err != nil {
			return fmt.Errorf("encode appeal snapshot: %w", err)
		}
		snapshot = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rubata_appeals (id, session_id, item_id, submitted_by, reason, status, admin_notes, decided_by, snapshot, created_at, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status,
		   admin_notes = excluded.admin_notes,
		   decided_by = excluded.decided_by,
		   snapshot = excluded.snapshot,
		   decided_at = excluded.decided_at`,
		a.ID, a.SessionID, a.ItemID, a.SubmittedBy, a.Reason, string(a.Status), a.AdminNotes,
		sqlutil.ToNullUUID(a.DecidedBy), snapshot, sqlutil.ToMillis(a.CreatedAt), sqlutil.ToNullMillis(a.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert appeal: %w", err)
	}
	return nil
}

func (s *Store) GetAppeal(ctx context.Context, id uuid.UUID) (*models.Appeal, error) {
	var (
		a         models.Appeal
		status    string
		decidedBy uuid.NullUUID
		snapshot  pqtype.NullRawMessage
		createdAt int64
		decidedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, item_id, submitted_by, reason, status, admin_notes, decided_by, snapshot, created_at, decided_at
		 FROM rubata_appeals WHERE id = ?`, id,
	).Scan(&a.ID, &a.SessionID, &a.ItemID, &a.SubmittedBy, &a.Reason, &status, &a.AdminNotes,
		&decidedBy, &snapshot, &createdAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrAppealNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appeal: %w", err)
	}
	a.Status = models.AppealStatus(status)
	a.DecidedBy = sqlutil.FromNullUUID(decidedBy)
	a.CreatedAt = sqlutil.FromMillis(createdAt)
	a.DecidedAt = sqlutil.FromNullMillis(decidedAt)
	if snapshot.Valid {
		a.Snapshot = &models.ActiveAuction{}
		if err := json.Unmarshal(snapshot.RawMessage, a.Snapshot); err != nil {
			return nil, fmt.Errorf("decode appeal snapshot: %w", err)
		}
	}
	return &a, nil
}

func (s *Store) ListBids(ctx context.Context, sessionID uuid.UUID) ([]models.Bid, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, auction_id, bidder_id, amount, server_timestamp
		 FROM rubata_bids WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		var (
			b  models.Bid
			ts int64
		)
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &ts); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		b.ServerTimestamp = sqlutil.FromMillis(ts)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListTransfers(ctx context.Context, sessionID uuid.UUID) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, item_id, player_id, category, from_member, to_member, price, created_at
		 FROM rubata_transfers WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []models.Transfer
	for rows.Next() {
		var (
			t  models.Transfer
			at int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ItemID, &t.PlayerID, &t.Category,
			&t.FromMember, &t.ToMember, &t.Price, &at); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.CreatedAt = sqlutil.FromMillis(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListProphecies(ctx context.Context, sessionID uuid.UUID) ([]models.Prophecy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, item_id, member_id, body, created_at
		 FROM rubata_prophecies WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list prophecies: %w", err)
	}
	defer rows.Close()

	var out []models.Prophecy
	for rows.Next() {
		var (
			p  models.Prophecy
			at int64
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.ItemID, &p.MemberID, &p.Text, &at); err != nil {
			return nil, fmt.Errorf("scan prophecy: %w", err)
		}
		p.CreatedAt = sqlutil.FromMillis(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListAudit(ctx context.Context, sessionID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, version, from_phase, to_phase, trigger_kind, actor_id, reason, at
		 FROM rubata_audit WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			a             models.AuditEntry
			from, to, trg string
			actor         uuid.NullUUID
			at            int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Version, &from, &to, &trg, &actor, &a.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		a.FromPhase = models.RubataPhase(from)
		a.ToPhase = models.RubataPhase(to)
		a.Trigger = models.TransitionTrigger(trg)
		a.ActorID = sqlutil.FromNullUUID(actor)
		a.At = sqlutil.FromMillis(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

const preferenceColumns = `league_id, member_id, player_id, is_watchlist, is_auto_pass, max_bid, priority, notes, updated_at`

func scanPreference(row interface{ Scan(...any) error }) (models.Preference, error) {
	var (
		p        models.Preference
		maxBid   sql.NullInt64
		priority sql.NullInt32
		updated  int64
	)
	err := row.Scan(&p.LeagueID, &p.MemberID, &p.PlayerID, &p.IsWatchlist, &p.IsAutoPass,
		&maxBid, &priority, &p.Notes, &updated)
	if err != nil {
		return p, err
	}
	p.MaxBid = sqlutil.FromSqlInt64(maxBid)
	p.Priority = sqlutil.FromSqlInt32(priority)
	p.UpdatedAt = sqlutil.FromMillis(updated)
	return p, nil
}

func (s *Store) GetPreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) (*models.Preference, error) {
	p, err := scanPreference(s.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM rubata_preferences
		 WHERE league_id = ? AND member_id = ? AND player_id = ?`,
		leagueID, memberID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, preference.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPreferences(ctx context.Context, leagueID, memberID uuid.UUID) ([]models.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM rubata_preferences
		 WHERE league_id = ? AND member_id = ?
		 ORDER BY priority IS NULL, priority, player_id`,
		leagueID, memberID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var out []models.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPreference(ctx context.Context, p models.Preference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rubata_preferences (`+preferenceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (league_id, member_id, player_id) DO UPDATE SET
		   is_watchlist = excluded.is_watchlist,
		   is_auto_pass = excluded.is_auto_pass,
		   max_bid = excluded.max_bid,
		   priority = excluded.priority,
		   notes = excluded.notes,
		   updated_at = excluded.updated_at`,
		p.LeagueID, p.MemberID, p.PlayerID, p.IsWatchlist, p.IsAutoPass,
		sqlutil.ToSqlInt64(p.MaxBid), sqlutil.ToSqlInt32(p.Priority), p.Notes, sqlutil.ToMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (s *Store) DeletePreference(ctx context.Context, leagueID, memberID, playerID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rubata_preferences WHERE league_id = ? AND member_id = ? AND player_id = ?`,
		leagueID, memberID, playerID)
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	if n == 0 {
		return preference.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
