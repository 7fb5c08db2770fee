// Package sqlite backs the document stores (ghost configs, escalation
// counters, confirmation tokens, audit log) with SQLite. The escalation
// increment and token state transition rely on single-statement atomicity,
// so concurrent callers never lose an update.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/store"
	"github.com/ghostmem/ghostmem/store/sqlite/migrations"
)

// Store implements store.ConfigStore, store.EscalationStore,
// store.TokenStore and store.AuditLog over one SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ store.ConfigStore     = (*Store)(nil)
	_ store.EscalationStore = (*Store)(nil)
	_ store.TokenStore      = (*Store)(nil)
	_ store.AuditLog        = (*Store)(nil)
)

// Open opens (or creates) the database at path, which may be ":memory:",
// and migrates it to the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetConfig loads an owner's ghost configuration. Returns core.ErrNotFound
// when the owner has never written one.
func (s *Store) GetConfig(ctx context.Context, ownerID string) (*core.GhostConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM ghost_configs WHERE owner_id = ?`, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	var cfg core.GhostConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// PutConfig upserts an owner's ghost configuration.
func (s *Store) PutConfig(ctx context.Context, cfg *core.GhostConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ghost_configs (owner_id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		cfg.OwnerID, string(raw), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	return nil
}

// IncrementEscalation bumps the failure counter for a triple in a single
// upsert and flips the block on when the count reaches threshold. The
// RETURNING clause hands back the post-increment row, so two concurrent
// failures both observe their own count.
func (s *Store) IncrementEscalation(ctx context.Context, ownerID, accessorID, recordID string, threshold int, now time.Time) (*core.EscalationRecord, error) {
	rec := &core.EscalationRecord{
		OwnerID:    ownerID,
		AccessorID: accessorID,
		RecordID:   recordID,
	}
	var blocked int
	var blockedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO escalations (owner_id, accessor_id, record_id, failed_attempts, blocked, blocked_at)
		VALUES (?1, ?2, ?3, 1, CASE WHEN 1 >= ?4 THEN 1 ELSE 0 END, CASE WHEN 1 >= ?4 THEN ?5 END)
		ON CONFLICT (owner_id, accessor_id, record_id) DO UPDATE SET
			failed_attempts = escalations.failed_attempts + 1,
			blocked = CASE WHEN escalations.failed_attempts + 1 >= ?4 THEN 1 ELSE escalations.blocked END,
			blocked_at = CASE
				WHEN escalations.failed_attempts + 1 >= ?4 AND escalations.blocked_at IS NULL THEN ?5
				ELSE escalations.blocked_at
			END
		RETURNING failed_attempts, blocked, blocked_at`,
		ownerID, accessorID, recordID, threshold, now).
		Scan(&rec.FailedAttempts, &blocked, &blockedAt)
	if err != nil {
		return nil, fmt.Errorf("increment escalation: %w", err)
	}
	rec.Blocked = blocked != 0
	if blockedAt.Valid {
		t := blockedAt.Time
		rec.BlockedAt = &t
	}
	return rec, nil
}

// GetEscalation loads the counter for a triple. A triple with no failures
// yet yields a zero-valued record, not an error.
func (s *Store) GetEscalation(ctx context.Context, ownerID, accessorID, recordID string) (*core.EscalationRecord, error) {
	rec := &core.EscalationRecord{
		OwnerID:    ownerID,
		AccessorID: accessorID,
		RecordID:   recordID,
	}
	var blocked int
	var blockedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT failed_attempts, blocked, blocked_at FROM escalations
		WHERE owner_id = ? AND accessor_id = ? AND record_id = ?`,
		ownerID, accessorID, recordID).
		Scan(&rec.FailedAttempts, &blocked, &blockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query escalation: %w", err)
	}
	rec.Blocked = blocked != 0
	if blockedAt.Valid {
		t := blockedAt.Time
		rec.BlockedAt = &t
	}
	return rec, nil
}

// ResetEscalation clears the counter and block for a triple.
func (s *Store) ResetEscalation(ctx context.Context, ownerID, accessorID, recordID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM escalations WHERE owner_id = ? AND accessor_id = ? AND record_id = ?`,
		ownerID, accessorID, recordID)
	if err != nil {
		return fmt.Errorf("reset escalation: %w", err)
	}
	return nil
}

// CreateToken persists a new confirmation token.
func (s *Store) CreateToken(ctx context.Context, tok *core.ConfirmationToken) error {
	payload, err := json.Marshal(tok.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO confirmation_tokens (token, owner_id, action, payload, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tok.Token, tok.OwnerID, string(tok.Action), string(payload), string(tok.State), tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken loads a token by value.
func (s *Store) GetToken(ctx context.Context, token string) (*core.ConfirmationToken, error) {
	tok := &core.ConfirmationToken{Token: token}
	var action, payload, state string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, action, payload, state, created_at, expires_at
		FROM confirmation_tokens WHERE token = ?`, token).
		Scan(&tok.OwnerID, &action, &payload, &state, &tok.CreatedAt, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &tok.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	tok.Action = core.TokenAction(action)
	tok.State = core.TokenState(state)
	return tok, nil
}

// TransitionToken moves a token from one state to another. The WHERE clause
// on the current state makes this a compare-and-set: of two racing callers,
// exactly one sees a row updated.
func (s *Store) TransitionToken(ctx context.Context, token string, from, to core.TokenState) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE confirmation_tokens SET state = ? WHERE token = ? AND state = ?`,
		string(to), token, string(from))
	if err != nil {
		return false, fmt.Errorf("transition token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Append writes one audit line.
func (s *Store) Append(ctx context.Context, entry core.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (at, actor, action, owner_id, resource, decision, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.At, entry.Actor, entry.Action, entry.OwnerID, entry.Resource, entry.Decision, entry.Reason)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AuditTrail returns an owner's audit entries, newest first.
func (s *Store) AuditTrail(ctx context.Context, ownerID string, limit int) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, actor, action, owner_id, resource, decision, COALESCE(reason, '')
		FROM audit_log WHERE owner_id = ? ORDER BY at DESC, id DESC LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		if err := rows.Scan(&e.At, &e.Actor, &e.Action, &e.OwnerID, &e.Resource, &e.Decision, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
