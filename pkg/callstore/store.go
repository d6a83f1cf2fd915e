// Package callstore persists call history to Postgres. It is optional:
// a store created without a pool records nothing, so the bridge runs
// unchanged with persistence disabled.
package callstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/holgerimbery/ACSforMCS-sub000/pkg/session"
)

// ============================================
// CALL HISTORY STORE
// ============================================

// Schema is the call history table DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS call_history (
	correlation_id      TEXT PRIMARY KEY,
	conversation_id     TEXT,
	caller_id           TEXT,
	callee_id           TEXT,
	caller_display_name TEXT,
	caller_type         TEXT,
	dtmf_sequence       TEXT,
	message_count       BIGINT NOT NULL DEFAULT 0,
	call_start          TIMESTAMPTZ NOT NULL,
	last_activity       TIMESTAMPTZ,
	disconnected_at     TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)
`

// Store writes call records keyed by correlation ID.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a call history store. pool may be nil to disable
// persistence.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enabled reports whether the store has a backing pool.
func (s *Store) Enabled() bool {
	return s != nil && s.pool != nil
}

// EnsureSchema creates the call history table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure call history schema: %w", err)
	}
	return nil
}

// RecordConnect inserts the call record at connect time. A repeated
// connect for the same correlation ID replaces the prior row, matching
// the registry's idempotent-overwrite semantics.
func (s *Store) RecordConnect(ctx context.Context, snap session.Snapshot) error {
	if !s.Enabled() {
		return nil
	}

	query := `
		INSERT INTO call_history (
			correlation_id, conversation_id, caller_id, callee_id,
			caller_display_name, caller_type, dtmf_sequence,
			message_count, call_start, last_activity, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (correlation_id) DO UPDATE SET
			conversation_id     = EXCLUDED.conversation_id,
			caller_id           = EXCLUDED.caller_id,
			callee_id           = EXCLUDED.callee_id,
			caller_display_name = EXCLUDED.caller_display_name,
			caller_type         = EXCLUDED.caller_type,
			dtmf_sequence       = EXCLUDED.dtmf_sequence,
			message_count       = EXCLUDED.message_count,
			call_start          = EXCLUDED.call_start,
			last_activity       = EXCLUDED.last_activity,
			disconnected_at     = NULL,
			updated_at          = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		snap.CorrelationID, snap.ConversationID, snap.CallerID, snap.CalleeID,
		snap.CallerDisplayName, string(snap.CallerType), snap.DTMFSequence,
		snap.MessageCount, snap.CallStart, snap.LastActivity, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

// RecordDisconnect finalizes the call record at disconnect time.
func (s *Store) RecordDisconnect(ctx context.Context, snap session.Snapshot) error {
	if !s.Enabled() {
		return nil
	}

	now := time.Now()
	query := `
		UPDATE call_history SET
			conversation_id = $2,
			dtmf_sequence   = $3,
			message_count   = $4,
			last_activity   = $5,
			disconnected_at = $6,
			updated_at      = $6
		WHERE correlation_id = $1
	`

	_, err := s.pool.Exec(ctx, query,
		snap.CorrelationID, snap.ConversationID, snap.DTMFSequence,
		snap.MessageCount, snap.LastActivity, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}
	return nil
}
