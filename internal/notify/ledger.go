// Package notify maintains the per-client notification ledger: deduplicated
// notification documents plus the counters shown in the client overview.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// Input describes one notification to write. A non-empty DedupeKey makes the
// write idempotent: its hash becomes the notification's identity.
type Input struct {
	UserID    string
	ClientID  string
	Kind      models.NotificationKind
	Priority  models.NotificationPriority
	Email     string
	ThreadID  string
	RowNumber *int
	RowAnchor string
	Meta      map[string]string
	DedupeKey string
}

// Ledger writes notifications and keeps the client counters consistent with
// them inside a single transaction.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger over the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// NotificationID derives the document identity for a dedupe key.
func NotificationID(dedupeKey string) string {
	sum := sha1.Sum([]byte(dedupeKey))
	return hex.EncodeToString(sum[:])
}

// Write records one notification and bumps the client's counters. The
// transaction reads before it writes: it locks the client counters row and,
// when deduping, checks for an existing document. A dedupe hit is a no-op
// that returns the existing id without moving any counter.
func (l *Ledger) Write(ctx context.Context, in *Input) (string, error) {
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}

	id := uuid.NewString()
	if in.DedupeKey != "" {
		id = NotificationID(in.DedupeKey)
	}

	meta := in.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification meta: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin notification write: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the counters row first so concurrent writers serialize here.
	var unread, newUpdateCount int
	err = tx.QueryRow(ctx, `
		SELECT notifications_unread, new_update_count FROM clients
		WHERE user_id = $1 AND id = $2
		FOR UPDATE
	`, in.UserID, in.ClientID).Scan(&unread, &newUpdateCount)
	if err != nil {
		return "", fmt.Errorf("failed to read client counters: %w", err)
	}

	if in.DedupeKey != "" {
		var exists bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM notifications
				WHERE user_id = $1 AND client_id = $2 AND id = $3
			)
		`, in.UserID, in.ClientID, id).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check notification existence: %w", err)
		}
		if exists {
			if err := tx.Commit(ctx); err != nil {
				return "", fmt.Errorf("failed to commit notification write: %w", err)
			}
			return id, nil
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications (user_id, client_id, id, kind, priority, email, thread_id, row_number, row_anchor, meta, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, in.UserID, in.ClientID, id, in.Kind, in.Priority, in.Email, in.ThreadID, in.RowNumber, in.RowAnchor, metaJSON, in.DedupeKey)
	if err != nil {
		return "", fmt.Errorf("failed to insert notification: %w", err)
	}

	newUpdateDelta := 0
	if in.Kind == models.KindSheetUpdate {
		newUpdateDelta = 1
	}

	_, err = tx.Exec(ctx, `
		UPDATE clients SET
			notifications_unread = notifications_unread + 1,
			new_update_count = new_update_count + $3,
			last_notification_at = now()
		WHERE user_id = $1 AND id = $2
	`, in.UserID, in.ClientID, newUpdateDelta)
	if err != nil {
		return "", fmt.Errorf("failed to update client counters: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notification_counters (user_id, client_id, kind, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, client_id, kind) DO UPDATE SET
			count = notification_counters.count + 1
	`, in.UserID, in.ClientID, in.Kind)
	if err != nil {
		return "", fmt.Errorf("failed to update kind counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit notification write: %w", err)
	}

	return id, nil
}
