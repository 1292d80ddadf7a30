package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// ErrNotificationNotFound is returned when a requested notification cannot be found.
var ErrNotificationNotFound = errors.New("notification not found")

// GetNotification returns one notification by id.
func GetNotification(ctx context.Context, pool *pgxpool.Pool, userID, clientID, id string) (*models.Notification, error) {
	var n models.Notification
	var meta []byte

	err := pool.QueryRow(ctx, `
		SELECT user_id, client_id, id, kind, priority, email, thread_id, row_number, row_anchor, meta, dedupe_key, created_at
		FROM notifications
		WHERE user_id = $1 AND client_id = $2 AND id = $3
	`, userID, clientID, id).Scan(
		&n.UserID,
		&n.ClientID,
		&n.ID,
		&n.Kind,
		&n.Priority,
		&n.Email,
		&n.ThreadID,
		&n.RowNumber,
		&n.RowAnchor,
		&meta,
		&n.DedupeKey,
		&n.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode notification meta: %w", err)
		}
	}

	return &n, nil
}

// ListNotifications returns a client's notifications, newest first.
func ListNotifications(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, limit int) ([]*models.Notification, error) {
	rows, err := pool.Query(ctx, `
		SELECT user_id, client_id, id, kind, priority, email, thread_id, row_number, row_anchor, meta, dedupe_key, created_at
		FROM notifications
		WHERE user_id = $1 AND client_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, clientID, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var meta []byte
		if err := rows.Scan(
			&n.UserID,
			&n.ClientID,
			&n.ID,
			&n.Kind,
			&n.Priority,
			&n.Email,
			&n.ThreadID,
			&n.RowNumber,
			&n.RowAnchor,
			&meta,
			&n.DedupeKey,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode notification meta: %w", err)
			}
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// CountNotificationsByKind returns how many notifications of one kind a
// client has (counted from rows, not the counters).
func CountNotificationsByKind(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, kind models.NotificationKind) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND client_id = $2 AND kind = $3
	`, userID, clientID, kind).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	return count, nil
}
