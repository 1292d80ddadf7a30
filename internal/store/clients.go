package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// ErrClientNotFound is returned when a requested client cannot be found.
var ErrClientNotFound = errors.New("client not found")

// SaveClient saves or updates a client record.
func SaveClient(ctx context.Context, pool *pgxpool.Pool, client *models.Client) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO clients (user_id, id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, id) DO UPDATE SET
			name = EXCLUDED.name
	`, client.UserID, client.ID, client.Name)

	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	return nil
}

// GetClient returns one client of a user.
func GetClient(ctx context.Context, pool *pgxpool.Pool, userID, clientID string) (*models.Client, error) {
	var client models.Client

	err := pool.QueryRow(ctx, `
		SELECT user_id, id, name, last_notification_summary, last_notification_at, created_at
		FROM clients
		WHERE user_id = $1 AND id = $2
	`, userID, clientID).Scan(
		&client.UserID,
		&client.ID,
		&client.Name,
		&client.LastNotificationSummary,
		&client.LastNotificationAt,
		&client.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClientNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return &client, nil
}

// SetClientNotificationSummary stores the latest human-readable summary line
// on the client record for quick dashboards.
func SetClientNotificationSummary(ctx context.Context, pool *pgxpool.Pool, userID, clientID, summary string) error {
	_, err := pool.Exec(ctx, `
		UPDATE clients
		SET last_notification_summary = $3, last_notification_at = now()
		WHERE user_id = $1 AND id = $2
	`, userID, clientID, summary)

	if err != nil {
		return fmt.Errorf("failed to set client notification summary: %w", err)
	}

	return nil
}

// GetClientCounters returns the aggregate notification counters for a client.
func GetClientCounters(ctx context.Context, pool *pgxpool.Pool, userID, clientID string) (*models.ClientCounters, error) {
	var counters models.ClientCounters

	err := pool.QueryRow(ctx, `
		SELECT notifications_unread, new_update_count
		FROM clients
		WHERE user_id = $1 AND id = $2
	`, userID, clientID).Scan(&counters.Unread, &counters.NewUpdateCount)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClientNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get client counters: %w", err)
	}

	counters.PerKind = make(map[string]int)

	rows, err := pool.Query(ctx, `
		SELECT kind, count
		FROM notification_counters
		WHERE user_id = $1 AND client_id = $2
	`, userID, clientID)

	if err != nil {
		return nil, fmt.Errorf("failed to get notification counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan notification counter: %w", err)
		}
		counters.PerKind[kind] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification counters: %w", err)
	}

	return &counters, nil
}
