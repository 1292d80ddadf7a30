package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HasProcessed reports whether the processed-message ledger contains the key.
// Existence alone is the signal.
func HasProcessed(ctx context.Context, pool *pgxpool.Pool, userID, key string) (bool, error) {
	var exists bool

	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_messages
			WHERE user_id = $1 AND encoded_key = $2
		)
	`, userID, EncodeMessageKey(key)).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check processed status: %w", err)
	}

	return exists, nil
}

// MarkProcessed records a message key in the ledger. Ledger entries are only
// ever created, never updated.
func MarkProcessed(ctx context.Context, pool *pgxpool.Pool, userID, key string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO processed_messages (user_id, encoded_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, encoded_key) DO NOTHING
	`, userID, EncodeMessageKey(key))

	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}

	return nil
}

// SetLastScan persists the timestamp of the last completed inbox scan.
// Informational only; never used as the scan boundary.
func SetLastScan(ctx context.Context, pool *pgxpool.Pool, userID string, at time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO scan_state (user_id, last_scan_at, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			last_scan_at = EXCLUDED.last_scan_at,
			updated_at = now()
	`, userID, at)

	if err != nil {
		return fmt.Errorf("failed to set last scan time: %w", err)
	}

	return nil
}

// GetLastScan returns the timestamp of the last completed inbox scan, or nil
// if no scan has completed yet.
func GetLastScan(ctx context.Context, pool *pgxpool.Pool, userID string) (*time.Time, error) {
	var at *time.Time

	err := pool.QueryRow(ctx, `
		SELECT last_scan_at FROM scan_state WHERE user_id = $1
	`, userID).Scan(&at)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get last scan time: %w", err)
	}

	return at, nil
}
