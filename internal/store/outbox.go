package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// ErrOutboxItemNotFound is returned when a requested outbox item cannot be found.
var ErrOutboxItemNotFound = errors.New("outbox item not found")

// MaxErrorLength bounds the stored last-error string.
const MaxErrorLength = 1500

// EnqueueOutboxItem queues a new pending send.
func EnqueueOutboxItem(ctx context.Context, pool *pgxpool.Pool, item *models.OutboxItem) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO outbox_items (user_id, client_id, recipients, script, row_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, item.UserID, item.ClientID, item.Recipients, item.Script, item.RowNumber).Scan(&item.ID)

	if err != nil {
		return fmt.Errorf("failed to enqueue outbox item: %w", err)
	}

	return nil
}

// ListPendingOutbox returns all pending sends for a user, oldest first.
func ListPendingOutbox(ctx context.Context, pool *pgxpool.Pool, userID string) ([]*models.OutboxItem, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, user_id, client_id, recipients, script, row_number, attempts, last_error, created_at, updated_at
		FROM outbox_items
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var items []*models.OutboxItem
	for rows.Next() {
		var item models.OutboxItem
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ClientID,
			&item.Recipients,
			&item.Script,
			&item.RowNumber,
			&item.Attempts,
			&item.LastError,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox item: %w", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox items: %w", err)
	}

	return items, nil
}

// DeleteOutboxItem removes a successfully sent item.
func DeleteOutboxItem(ctx context.Context, pool *pgxpool.Pool, userID, itemID string) error {
	_, err := pool.Exec(ctx, `
		DELETE FROM outbox_items WHERE user_id = $1 AND id = $2
	`, userID, itemID)

	if err != nil {
		return fmt.Errorf("failed to delete outbox item: %w", err)
	}

	return nil
}

// RecordOutboxFailure increments the attempts counter and stores a truncated
// error string, returning the new attempts value.
func RecordOutboxFailure(ctx context.Context, pool *pgxpool.Pool, userID, itemID, lastError string) (int, error) {
	if len(lastError) > MaxErrorLength {
		lastError = lastError[:MaxErrorLength]
	}

	var attempts int
	err := pool.QueryRow(ctx, `
		UPDATE outbox_items
		SET attempts = attempts + 1, last_error = $3, updated_at = now()
		WHERE user_id = $1 AND id = $2
		RETURNING attempts
	`, userID, itemID, lastError).Scan(&attempts)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrOutboxItemNotFound
	}

	if err != nil {
		return 0, fmt.Errorf("failed to record outbox failure: %w", err)
	}

	return attempts, nil
}

// MoveToDeadLetter copies an outbox item to the dead-letter store and deletes
// the original, in one transaction.
func MoveToDeadLetter(ctx context.Context, pool *pgxpool.Pool, item *models.OutboxItem, failureReason string) error {
	if len(failureReason) > MaxErrorLength {
		failureReason = failureReason[:MaxErrorLength]
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin dead-letter transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO dead_letter_items (outbox_item_id, user_id, client_id, recipients, script, attempts, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.ClientID, item.Recipients, item.Script, item.Attempts, failureReason)
	if err != nil {
		return fmt.Errorf("failed to insert dead-letter item: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM outbox_items WHERE user_id = $1 AND id = $2
	`, item.UserID, item.ID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit dead-letter transaction: %w", err)
	}

	return nil
}

// ListDeadLetters returns the dead-letter items for a user, newest first.
func ListDeadLetters(ctx context.Context, pool *pgxpool.Pool, userID string) ([]*models.DeadLetterItem, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, outbox_item_id, user_id, client_id, recipients, script, attempts, failure_reason, moved_at
		FROM dead_letter_items
		WHERE user_id = $1
		ORDER BY moved_at DESC
	`, userID)

	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var items []*models.DeadLetterItem
	for rows.Next() {
		var item models.DeadLetterItem
		if err := rows.Scan(
			&item.ID,
			&item.OutboxItemID,
			&item.UserID,
			&item.ClientID,
			&item.Recipients,
			&item.Script,
			&item.Attempts,
			&item.FailureReason,
			&item.MovedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead-letter item: %w", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead-letter items: %w", err)
	}

	return items, nil
}
