package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

// SaveThread creates or merges a thread root. The thread id is the normalized
// Message-ID of the root outbound message, so re-sends merge idempotently.
func SaveThread(ctx context.Context, pool *pgxpool.Pool, thread *models.Thread) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO threads (user_id, id, client_id, emails, conversation_id, row_number, subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			emails = EXCLUDED.emails,
			conversation_id = EXCLUDED.conversation_id,
			row_number = COALESCE(EXCLUDED.row_number, threads.row_number),
			subject = EXCLUDED.subject,
			updated_at = now()
	`,
		thread.UserID,
		thread.ID,
		thread.ClientID,
		thread.Emails,
		thread.ConversationID,
		thread.RowNumber,
		thread.Subject,
	)

	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}

	return nil
}

// GetThread returns a thread by its id.
func GetThread(ctx context.Context, pool *pgxpool.Pool, userID, threadID string) (*models.Thread, error) {
	var thread models.Thread

	err := pool.QueryRow(ctx, `
		SELECT id, user_id, client_id, emails, conversation_id, row_number, subject, created_at, updated_at
		FROM threads
		WHERE user_id = $1 AND id = $2
	`, userID, threadID).Scan(
		&thread.ID,
		&thread.UserID,
		&thread.ClientID,
		&thread.Emails,
		&thread.ConversationID,
		&thread.RowNumber,
		&thread.Subject,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// TouchThread advances a thread's updated timestamp.
func TouchThread(ctx context.Context, pool *pgxpool.Pool, userID, threadID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE threads SET updated_at = now()
		WHERE user_id = $1 AND id = $2
	`, userID, threadID)

	if err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}

	return nil
}
