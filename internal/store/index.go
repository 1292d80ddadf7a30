package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotIndexed is returned when an identifier has no index entry.
var ErrNotIndexed = errors.New("identifier not indexed")

// IndexMessageID records message-id -> thread. Re-indexing the same id is an
// idempotent merge.
func IndexMessageID(ctx context.Context, pool *pgxpool.Pool, userID, messageID, threadID string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO message_id_index (user_id, encoded_message_id, thread_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, encoded_message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id
	`, userID, EncodeMessageKey(messageID), threadID)

	if err != nil {
		return fmt.Errorf("failed to index message id: %w", err)
	}

	return nil
}

// LookupThreadByMessageID resolves a message id to its thread.
func LookupThreadByMessageID(ctx context.Context, pool *pgxpool.Pool, userID, messageID string) (string, error) {
	var threadID string

	err := pool.QueryRow(ctx, `
		SELECT thread_id FROM message_id_index
		WHERE user_id = $1 AND encoded_message_id = $2
	`, userID, EncodeMessageKey(messageID)).Scan(&threadID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotIndexed
	}

	if err != nil {
		return "", fmt.Errorf("failed to look up message id: %w", err)
	}

	return threadID, nil
}

// IndexConversationID records conversation-id -> thread for fallback matching.
func IndexConversationID(ctx context.Context, pool *pgxpool.Pool, userID, conversationID, threadID string) error {
	if conversationID == "" {
		return nil
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO conversation_id_index (user_id, conversation_id, thread_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, conversation_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id
	`, userID, conversationID, threadID)

	if err != nil {
		return fmt.Errorf("failed to index conversation id: %w", err)
	}

	return nil
}

// LookupThreadByConversationID resolves a provider conversation id to its thread.
func LookupThreadByConversationID(ctx context.Context, pool *pgxpool.Pool, userID, conversationID string) (string, error) {
	if conversationID == "" {
		return "", ErrNotIndexed
	}

	var threadID string

	err := pool.QueryRow(ctx, `
		SELECT thread_id FROM conversation_id_index
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID).Scan(&threadID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotIndexed
	}

	if err != nil {
		return "", fmt.Errorf("failed to look up conversation id: %w", err)
	}

	return threadID, nil
}
