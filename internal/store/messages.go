package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// SaveMessage saves a message in a thread. Messages are immutable once
// written; a second save with the same key is an idempotent no-op for the
// body fields that matter.
func SaveMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) error {
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO messages (
			user_id,
			thread_id,
			message_key,
			direction,
			from_address,
			to_addresses,
			subject,
			body_text,
			body_preview,
			message_id_header,
			in_reply_to,
			references_header,
			conversation_id,
			sent_at,
			received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id, thread_id, message_key) DO UPDATE SET
			body_text = COALESCE(NULLIF(EXCLUDED.body_text, ''), messages.body_text),
			body_preview = COALESCE(NULLIF(EXCLUDED.body_preview, ''), messages.body_preview)
		RETURNING id
	`,
		message.UserID,
		message.ThreadID,
		message.MessageKey,
		message.Direction,
		message.FromAddress,
		message.ToAddresses,
		message.Subject,
		message.BodyText,
		message.BodyPreview,
		message.Headers.MessageID,
		message.Headers.InReplyTo,
		message.Headers.References,
		message.Headers.ConversationID,
		message.SentAt,
		message.ReceivedAt,
	).Scan(&id)

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	message.ID = id
	return nil
}

// GetMessagesForThread returns all messages of a thread in chronological
// order. Outbound messages order by sent time, inbound by received time.
func GetMessagesForThread(ctx context.Context, pool *pgxpool.Pool, userID, threadID string) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT
			id,
			thread_id,
			user_id,
			message_key,
			direction,
			from_address,
			to_addresses,
			subject,
			body_text,
			body_preview,
			message_id_header,
			in_reply_to,
			references_header,
			conversation_id,
			sent_at,
			received_at,
			created_at
		FROM messages
		WHERE user_id = $1 AND thread_id = $2
		ORDER BY COALESCE(sent_at, received_at, created_at)
	`, userID, threadID)

	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.UserID,
			&msg.MessageKey,
			&msg.Direction,
			&msg.FromAddress,
			&msg.ToAddresses,
			&msg.Subject,
			&msg.BodyText,
			&msg.BodyPreview,
			&msg.Headers.MessageID,
			&msg.Headers.InReplyTo,
			&msg.Headers.References,
			&msg.Headers.ConversationID,
			&msg.SentAt,
			&msg.ReceivedAt,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// CountMessagesForThread returns how many messages a thread holds.
func CountMessagesForThread(ctx context.Context, pool *pgxpool.Pool, userID, threadID string) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE user_id = $1 AND thread_id = $2
	`, userID, threadID).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}
