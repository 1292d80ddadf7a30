package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/store"
)

// ErrUnroutable is returned when no identifier in a message's header bundle
// resolves to a known thread. Such messages are dropped from the workflow.
var ErrUnroutable = errors.New("message matches no thread")

// Matcher resolves inbound messages to threads through the identifier
// indexes.
type Matcher struct {
	Pool   *pgxpool.Pool
	UserID string
}

// NewMatcher builds a Matcher for one user.
func NewMatcher(pool *pgxpool.Pool, userID string) *Matcher {
	return &Matcher{Pool: pool, UserID: userID}
}

// ResolveThread finds the thread an inbound message belongs to. Resolution
// order, first hit wins:
//
//  1. In-Reply-To against the message-id index.
//  2. References tokens, newest to oldest (the header lists oldest first).
//  3. The provider conversation id against the conversation-id index.
//
// Returns ErrUnroutable when nothing matches.
func (m *Matcher) ResolveThread(ctx context.Context, headers models.HeaderBundle) (string, error) {
	if id := mail.NormalizeMessageID(headers.InReplyTo); id != "" {
		threadID, err := store.LookupThreadByMessageID(ctx, m.Pool, m.UserID, id)
		if err == nil {
			return threadID, nil
		}
		if !errors.Is(err, store.ErrNotIndexed) {
			return "", err
		}
	}

	for i := len(headers.References) - 1; i >= 0; i-- {
		token := mail.NormalizeMessageID(headers.References[i])
		if token == "" {
			continue
		}
		threadID, err := store.LookupThreadByMessageID(ctx, m.Pool, m.UserID, token)
		if err == nil {
			return threadID, nil
		}
		if !errors.Is(err, store.ErrNotIndexed) {
			return "", err
		}
	}

	if headers.ConversationID != "" {
		threadID, err := store.LookupThreadByConversationID(ctx, m.Pool, m.UserID, headers.ConversationID)
		if err == nil {
			return threadID, nil
		}
		if !errors.Is(err, store.ErrNotIndexed) {
			return "", err
		}
	}

	return "", ErrUnroutable
}

// RecordInbound appends a matched message to its thread, advances the
// thread's update timestamp, and indexes the message's own identifiers so
// future replies in the same sub-chain resolve directly.
func (m *Matcher) RecordInbound(ctx context.Context, threadID string, msg *mail.InboundMessage) (*models.Message, error) {
	key := msg.Headers.MessageID
	if key == "" {
		key = msg.ProviderID
	}

	receivedAt := msg.ReceivedAt
	record := &models.Message{
		ThreadID:    threadID,
		UserID:      m.UserID,
		MessageKey:  store.EncodeMessageKey(key),
		Direction:   models.DirectionInbound,
		FromAddress: msg.From,
		ToAddresses: msg.To,
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		BodyPreview: msg.BodyPreview,
		Headers:     msg.Headers,
		ReceivedAt:  &receivedAt,
	}

	if err := store.SaveMessage(ctx, m.Pool, record); err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	if err := store.TouchThread(ctx, m.Pool, m.UserID, threadID); err != nil {
		return nil, fmt.Errorf("failed to touch thread %s: %w", threadID, err)
	}

	if msg.Headers.MessageID != "" {
		if err := store.IndexMessageID(ctx, m.Pool, m.UserID, msg.Headers.MessageID, threadID); err != nil {
			return nil, err
		}
		if err := store.IndexConversationID(ctx, m.Pool, m.UserID, msg.Headers.ConversationID, threadID); err != nil {
			return nil, err
		}
	}

	return record, nil
}
