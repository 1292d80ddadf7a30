package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/retry"
	"github.com/leaseline/outreach/internal/store"
)

// AttemptCeiling is the number of failed attempts after which an outbox item
// moves to the dead-letter store and is never retried automatically.
const AttemptCeiling = 5

// Separator between scripts when one recipient's queued items are combined
// into a single message.
const combinedScriptSeparator = "\n\n---\n\n"

// DispatchResult reports one outbox drain: item ids sent, per-item error
// strings, and ids moved to dead-letter.
type DispatchResult struct {
	Sent         []string
	Errors       map[string]string
	DeadLettered []string
}

// Dispatcher drains pending outbox items for one user. Items addressed to the
// same recipient are combined into one message so a person never receives a
// burst of near-simultaneous sends.
type Dispatcher struct {
	Pool     *pgxpool.Pool
	Provider mail.Provider
	UserID   string

	// Subject derives the subject line for an item, typically from the
	// client's sheet row.
	Subject func(ctx context.Context, item *models.OutboxItem) string

	sendPolicy    retry.Policy
	persistPolicy retry.Policy
	now           func() time.Time
}

// NewDispatcher builds a Dispatcher with the default retry policies:
// exponential backoff for provider calls, short linear backoff for persistence.
func NewDispatcher(pool *pgxpool.Pool, provider mail.Provider, userID string) *Dispatcher {
	return &Dispatcher{
		Pool:          pool,
		Provider:      provider,
		UserID:        userID,
		sendPolicy:    retry.Exponential(4, 500*time.Millisecond),
		persistPolicy: retry.Linear(3, time.Second),
		now:           time.Now,
	}
}

// WithPolicies overrides the retry policies, mainly for tests.
func (d *Dispatcher) WithPolicies(send, persist retry.Policy) *Dispatcher {
	d.sendPolicy = send
	d.persistPolicy = persist
	return d
}

// Drain sends every pending outbox item. Failures are isolated per recipient
// group: one group's failure never aborts the others.
func (d *Dispatcher) Drain(ctx context.Context) (*DispatchResult, error) {
	result := &DispatchResult{Errors: make(map[string]string)}

	pending, err := store.ListPendingOutbox(ctx, d.Pool, d.UserID)
	if err != nil {
		return result, err
	}

	// Items already at the ceiling go straight to dead-letter.
	var sendable []*models.OutboxItem
	for _, item := range pending {
		if item.Attempts >= AttemptCeiling {
			reason := fmt.Sprintf("retry ceiling reached (%d attempts): %s", item.Attempts, item.LastError)
			if err := store.MoveToDeadLetter(ctx, d.Pool, item, reason); err != nil {
				return result, err
			}
			result.DeadLettered = append(result.DeadLettered, item.ID)
			continue
		}
		sendable = append(sendable, item)
	}

	for _, group := range groupByRecipient(sendable) {
		if err := d.sendGroup(ctx, group); err != nil {
			log.Printf("Failed to send outbox group to %s: %v", group[0].Recipients, err)
			d.recordGroupFailure(ctx, group, err, result)
			continue
		}

		for _, item := range group {
			if err := store.DeleteOutboxItem(ctx, d.Pool, d.UserID, item.ID); err != nil {
				return result, err
			}
			result.Sent = append(result.Sent, item.ID)
		}
	}

	return result, nil
}

// sendGroup runs the full send sequence for one recipient's combined items:
// draft, fetch identifiers, send, persist the thread root, persist the
// message, index the message id (with read-after-write verification), index
// the conversation id. Thread-root and message-id failures are critical;
// message-record and conversation-id failures are logged and tolerated.
func (d *Dispatcher) sendGroup(ctx context.Context, group []*models.OutboxItem) error {
	head := group[0]

	body := make([]string, 0, len(group))
	for _, item := range group {
		body = append(body, item.Script)
	}

	subject := "Following up"
	if d.Subject != nil {
		subject = d.Subject(ctx, head)
	}

	draft := &mail.Draft{
		To:        normalizeRecipients(head.Recipients),
		Subject:   subject,
		Body:      strings.Join(body, combinedScriptSeparator),
		ClientID:  head.ClientID,
		RowNumber: head.RowNumber,
	}

	var draftID string
	err := d.sendPolicy.Do(ctx, func() error {
		var err error
		draftID, err = d.Provider.CreateDraft(ctx, draft)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}

	// Canonical identifiers must exist before indexing, so fetch them
	// before the actual send.
	var info *mail.DraftInfo
	err = d.sendPolicy.Do(ctx, func() error {
		var err error
		info, err = d.Provider.DraftIdentifiers(ctx, draftID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch draft identifiers: %w", err)
	}

	err = d.sendPolicy.Do(ctx, func() error {
		return d.Provider.SendDraft(ctx, draftID)
	})
	if err != nil {
		return fmt.Errorf("failed to send draft: %w", err)
	}

	// From here the message is out the door. A missing thread root or
	// message-id index entry would orphan every future reply, so those
	// failures are raised; the rest are logged.
	threadID := mail.NormalizeMessageID(info.MessageID)

	thread := &models.Thread{
		ID:             threadID,
		UserID:         d.UserID,
		ClientID:       head.ClientID,
		Emails:         draft.To,
		ConversationID: info.ConversationID,
		RowNumber:      head.RowNumber,
		Subject:        info.Subject,
	}
	err = d.persistPolicy.Do(ctx, func() error {
		return store.SaveThread(ctx, d.Pool, thread)
	})
	if err != nil {
		return fmt.Errorf("message sent but thread root not persisted: %w", err)
	}

	sentAt := d.now()
	message := &models.Message{
		ThreadID:    threadID,
		UserID:      d.UserID,
		MessageKey:  store.EncodeMessageKey(info.MessageID),
		Direction:   models.DirectionOutbound,
		FromAddress: "",
		ToAddresses: draft.To,
		Subject:     info.Subject,
		BodyText:    draft.Body,
		BodyPreview: mail.SafePreview(draft.Body),
		Headers: models.HeaderBundle{
			MessageID:      info.MessageID,
			ConversationID: info.ConversationID,
		},
		SentAt: &sentAt,
	}
	err = d.persistPolicy.Do(ctx, func() error {
		return store.SaveMessage(ctx, d.Pool, message)
	})
	if err != nil {
		log.Printf("Failed to persist outbound message record for thread %s: %v", threadID, err)
	}

	err = d.persistPolicy.Do(ctx, func() error {
		if err := store.IndexMessageID(ctx, d.Pool, d.UserID, info.MessageID, threadID); err != nil {
			return err
		}
		// Read back: future replies cannot be matched unless the lookup
		// actually resolves.
		got, err := store.LookupThreadByMessageID(ctx, d.Pool, d.UserID, info.MessageID)
		if err != nil {
			return err
		}
		if got != threadID {
			return fmt.Errorf("index verification failed: lookup resolved %q, want %q", got, threadID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("message sent but message id not indexed: %w", err)
	}

	err = d.persistPolicy.Do(ctx, func() error {
		return store.IndexConversationID(ctx, d.Pool, d.UserID, info.ConversationID, threadID)
	})
	if err != nil {
		log.Printf("Failed to index conversation id for thread %s: %v", threadID, err)
	}

	return nil
}

// recordGroupFailure bumps each item's attempts counter and dead-letters any
// item that reached the ceiling.
func (d *Dispatcher) recordGroupFailure(ctx context.Context, group []*models.OutboxItem, cause error, result *DispatchResult) {
	for _, item := range group {
		result.Errors[item.ID] = cause.Error()

		attempts, err := store.RecordOutboxFailure(ctx, d.Pool, d.UserID, item.ID, cause.Error())
		if err != nil {
			log.Printf("Failed to record outbox failure for %s: %v", item.ID, err)
			continue
		}

		if attempts >= AttemptCeiling {
			item.Attempts = attempts
			item.LastError = cause.Error()
			reason := fmt.Sprintf("retry ceiling reached (%d attempts): %s", attempts, cause.Error())
			if err := store.MoveToDeadLetter(ctx, d.Pool, item, reason); err != nil {
				log.Printf("Failed to dead-letter outbox item %s: %v", item.ID, err)
				continue
			}
			result.DeadLettered = append(result.DeadLettered, item.ID)
		}
	}
}

// groupByRecipient buckets items by normalized recipient set, preserving a
// stable order across runs.
func groupByRecipient(items []*models.OutboxItem) [][]*models.OutboxItem {
	byKey := make(map[string][]*models.OutboxItem)
	var keys []string

	for _, item := range items {
		key := strings.Join(normalizeRecipients(item.Recipients), ",")
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], item)
	}

	sort.Strings(keys)

	groups := make([][]*models.OutboxItem, 0, len(keys))
	for _, key := range keys {
		groups = append(groups, byKey[key])
	}
	return groups
}

func normalizeRecipients(recipients []string) []string {
	normalized := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			normalized = append(normalized, r)
		}
	}
	sort.Strings(normalized)
	return normalized
}
