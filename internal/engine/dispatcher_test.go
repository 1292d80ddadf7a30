package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/retry"
	"github.com/leaseline/outreach/internal/store"
	"github.com/leaseline/outreach/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(pool *pgxpool.Pool, provider *fakeProvider, userID string) *Dispatcher {
	noSleep := func(time.Duration) {}
	return NewDispatcher(pool, provider, userID).WithPolicies(
		retry.Exponential(2, time.Millisecond).WithSleep(noSleep),
		retry.Linear(2, time.Millisecond).WithSleep(noSleep),
	)
}

func enqueue(t *testing.T, pool *pgxpool.Pool, userID, clientID, recipient, script string) *models.OutboxItem {
	t.Helper()
	item := &models.OutboxItem{
		UserID:     userID,
		ClientID:   clientID,
		Recipients: []string{recipient},
		Script:     script,
	}
	require.NoError(t, store.EnqueueOutboxItem(context.Background(), pool, item))
	return item
}

func TestDrainCombinesItemsPerRecipient(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)

	first := enqueue(t, pool, userID, "client-a", "Landlord@Example.com", "About 1 Main St")
	second := enqueue(t, pool, userID, "client-a", "landlord@example.com ", "About 2 Oak Ave")

	provider := newFakeProvider()
	d := newTestDispatcher(pool, provider, userID)

	result, err := d.Drain(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{first.ID, second.ID}, result.Sent)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, provider.sentCount(), "one recipient gets one combined message")

	body := provider.lastSentBody()
	assert.Contains(t, body, "About 1 Main St")
	assert.Contains(t, body, "About 2 Oak Ave")

	pending, err := store.ListPendingOutbox(ctx, pool, userID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainIndexesSentMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)

	enqueue(t, pool, userID, "client-a", "landlord@example.com", "Hello there")

	provider := newFakeProvider()
	d := newTestDispatcher(pool, provider, userID)

	_, err := d.Drain(ctx)
	require.NoError(t, err)

	info := provider.lastSentInfo()
	require.NotNil(t, info)

	// The thread root carries the sent message's identifiers.
	thread, err := store.GetThread(ctx, pool, userID, info.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "client-a", thread.ClientID)
	assert.Equal(t, []string{"landlord@example.com"}, thread.Emails)

	// Both indexes resolve so replies can be matched.
	threadID, err := store.LookupThreadByMessageID(ctx, pool, userID, info.MessageID)
	require.NoError(t, err)
	assert.Equal(t, info.MessageID, threadID)

	threadID, err = store.LookupThreadByConversationID(ctx, pool, userID, info.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, info.MessageID, threadID)

	messages, err := store.GetMessagesForThread(ctx, pool, userID, info.MessageID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.DirectionOutbound, messages[0].Direction)
}

func TestDrainRecordsFailureAndRetriesNextRun(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)

	item := enqueue(t, pool, userID, "client-a", "landlord@example.com", "Hello")

	provider := newFakeProvider()
	provider.sendFailures = 100
	d := newTestDispatcher(pool, provider, userID)

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Sent)
	assert.Contains(t, result.Errors, item.ID)

	pending, err := store.ListPendingOutbox(ctx, pool, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)

	// Next run succeeds and clears the item.
	provider.sendFailures = 0
	result, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, result.Sent)
}

func TestDrainDeadLettersAtCeiling(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)

	item := enqueue(t, pool, userID, "client-a", "landlord@example.com", "Hello")

	// Four failures already on record; the fifth crosses the ceiling.
	for i := 0; i < AttemptCeiling-1; i++ {
		_, err := store.RecordOutboxFailure(ctx, pool, userID, item.ID, "smtp connection refused")
		require.NoError(t, err)
	}

	provider := newFakeProvider()
	provider.sendFailures = 100
	d := newTestDispatcher(pool, provider, userID)

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, result.DeadLettered)

	pending, err := store.ListPendingOutbox(ctx, pool, userID)
	require.NoError(t, err)
	assert.Empty(t, pending, "a dead-lettered item leaves the outbox")

	letters, err := store.ListDeadLetters(ctx, pool, userID)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, item.ID, letters[0].OutboxItemID)
	assert.Equal(t, AttemptCeiling, letters[0].Attempts)
	assert.Contains(t, letters[0].FailureReason, "retry ceiling")
}

func TestDrainDropsExhaustedItemsBeforeSending(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)

	item := enqueue(t, pool, userID, "client-a", "landlord@example.com", "Hello")
	for i := 0; i < AttemptCeiling; i++ {
		_, err := store.RecordOutboxFailure(ctx, pool, userID, item.ID, "smtp connection refused")
		require.NoError(t, err)
	}

	provider := newFakeProvider()
	d := newTestDispatcher(pool, provider, userID)

	result, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, result.DeadLettered)
	assert.Equal(t, 0, provider.sentCount(), "an exhausted item never reaches the provider")
}
