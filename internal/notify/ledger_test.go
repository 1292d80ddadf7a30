package notify

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/sheet"
	"github.com/leaseline/outreach/internal/store"
	"github.com/leaseline/outreach/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedClient(t *testing.T, pool *pgxpool.Pool) (string, string) {
	t.Helper()
	ctx := context.Background()

	userID, err := store.GetOrCreateUser(ctx, pool, "owner@outreach.test")
	require.NoError(t, err)
	require.NoError(t, store.SaveClient(ctx, pool, &models.Client{
		ID: "client-a", UserID: userID, Name: "Acme Relocation",
	}))

	return userID, "client-a"
}

func TestWriteBumpsCounters(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID, clientID := seedClient(t, pool)

	ledger := NewLedger(pool)

	id, err := ledger.Write(ctx, &Input{
		UserID:   userID,
		ClientID: clientID,
		Kind:     models.KindActionNeeded,
		Priority: models.PriorityImportant,
		Email:    "landlord@example.com",
		ThreadID: "<root@x>",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	counters, err := store.GetClientCounters(ctx, pool, userID, clientID)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Unread)
	assert.Equal(t, 0, counters.NewUpdateCount, "only sheet updates move the update counter")
	assert.Equal(t, 1, counters.PerKind[string(models.KindActionNeeded)])
}

func TestWriteSheetUpdateMovesUpdateCounter(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID, clientID := seedClient(t, pool)

	ledger := NewLedger(pool)

	_, err := ledger.Write(ctx, &Input{
		UserID:   userID,
		ClientID: clientID,
		Kind:     models.KindSheetUpdate,
	})
	require.NoError(t, err)

	counters, err := store.GetClientCounters(ctx, pool, userID, clientID)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Unread)
	assert.Equal(t, 1, counters.NewUpdateCount)
}

func TestWriteDeduplicates(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID, clientID := seedClient(t, pool)

	ledger := NewLedger(pool)

	in := &Input{
		UserID:    userID,
		ClientID:  clientID,
		Kind:      models.KindSheetUpdate,
		Email:     "landlord@example.com",
		ThreadID:  "<root@x>",
		DedupeKey: "<root@x>:D2:rent:13000",
	}

	first, err := ledger.Write(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, NotificationID(in.DedupeKey), first, "identity is the hash of the dedupe key")

	second, err := ledger.Write(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first, second, "the same logical event collapses to one document")

	notifications, err := store.ListNotifications(ctx, pool, userID, clientID, 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)

	counters, err := store.GetClientCounters(ctx, pool, userID, clientID)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Unread, "a dedupe hit must not move counters")
	assert.Equal(t, 1, counters.NewUpdateCount)
}

func TestWriteUnknownClient(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID, _ := seedClient(t, pool)

	ledger := NewLedger(pool)

	_, err := ledger.Write(ctx, &Input{
		UserID:   userID,
		ClientID: "no-such-client",
		Kind:     models.KindActionNeeded,
	})
	assert.Error(t, err)
}

func TestWriteFieldUpdates(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID, clientID := seedClient(t, pool)

	ledger := NewLedger(pool)

	applied := []sheet.AppliedUpdate{
		{Column: "Rent", Range: "D2", OldValue: "", NewValue: "13000", Confidence: 0.9},
		{Column: "Availability", Range: "E2", OldValue: "", NewValue: "March 2027", Confidence: 0.85},
	}

	fc := &FieldUpdateContext{
		UserID:    userID,
		ClientID:  clientID,
		ThreadID:  "<root@x>",
		Email:     "landlord@example.com",
		RowNumber: 2,
	}

	ids, err := ledger.WriteFieldUpdates(ctx, fc, applied)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// Replaying the same batch adds nothing.
	ids, err = ledger.WriteFieldUpdates(ctx, fc, applied)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	notifications, err := store.ListNotifications(ctx, pool, userID, clientID, 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 2)

	client, err := store.GetClient(ctx, pool, userID, clientID)
	require.NoError(t, err)
	assert.Contains(t, client.LastNotificationSummary, "Rent: 13000")
	assert.Contains(t, client.LastNotificationSummary, "Availability: March 2027")
}
