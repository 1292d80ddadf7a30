package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/store"
	"github.com/leaseline/outreach/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedClientSheet(t *testing.T, pool *pgxpool.Pool, userID, clientID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.SaveClient(ctx, pool, &models.Client{
		ID: clientID, UserID: userID, Name: "Acme Relocation",
	}))
	require.NoError(t, store.SetSheetHeader(ctx, pool, userID, clientID,
		[]string{"Email", "Address", "City", "Rent", "Availability", "Comments"}))

	_, err := store.AppendSheetRow(ctx, pool, userID, clientID,
		[]string{"landlord@example.com", "1 Main St", "Springfield", "", "", ""})
	require.NoError(t, err)
}

func TestServiceEndToEnd(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)
	seedClientSheet(t, pool, userID, "client-a")

	rowNumber := 2
	require.NoError(t, store.EnqueueOutboxItem(ctx, pool, &models.OutboxItem{
		UserID:     userID,
		ClientID:   "client-a",
		Recipients: []string{"landlord@example.com"},
		Script:     "Hi, is 1 Main St still available?",
		RowNumber:  &rowNumber,
	}))

	provider := newFakeProvider()
	proposer := &fakeProposer{
		proposal: &models.Proposal{
			Updates: []models.ProposedUpdate{
				{Column: "Rent", Value: "13000", Confidence: 0.9, Reason: "quoted in reply"},
				{Column: "Availability", Value: "March 2027", Confidence: 0.9, Reason: "stated in reply"},
			},
		},
	}

	svc := NewService(pool, provider, proposer, userID, 5*time.Hour, 10)

	// First run drains the outbox and indexes the sent message.
	report, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Dispatch.Sent, 1)
	assert.Equal(t, 0, report.Scan.Processed)

	info := provider.lastSentInfo()
	require.NotNil(t, info)
	assert.Equal(t, "1 Main St, Springfield", info.Subject, "subject derives from the anchored row")

	// The landlord replies in the same chain.
	provider.addInbound(&mail.InboundMessage{
		ProviderID: "INBOX/100",
		From:       "landlord@example.com",
		To:         []string{"owner@outreach.test"},
		Subject:    "Re: " + info.Subject,
		BodyText:   "Rent is 13000, free from March 2027.",
		Headers: models.HeaderBundle{
			MessageID:      "<reply-1@x>",
			InReplyTo:      info.MessageID,
			References:     []string{info.MessageID},
			ConversationID: info.ConversationID,
		},
		ReceivedAt: time.Now(),
	})

	report, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scan.Processed)
	require.Equal(t, 1, proposer.calls())

	req := proposer.requests[0]
	assert.Equal(t, rowNumber, req.RowNumber)
	assert.Equal(t, "landlord@example.com", req.Email)
	require.Len(t, req.Messages, 2, "conversation carries the outbound message and the reply")
	assert.Equal(t, models.DirectionOutbound, req.Messages[0].Direction)
	assert.Equal(t, models.DirectionInbound, req.Messages[1].Direction)

	// Both updates landed on the row.
	cells, err := store.GetSheetRow(ctx, pool, userID, "client-a", rowNumber)
	require.NoError(t, err)
	assert.Equal(t, "13000", cells[3])
	assert.Equal(t, "March 2027", cells[4])

	// Exactly two field-update notifications, and counters agree.
	notifications, err := store.ListNotifications(ctx, pool, userID, "client-a", 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 2)
	for _, n := range notifications {
		assert.Equal(t, models.KindSheetUpdate, n.Kind)
	}

	counters, err := store.GetClientCounters(ctx, pool, userID, "client-a")
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Unread)
	assert.Equal(t, 2, counters.NewUpdateCount)
	assert.Equal(t, 2, counters.PerKind[string(models.KindSheetUpdate)])

	// A third run re-sees the same reply and changes nothing.
	report, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scan.Processed)
	assert.Equal(t, 1, proposer.calls())

	notifications, err = store.ListNotifications(ctx, pool, userID, "client-a", 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 2)
}

func TestServiceEventsRetireRowAndNotify(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)
	seedClientSheet(t, pool, userID, "client-a")

	rowNumber := 2
	threadID := "<root@provider.test>"
	require.NoError(t, store.SaveThread(ctx, pool, &models.Thread{
		ID: threadID, UserID: userID, ClientID: "client-a",
		Emails: []string{"landlord@example.com"}, RowNumber: &rowNumber,
	}))
	require.NoError(t, store.IndexMessageID(ctx, pool, userID, threadID, threadID))

	provider := newFakeProvider()
	provider.addInbound(&mail.InboundMessage{
		ProviderID: "INBOX/7",
		From:       "landlord@example.com",
		Subject:    "Re: 1 Main St",
		BodyText:   "Sorry, the unit was just leased.",
		Headers: models.HeaderBundle{
			MessageID: "<gone@x>",
			InReplyTo: threadID,
		},
		ReceivedAt: time.Now(),
	})

	proposer := &fakeProposer{
		proposal: &models.Proposal{
			Events: []models.Event{{Type: models.EventPropertyUnavailable, Notes: "leased to someone else"}},
		},
	}

	svc := NewService(pool, provider, proposer, userID, 5*time.Hour, 10)

	_, err := svc.Run(ctx)
	require.NoError(t, err)

	status, err := store.GetSheetRowStatus(ctx, pool, userID, "client-a", rowNumber)
	require.NoError(t, err)
	assert.Equal(t, "retired", status)

	notifications, err := store.ListNotifications(ctx, pool, userID, "client-a", 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.KindPropertyUnavailable, notifications[0].Kind)
	assert.Equal(t, models.PriorityImportant, notifications[0].Priority)
}

func TestServiceNewPropertyEvent(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)
	seedClientSheet(t, pool, userID, "client-a")

	rowNumber := 2
	threadID := "<root@provider.test>"
	require.NoError(t, store.SaveThread(ctx, pool, &models.Thread{
		ID: threadID, UserID: userID, ClientID: "client-a",
		Emails: []string{"landlord@example.com"}, RowNumber: &rowNumber,
	}))
	require.NoError(t, store.IndexMessageID(ctx, pool, userID, threadID, threadID))

	provider := newFakeProvider()
	provider.addInbound(&mail.InboundMessage{
		ProviderID: "INBOX/9",
		From:       "landlord@example.com",
		Subject:    "Re: 1 Main St",
		BodyText:   "We also have a unit at 9 Oak Ave in Shelbyville.",
		Headers:    models.HeaderBundle{MessageID: "<alt@x>", InReplyTo: threadID},
		ReceivedAt: time.Now(),
	})

	proposer := &fakeProposer{
		proposal: &models.Proposal{
			Events: []models.Event{{
				Type:    models.EventNewProperty,
				Address: "9 Oak Ave",
				City:    "Shelbyville",
				Notes:   "offered as an alternative",
			}},
		},
	}

	svc := NewService(pool, provider, proposer, userID, 5*time.Hour, 10)

	_, err := svc.Run(ctx)
	require.NoError(t, err)

	newRow, cells, err := store.FindSheetRowByCell(ctx, pool, userID, "client-a", []string{"address"}, "9 Oak Ave")
	require.NoError(t, err)
	assert.Equal(t, 3, newRow)
	assert.Equal(t, "landlord@example.com", cells[0])
	assert.Equal(t, "Shelbyville", cells[2])

	notifications, err := store.ListNotifications(ctx, pool, userID, "client-a", 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.KindSheetUpdate, notifications[0].Kind)

	// The same offer in a later reply does not add a second row.
	provider.addInbound(&mail.InboundMessage{
		ProviderID: "INBOX/10",
		From:       "landlord@example.com",
		Subject:    "Re: 1 Main St",
		BodyText:   "Reminder about 9 Oak Ave.",
		Headers:    models.HeaderBundle{MessageID: "<alt2@x>", InReplyTo: threadID},
		ReceivedAt: time.Now(),
	})

	_, err = svc.Run(ctx)
	require.NoError(t, err)

	_, err = store.GetSheetRow(ctx, pool, userID, "client-a", 4)
	assert.ErrorIs(t, err, store.ErrRowNotFound, "duplicate offer must not append another row")
}

func TestServiceRejectsInvalidProposal(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	userID := seedUser(t, pool)
	seedClientSheet(t, pool, userID, "client-a")

	rowNumber := 2
	threadID := "<root@provider.test>"
	require.NoError(t, store.SaveThread(ctx, pool, &models.Thread{
		ID: threadID, UserID: userID, ClientID: "client-a",
		Emails: []string{"landlord@example.com"}, RowNumber: &rowNumber,
	}))
	require.NoError(t, store.IndexMessageID(ctx, pool, userID, threadID, threadID))

	provider := newFakeProvider()
	provider.addInbound(&mail.InboundMessage{
		ProviderID: "INBOX/8",
		From:       "landlord@example.com",
		BodyText:   "reply",
		Headers:    models.HeaderBundle{MessageID: "<bad@x>", InReplyTo: threadID},
		ReceivedAt: time.Now(),
	})

	proposer := &fakeProposer{
		proposal: &models.Proposal{
			Updates: []models.ProposedUpdate{{Column: "Rent", Value: "13000", Confidence: 1.7}},
		},
	}

	svc := NewService(pool, provider, proposer, userID, 5*time.Hour, 10)

	report, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scan.Failed, "an out-of-range confidence is rejected at the boundary")

	cells, err := store.GetSheetRow(ctx, pool, userID, "client-a", rowNumber)
	require.NoError(t, err)
	assert.Equal(t, "", cells[3], "nothing is applied from a rejected proposal")
}
