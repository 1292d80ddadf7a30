package mail

import (
	"context"
	"testing"
	"time"

	"github.com/leaseline/outreach/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, imapServer *testutil.TestIMAPServer, smtpServer *testutil.TestSMTPServer) *Gateway {
	t.Helper()

	imapAddr, imapUser, imapPass := "", "", ""
	if imapServer != nil {
		imapAddr = imapServer.Address
		imapUser = imapServer.Username()
		imapPass = imapServer.Password()
	}

	smtpAddr, smtpUser, smtpPass := "", "", ""
	if smtpServer != nil {
		smtpAddr = smtpServer.Address
		smtpUser = smtpServer.Username()
		smtpPass = smtpServer.Password()
	}

	return NewGateway(imapAddr, imapUser, imapPass, smtpAddr, smtpUser, smtpPass, "agent@outreach.test", false)
}

func TestGatewayListInboundParsesHeaders(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()
	server.EnsureINBOX(t)

	server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID:  "<reply-1@example.com>",
		InReplyTo:  "<root@outreach.test>",
		References: []string{"<root@outreach.test>", "<mid@outreach.test>"},
		Subject:    "Re: 1 Main St",
		From:       "Land Lord <Landlord@Example.com>",
		To:         "agent@outreach.test",
		Body:       "Rent is 13000 now.",
		SentAt:     time.Now(),
	})

	g := newTestGateway(t, server, nil)

	page, _, err := g.ListInbound(context.Background(), "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, page)

	// Newest first, so our message leads the page.
	msg := page[0]
	assert.Equal(t, "<reply-1@example.com>", msg.Headers.MessageID)
	assert.Equal(t, "<root@outreach.test>", msg.Headers.InReplyTo)
	assert.Equal(t, []string{"<root@outreach.test>", "<mid@outreach.test>"}, msg.Headers.References)
	assert.Equal(t, "<root@outreach.test>", msg.Headers.ConversationID, "conversation id is the references root")
	assert.Equal(t, "landlord@example.com", msg.From)
	assert.Equal(t, "Re: 1 Main St", msg.Subject)
	assert.Contains(t, msg.BodyText, "Rent is 13000")
	assert.NotEmpty(t, msg.BodyPreview)
}

func TestGatewayListInboundPaginates(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()
	server.EnsureINBOX(t)

	now := time.Now()
	for i, id := range []string{"<p1@x>", "<p2@x>", "<p3@x>"} {
		server.AddMessage(t, "INBOX", testutil.TestMessage{
			MessageID: id,
			Subject:   id,
			From:      "landlord@example.com",
			To:        "agent@outreach.test",
			SentAt:    now.Add(time.Duration(i) * time.Minute),
		})
	}

	g := newTestGateway(t, server, nil)

	first, token, err := g.ListInbound(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, token)
	assert.Equal(t, "<p3@x>", first[0].Headers.MessageID, "latest appended message comes first")
	assert.Equal(t, "<p2@x>", first[1].Headers.MessageID)

	second, _, err := g.ListInbound(context.Background(), token, 2)
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.Equal(t, "<p1@x>", second[0].Headers.MessageID)
}

func TestGatewayDraftAndSend(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	defer server.Close()

	g := newTestGateway(t, nil, server)

	rowNumber := 4
	draftID, err := g.CreateDraft(context.Background(), &Draft{
		To:         []string{"landlord@example.com"},
		Subject:    "1 Main St, Springfield",
		Body:       "Hi, is the unit still available?",
		InReplyTo:  "<root@outreach.test>",
		References: []string{"<root@outreach.test>"},
		ClientID:   "client-a",
		RowNumber:  &rowNumber,
	})
	require.NoError(t, err)

	info, err := g.DraftIdentifiers(context.Background(), draftID)
	require.NoError(t, err)
	assert.NotEmpty(t, info.MessageID)
	assert.Equal(t, "<root@outreach.test>", info.ConversationID, "replies keep the chain's conversation id")
	assert.Equal(t, "1 Main St, Springfield", info.Subject)

	require.NoError(t, g.SendDraft(context.Background(), draftID))

	messages := server.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "agent@outreach.test", messages[0].From)
	assert.Equal(t, []string{"landlord@example.com"}, messages[0].To)

	raw := string(messages[0].Data)
	assert.Contains(t, raw, "Message-ID: "+info.MessageID)
	assert.Contains(t, raw, "In-Reply-To: <root@outreach.test>")
	assert.Contains(t, raw, "Subject: 1 Main St, Springfield")
	assert.Contains(t, raw, "X-Client-Id: client-a")
	assert.Contains(t, raw, "X-Row-Anchor: rowNumber=4")
	assert.Contains(t, raw, "Hi, is the unit still available?")

	// A sent draft is gone.
	_, err = g.DraftIdentifiers(context.Background(), draftID)
	assert.Error(t, err)
}

func TestGatewayDraftWithoutRecipients(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	_, err := g.CreateDraft(context.Background(), &Draft{Subject: "empty"})
	assert.Error(t, err)
}

func TestGatewayFreshConversationUsesOwnMessageID(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	draftID, err := g.CreateDraft(context.Background(), &Draft{
		To:      []string{"landlord@example.com"},
		Subject: "First contact",
		Body:    "Hello",
	})
	require.NoError(t, err)

	info, err := g.DraftIdentifiers(context.Background(), draftID)
	require.NoError(t, err)
	assert.Equal(t, info.MessageID, info.ConversationID)
}
