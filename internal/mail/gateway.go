package mail

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/leaseline/outreach/internal/models"
)

// Gateway implements Provider over a plain IMAP mailbox (inbound) and an
// SMTP submission endpoint (outbound). Connections are short-lived: one per
// page or send, which suits the batch-triggered execution model.
type Gateway struct {
	IMAPAddr     string
	IMAPUsername string
	IMAPPassword string
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	FromAddress  string
	Folder       string
	UseTLS       bool

	mu     sync.Mutex
	drafts map[string]*pendingDraft
}

type pendingDraft struct {
	info DraftInfo
	to   []string
	raw  string
}

// NewGateway creates a Gateway for one user's mailbox.
func NewGateway(imapAddr, imapUser, imapPass, smtpAddr, smtpUser, smtpPass, from string, useTLS bool) *Gateway {
	return &Gateway{
		IMAPAddr:     imapAddr,
		IMAPUsername: imapUser,
		IMAPPassword: imapPass,
		SMTPAddr:     smtpAddr,
		SMTPUsername: smtpUser,
		SMTPPassword: smtpPass,
		FromAddress:  from,
		Folder:       "INBOX",
		UseTLS:       useTLS,
		drafts:       make(map[string]*pendingDraft),
	}
}

func (g *Gateway) connect() (*imapclient.Client, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var c *imapclient.Client
	var err error
	if g.UseTLS {
		c, err = imapclient.DialWithDialerTLS(dialer, g.IMAPAddr, nil)
	} else {
		c, err = imapclient.DialWithDialer(dialer, g.IMAPAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial IMAP server: %w", err)
	}

	if err := c.Login(g.IMAPUsername, g.IMAPPassword); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to log in to IMAP server: %w", err)
	}

	return c, nil
}

// ListInbound fetches one page of mailbox messages, newest first. The page
// token is the highest remaining sequence number; "" means start from the top.
func (g *Gateway) ListInbound(ctx context.Context, pageToken string, pageSize int) ([]*InboundMessage, string, error) {
	if pageSize <= 0 {
		return nil, "", fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	c, err := g.connect()
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = c.Logout() }()

	mbox, err := c.Select(g.Folder, true)
	if err != nil {
		return nil, "", fmt.Errorf("failed to select folder %s: %w", g.Folder, err)
	}

	end := mbox.Messages
	if pageToken != "" {
		var parsed uint32
		if _, err := fmt.Sscanf(pageToken, "%d", &parsed); err != nil {
			return nil, "", fmt.Errorf("bad page token %q: %w", pageToken, err)
		}
		end = parsed
	}
	if end == 0 {
		return nil, "", nil
	}

	start := uint32(1)
	if end > uint32(pageSize) {
		start = end - uint32(pageSize) + 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, end)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, end-start+1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var page []*InboundMessage
	for msg := range messages {
		inbound, err := g.toInbound(msg, section)
		if err != nil {
			// A single unparsable message must not abort the scan.
			continue
		}
		page = append(page, inbound)
	}

	if err := <-done; err != nil {
		return nil, "", fmt.Errorf("failed to fetch messages: %w", err)
	}

	// IMAP returns ascending sequence numbers; the scan wants newest first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	nextToken := ""
	if start > 1 {
		nextToken = fmt.Sprintf("%d", start-1)
	}

	return page, nextToken, nil
}

func (g *Gateway) toInbound(msg *imap.Message, section *imap.BodySectionName) (*InboundMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	inbound := &InboundMessage{
		ProviderID: fmt.Sprintf("%s/%d", g.Folder, msg.Uid),
		ReceivedAt: msg.InternalDate,
	}

	if msg.Envelope != nil {
		inbound.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			inbound.From = bareAddress(msg.Envelope.From[0])
		}
		for _, addr := range msg.Envelope.To {
			if a := bareAddress(addr); a != "" {
				inbound.To = append(inbound.To, a)
			}
		}
		inbound.Headers.MessageID = NormalizeMessageID(msg.Envelope.MessageId)
	}

	if body := msg.GetBody(section); body != nil {
		envelope, err := enmime.ReadEnvelope(body)
		if err == nil {
			inbound.BodyText = envelope.Text
			if inbound.BodyText == "" && envelope.HTML != "" {
				inbound.BodyText = StripHTMLTags(envelope.HTML)
			}
			inbound.BodyPreview = SafePreview(inbound.BodyText)
			inbound.Headers.InReplyTo = NormalizeMessageID(envelope.GetHeader("In-Reply-To"))
			inbound.Headers.References = ParseReferences(envelope.GetHeader("References"))
			if inbound.Headers.MessageID == "" {
				inbound.Headers.MessageID = NormalizeMessageID(envelope.GetHeader("Message-Id"))
			}
		}
	}

	inbound.Headers.ConversationID = deriveConversationID(inbound.Headers)

	return inbound, nil
}

// deriveConversationID picks the stable conversation identifier for a
// message: the root of its References chain when present, else its own id.
// Outbound sends use their own Message-ID, so replies converge on the same
// value.
func deriveConversationID(h models.HeaderBundle) string {
	if len(h.References) > 0 {
		return NormalizeMessageID(h.References[0])
	}
	return h.MessageID
}

// CreateDraft composes the outbound message and assigns its canonical
// identifiers. The draft stays local until SendDraft.
func (g *Gateway) CreateDraft(_ context.Context, draft *Draft) (string, error) {
	if len(draft.To) == 0 {
		return "", fmt.Errorf("draft has no recipients")
	}

	draftID := uuid.NewString()
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), addressDomain(g.FromAddress))

	conversationID := messageID
	if len(draft.References) > 0 {
		conversationID = NormalizeMessageID(draft.References[0])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", g.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(draft.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", draft.Subject)
	if draft.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", draft.InReplyTo)
	}
	if len(draft.References) > 0 {
		fmt.Fprintf(&b, "References: %s\r\n", strings.Join(draft.References, " "))
	}
	if draft.ClientID != "" {
		fmt.Fprintf(&b, "X-Client-Id: %s\r\n", draft.ClientID)
	}
	if draft.RowNumber != nil {
		fmt.Fprintf(&b, "X-Row-Anchor: rowNumber=%d\r\n", *draft.RowNumber)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(draft.Body)
	b.WriteString("\r\n")

	g.mu.Lock()
	g.drafts[draftID] = &pendingDraft{
		info: DraftInfo{
			DraftID:        draftID,
			MessageID:      messageID,
			ConversationID: conversationID,
			Subject:        draft.Subject,
		},
		to:  draft.To,
		raw: b.String(),
	}
	g.mu.Unlock()

	return draftID, nil
}

// DraftIdentifiers returns the identifiers assigned at draft creation.
func (g *Gateway) DraftIdentifiers(_ context.Context, draftID string) (*DraftInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.drafts[draftID]
	if !ok {
		return nil, fmt.Errorf("unknown draft %s", draftID)
	}

	info := d.info
	return &info, nil
}

// SendDraft submits a created draft over SMTP.
func (g *Gateway) SendDraft(_ context.Context, draftID string) error {
	g.mu.Lock()
	d, ok := g.drafts[draftID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown draft %s", draftID)
	}

	var auth sasl.Client
	if g.SMTPUsername != "" {
		auth = sasl.NewPlainClient("", g.SMTPUsername, g.SMTPPassword)
	}

	if g.UseTLS {
		if err := smtp.SendMail(g.SMTPAddr, auth, g.FromAddress, d.to, strings.NewReader(d.raw)); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	} else {
		c, err := smtp.Dial(g.SMTPAddr)
		if err != nil {
			return fmt.Errorf("failed to dial SMTP server: %w", err)
		}
		defer func() { _ = c.Close() }()

		if auth != nil {
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}
		}
		if err := c.SendMail(g.FromAddress, d.to, strings.NewReader(d.raw)); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}

	g.mu.Lock()
	delete(g.drafts, draftID)
	g.mu.Unlock()

	return nil
}

func bareAddress(addr *imap.Address) string {
	if addr == nil || addr.MailboxName == "" || addr.HostName == "" {
		return ""
	}
	return strings.ToLower(addr.MailboxName + "@" + addr.HostName)
}

func addressDomain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return address[i+1:]
	}
	return "localhost"
}
