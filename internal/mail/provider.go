// Package mail defines the messaging-provider contract the engine consumes
// and an IMAP/SMTP implementation of it.
package mail

import (
	"context"
	"time"

	"github.com/leaseline/outreach/internal/models"
)

// InboundMessage is one mailbox message projected down to what the engine
// needs: the threading headers, addressing, and a normalized text body.
type InboundMessage struct {
	ProviderID  string
	Headers     models.HeaderBundle
	From        string
	To          []string
	Subject     string
	BodyText    string
	BodyPreview string
	ReceivedAt  time.Time
}

// Draft describes an outbound message to be created and later sent.
type Draft struct {
	To         []string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
	ClientID   string
	RowNumber  *int
}

// DraftInfo carries the canonical identifiers of a created draft. They are
// required before the send so the message can be indexed for reply matching.
type DraftInfo struct {
	DraftID        string
	MessageID      string
	ConversationID string
	Subject        string
}

// Provider is the messaging service the engine talks to. Implementations
// must list inbound messages newest first and must surface rate limiting as
// retry.RateLimitError so callers can honor the server's hint.
type Provider interface {
	// ListInbound returns one page of inbound messages, newest first, plus
	// the token for the next page ("" when exhausted).
	ListInbound(ctx context.Context, pageToken string, pageSize int) ([]*InboundMessage, string, error)

	// CreateDraft creates an outbound draft and returns its provider id.
	CreateDraft(ctx context.Context, draft *Draft) (string, error)

	// DraftIdentifiers returns the canonical identifiers of a draft.
	DraftIdentifiers(ctx context.Context, draftID string) (*DraftInfo, error)

	// SendDraft issues the actual send for a previously created draft.
	SendDraft(ctx context.Context, draftID string) error
}
