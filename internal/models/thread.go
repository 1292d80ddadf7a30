package models

import "time"

// Direction marks which way a message travelled.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Thread is the persistent identity of one ongoing email conversation.
// Its ID is the normalized Message-ID of the root outbound message.
type Thread struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ClientID       string     `json:"client_id"`
	Emails         []string   `json:"emails"`
	ConversationID string     `json:"conversation_id"`
	RowNumber      *int       `json:"row_number,omitempty"`
	Subject        string     `json:"subject"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Messages       []*Message `json:"messages,omitempty"`
}

// HeaderBundle carries the threading headers of one email.
type HeaderBundle struct {
	MessageID      string   `json:"message_id"`
	InReplyTo      string   `json:"in_reply_to"`
	References     []string `json:"references"`
	ConversationID string   `json:"conversation_id"`
}

// Message is one email owned by exactly one Thread. Immutable once written;
// keyed by the provider Message-ID when available, else a synthetic id.
type Message struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	UserID      string     `json:"user_id"`
	MessageKey  string     `json:"message_key"`
	Direction   Direction  `json:"direction"`
	FromAddress string     `json:"from_address"`
	ToAddresses []string   `json:"to_addresses"`
	Subject     string     `json:"subject"`
	BodyText    string     `json:"body_text"`
	BodyPreview string     `json:"body_preview"`
	Headers     HeaderBundle `json:"headers"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
