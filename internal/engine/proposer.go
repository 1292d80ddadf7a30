// Package engine ties the pipeline together: outbox dispatch, inbound scan,
// thread matching, and the hand-off to the proposal producer whose output
// feeds reconciliation and notifications.
package engine

import (
	"context"
	"time"

	"github.com/leaseline/outreach/internal/models"
)

// Conversation payloads carry at most this much body text per message.
const maxMessageContent = 2000

// How many trailing messages of a thread the proposal producer sees.
const conversationWindow = 10

// ConversationMessage is one message as presented to the proposal producer.
type ConversationMessage struct {
	Direction models.Direction `json:"direction"`
	From      string           `json:"from"`
	Subject   string           `json:"subject"`
	Sent      time.Time        `json:"sent"`
	Content   string           `json:"content"`
}

// ProposalRequest is everything the proposal producer needs to suggest field
// updates for one client row: the sheet context plus the recent conversation.
type ProposalRequest struct {
	UserID    string                `json:"user_id"`
	ClientID  string                `json:"client_id"`
	ThreadID  string                `json:"thread_id"`
	Email     string                `json:"email"`
	RowNumber int                   `json:"row_number"`
	Header    []string              `json:"header"`
	Row       []string              `json:"row"`
	Messages  []ConversationMessage `json:"messages"`
}

// Proposer produces field-update proposals and events from a conversation.
// Implementations live outside this engine; the engine only validates and
// applies what comes back.
type Proposer interface {
	Propose(ctx context.Context, req *ProposalRequest) (*models.Proposal, error)
}
