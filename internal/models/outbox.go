package models

import "time"

// OutboxItem is one pending send. Deleted on success; attempts and lastError
// mutate on failure; moved to DeadLetterItem once attempts reach the ceiling.
type OutboxItem struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ClientID   string    `json:"client_id"`
	Recipients []string  `json:"recipients"`
	Script     string    `json:"script"`
	RowNumber  *int      `json:"row_number,omitempty"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DeadLetterItem is the terminal copy of an OutboxItem that exhausted its
// retry budget. Append-only, never automatically reprocessed.
type DeadLetterItem struct {
	ID            string    `json:"id"`
	OutboxItemID  string    `json:"outbox_item_id"`
	UserID        string    `json:"user_id"`
	ClientID      string    `json:"client_id"`
	Recipients    []string  `json:"recipients"`
	Script        string    `json:"script"`
	Attempts      int       `json:"attempts"`
	FailureReason string    `json:"failure_reason"`
	MovedAt       time.Time `json:"moved_at"`
}
