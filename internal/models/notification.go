package models

import "time"

// NotificationKind is the closed set of user-visible event kinds.
type NotificationKind string

const (
	KindSheetUpdate         NotificationKind = "sheet_update"
	KindActionNeeded        NotificationKind = "action_needed"
	KindPropertyUnavailable NotificationKind = "property_unavailable"
)

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	PriorityNormal    NotificationPriority = "normal"
	PriorityImportant NotificationPriority = "important"
)

// Notification is one user-visible event. When DedupeKey is set, the
// notification's identity is a deterministic hash of it, so repeated writes
// of the same logical event collapse to one record.
type Notification struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	ClientID  string               `json:"client_id"`
	Kind      NotificationKind     `json:"kind"`
	Priority  NotificationPriority `json:"priority"`
	Email     string               `json:"email"`
	ThreadID  string               `json:"thread_id"`
	RowNumber *int                 `json:"row_number,omitempty"`
	RowAnchor string               `json:"row_anchor,omitempty"`
	Meta      map[string]string    `json:"meta,omitempty"`
	DedupeKey string               `json:"dedupe_key,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// ClientCounters aggregates notification totals kept on the client record.
type ClientCounters struct {
	Unread         int            `json:"unread"`
	NewUpdateCount int            `json:"new_update_count"`
	PerKind        map[string]int `json:"per_kind"`
}
