package models

import (
	"fmt"
	"strings"
)

// ProposedUpdate is one field value proposed by the upstream AI component.
type ProposedUpdate struct {
	Column     string  `json:"column"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// EventType is the closed set of conversation events the upstream component
// may detect.
type EventType string

const (
	EventCallRequested       EventType = "call_requested"
	EventPropertyUnavailable EventType = "property_unavailable"
	EventNewProperty         EventType = "new_property"
	EventCloseConversation   EventType = "close_conversation"
)

// Event is one typed event detected in a conversation.
type Event struct {
	Type    EventType `json:"type"`
	Address string    `json:"address,omitempty"`
	City    string    `json:"city,omitempty"`
	Link    string    `json:"link,omitempty"`
	Notes   string    `json:"notes,omitempty"`
}

// Proposal is the structured output of the upstream AI component: a list of
// field updates for one sheet row plus typed events. It is validated once at
// the boundary so downstream code never inspects untyped payloads.
type Proposal struct {
	Updates []ProposedUpdate `json:"updates"`
	Events  []Event          `json:"events"`
	Notes   string           `json:"notes,omitempty"`
}

// Validate checks that every update names a column and carries a confidence
// in [0, 1], and that every event type belongs to the known set.
func (p *Proposal) Validate() error {
	for i, u := range p.Updates {
		if strings.TrimSpace(u.Column) == "" {
			return fmt.Errorf("update %d: column is empty", i)
		}
		if u.Confidence < 0 || u.Confidence > 1 {
			return fmt.Errorf("update %d (%s): confidence %v out of range", i, u.Column, u.Confidence)
		}
	}
	for i, e := range p.Events {
		switch e.Type {
		case EventCallRequested, EventPropertyUnavailable, EventNewProperty, EventCloseConversation:
		default:
			return fmt.Errorf("event %d: unknown type %q", i, e.Type)
		}
	}
	return nil
}
