package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/mail"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/notify"
	"github.com/leaseline/outreach/internal/sheet"
	"github.com/leaseline/outreach/internal/store"
)

// RunReport summarizes one scheduled run for a user.
type RunReport struct {
	Dispatch *DispatchResult
	Scan     *ScanStats
}

// Service wires one user's pipeline: outbox drain first, then the inbox
// scan, with matched conversations handed to the proposal producer and its
// output fed through reconciliation and the notification ledger.
type Service struct {
	Pool     *pgxpool.Pool
	Provider mail.Provider
	Proposer Proposer
	UserID   string
	Lookback time.Duration
	PageSize int

	ledger *notify.Ledger
}

// NewService builds the pipeline for one user.
func NewService(pool *pgxpool.Pool, provider mail.Provider, proposer Proposer, userID string, lookback time.Duration, pageSize int) *Service {
	return &Service{
		Pool:     pool,
		Provider: provider,
		Proposer: proposer,
		UserID:   userID,
		Lookback: lookback,
		PageSize: pageSize,
		ledger:   notify.NewLedger(pool),
	}
}

// Run executes one scheduled invocation: drain the outbox so fresh sends are
// indexed before their replies can arrive, then scan the inbox.
func (s *Service) Run(ctx context.Context) (*RunReport, error) {
	dispatcher := NewDispatcher(s.Pool, s.Provider, s.UserID)
	dispatcher.Subject = s.subjectFor

	dispatch, err := dispatcher.Drain(ctx)
	if err != nil {
		return &RunReport{Dispatch: dispatch}, fmt.Errorf("outbox drain failed: %w", err)
	}

	matcher := NewMatcher(s.Pool, s.UserID)
	scanner := NewScanner(s.Pool, s.Provider, matcher, s.UserID, s.Lookback, s.PageSize)
	scanner.Process = s.handleMatched

	scan, err := scanner.Run(ctx)
	if err != nil {
		return &RunReport{Dispatch: dispatch, Scan: scan}, fmt.Errorf("inbox scan failed: %w", err)
	}

	return &RunReport{Dispatch: dispatch, Scan: scan}, nil
}

// handleMatched runs the reconciliation pipeline for one inbound message that
// resolved to a thread.
func (s *Service) handleMatched(ctx context.Context, threadID string, msg *mail.InboundMessage) error {
	thread, err := store.GetThread(ctx, s.Pool, s.UserID, threadID)
	if err != nil {
		return err
	}

	if thread.ClientID == "" {
		log.Printf("Thread %s has no client, skipping reconciliation", threadID)
		return nil
	}

	rows := sheet.NewPostgresRows(s.Pool, s.UserID, thread.ClientID)

	rowNumber, rowCells, err := s.resolveRow(ctx, thread, msg.From)
	if err != nil {
		if errors.Is(err, store.ErrRowNotFound) || errors.Is(err, store.ErrSheetNotFound) {
			log.Printf("No sheet row for thread %s (%s), skipping reconciliation", threadID, msg.From)
			return nil
		}
		return err
	}

	header, err := rows.Header(ctx)
	if err != nil {
		return err
	}

	conversation, err := s.conversation(ctx, threadID)
	if err != nil {
		return err
	}

	proposal, err := s.Proposer.Propose(ctx, &ProposalRequest{
		UserID:    s.UserID,
		ClientID:  thread.ClientID,
		ThreadID:  threadID,
		Email:     msg.From,
		RowNumber: rowNumber,
		Header:    header,
		Row:       rowCells,
		Messages:  conversation,
	})
	if err != nil {
		return fmt.Errorf("proposal call failed: %w", err)
	}
	if err := proposal.Validate(); err != nil {
		return fmt.Errorf("rejecting proposal: %w", err)
	}

	reconciler := sheet.NewReconciler(rows, s.UserID, thread.ClientID)

	result, err := reconciler.ApplyUpdates(ctx, rowNumber, proposal.Updates)
	if err != nil {
		return err
	}
	for _, skipped := range result.Skipped {
		log.Printf("Skipped update for thread %s column %s: %s", threadID, skipped.Column, skipped.Reason)
	}

	if proposal.Notes != "" {
		if _, err := reconciler.AppendNotes(ctx, rowNumber, proposal.Notes); err != nil {
			log.Printf("Failed to append notes for thread %s: %v", threadID, err)
		}
	}

	if len(result.Applied) > 0 {
		if err := s.logApplied(ctx, thread, msg.From, rowNumber, proposal, result.Applied); err != nil {
			log.Printf("Failed to append change log for thread %s: %v", threadID, err)
		}

		fc := &notify.FieldUpdateContext{
			UserID:    s.UserID,
			ClientID:  thread.ClientID,
			ThreadID:  threadID,
			Email:     msg.From,
			RowNumber: rowNumber,
		}
		if _, err := s.ledger.WriteFieldUpdates(ctx, fc, result.Applied); err != nil {
			return err
		}
	}

	for _, event := range proposal.Events {
		if err := s.handleEvent(ctx, thread, msg.From, rowNumber, header, event); err != nil {
			log.Printf("Failed to handle %s event for thread %s: %v", event.Type, threadID, err)
		}
	}

	return nil
}

// resolveRow anchors the thread to a sheet row: the stored anchor when
// present, else a lookup by sender address (persisted back onto the thread).
func (s *Service) resolveRow(ctx context.Context, thread *models.Thread, email string) (int, []string, error) {
	if thread.RowNumber != nil {
		cells, err := store.GetSheetRow(ctx, s.Pool, s.UserID, thread.ClientID, *thread.RowNumber)
		if err != nil {
			return 0, nil, err
		}
		return *thread.RowNumber, cells, nil
	}

	rowNumber, cells, err := store.FindSheetRowByEmail(ctx, s.Pool, s.UserID, thread.ClientID, email)
	if err != nil {
		return 0, nil, err
	}

	thread.RowNumber = &rowNumber
	if err := store.SaveThread(ctx, s.Pool, thread); err != nil {
		log.Printf("Failed to persist row anchor for thread %s: %v", thread.ID, err)
	}

	return rowNumber, cells, nil
}

// conversation builds the payload the proposal producer sees: the last few
// messages of the thread with bounded content.
func (s *Service) conversation(ctx context.Context, threadID string) ([]ConversationMessage, error) {
	messages, err := store.GetMessagesForThread(ctx, s.Pool, s.UserID, threadID)
	if err != nil {
		return nil, err
	}

	if len(messages) > conversationWindow {
		messages = messages[len(messages)-conversationWindow:]
	}

	conversation := make([]ConversationMessage, 0, len(messages))
	for _, m := range messages {
		content := m.BodyText
		if content == "" {
			content = m.BodyPreview
		}
		if len(content) > maxMessageContent {
			content = content[:maxMessageContent]
		}

		sent := m.CreatedAt
		if m.SentAt != nil {
			sent = *m.SentAt
		} else if m.ReceivedAt != nil {
			sent = *m.ReceivedAt
		}

		conversation = append(conversation, ConversationMessage{
			Direction: m.Direction,
			From:      m.FromAddress,
			Subject:   m.Subject,
			Sent:      sent,
			Content:   content,
		})
	}

	return conversation, nil
}

func (s *Service) logApplied(ctx context.Context, thread *models.Thread, email string, rowNumber int, proposal *models.Proposal, applied []sheet.AppliedUpdate) error {
	appliedJSON, err := json.Marshal(applied)
	if err != nil {
		return err
	}
	return store.AppendSheetChangeLog(ctx, s.Pool, s.UserID, thread.ClientID, thread.ID, email, rowNumber, appliedJSON, proposalHash(proposal))
}

// proposalHash fingerprints a proposal for the change log.
func proposalHash(proposal *models.Proposal) string {
	raw, err := json.Marshal(proposal)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Service) handleEvent(ctx context.Context, thread *models.Thread, email string, rowNumber int, header []string, event models.Event) error {
	switch event.Type {
	case models.EventCallRequested:
		_, err := s.ledger.Write(ctx, &notify.Input{
			UserID:    s.UserID,
			ClientID:  thread.ClientID,
			Kind:      models.KindActionNeeded,
			Priority:  models.PriorityImportant,
			Email:     email,
			ThreadID:  thread.ID,
			RowNumber: &rowNumber,
			Meta:      map[string]string{"event": string(event.Type), "notes": event.Notes},
			DedupeKey: fmt.Sprintf("%s:call_requested", thread.ID),
		})
		return err

	case models.EventPropertyUnavailable:
		if err := store.RetireSheetRow(ctx, s.Pool, s.UserID, thread.ClientID, rowNumber); err != nil && !errors.Is(err, store.ErrRowNotFound) {
			return err
		}
		_, err := s.ledger.Write(ctx, &notify.Input{
			UserID:    s.UserID,
			ClientID:  thread.ClientID,
			Kind:      models.KindPropertyUnavailable,
			Priority:  models.PriorityImportant,
			Email:     email,
			ThreadID:  thread.ID,
			RowNumber: &rowNumber,
			Meta:      map[string]string{"notes": event.Notes},
			DedupeKey: fmt.Sprintf("%s:property_unavailable:%d", thread.ID, rowNumber),
		})
		return err

	case models.EventNewProperty:
		if existing, ok, err := s.findExistingProperty(ctx, thread.ClientID, header, event.Address); err != nil {
			return err
		} else if ok {
			log.Printf("Row %d already lists %s, skipping new property", existing, event.Address)
			return nil
		}
		newRow, err := store.AppendSheetRow(ctx, s.Pool, s.UserID, thread.ClientID, newPropertyCells(header, email, event))
		if err != nil {
			return err
		}
		_, err = s.ledger.Write(ctx, &notify.Input{
			UserID:    s.UserID,
			ClientID:  thread.ClientID,
			Kind:      models.KindSheetUpdate,
			Priority:  models.PriorityNormal,
			Email:     email,
			ThreadID:  thread.ID,
			RowNumber: &newRow,
			Meta:      map[string]string{"event": string(event.Type), "address": event.Address, "city": event.City},
			DedupeKey: fmt.Sprintf("%s:new_property:%s", thread.ID, event.Address),
		})
		return err

	case models.EventCloseConversation:
		// Recognized so validation accepts it; the thread simply goes quiet.
		log.Printf("Thread %s asked to close the conversation", thread.ID)
		return nil
	}

	return nil
}

// findExistingProperty reports whether an active row already lists the given
// address. Sheets without an address column never match.
func (s *Service) findExistingProperty(ctx context.Context, clientID string, header []string, address string) (int, bool, error) {
	if strings.TrimSpace(address) == "" {
		return 0, false, nil
	}

	hasAddress := false
	for _, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == "address" {
			hasAddress = true
			break
		}
	}
	if !hasAddress {
		return 0, false, nil
	}

	rowNumber, _, err := store.FindSheetRowByCell(ctx, s.Pool, s.UserID, clientID, []string{"address"}, address)
	if errors.Is(err, store.ErrRowNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rowNumber, true, nil
}

// newPropertyCells lays event fields into the columns the sheet actually has.
func newPropertyCells(header []string, email string, event models.Event) []string {
	cells := make([]string, len(header))
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "email", "email address":
			cells[i] = email
		case "address":
			cells[i] = event.Address
		case "city":
			cells[i] = event.City
		case "link", "listing", "url":
			cells[i] = event.Link
		case "comments", "notes":
			cells[i] = event.Notes
		}
	}
	return cells
}

// subjectFor derives the outbound subject from the item's anchored sheet row,
// "address, city" when both are present.
func (s *Service) subjectFor(ctx context.Context, item *models.OutboxItem) string {
	const fallback = "Following up"

	if item.RowNumber == nil {
		return fallback
	}

	header, err := store.GetSheetHeader(ctx, s.Pool, s.UserID, item.ClientID)
	if err != nil {
		return fallback
	}
	cells, err := store.GetSheetRow(ctx, s.Pool, s.UserID, item.ClientID, *item.RowNumber)
	if err != nil {
		return fallback
	}

	var address, city string
	for i, h := range header {
		if i >= len(cells) {
			break
		}
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "address":
			address = strings.TrimSpace(cells[i])
		case "city":
			city = strings.TrimSpace(cells[i])
		}
	}

	switch {
	case address != "" && city != "":
		return fmt.Sprintf("%s, %s", address, city)
	case address != "":
		return address
	default:
		return fallback
	}
}
