package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/sheet"
	"github.com/leaseline/outreach/internal/store"
)

// FieldUpdateContext carries the thread- and row-level identity for a batch
// of applied field updates.
type FieldUpdateContext struct {
	UserID    string
	ClientID  string
	ThreadID  string
	Email     string
	RowNumber int
}

// WriteFieldUpdates records one sheet_update notification per applied cell,
// each deduplicated on (thread, cell, value) so a reprocessed message never
// duplicates the feed, then refreshes the client's one-line summary.
func (l *Ledger) WriteFieldUpdates(ctx context.Context, fc *FieldUpdateContext, applied []sheet.AppliedUpdate) ([]string, error) {
	if len(applied) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(applied))
	for _, a := range applied {
		rowNumber := fc.RowNumber
		id, err := l.Write(ctx, &Input{
			UserID:    fc.UserID,
			ClientID:  fc.ClientID,
			Kind:      models.KindSheetUpdate,
			Priority:  models.PriorityNormal,
			Email:     fc.Email,
			ThreadID:  fc.ThreadID,
			RowNumber: &rowNumber,
			RowAnchor: a.Range,
			Meta: map[string]string{
				"column":     a.Column,
				"oldValue":   a.OldValue,
				"newValue":   a.NewValue,
				"confidence": strconv.FormatFloat(a.Confidence, 'f', 2, 64),
				"reason":     a.Reason,
			},
			DedupeKey: fmt.Sprintf("%s:%s:%s:%s", fc.ThreadID, a.Range, a.Column, a.NewValue),
		})
		if err != nil {
			return ids, fmt.Errorf("failed to write field update for %s: %w", a.Range, err)
		}
		ids = append(ids, id)
	}

	summary := summarizeUpdates(applied)
	if err := store.SetClientNotificationSummary(ctx, l.pool, fc.UserID, fc.ClientID, summary); err != nil {
		return ids, fmt.Errorf("failed to set client summary: %w", err)
	}

	return ids, nil
}

func summarizeUpdates(applied []sheet.AppliedUpdate) string {
	parts := make([]string, 0, len(applied))
	for _, a := range applied {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Column, a.NewValue))
	}
	return strings.Join(parts, "; ")
}
