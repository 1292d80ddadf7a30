package sheet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/store"
)

// Skip reasons. These are recorded outcomes, never errors.
const (
	SkipUnknownColumn      = "unknown-column"
	SkipNoChange           = "no-change"
	SkipHumanOverride      = "human-override"
	SkipExistingHumanValue = "existing-human-value"
)

// Proposals below this confidence cannot overwrite a non-empty unguarded cell.
const confidenceThreshold = 0.8

// Existing values containing any of these markers count as placeholders and
// may be overwritten regardless of confidence.
var placeholderMarkers = []string{"tbd", "?", "n/a", "na", "unknown", "pending"}

// Comment-style columns that receive appended notes.
var notesColumns = []string{"comments", "notes"}

const notesSeparator = "\n---\n"

// AppliedUpdate describes one cell the engine wrote.
type AppliedUpdate struct {
	Column     string  `json:"column"`
	Range      string  `json:"range"`
	OldValue   string  `json:"oldValue"`
	NewValue   string  `json:"newValue"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// SkippedUpdate describes one proposal the engine declined, with the reason.
type SkippedUpdate struct {
	Column   string `json:"column"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
	Reason   string `json:"reason"`
}

// ApplyResult is the full outcome of one reconciliation pass.
type ApplyResult struct {
	Applied []AppliedUpdate
	Skipped []SkippedUpdate
}

// Reconciler decides, per proposed update, whether the engine may write the
// cell, then issues all accepted writes as one batch and refreshes the
// write-guard baseline for each.
type Reconciler struct {
	UserID   string
	ClientID string
	Rows     RowStore
}

// NewReconciler builds a Reconciler over one client's row store.
func NewReconciler(rows RowStore, userID, clientID string) *Reconciler {
	return &Reconciler{UserID: userID, ClientID: clientID, Rows: rows}
}

// ApplyUpdates runs the per-update decision sequence against one target row.
//
// Order matters: the guard comparison against the *current* cell runs before
// any comparison against the proposed value, so a human edit is protected
// even when the new proposal happens to match what the human typed.
func (r *Reconciler) ApplyUpdates(ctx context.Context, rowNumber int, updates []models.ProposedUpdate) (*ApplyResult, error) {
	header, err := r.Rows.Header(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cells, err := r.Rows.Row(ctx, rowNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read row %d: %w", rowNumber, err)
	}

	result := &ApplyResult{}
	var writes []store.CellUpdate

	for _, u := range updates {
		column := strings.TrimSpace(u.Column)
		idx := columnIndex(header, column)
		if idx < 0 {
			result.Skipped = append(result.Skipped, SkippedUpdate{
				Column: column, NewValue: u.Value, Reason: SkipUnknownColumn,
			})
			continue
		}

		current := cellAt(cells, idx)
		if strings.TrimSpace(u.Value) == strings.TrimSpace(current) {
			result.Skipped = append(result.Skipped, SkippedUpdate{
				Column: column, OldValue: current, NewValue: u.Value, Reason: SkipNoChange,
			})
			continue
		}

		guard, err := r.Rows.Guard(ctx, rowNumber, column)
		switch {
		case err == nil:
			if guard.HumanOverride || strings.TrimSpace(current) != strings.TrimSpace(guard.LastAIValue) {
				if !guard.HumanOverride {
					if err := r.Rows.MarkOverride(ctx, rowNumber, column); err != nil {
						log.Printf("Failed to mark guard override for row %d column %s: %v", rowNumber, column, err)
					}
				}
				result.Skipped = append(result.Skipped, SkippedUpdate{
					Column: column, OldValue: current, NewValue: u.Value, Reason: SkipHumanOverride,
				})
				continue
			}

		case errors.Is(err, store.ErrGuardNotFound):
			if strings.TrimSpace(current) != "" && !mayOverwrite(current, u.Confidence) {
				result.Skipped = append(result.Skipped, SkippedUpdate{
					Column: column, OldValue: current, NewValue: u.Value, Reason: SkipExistingHumanValue,
				})
				continue
			}

		default:
			return nil, fmt.Errorf("failed to read write guard for row %d column %s: %w", rowNumber, column, err)
		}

		result.Applied = append(result.Applied, AppliedUpdate{
			Column:     column,
			Range:      cellRange(idx, rowNumber),
			OldValue:   current,
			NewValue:   u.Value,
			Confidence: u.Confidence,
			Reason:     u.Reason,
		})
		writes = append(writes, store.CellUpdate{RowNumber: rowNumber, Column: idx + 1, Value: u.Value})

		// Later proposals in the same batch see this value as current.
		for len(cells) <= idx {
			cells = append(cells, "")
		}
		cells[idx] = u.Value
	}

	if len(writes) > 0 {
		if err := r.Rows.BatchUpdate(ctx, writes); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", rowNumber, err)
		}

		for _, a := range result.Applied {
			guard := &models.WriteGuard{
				UserID:      r.UserID,
				ClientID:    r.ClientID,
				RowNumber:   rowNumber,
				ColumnName:  a.Column,
				LastAIValue: a.NewValue,
			}
			if err := r.Rows.SetGuard(ctx, guard); err != nil {
				return nil, fmt.Errorf("failed to update write guard for %s: %w", a.Range, err)
			}
		}
	}

	return result, nil
}

// AppendNotes concatenates free-text notes onto the row's comments cell,
// preserving prior content. Returns false when the sheet has no comments
// column or the notes are empty.
func (r *Reconciler) AppendNotes(ctx context.Context, rowNumber int, notes string) (bool, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return false, nil
	}

	header, err := r.Rows.Header(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read header: %w", err)
	}

	idx := -1
	for _, name := range notesColumns {
		if idx = columnIndex(header, name); idx >= 0 {
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	cells, err := r.Rows.Row(ctx, rowNumber)
	if err != nil {
		return false, fmt.Errorf("failed to read row %d: %w", rowNumber, err)
	}

	combined := notes
	if existing := strings.TrimSpace(cellAt(cells, idx)); existing != "" {
		combined = existing + notesSeparator + notes
	}

	err = r.Rows.BatchUpdate(ctx, []store.CellUpdate{{RowNumber: rowNumber, Column: idx + 1, Value: combined}})
	if err != nil {
		return false, fmt.Errorf("failed to append notes to row %d: %w", rowNumber, err)
	}

	return true, nil
}

// mayOverwrite decides whether a proposal may replace a non-empty cell that
// the engine has never written.
func mayOverwrite(existing string, confidence float64) bool {
	if confidence >= confidenceThreshold {
		return true
	}

	lowered := strings.ToLower(strings.TrimSpace(existing))
	for _, marker := range placeholderMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	if len(lowered) <= 3 {
		if _, err := strconv.ParseFloat(lowered, 64); err != nil {
			return true
		}
	}

	return false
}

func columnIndex(header []string, column string) int {
	want := strings.ToLower(strings.TrimSpace(column))
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i
		}
	}
	return -1
}

func cellAt(cells []string, idx int) string {
	if idx < len(cells) {
		return cells[idx]
	}
	return ""
}

// cellRange renders a zero-based column index and row number in A1 notation.
func cellRange(idx, rowNumber int) string {
	letters := ""
	n := idx
	for {
		letters = string(rune('A'+n%26)) + letters
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return fmt.Sprintf("%s%d", letters, rowNumber)
}
