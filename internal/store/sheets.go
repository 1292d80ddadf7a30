package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSheetNotFound is returned when a client has no sheet header yet.
var ErrSheetNotFound = errors.New("sheet not found")

// ErrRowNotFound is returned when a requested sheet row does not exist.
var ErrRowNotFound = errors.New("sheet row not found")

// Row 1 of every sheet holds the header; data rows start at 2.
const sheetHeaderRow = 1

// CellUpdate addresses one cell write. Column is 1-based.
type CellUpdate struct {
	RowNumber int
	Column    int
	Value     string
}

// SetSheetHeader stores the header row for a client sheet.
func SetSheetHeader(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, header []string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sheet_rows (user_id, client_id, row_number, cells)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id, row_number) DO UPDATE SET
			cells = EXCLUDED.cells,
			updated_at = now()
	`, userID, clientID, sheetHeaderRow, header)

	if err != nil {
		return fmt.Errorf("failed to set sheet header: %w", err)
	}

	return nil
}

// GetSheetHeader returns the header row for a client sheet.
func GetSheetHeader(ctx context.Context, pool *pgxpool.Pool, userID, clientID string) ([]string, error) {
	var header []string

	err := pool.QueryRow(ctx, `
		SELECT cells FROM sheet_rows
		WHERE user_id = $1 AND client_id = $2 AND row_number = $3
	`, userID, clientID, sheetHeaderRow).Scan(&header)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSheetNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get sheet header: %w", err)
	}

	return header, nil
}

// GetSheetRow returns one data row's cells.
func GetSheetRow(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, rowNumber int) ([]string, error) {
	var cells []string

	err := pool.QueryRow(ctx, `
		SELECT cells FROM sheet_rows
		WHERE user_id = $1 AND client_id = $2 AND row_number = $3
	`, userID, clientID, rowNumber).Scan(&cells)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRowNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get sheet row: %w", err)
	}

	return cells, nil
}

// FindSheetRowByEmail scans active data rows for one whose email cell matches
// the given address (case-insensitive). Returns the row number and cells.
func FindSheetRowByEmail(ctx context.Context, pool *pgxpool.Pool, userID, clientID, email string) (int, []string, error) {
	return FindSheetRowByCell(ctx, pool, userID, clientID, []string{"email", "email address"}, email)
}

// FindSheetRowByCell scans active data rows for one whose cell under any of
// the named header columns matches the given value (case-insensitive).
func FindSheetRowByCell(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, columnNames []string, value string) (int, []string, error) {
	header, err := GetSheetHeader(ctx, pool, userID, clientID)
	if err != nil {
		return 0, nil, err
	}

	colIdx := -1
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		for _, candidate := range columnNames {
			if name == candidate {
				colIdx = i
				break
			}
		}
		if colIdx >= 0 {
			break
		}
	}
	if colIdx < 0 {
		return 0, nil, fmt.Errorf("sheet for client %s has no %s column", clientID, columnNames[0])
	}

	rows, err := pool.Query(ctx, `
		SELECT row_number, cells FROM sheet_rows
		WHERE user_id = $1 AND client_id = $2 AND row_number > $3 AND status = 'active'
		ORDER BY row_number
	`, userID, clientID, sheetHeaderRow)

	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan sheet rows: %w", err)
	}
	defer rows.Close()

	want := strings.ToLower(strings.TrimSpace(value))
	for rows.Next() {
		var rowNumber int
		var cells []string
		if err := rows.Scan(&rowNumber, &cells); err != nil {
			return 0, nil, fmt.Errorf("failed to scan sheet row: %w", err)
		}
		if colIdx < len(cells) && strings.ToLower(strings.TrimSpace(cells[colIdx])) == want {
			return rowNumber, cells, nil
		}
	}

	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("error iterating sheet rows: %w", err)
	}

	return 0, nil, ErrRowNotFound
}

// BatchUpdateSheetCells applies a set of cell writes in one transaction.
// Rows are padded so every cell index inside the header width is addressable.
func BatchUpdateSheetCells(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range updates {
		var cells []string
		err := tx.QueryRow(ctx, `
			SELECT cells FROM sheet_rows
			WHERE user_id = $1 AND client_id = $2 AND row_number = $3
			FOR UPDATE
		`, userID, clientID, u.RowNumber).Scan(&cells)

		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("row %d: %w", u.RowNumber, ErrRowNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock sheet row %d: %w", u.RowNumber, err)
		}

		for len(cells) < u.Column {
			cells = append(cells, "")
		}
		cells[u.Column-1] = u.Value

		_, err = tx.Exec(ctx, `
			UPDATE sheet_rows SET cells = $4, updated_at = now()
			WHERE user_id = $1 AND client_id = $2 AND row_number = $3
		`, userID, clientID, u.RowNumber, cells)
		if err != nil {
			return fmt.Errorf("failed to update sheet row %d: %w", u.RowNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch update: %w", err)
	}

	return nil
}

// AppendSheetRow inserts a new data row after the last one and returns its
// row number.
func AppendSheetRow(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, cells []string) (int, error) {
	var rowNumber int

	err := pool.QueryRow(ctx, `
		INSERT INTO sheet_rows (user_id, client_id, row_number, cells)
		SELECT $1, $2, COALESCE(MAX(row_number), $3) + 1, $4
		FROM sheet_rows
		WHERE user_id = $1 AND client_id = $2
		RETURNING row_number
	`, userID, clientID, sheetHeaderRow, cells).Scan(&rowNumber)

	if err != nil {
		return 0, fmt.Errorf("failed to append sheet row: %w", err)
	}

	return rowNumber, nil
}

// RetireSheetRow marks a row as no longer viable. Retired rows keep their
// data but stop matching lookups.
func RetireSheetRow(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, rowNumber int) error {
	tag, err := pool.Exec(ctx, `
		UPDATE sheet_rows SET status = 'retired', updated_at = now()
		WHERE user_id = $1 AND client_id = $2 AND row_number = $3
	`, userID, clientID, rowNumber)

	if err != nil {
		return fmt.Errorf("failed to retire sheet row: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrRowNotFound
	}

	return nil
}

// GetSheetRowStatus returns whether a row is active or retired.
func GetSheetRowStatus(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, rowNumber int) (string, error) {
	var status string

	err := pool.QueryRow(ctx, `
		SELECT status FROM sheet_rows
		WHERE user_id = $1 AND client_id = $2 AND row_number = $3
	`, userID, clientID, rowNumber).Scan(&status)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRowNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to get sheet row status: %w", err)
	}

	return status, nil
}

// AppendSheetChangeLog records one applied batch in the append-only change log.
func AppendSheetChangeLog(ctx context.Context, pool *pgxpool.Pool, userID, clientID, threadID, email string, rowNumber int, applied []byte, proposalHash string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sheet_change_log (user_id, client_id, thread_id, email, row_number, applied, proposal_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, userID, clientID, threadID, email, rowNumber, applied, proposalHash)

	if err != nil {
		return fmt.Errorf("failed to append sheet change log: %w", err)
	}

	return nil
}
