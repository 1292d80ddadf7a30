package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
)

// ErrGuardNotFound is returned when a cell has no write-guard record, i.e.
// the engine has never written that cell.
var ErrGuardNotFound = errors.New("write guard not found")

// GetWriteGuard returns the write-guard record for one cell. Column names are
// matched case-insensitively.
func GetWriteGuard(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, rowNumber int, columnName string) (*models.WriteGuard, error) {
	var guard models.WriteGuard

	err := pool.QueryRow(ctx, `
		SELECT user_id, client_id, row_number, column_name, last_ai_value, last_ai_write_at, human_override
		FROM write_guards
		WHERE user_id = $1 AND client_id = $2 AND row_number = $3 AND column_name = $4
	`, userID, clientID, rowNumber, normalizeColumn(columnName)).Scan(
		&guard.UserID,
		&guard.ClientID,
		&guard.RowNumber,
		&guard.ColumnName,
		&guard.LastAIValue,
		&guard.LastAIWriteAt,
		&guard.HumanOverride,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGuardNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get write guard: %w", err)
	}

	return &guard, nil
}

// PutWriteGuard overwrites the guard record for one cell with a fresh
// timestamp. Called only when the engine itself applies a value; the record
// must always reflect the last value the engine wrote, never a human edit.
func PutWriteGuard(ctx context.Context, pool *pgxpool.Pool, guard *models.WriteGuard) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO write_guards (user_id, client_id, row_number, column_name, last_ai_value, last_ai_write_at, human_override)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
		ON CONFLICT (user_id, client_id, row_number, column_name) DO UPDATE SET
			last_ai_value = EXCLUDED.last_ai_value,
			last_ai_write_at = now(),
			human_override = EXCLUDED.human_override
	`,
		guard.UserID,
		guard.ClientID,
		guard.RowNumber,
		normalizeColumn(guard.ColumnName),
		guard.LastAIValue,
		guard.HumanOverride,
	)

	if err != nil {
		return fmt.Errorf("failed to put write guard: %w", err)
	}

	return nil
}

// MarkGuardOverride flags a guard whose cell was edited by a human. The value
// baseline and write timestamp stay untouched so the record still describes
// the engine's own last write.
func MarkGuardOverride(ctx context.Context, pool *pgxpool.Pool, userID, clientID string, rowNumber int, columnName string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE write_guards SET human_override = TRUE
		WHERE user_id = $1 AND client_id = $2 AND row_number = $3 AND column_name = $4
	`, userID, clientID, rowNumber, normalizeColumn(columnName))

	if err != nil {
		return fmt.Errorf("failed to mark guard override: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrGuardNotFound
	}

	return nil
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
