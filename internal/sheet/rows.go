// Package sheet applies proposed field updates to a client's row with
// conflict detection against per-cell write-guard records.
package sheet

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leaseline/outreach/internal/models"
	"github.com/leaseline/outreach/internal/store"
)

// RowStore is the sheet surface the reconciler needs: header and row reads,
// batched cell writes, and write-guard access. Guard reads return
// store.ErrGuardNotFound for cells the engine has never written.
type RowStore interface {
	Header(ctx context.Context) ([]string, error)
	Row(ctx context.Context, rowNumber int) ([]string, error)
	BatchUpdate(ctx context.Context, updates []store.CellUpdate) error
	Guard(ctx context.Context, rowNumber int, columnName string) (*models.WriteGuard, error)
	SetGuard(ctx context.Context, guard *models.WriteGuard) error
	MarkOverride(ctx context.Context, rowNumber int, columnName string) error
}

// PostgresRows serves one client's sheet from the sheet_rows and write_guards
// tables.
type PostgresRows struct {
	Pool     *pgxpool.Pool
	UserID   string
	ClientID string
}

// NewPostgresRows binds a RowStore to one user's client sheet.
func NewPostgresRows(pool *pgxpool.Pool, userID, clientID string) *PostgresRows {
	return &PostgresRows{Pool: pool, UserID: userID, ClientID: clientID}
}

func (p *PostgresRows) Header(ctx context.Context) ([]string, error) {
	return store.GetSheetHeader(ctx, p.Pool, p.UserID, p.ClientID)
}

func (p *PostgresRows) Row(ctx context.Context, rowNumber int) ([]string, error) {
	return store.GetSheetRow(ctx, p.Pool, p.UserID, p.ClientID, rowNumber)
}

func (p *PostgresRows) BatchUpdate(ctx context.Context, updates []store.CellUpdate) error {
	return store.BatchUpdateSheetCells(ctx, p.Pool, p.UserID, p.ClientID, updates)
}

func (p *PostgresRows) Guard(ctx context.Context, rowNumber int, columnName string) (*models.WriteGuard, error) {
	return store.GetWriteGuard(ctx, p.Pool, p.UserID, p.ClientID, rowNumber, columnName)
}

func (p *PostgresRows) SetGuard(ctx context.Context, guard *models.WriteGuard) error {
	return store.PutWriteGuard(ctx, p.Pool, guard)
}

func (p *PostgresRows) MarkOverride(ctx context.Context, rowNumber int, columnName string) error {
	return store.MarkGuardOverride(ctx, p.Pool, p.UserID, p.ClientID, rowNumber, columnName)
}
