package models

import "time"

// WriteGuard remembers the last value this engine itself wrote to one cell.
// It is created or overwritten only when the engine applies a value, and read
// before every prospective write to the same cell. A current cell value that
// differs from LastAIValue means a human edited the cell since the engine's
// last write.
type WriteGuard struct {
	UserID        string    `json:"user_id"`
	ClientID      string    `json:"client_id"`
	RowNumber     int       `json:"row_number"`
	ColumnName    string    `json:"column_name"`
	LastAIValue   string    `json:"last_ai_value"`
	LastAIWriteAt time.Time `json:"last_ai_write_at"`
	HumanOverride bool      `json:"human_override"`
}
