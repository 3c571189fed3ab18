package table

import (
	"errors"
	"fmt"
)

// Row is an ordered sequence of column values plus the two hidden trailing
// columns spec §3 requires: row_id (monotone within the table) and tx_id
// (the writer's transaction id).
type Row struct {
	Values []Value
	RowID  int64
	TxID   int64
	// Deleted marks a tombstone version written by delete(); visible
	// tombstones are filtered out of read results, never exposed to callers.
	Deleted bool
}

var (
	ErrColumnCount    = errors.New("table: row has wrong number of columns")
	ErrColumnType     = errors.New("table: value does not match column type")
	ErrNullNotAllowed = errors.New("table: NOT NULL column received null")
	ErrCorruptRow     = errors.New("table: corrupt row payload")
	ErrValueTooLong   = errors.New("table: value exceeds column's declared length")
)

// validateRow checks row against schema (spec §4.5 "validates row against
// schema") and fills in column defaults for null values. A null in an
// AUTO_INCREMENT column is let through unchanged; Table.Insert assigns it.
// It does not assign row_id/tx_id; Table.Insert does that after
// validation succeeds.
func (s *Schema) validateRow(row *Row) error {
	if len(row.Values) != len(s.Columns) {
		return ErrColumnCount
	}
	for i, col := range s.Columns {
		v := row.Values[i]
		if v.IsNull() {
			if col.Default != nil {
				row.Values[i] = *col.Default
				continue
			}
			if !col.Nullable && !col.AutoIncrement {
				return fmt.Errorf("%w: column %q", ErrNullNotAllowed, col.Name)
			}
			continue
		}
		if v.Kind != col.Type {
			return fmt.Errorf("%w: column %q wants %s, got %s", ErrColumnType, col.Name, col.Type, v.Kind)
		}
		if col.MaxLen > 0 {
			switch col.Type {
			case KindString:
				if len(v.Str) > col.MaxLen {
					return fmt.Errorf("%w: column %q declared VARCHAR(%d), got %d bytes", ErrValueTooLong, col.Name, col.MaxLen, len(v.Str))
				}
			case KindBlob:
				if len(v.Blob) > col.MaxLen {
					return fmt.Errorf("%w: column %q declared VARBINARY(%d), got %d bytes", ErrValueTooLong, col.Name, col.MaxLen, len(v.Blob))
				}
			}
		}
	}
	return nil
}
