// Package rowstore defines the transactional table/row/cell store the notes core
// persists into, plus in-memory and SQLite adapters.
//
// Cells hold JSON scalars: string, number or bool. Numbers read back from the
// SQLite adapter are float64; use the typed helpers rather than asserting.
package rowstore

import (
	"encoding/json"
	"math"
)

// Table names.
const (
	Sessions      = "sessions"
	Transcripts   = "transcripts"
	EnhancedNotes = "enhanced_notes"
	Templates     = "templates"
)

// Row is a set of named cells.
type Row map[string]any

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Reader exposes point and scan reads. Missing rows and cells report ok=false.
type Reader interface {
	GetCell(table, rowID, cell string) (any, bool)
	GetRow(table, rowID string) (Row, bool)
	// ForEachRow visits rows in ascending id order until fn returns false.
	ForEachRow(table string, fn func(rowID string, row Row) bool)
}

// Tx is the write side of a transaction. Reads through a Tx observe its own writes.
type Tx interface {
	Reader
	SetCell(table, rowID, cell string, value any) error
	// SetRow replaces the whole row.
	SetRow(table, rowID string, row Row) error
	// SetPartialRow merges cells into the row, creating it if needed.
	SetPartialRow(table, rowID string, cells Row) error
	DelRow(table, rowID string) error
}

// Store commits every write through Transaction. A Transaction either applies
// all its writes or none; readers never observe a partial transaction.
type Store interface {
	Reader
	Transaction(fn func(Tx) error) error
}

// StringCell reads a string cell, returning "" when missing or not a string.
func StringCell(r Reader, table, rowID, cell string) string {
	v, ok := r.GetCell(table, rowID, cell)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IntCell reads a numeric cell as int64.
func IntCell(r Reader, table, rowID, cell string) (int64, bool) {
	v, ok := r.GetCell(table, rowID, cell)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// AsInt converts the numeric representations a cell can carry to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(math.Round(n)), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(math.Round(f)), true
		}
		return i, true
	default:
		return 0, false
	}
}

// FindRows returns the ids of rows in table for which match reports true.
func FindRows(r Reader, table string, match func(Row) bool) []string {
	var ids []string
	r.ForEachRow(table, func(id string, row Row) bool {
		if match(row) {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}
