package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
)

const schema = `
	CREATE TABLE IF NOT EXISTS cells (
		tbl    TEXT NOT NULL,
		row_id TEXT NOT NULL,
		cell   TEXT NOT NULL,
		value  TEXT NOT NULL,
		PRIMARY KEY (tbl, row_id, cell)
	);
	CREATE INDEX IF NOT EXISTS cells_tbl_row ON cells (tbl, row_id);
`

// SQLite persists cells in a single table. Values are stored as JSON text.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for ephemeral stores.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.StoreFailed, "open database")
	}
	// One connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.StoreFailed, "ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.StoreFailed, "create schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetCell(table, rowID, cell string) (any, bool) {
	return getCellQ(s.db, table, rowID, cell)
}

func (s *SQLite) GetRow(table, rowID string) (Row, bool) {
	return getRowQ(s.db, table, rowID)
}

func (s *SQLite) ForEachRow(table string, fn func(string, Row) bool) {
	forEachRowQ(s.db, table, fn)
}

func (s *SQLite) Transaction(fn func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.StoreFailed, "begin transaction")
	}
	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.StoreFailed, "commit transaction")
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

func getCellQ(q querier, table, rowID, cell string) (any, bool) {
	var raw string
	err := q.QueryRow(`SELECT value FROM cells WHERE tbl = ? AND row_id = ? AND cell = ?`,
		table, rowID, cell).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Error("read cell failed", "table", table, "row_id", rowID, "cell", cell, "error", err)
		}
		return nil, false
	}
	v, ok := decodeValue(raw)
	return v, ok
}

func getRowQ(q querier, table, rowID string) (Row, bool) {
	rows, err := q.Query(`SELECT cell, value FROM cells WHERE tbl = ? AND row_id = ?`, table, rowID)
	if err != nil {
		slog.Error("read row failed", "table", table, "row_id", rowID, "error", err)
		return nil, false
	}
	defer rows.Close()

	row := Row{}
	for rows.Next() {
		var cell, raw string
		if err := rows.Scan(&cell, &raw); err != nil {
			slog.Error("scan cell failed", "table", table, "error", err)
			return nil, false
		}
		if v, ok := decodeValue(raw); ok {
			row[cell] = v
		}
	}
	if len(row) == 0 {
		return nil, false
	}
	return row, rows.Err() == nil
}

func forEachRowQ(q querier, table string, fn func(string, Row) bool) {
	rows, err := q.Query(`SELECT row_id, cell, value FROM cells WHERE tbl = ? ORDER BY row_id`, table)
	if err != nil {
		slog.Error("scan table failed", "table", table, "error", err)
		return
	}

	// Collect first so fn can issue its own queries on the single connection.
	var all []idRow
	for rows.Next() {
		var id, cell, raw string
		if err := rows.Scan(&id, &cell, &raw); err != nil {
			slog.Error("scan cell failed", "table", table, "error", err)
			break
		}
		if len(all) == 0 || all[len(all)-1].id != id {
			all = append(all, idRow{id: id, row: Row{}})
		}
		if v, ok := decodeValue(raw); ok {
			all[len(all)-1].row[cell] = v
		}
	}
	rows.Close()

	for _, r := range all {
		if !fn(r.id, r.row) {
			return
		}
	}
}

func decodeValue(raw string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetCell(table, rowID, cell string) (any, bool) {
	return getCellQ(t.tx, table, rowID, cell)
}

func (t *sqliteTx) GetRow(table, rowID string) (Row, bool) {
	return getRowQ(t.tx, table, rowID)
}

func (t *sqliteTx) ForEachRow(table string, fn func(string, Row) bool) {
	forEachRowQ(t.tx, table, fn)
}

func (t *sqliteTx) SetCell(table, rowID, cell string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.InvalidArgument, "encode %s.%s", table, cell)
	}
	_, err = t.tx.Exec(`
		INSERT INTO cells (tbl, row_id, cell, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (tbl, row_id, cell) DO UPDATE SET value = excluded.value
	`, table, rowID, cell, string(raw))
	if err != nil {
		return apperrors.Wrapf(err, apperrors.StoreFailed, "write %s.%s", table, cell)
	}
	return nil
}

func (t *sqliteTx) SetRow(table, rowID string, row Row) error {
	if err := t.DelRow(table, rowID); err != nil {
		return err
	}
	return t.SetPartialRow(table, rowID, row)
}

func (t *sqliteTx) SetPartialRow(table, rowID string, cells Row) error {
	for cell, v := range cells {
		if err := t.SetCell(table, rowID, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) DelRow(table, rowID string) error {
	if _, err := t.tx.Exec(`DELETE FROM cells WHERE tbl = ? AND row_id = ?`, table, rowID); err != nil {
		return apperrors.Wrapf(err, apperrors.StoreFailed, "delete %s row", table)
	}
	return nil
}
