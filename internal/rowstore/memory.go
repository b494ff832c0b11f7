package rowstore

import (
	"sort"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/syncx"
)

type tables map[string]map[string]Row

// Memory is an in-process Store. Transactions are serialized and work on a
// copy-on-write view that is swapped in on commit.
type Memory struct {
	data *syncx.RWGuard[tables]
}

func NewMemory() *Memory {
	return &Memory{data: syncx.NewGuard(tables{})}
}

func (m *Memory) GetCell(table, rowID, cell string) (any, bool) {
	return syncx.View(m.data, func(t tables) cellResult {
		return getCell(t, table, rowID, cell)
	}).unpack()
}

func (m *Memory) GetRow(table, rowID string) (Row, bool) {
	var (
		row Row
		ok  bool
	)
	m.data.Read(func(t tables) { row, ok = getRow(t, table, rowID) })
	return row, ok
}

func (m *Memory) ForEachRow(table string, fn func(string, Row) bool) {
	// Snapshot under the lock so fn may start its own transaction.
	var snapshot []idRow
	m.data.Read(func(t tables) { snapshot = sortedRows(t[table]) })
	for _, r := range snapshot {
		if !fn(r.id, r.row) {
			return
		}
	}
}

func (m *Memory) Transaction(fn func(Tx) error) error {
	return syncx.Mutate(m.data, func(t *tables) error {
		tx := &memTx{base: *t, dirty: map[string]map[string]Row{}}
		if err := fn(tx); err != nil {
			return err
		}
		next := make(tables, len(*t)+len(tx.dirty))
		for name, rows := range *t {
			next[name] = rows
		}
		for name, rows := range tx.dirty {
			next[name] = rows
		}
		*t = next
		return nil
	})
}

type cellResult struct {
	v  any
	ok bool
}

func (c cellResult) unpack() (any, bool) { return c.v, c.ok }

type idRow struct {
	id  string
	row Row
}

func getCell(t tables, table, rowID, cell string) cellResult {
	row, ok := t[table][rowID]
	if !ok {
		return cellResult{}
	}
	v, ok := row[cell]
	return cellResult{v, ok}
}

func getRow(t tables, table, rowID string) (Row, bool) {
	row, ok := t[table][rowID]
	if !ok {
		return nil, false
	}
	return row.clone(), true
}

func sortedRows(rows map[string]Row) []idRow {
	out := make([]idRow, 0, len(rows))
	for id, row := range rows {
		out = append(out, idRow{id, row.clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

type memTx struct {
	base  tables
	dirty tables
}

func (tx *memTx) view() tables {
	v := make(tables, len(tx.base)+len(tx.dirty))
	for name, rows := range tx.base {
		v[name] = rows
	}
	for name, rows := range tx.dirty {
		v[name] = rows
	}
	return v
}

// table returns a private, writable copy of the named table.
func (tx *memTx) table(name string) map[string]Row {
	if rows, ok := tx.dirty[name]; ok {
		return rows
	}
	src := tx.base[name]
	rows := make(map[string]Row, len(src))
	for id, row := range src {
		rows[id] = row
	}
	tx.dirty[name] = rows
	return rows
}

func (tx *memTx) GetCell(table, rowID, cell string) (any, bool) {
	return getCell(tx.view(), table, rowID, cell).unpack()
}

func (tx *memTx) GetRow(table, rowID string) (Row, bool) {
	return getRow(tx.view(), table, rowID)
}

func (tx *memTx) ForEachRow(table string, fn func(string, Row) bool) {
	for _, r := range sortedRows(tx.view()[table]) {
		if !fn(r.id, r.row) {
			return
		}
	}
}

func (tx *memTx) SetCell(table, rowID, cell string, value any) error {
	rows := tx.table(table)
	row := Row{}
	if cur, ok := rows[rowID]; ok {
		row = cur.clone()
	}
	row[cell] = value
	rows[rowID] = row
	return nil
}

func (tx *memTx) SetRow(table, rowID string, row Row) error {
	tx.table(table)[rowID] = row.clone()
	return nil
}

func (tx *memTx) SetPartialRow(table, rowID string, cells Row) error {
	rows := tx.table(table)
	row := Row{}
	if cur, ok := rows[rowID]; ok {
		row = cur.clone()
	}
	for k, v := range cells {
		row[k] = v
	}
	rows[rowID] = row
	return nil
}

func (tx *memTx) DelRow(table, rowID string) error {
	delete(tx.table(table), rowID)
	return nil
}
