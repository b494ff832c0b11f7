package rowstore

import (
	"errors"
	"testing"
)

func adapters(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { lite.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": lite}
}

func TestSetAndGet(t *testing.T) {
	for name, s := range adapters(t) {
		err := s.Transaction(func(tx Tx) error {
			if err := tx.SetRow(Sessions, "s1", Row{"title": "Standup", "created_at": 1700}); err != nil {
				return err
			}
			return tx.SetCell(Sessions, "s1", "raw_md", "notes")
		})
		if err != nil {
			t.Fatalf("%s: Transaction: %v", name, err)
		}

		if got := StringCell(s, Sessions, "s1", "title"); got != "Standup" {
			t.Errorf("%s: title = %q, want Standup", name, got)
		}
		if got, ok := IntCell(s, Sessions, "s1", "created_at"); !ok || got != 1700 {
			t.Errorf("%s: created_at = (%d, %v), want 1700", name, got, ok)
		}
		row, ok := s.GetRow(Sessions, "s1")
		if !ok || len(row) != 3 {
			t.Errorf("%s: GetRow = (%v, %v), want 3 cells", name, row, ok)
		}
		if _, ok := s.GetCell(Sessions, "missing", "title"); ok {
			t.Errorf("%s: missing row should report false", name)
		}
	}
}

func TestSetRowReplaces(t *testing.T) {
	for name, s := range adapters(t) {
		_ = s.Transaction(func(tx Tx) error {
			return tx.SetRow(EnhancedNotes, "n1", Row{"title": "a", "template_id": "t1"})
		})
		_ = s.Transaction(func(tx Tx) error {
			return tx.SetRow(EnhancedNotes, "n1", Row{"title": "b"})
		})

		if _, ok := s.GetCell(EnhancedNotes, "n1", "template_id"); ok {
			t.Errorf("%s: SetRow should drop cells not in the new row", name)
		}
		if got := StringCell(s, EnhancedNotes, "n1", "title"); got != "b" {
			t.Errorf("%s: title = %q, want b", name, got)
		}
	}
}

func TestSetPartialRowMerges(t *testing.T) {
	for name, s := range adapters(t) {
		_ = s.Transaction(func(tx Tx) error {
			return tx.SetRow(EnhancedNotes, "n1", Row{"title": "a", "position": 0})
		})
		_ = s.Transaction(func(tx Tx) error {
			return tx.SetPartialRow(EnhancedNotes, "n1", Row{"content": "{}"})
		})

		row, _ := s.GetRow(EnhancedNotes, "n1")
		if row["title"] != "a" || row["content"] != "{}" {
			t.Errorf("%s: row = %v, want merged cells", name, row)
		}
	}
}

func TestTransactionRollback(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range adapters(t) {
		err := s.Transaction(func(tx Tx) error {
			_ = tx.SetCell(Transcripts, "t1", "words", "[]")
			if _, ok := tx.GetCell(Transcripts, "t1", "words"); !ok {
				t.Errorf("%s: tx should read its own write", name)
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("%s: Transaction() = %v, want boom", name, err)
		}
		if _, ok := s.GetRow(Transcripts, "t1"); ok {
			t.Errorf("%s: rolled back write is visible", name)
		}
	}
}

func TestDelRowAndForEach(t *testing.T) {
	for name, s := range adapters(t) {
		_ = s.Transaction(func(tx Tx) error {
			for _, id := range []string{"c", "a", "b"} {
				if err := tx.SetRow(Transcripts, id, Row{"session_id": "s1"}); err != nil {
					return err
				}
			}
			return tx.DelRow(Transcripts, "b")
		})

		var ids []string
		s.ForEachRow(Transcripts, func(id string, _ Row) bool {
			ids = append(ids, id)
			return true
		})
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
			t.Errorf("%s: ForEachRow ids = %v, want [a c]", name, ids)
		}

		found := FindRows(s, Transcripts, func(r Row) bool { return r["session_id"] == "s1" })
		if len(found) != 2 {
			t.Errorf("%s: FindRows = %v, want 2 ids", name, found)
		}
	}
}

func TestForEachRowStops(t *testing.T) {
	s := NewMemory()
	_ = s.Transaction(func(tx Tx) error {
		_ = tx.SetRow(Templates, "a", Row{"title": "x"})
		return tx.SetRow(Templates, "b", Row{"title": "y"})
	})

	visits := 0
	s.ForEachRow(Templates, func(string, Row) bool {
		visits++
		return false
	})
	if visits != 1 {
		t.Errorf("visits = %d, want 1", visits)
	}
}

func TestMemoryRowsAreCopies(t *testing.T) {
	s := NewMemory()
	_ = s.Transaction(func(tx Tx) error { return tx.SetRow(Sessions, "s1", Row{"title": "a"}) })

	row, _ := s.GetRow(Sessions, "s1")
	row["title"] = "mutated"

	if got := StringCell(s, Sessions, "s1", "title"); got != "a" {
		t.Errorf("title = %q, caller mutation leaked into store", got)
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{3, 3, true},
		{int64(4), 4, true},
		{2.0, 2, true},
		{"5", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := AsInt(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("AsInt(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
