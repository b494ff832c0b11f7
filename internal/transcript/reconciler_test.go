package transcript

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
)

type persistCall struct {
	transcriptID string
	words        []Word
	hints        []SpeakerHint
	replaced     IDSet
}

type recorder struct {
	mu    sync.Mutex
	calls []persistCall
}

func (r *recorder) persist(id string, words []Word, hints []SpeakerHint, replaced IDSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, persistCall{id, words, hints, replaced})
	return nil
}

func words(ids ...string) []Word {
	out := make([]Word, len(ids))
	for i, id := range ids {
		out[i] = Word{ID: id, Text: "w" + id, StartMs: int64(i * 100), EndMs: int64(i*100 + 90)}
	}
	return out
}

func TestApplyDeltaEmptyIsNoop(t *testing.T) {
	rec := &recorder{}
	r := NewReconciler("deepgram", rec.persist)

	for _, id := range []string{"t1", "t2", ""} {
		if err := r.ApplyDelta(context.Background(), id, nil, nil, IDSet{}, nil, nil); err != nil {
			t.Fatalf("ApplyDelta(%q) = %v", id, err)
		}
	}
	// Partials alone never reach persistence.
	_ = r.ApplyDelta(context.Background(), "t1", nil, words("p1"), NewIDSet("x"), nil, nil)

	if len(rec.calls) != 0 {
		t.Errorf("persist called %d times, want 0", len(rec.calls))
	}
}

func TestApplyDeltaPersistsOncePerDelta(t *testing.T) {
	rec := &recorder{}
	r := NewReconciler("deepgram", rec.persist)

	_ = r.ApplyDelta(context.Background(), "t1", words("a", "b"), words("p"), IDSet{}, nil, nil)

	if len(rec.calls) != 1 {
		t.Fatalf("persist called %d times, want 1", len(rec.calls))
	}
	if got := len(rec.calls[0].words); got != 2 {
		t.Errorf("persisted %d words, want 2", got)
	}
}

func TestPartialSnapshotReplaced(t *testing.T) {
	r := NewReconciler("deepgram", (&recorder{}).persist)

	_ = r.ApplyDelta(context.Background(), "t1", nil, words("p1", "p2"), IDSet{}, nil, nil)
	_ = r.ApplyDelta(context.Background(), "t1", nil, words("p3"), IDSet{}, nil, nil)

	got := r.PartialWords("t1").Words
	if len(got) != 1 || got[0].ID != "p3" {
		t.Fatalf("partials = %v, want only p3", got)
	}
	if !got[0].IsPending() {
		t.Error("partial words should be marked pending")
	}
}

func TestResetTranscriptDetachesPersist(t *testing.T) {
	rec := &recorder{}
	r := NewReconciler("deepgram", rec.persist)
	_ = r.ApplyDelta(context.Background(), "t1", nil, words("p1"), IDSet{}, nil, nil)

	r.ResetTranscript()
	_ = r.ApplyDelta(context.Background(), "t1", words("a"), nil, IDSet{}, nil, nil)

	if len(rec.calls) != 0 {
		t.Errorf("persist called after reset")
	}
	if p := r.PartialWords("t1"); len(p.Words) != 0 {
		t.Errorf("partials after reset = %v, want none", p.Words)
	}
}

func TestReplacementCorrectness(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		replaced []string
		added    []string
	}{
		{"replace middle", []string{"a", "b", "c"}, []string{"b"}, []string{"b2"}},
		{"replace all", []string{"a", "b"}, []string{"a", "b"}, []string{"c"}},
		{"replace none", []string{"a"}, nil, []string{"b", "c"}},
		{"unknown replaced id", []string{"a"}, []string{"zz"}, []string{"b"}},
	}

	for _, tt := range tests {
		store := rowstore.NewMemory()
		_ = store.Transaction(func(tx rowstore.Tx) error {
			if err := Create(tx, "t1", "s1", 0); err != nil {
				return err
			}
			var hints []SpeakerHint
			for _, id := range tt.existing {
				hints = append(hints, NewProviderHint("h"+id, id, ProviderSpeakerIndex{SpeakerIndex: 0}))
			}
			return tx.SetPartialRow(rowstore.Transcripts, "t1", rowstore.Row{
				CellWords:        EncodeWords(words(tt.existing...)),
				CellSpeakerHints: EncodeHints(hints),
			})
		})

		r := NewReconciler("deepgram", NewStorePersister(store))
		if err := r.ApplyDelta(context.Background(), "t1", words(tt.added...), nil, NewIDSet(tt.replaced...), nil, nil); err != nil {
			t.Fatalf("%s: ApplyDelta = %v", tt.name, err)
		}

		replaced := NewIDSet(tt.replaced...)
		want := map[string]bool{}
		for _, id := range tt.existing {
			if !replaced.Has(id) {
				want[id] = true
			}
		}
		for _, id := range tt.added {
			want[id] = true
		}

		got := Words(store, "t1")
		if len(got) != len(want) {
			t.Errorf("%s: persisted %d words, want %d", tt.name, len(got), len(want))
		}
		for _, w := range got {
			if !want[w.ID] {
				t.Errorf("%s: unexpected word %s", tt.name, w.ID)
			}
		}
		for _, h := range Hints(store, "t1") {
			if replaced.Has(h.WordID) {
				t.Errorf("%s: hint for replaced word %s survived", tt.name, h.WordID)
			}
		}
	}
}

func TestReplaceWordsDedupesIncomingIDs(t *testing.T) {
	got := ReplaceWords(words("a", "b"), IDSet{}, []Word{{ID: "a", Text: "again"}})
	if len(got) != 2 || got[1].Text != "again" {
		t.Errorf("ReplaceWords = %v, want b then revised a", got)
	}
}

func TestHandleStreamSplitsFinalAndPartial(t *testing.T) {
	rec := &recorder{}
	r := NewReconciler("deepgram", rec.persist)
	ch := 1

	err := r.HandleStream(context.Background(), "t1", StreamResponse{
		NewWords: []Word{
			{Text: "hello", StartMs: 0, EndMs: 100},
			{Text: "wor", StartMs: 100, EndMs: 200, State: StatePending},
		},
		ReplacedIDs: []string{"old"},
		Hints: []IndexHint{
			{WordIndex: 0, SpeakerIndex: 2, Channel: &ch},
			{WordIndex: 1, SpeakerIndex: 3},
			{WordIndex: 9, SpeakerIndex: 1},
		},
	})
	if err != nil {
		t.Fatalf("HandleStream = %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("persist called %d times, want 1", len(rec.calls))
	}
	call := rec.calls[0]
	if len(call.words) != 1 || call.words[0].ID == "" {
		t.Fatalf("persisted words = %v, want one word with an id", call.words)
	}
	if !call.replaced.Has("old") {
		t.Error("replaced ids should be forwarded")
	}
	if len(call.hints) != 1 || call.hints[0].WordID != call.words[0].ID {
		t.Fatalf("hints = %v, want one hint on the final word", call.hints)
	}
	v, ok := call.hints[0].ProviderIndex()
	if !ok || v.SpeakerIndex != 2 || v.Channel == nil || *v.Channel != 1 || v.Provider != "deepgram" {
		t.Errorf("hint value = %+v", v)
	}

	p := r.PartialWords("t1")
	if len(p.Words) != 1 || len(p.Hints) != 1 {
		t.Errorf("partial = %+v, want one word and one hint", p)
	}
}

func TestApplyDeltaSerializesPerTranscript(t *testing.T) {
	store := rowstore.NewMemory()
	_ = store.Transaction(func(tx rowstore.Tx) error { return Create(tx, "t1", "s1", 0) })
	r := NewReconciler("deepgram", NewStorePersister(store))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.ApplyDelta(context.Background(), "t1", []Word{{ID: fmt.Sprint(i)}}, nil, IDSet{}, nil, nil)
		}(i)
	}
	wg.Wait()

	if got := len(Words(store, "t1")); got != 20 {
		t.Errorf("persisted %d words, want 20 (lost update)", got)
	}
}

func TestOnPartialSwapDuringApply(t *testing.T) {
	r := NewReconciler("deepgram", (&recorder{}).persist)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = r.ApplyDelta(context.Background(), "t1", nil, words("p"), nil, nil, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.OnPartial(func(string, Partial) {})
		}
	}()
	wg.Wait()

	var got string
	r.OnPartial(func(id string, _ Partial) { got = id })
	_ = r.ApplyDelta(context.Background(), "t2", nil, words("q"), nil, nil, nil)
	if got != "t2" {
		t.Errorf("listener saw %q, want t2", got)
	}
}
