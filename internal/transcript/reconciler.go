package transcript

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

// Partial is the latest uncommitted snapshot for a transcript.
type Partial struct {
	Words []Word        `json:"words"`
	Hints []SpeakerHint `json:"hints"`
}

// PartialFunc receives the latest partial snapshot of a transcript.
type PartialFunc func(transcriptID string, p Partial)

// Reconciler folds live STT deltas into persisted transcript state. Deltas for
// the same transcript are applied strictly in call order.
type Reconciler struct {
	provider string
	locks    syncx.KeyedMutex
	persist  *syncx.RWGuard[PersistFunc]
	partials *syncx.RWGuard[map[string]Partial]
	onChange *syncx.RWGuard[PartialFunc]
}

// NewReconciler creates a reconciler. provider is recorded on derived hints.
func NewReconciler(provider string, persist PersistFunc) *Reconciler {
	return &Reconciler{
		provider: provider,
		persist:  syncx.NewGuard(persist),
		partials: syncx.NewGuard(map[string]Partial{}),
		onChange: syncx.NewGuard[PartialFunc](nil),
	}
}

// SetPersist swaps the persist callback.
func (r *Reconciler) SetPersist(fn PersistFunc) {
	r.persist.Set(fn)
}

// OnPartial registers a listener for partial snapshot changes.
func (r *Reconciler) OnPartial(fn PartialFunc) {
	r.onChange.Set(fn)
}

// ApplyDelta persists final words (substituting replaced ids) and replaces the
// partial snapshot. Persist runs once, and only when final is non-empty.
func (r *Reconciler) ApplyDelta(ctx context.Context, transcriptID string, final, partial []Word, replaced IDSet, hints, partialHints []SpeakerHint) error {
	unlock := r.locks.Lock(transcriptID)
	defer unlock()

	ctx, span := trace.StartSpan(ctx, "apply_delta")
	span.SetAttr("transcript_id", transcriptID)
	span.SetAttr("final", len(final))
	span.SetAttr("partial", len(partial))

	snapshot := Partial{Words: markPending(partial), Hints: partialHints}
	r.partials.Write(func(m *map[string]Partial) { (*m)[transcriptID] = snapshot })
	if fn := r.onChange.Get(); fn != nil {
		fn(transcriptID, snapshot)
	}

	if len(final) == 0 {
		span.Finish(ctx, nil)
		return nil
	}

	persist := r.persist.Get()
	if persist == nil {
		trace.Logger(ctx).Debug("dropping final words after reset", "transcript_id", transcriptID, "count", len(final))
		span.Finish(ctx, nil)
		return nil
	}
	err := persist(transcriptID, markFinal(final), hints, replaced)
	span.Finish(ctx, err)
	return err
}

// HandleStream splits a provider update into final and partial words, assigns
// ids to words that lack one, and applies it.
func (r *Reconciler) HandleStream(ctx context.Context, transcriptID string, resp StreamResponse) error {
	words := make([]Word, len(resp.NewWords))
	copy(words, resp.NewWords)
	for i := range words {
		if words[i].ID == "" {
			words[i].ID = uuid.NewString()
		}
	}

	var final, partial []Word
	for _, w := range words {
		if w.IsPending() {
			partial = append(partial, w)
		} else {
			final = append(final, w)
		}
	}

	var hints, partialHints []SpeakerHint
	for _, h := range resp.Hints {
		if h.WordIndex < 0 || h.WordIndex >= len(words) {
			slog.Debug("ignoring hint for unknown word index", "transcript_id", transcriptID, "word_index", h.WordIndex)
			continue
		}
		w := words[h.WordIndex]
		hint := NewProviderHint(uuid.NewString(), w.ID, ProviderSpeakerIndex{
			Provider:     r.provider,
			Channel:      h.Channel,
			SpeakerIndex: h.SpeakerIndex,
		})
		if w.IsPending() {
			partialHints = append(partialHints, hint)
		} else {
			hints = append(hints, hint)
		}
	}

	return r.ApplyDelta(ctx, transcriptID, final, partial, NewIDSet(resp.ReplacedIDs...), hints, partialHints)
}

// PartialWords returns the current partial snapshot for a transcript.
func (r *Reconciler) PartialWords(transcriptID string) Partial {
	return syncx.View(r.partials, func(m map[string]Partial) Partial { return m[transcriptID] })
}

// ResetTranscript clears partial state and detaches the persist callback.
func (r *Reconciler) ResetTranscript() {
	r.partials.Set(map[string]Partial{})
	r.persist.Set(nil)
}

func markPending(words []Word) []Word {
	out := make([]Word, len(words))
	for i, w := range words {
		w.State = StatePending
		out[i] = w
	}
	return out
}

func markFinal(words []Word) []Word {
	out := make([]Word, len(words))
	for i, w := range words {
		w.State = ""
		out[i] = w
	}
	return out
}
