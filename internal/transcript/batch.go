package transcript

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

// Progress tracks a file transcription in flight.
type Progress struct {
	TranscriptID string  `json:"transcript_id"`
	Percentage   float64 `json:"percentage"`
	IsComplete   bool    `json:"is_complete"`
	Error        string  `json:"error,omitempty"`
}

// ProgressFunc receives progress updates for a session's file import.
type ProgressFunc func(sessionID string, p Progress)

// BatchReconciler ingests file transcription output through the same persist
// contract as live deltas.
type BatchReconciler struct {
	provider   BatchProvider
	store      rowstore.Store
	persist    PersistFunc
	now        func() time.Time
	locks      syncx.KeyedMutex
	progress   *syncx.RWGuard[map[string]Progress]
	onProgress *syncx.RWGuard[ProgressFunc]
}

func NewBatchReconciler(provider BatchProvider, store rowstore.Store, persist PersistFunc) *BatchReconciler {
	return &BatchReconciler{
		provider:   provider,
		store:      store,
		persist:    persist,
		now:        time.Now,
		progress:   syncx.NewGuard(map[string]Progress{}),
		onProgress: syncx.NewGuard[ProgressFunc](nil),
	}
}

// OnProgress registers a listener for progress updates, including the final
// completion update that precedes clearing.
func (b *BatchReconciler) OnProgress(fn ProgressFunc) {
	b.onProgress.Set(fn)
}

// Provider reports the backend this reconciler was configured for.
func (b *BatchReconciler) Provider() BatchProvider { return b.provider }

// IngestBatchResult stores a whole-file result as a new transcript of the session.
func (b *BatchReconciler) IngestBatchResult(ctx context.Context, sessionID string, resp BatchResponse) (string, error) {
	unlock := b.locks.Lock(sessionID)
	defer unlock()

	ctx, span := trace.StartSpan(ctx, "ingest_batch")
	ctx = trace.WithScope(ctx, trace.Scope{SessionID: sessionID})

	words, hints := b.flatten(resp)
	span.SetAttr("words", len(words))
	span.SetAttr("channels", len(resp.Channels))

	tid, err := b.createTranscript(sessionID)
	if err != nil {
		span.Finish(ctx, err)
		return "", err
	}
	if len(words) > 0 {
		if err := b.persist(tid, words, hints, nil); err != nil {
			b.dropTranscript(ctx, tid)
			span.Finish(ctx, err)
			return "", err
		}
	}
	err = b.store.Transaction(func(tx rowstore.Tx) error { return End(tx, tid, b.now().UnixMilli()) })
	span.Finish(ctx, err)
	return tid, err
}

// IngestStreamedChunk persists one progressive chunk. A percentage of 1 or more
// completes the import and clears its progress record.
func (b *BatchReconciler) IngestStreamedChunk(ctx context.Context, sessionID string, words []Word, hints []IndexHint, percentage float64) error {
	unlock := b.locks.Lock(sessionID)
	defer unlock()

	cur, ok := b.Progress(sessionID)
	if !ok || cur.TranscriptID == "" {
		tid, err := b.createTranscript(sessionID)
		if err != nil {
			return err
		}
		cur = Progress{TranscriptID: tid}
		// later chunks append here even if this chunk fails to persist
		b.progress.Write(func(m *map[string]Progress) { (*m)[sessionID] = cur })
	}

	if len(words) > 0 {
		final := make([]Word, len(words))
		for i, w := range words {
			if w.ID == "" {
				w.ID = uuid.NewString()
			}
			w.State = ""
			final[i] = w
		}
		if err := b.persist(cur.TranscriptID, final, b.indexHints(final, hints), nil); err != nil {
			return err
		}
	}

	cur.Percentage = percentage
	cur.Error = ""
	if percentage >= 1 {
		cur.IsComplete = true
		b.emit(sessionID, cur)
		b.progress.Write(func(m *map[string]Progress) { delete(*m, sessionID) })
		trace.Logger(ctx).Info("batch transcription complete", "session_id", sessionID, "transcript_id", cur.TranscriptID)
		return b.store.Transaction(func(tx rowstore.Tx) error { return End(tx, cur.TranscriptID, b.now().UnixMilli()) })
	}

	b.progress.Write(func(m *map[string]Progress) { (*m)[sessionID] = cur })
	b.emit(sessionID, cur)
	return nil
}

// Fail records a provider error for the session's import. No retry happens here.
func (b *BatchReconciler) Fail(sessionID string, err error) {
	var p Progress
	b.progress.Write(func(m *map[string]Progress) {
		p = (*m)[sessionID]
		p.Error = err.Error()
		p.IsComplete = false
		(*m)[sessionID] = p
	})
	b.emit(sessionID, p)
}

func (b *BatchReconciler) Progress(sessionID string) (Progress, bool) {
	var (
		p  Progress
		ok bool
	)
	b.progress.Read(func(m map[string]Progress) { p, ok = m[sessionID] })
	return p, ok
}

func (b *BatchReconciler) emit(sessionID string, p Progress) {
	if fn := b.onProgress.Get(); fn != nil {
		fn(sessionID, p)
	}
}

func (b *BatchReconciler) createTranscript(sessionID string) (string, error) {
	id := uuid.NewString()
	err := b.store.Transaction(func(tx rowstore.Tx) error {
		return Create(tx, id, sessionID, b.now().UnixMilli())
	})
	return id, err
}

// dropTranscript removes a transcript whose words never landed, so it cannot
// become the offset base of a retried import.
func (b *BatchReconciler) dropTranscript(ctx context.Context, tid string) {
	err := b.store.Transaction(func(tx rowstore.Tx) error { return tx.DelRow(rowstore.Transcripts, tid) })
	if err != nil {
		trace.Logger(ctx).Warn("failed to drop empty transcript", "transcript_id", tid, "error", err)
	}
}

type globalWord struct {
	word    Word
	index   int
	speaker *int
}

// flatten takes each channel's top alternative, skipping empty channels, and
// orders words by start time with global index as the tie-break.
func (b *BatchReconciler) flatten(resp BatchResponse) ([]Word, []SpeakerHint) {
	var all []globalWord
	offset := 0
	for ch, c := range resp.Channels {
		if len(c.Alternatives) == 0 || len(c.Alternatives[0].Words) == 0 {
			continue
		}
		top := c.Alternatives[0]
		for i, bw := range top.Words {
			all = append(all, globalWord{
				word: Word{
					ID:      uuid.NewString(),
					Text:    bw.Text,
					StartMs: bw.StartMs,
					EndMs:   bw.EndMs,
					Channel: ch,
				},
				index:   offset + i,
				speaker: bw.Speaker,
			})
		}
		offset += len(top.Words)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].word.StartMs != all[j].word.StartMs {
			return all[i].word.StartMs < all[j].word.StartMs
		}
		return all[i].index < all[j].index
	})

	words := make([]Word, len(all))
	var hints []SpeakerHint
	for i, g := range all {
		words[i] = g.word
		if g.speaker == nil {
			continue
		}
		ch := g.word.Channel
		hints = append(hints, NewProviderHint(uuid.NewString(), g.word.ID, ProviderSpeakerIndex{
			Provider:     b.provider.String(),
			Channel:      &ch,
			SpeakerIndex: *g.speaker,
		}))
	}
	return words, hints
}

func (b *BatchReconciler) indexHints(words []Word, hints []IndexHint) []SpeakerHint {
	var out []SpeakerHint
	for _, h := range hints {
		if h.WordIndex < 0 || h.WordIndex >= len(words) {
			continue
		}
		out = append(out, NewProviderHint(uuid.NewString(), words[h.WordIndex].ID, ProviderSpeakerIndex{
			Provider:     b.provider.String(),
			Channel:      h.Channel,
			SpeakerIndex: h.SpeakerIndex,
		}))
	}
	return out
}
