package transcript

import (
	"sort"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
)

// IDSet is a set of word ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Record is the scalar part of a transcripts row.
type Record struct {
	ID        string
	SessionID string
	StartedAt int64
	EndedAt   int64 // zero while recording
}

// Create inserts an empty transcript row.
func Create(tx rowstore.Tx, id, sessionID string, startedAt int64) error {
	return tx.SetRow(rowstore.Transcripts, id, rowstore.Row{
		CellSessionID:    sessionID,
		CellStartedAt:    startedAt,
		CellWords:        EncodeWords(nil),
		CellSpeakerHints: EncodeHints(nil),
	})
}

// End stamps ended_at on a transcript.
func End(tx rowstore.Tx, id string, endedAt int64) error {
	return tx.SetCell(rowstore.Transcripts, id, CellEndedAt, endedAt)
}

// ForSession lists a session's transcripts ordered by started_at.
func ForSession(r rowstore.Reader, sessionID string) []Record {
	var out []Record
	r.ForEachRow(rowstore.Transcripts, func(id string, row rowstore.Row) bool {
		if row[CellSessionID] != sessionID {
			return true
		}
		rec := Record{ID: id, SessionID: sessionID}
		rec.StartedAt, _ = rowstore.AsInt(row[CellStartedAt])
		rec.EndedAt, _ = rowstore.AsInt(row[CellEndedAt])
		out = append(out, rec)
		return true
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out
}

// Words reads the persisted words of a transcript in arrival order.
func Words(r rowstore.Reader, transcriptID string) []Word {
	v, _ := r.GetCell(rowstore.Transcripts, transcriptID, CellWords)
	return ParseWords(v)
}

// Hints reads the persisted speaker hints of a transcript.
func Hints(r rowstore.Reader, transcriptID string) []SpeakerHint {
	v, _ := r.GetCell(rowstore.Transcripts, transcriptID, CellSpeakerHints)
	return ParseHints(v)
}

// WordCount sums the persisted words across transcripts.
func WordCount(r rowstore.Reader, transcriptIDs []string) int {
	n := 0
	for _, id := range transcriptIDs {
		n += len(Words(r, id))
	}
	return n
}

// ReplaceWords drops words in replaced, and any whose id reappears in added,
// then appends added.
func ReplaceWords(existing []Word, replaced IDSet, added []Word) []Word {
	incoming := make(IDSet, len(added))
	for _, w := range added {
		incoming[w.ID] = struct{}{}
	}
	out := make([]Word, 0, len(existing)+len(added))
	for _, w := range existing {
		if replaced.Has(w.ID) || incoming.Has(w.ID) {
			continue
		}
		out = append(out, w)
	}
	return append(out, added...)
}

// ReplaceHints drops hints pointing at replaced words, then appends added.
func ReplaceHints(existing []SpeakerHint, replaced IDSet, added []SpeakerHint) []SpeakerHint {
	out := make([]SpeakerHint, 0, len(existing)+len(added))
	for _, h := range existing {
		if replaced.Has(h.WordID) {
			continue
		}
		out = append(out, h)
	}
	return append(out, added...)
}

// PersistFunc writes one reconciled delta for a transcript.
type PersistFunc func(transcriptID string, words []Word, hints []SpeakerHint, replaced IDSet) error

// NewStorePersister returns a PersistFunc that applies the delta to the words
// and speaker_hints cells in a single transaction.
func NewStorePersister(store rowstore.Store) PersistFunc {
	return func(transcriptID string, words []Word, hints []SpeakerHint, replaced IDSet) error {
		return store.Transaction(func(tx rowstore.Tx) error {
			nextWords := ReplaceWords(Words(tx, transcriptID), replaced, words)
			nextHints := ReplaceHints(Hints(tx, transcriptID), replaced, hints)
			return tx.SetPartialRow(rowstore.Transcripts, transcriptID, rowstore.Row{
				CellWords:        EncodeWords(nextWords),
				CellSpeakerHints: EncodeHints(nextHints),
			})
		})
	}
}
