package segment

import (
	"sort"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
)

// Part is one transcript's contribution to a session.
type Part struct {
	StartedAt int64
	Words     []transcript.Word
	Hints     []transcript.SpeakerHint
}

// SessionWords is a session's words in start_ms order plus all their hints.
type SessionWords struct {
	Words []transcript.Word
	Hints []transcript.SpeakerHint
}

// Merge concatenates transcripts onto the first transcript's clock and sorts by
// start_ms. Parts must be ordered by StartedAt.
func Merge(parts []Part) SessionWords {
	out := SessionWords{Words: []transcript.Word{}, Hints: []transcript.SpeakerHint{}}
	if len(parts) == 0 {
		return out
	}
	base := parts[0].StartedAt
	for _, p := range parts {
		offset := p.StartedAt - base
		for _, w := range p.Words {
			w.StartMs += offset
			w.EndMs += offset
			out.Words = append(out.Words, w)
		}
		out.Hints = append(out.Hints, p.Hints...)
	}
	sort.SliceStable(out.Words, func(i, j int) bool { return out.Words[i].StartMs < out.Words[j].StartMs })
	return out
}

// LoadSession reads every transcript of a session and merges them.
func LoadSession(r rowstore.Reader, sessionID string) SessionWords {
	recs := transcript.ForSession(r, sessionID)
	parts := make([]Part, len(recs))
	for i, rec := range recs {
		parts[i] = Part{
			StartedAt: rec.StartedAt,
			Words:     transcript.Words(r, rec.ID),
			Hints:     transcript.Hints(r, rec.ID),
		}
	}
	return Merge(parts)
}
