// Package enhance decides when a session's notes get AI-enhanced and starts
// the generation, both on explicit request and automatically after recording
// stops.
package enhance

import (
	"fmt"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/listener"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
)

const ReasonNoTranscript = "No transcript recorded"

// Eligibility is the verdict on whether a session has enough transcript.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// GetEligibility counts the words stored across transcriptIDs. It has no side
// effects and is safe to poll.
func GetEligibility(hasTranscript bool, transcriptIDs []string, r rowstore.Reader, minWords int) Eligibility {
	if !hasTranscript {
		return Eligibility{Reason: ReasonNoTranscript}
	}
	if n := transcript.WordCount(r, transcriptIDs); n < minWords {
		return Eligibility{Reason: fmt.Sprintf("Transcript too short to enhance (%d of %d words)", n, minWords)}
	}
	return Eligibility{Eligible: true}
}

// SessionEligibility evaluates every transcript recorded for sessionID.
func SessionEligibility(r rowstore.Reader, sessionID string, minWords int) Eligibility {
	recs := transcript.ForSession(r, sessionID)
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return GetEligibility(len(ids) > 0, ids, r, minWords)
}

// SelectStoppedSession returns the session that just stopped recording and
// should be auto-enhanced, or "" if none. handled may be nil.
func SelectStoppedSession(prev, curr listener.Status, prevSessionID, visibleSessionID string, handled func(sessionID string) bool) string {
	if prev != listener.Active && prev != listener.Finalizing {
		return ""
	}
	if curr != listener.Inactive || prevSessionID == "" {
		return ""
	}
	if prevSessionID == visibleSessionID {
		return ""
	}
	if handled != nil && handled(prevSessionID) {
		return ""
	}
	return prevSessionID
}
