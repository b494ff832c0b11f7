package transcript

import (
	"encoding/json"
	"log/slog"
)

// Cell names on the transcripts table.
const (
	CellSessionID    = "session_id"
	CellStartedAt    = "started_at"
	CellEndedAt      = "ended_at"
	CellWords        = "words"
	CellSpeakerHints = "speaker_hints"
)

// ParseWords decodes a words cell. Anything unreadable yields an empty slice.
func ParseWords(v any) []Word {
	return parseCell[Word](v, CellWords)
}

// ParseHints decodes a speaker_hints cell. Anything unreadable yields an empty slice.
func ParseHints(v any) []SpeakerHint {
	return parseCell[SpeakerHint](v, CellSpeakerHints)
}

func EncodeWords(words []Word) string {
	return encodeCell(words)
}

func EncodeHints(hints []SpeakerHint) string {
	return encodeCell(hints)
}

func parseCell[T any](v any, name string) []T {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return []T{}
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("discarding unreadable transcript cell", "cell", name, "error", err)
		return []T{}
	}
	if out == nil {
		return []T{}
	}
	return out
}

func encodeCell[T any](items []T) string {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		// Word and SpeakerHint contain only marshalable fields.
		panic(err)
	}
	return string(raw)
}
