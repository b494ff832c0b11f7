// Package segment groups ordered transcript words into speaker-attributed runs
// and assigns them display labels.
package segment

import (
	"fmt"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
)

// KeyKind orders speaker evidence by strength.
type KeyKind int

const (
	KindUnknown KeyKind = iota
	KindChannel
	KindProvider
	KindHuman
)

// Key is the resolved speaker identity of a word.
type Key struct {
	Kind    KeyKind
	Channel int
	Index   int
	HumanID string
}

var unknownKey = Key{Kind: KindUnknown}

func (k Key) String() string {
	switch k.Kind {
	case KindHuman:
		return "human:" + k.HumanID
	case KindProvider:
		return fmt.Sprintf("ch%d:spk%d", k.Channel, k.Index)
	case KindChannel:
		return fmt.Sprintf("ch%d", k.Channel)
	default:
		return "unknown"
	}
}

// Segment is a maximal run of consecutive words with the same key.
type Segment struct {
	Key   Key               `json:"-"`
	Words []transcript.Word `json:"words"`
}

func (s Segment) StartMs() int64 { return s.Words[0].StartMs }
func (s Segment) EndMs() int64   { return s.Words[len(s.Words)-1].EndMs }

// RuntimeHint attributes a word by its index in the input slice. Set HumanID
// for a user assignment or SpeakerIndex for provider evidence.
type RuntimeHint struct {
	WordIndex    int
	HumanID      string
	SpeakerIndex *int
	Channel      *int
}

type Options struct {
	Profile transcript.ChannelProfile
}

type evidence struct {
	human    string
	provider *Key
}

// BuildSegments folds words, already sorted by start_ms, into segments in one
// pass. Per word: user assignment > provider index > channel (when the profile
// is one speaker per channel) > unknown.
func BuildSegments(words []transcript.Word, hints []transcript.SpeakerHint, runtime []RuntimeHint, opts Options) []Segment {
	if len(words) == 0 {
		return []Segment{}
	}

	byWord := make(map[string]evidence, len(hints))
	for _, h := range hints {
		ev := byWord[h.WordID]
		if a, ok := h.UserAssignment(); ok && ev.human == "" {
			ev.human = a.HumanID
		}
		if p, ok := h.ProviderIndex(); ok && ev.provider == nil {
			k := Key{Kind: KindProvider, Index: p.SpeakerIndex, Channel: -1}
			if p.Channel != nil {
				k.Channel = *p.Channel
			}
			ev.provider = &k
		}
		byWord[h.WordID] = ev
	}

	byIndex := make(map[int]evidence, len(runtime))
	for _, h := range runtime {
		if h.WordIndex < 0 || h.WordIndex >= len(words) {
			continue
		}
		ev := byIndex[h.WordIndex]
		if h.HumanID != "" && ev.human == "" {
			ev.human = h.HumanID
		}
		if h.SpeakerIndex != nil && ev.provider == nil {
			k := Key{Kind: KindProvider, Index: *h.SpeakerIndex, Channel: -1}
			if h.Channel != nil {
				k.Channel = *h.Channel
			}
			ev.provider = &k
		}
		byIndex[h.WordIndex] = ev
	}

	segs := make([]Segment, 0, 8)
	for i, w := range words {
		key := resolve(w, byIndex[i], byWord[w.ID], opts)
		if n := len(segs); n > 0 && segs[n-1].Key == key {
			segs[n-1].Words = append(segs[n-1].Words, w)
			continue
		}
		segs = append(segs, Segment{Key: key, Words: []transcript.Word{w}})
	}
	return segs
}

func resolve(w transcript.Word, runtime, stored evidence, opts Options) Key {
	switch {
	case runtime.human != "":
		return Key{Kind: KindHuman, HumanID: runtime.human}
	case stored.human != "":
		return Key{Kind: KindHuman, HumanID: stored.human}
	}

	p := runtime.provider
	if p == nil {
		p = stored.provider
	}
	if p != nil {
		k := *p
		if k.Channel < 0 {
			k.Channel = w.Channel
		}
		return k
	}

	if opts.Profile == transcript.SpeakerPerChannel {
		return Key{Kind: KindChannel, Channel: w.Channel}
	}
	return unknownKey
}
