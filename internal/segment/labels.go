package segment

import (
	"fmt"
	"strings"
)

// LabelContext binds speaker keys to known people.
type LabelContext struct {
	SelfHumanID   string
	Humans        map[string]string // human id -> display name
	ChannelLabels map[int]string    // e.g. 0 -> "You", 1 -> "Others"
}

// LabelManager maps speaker keys to labels assigned in first-seen order.
type LabelManager struct {
	labels map[Key]string
	order  []Key
}

// FromSegments assigns a label to every key. Keys without a bound identity,
// including the unknown key, are numbered "Speaker N" in order of first appearance.
func FromSegments(segs []Segment, ctx LabelContext) *LabelManager {
	m := &LabelManager{labels: make(map[Key]string)}
	next := 1
	for _, s := range segs {
		if _, ok := m.labels[s.Key]; ok {
			continue
		}
		label, bound := boundLabel(s.Key, ctx)
		if !bound {
			label = fmt.Sprintf("Speaker %d", next)
			next++
		}
		m.labels[s.Key] = label
		m.order = append(m.order, s.Key)
	}
	return m
}

// Keys returns keys in first-seen order.
func (m *LabelManager) Keys() []Key {
	return append([]Key(nil), m.order...)
}

// RenderLabel looks key up in m, falling back to a label derived from the key alone.
func RenderLabel(key Key, ctx LabelContext, m *LabelManager) string {
	if m != nil {
		if l, ok := m.labels[key]; ok {
			return l
		}
	}
	if l, ok := boundLabel(key, ctx); ok {
		return l
	}
	switch key.Kind {
	case KindProvider:
		return fmt.Sprintf("Speaker %d", key.Index+1)
	case KindChannel:
		return fmt.Sprintf("Channel %d", key.Channel+1)
	default:
		return "Unknown"
	}
}

func boundLabel(key Key, ctx LabelContext) (string, bool) {
	switch key.Kind {
	case KindHuman:
		if key.HumanID == ctx.SelfHumanID && ctx.SelfHumanID != "" {
			return "You", true
		}
		if name, ok := ctx.Humans[key.HumanID]; ok && name != "" {
			return name, true
		}
	case KindChannel:
		if l, ok := ctx.ChannelLabels[key.Channel]; ok {
			return l, true
		}
	}
	return "", false
}

// Render writes one "Label: text" line per segment.
func Render(segs []Segment, ctx LabelContext, m *LabelManager) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(RenderLabel(s.Key, ctx, m))
		b.WriteString(": ")
		for j, w := range s.Words {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strings.TrimSpace(w.Text))
		}
	}
	return b.String()
}
