// Package orchestrator wires the notes core together: row store, recording
// lifecycle, transcript reconcilers, task runner, LLM workflow and enhancer.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Buffered events before slow consumers start missing them
	EventBuffer = 256

	// Partial-word snapshots are coalesced per transcript before broadcast
	PartialFlushDelay = 50 * time.Millisecond
	PartialMaxPending = 32

	// Shown for the user's own channel when recording one speaker per channel
	SelfChannelLabel   = "You"
	OthersChannelLabel = "Others"
)
