package transcript

import (
	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
)

// BatchProvider is a file transcription backend.
type BatchProvider int

const (
	Deepgram BatchProvider = iota + 1
	AssemblyAI
	Soniox
	Gladia
	WhisperLocal
)

// ChannelProfile tells segment building how to read the channel field.
type ChannelProfile int

const (
	// MixedChannels: channels carry no speaker identity.
	MixedChannels ChannelProfile = iota
	// SpeakerPerChannel: each channel is one speaker (e.g. mic vs system audio).
	SpeakerPerChannel
)

// ProviderInfo describes a batch provider's output.
type ProviderInfo struct {
	Name       string
	Multichan  bool // emits one channel per audio source
	Diarizes   bool // emits speaker indices
	StreamsPct bool // reports progressive chunks with a percentage
}

// Profile derives the channel profile from the provider's output shape.
func (p ProviderInfo) Profile() ChannelProfile {
	if p.Multichan {
		return SpeakerPerChannel
	}
	return MixedChannels
}

var providers = map[BatchProvider]ProviderInfo{
	Deepgram:     {Name: "deepgram", Multichan: true, Diarizes: true},
	AssemblyAI:   {Name: "assemblyai", Diarizes: true},
	Soniox:       {Name: "soniox", Multichan: true, Diarizes: true, StreamsPct: true},
	Gladia:       {Name: "gladia", Multichan: true, Diarizes: true},
	WhisperLocal: {Name: "whisper-local", StreamsPct: true},
}

var providerByName = func() map[string]BatchProvider {
	m := make(map[string]BatchProvider, len(providers))
	for p, info := range providers {
		m[info.Name] = p
	}
	return m
}()

// ParseBatchProvider resolves a configured provider name.
func ParseBatchProvider(name string) (BatchProvider, error) {
	if p, ok := providerByName[name]; ok {
		return p, nil
	}
	return 0, apperrors.Newf(apperrors.ProviderUnsupported, "unsupported transcription provider %q", name).
		WithMetadata("provider", name)
}

func (p BatchProvider) Info() ProviderInfo {
	return providers[p]
}

func (p BatchProvider) String() string {
	if info, ok := providers[p]; ok {
		return info.Name
	}
	return "unsupported"
}
