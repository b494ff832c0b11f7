// Package llm defines the language model capability the enhancer consumes and
// an Ollama-backed implementation.
package llm

import (
	"context"
	"encoding/json"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/resilience"
)

// Model identifies a configured model on a provider.
type Model struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

// Local reports whether the model runs on a resource-constrained local provider.
func (m Model) Local() bool { return IsLocal(m.Provider) }

var localProviders = map[string]bool{
	"ollama":    true,
	"lmstudio":  true,
	"llama.cpp": true,
}

// IsLocal reports whether provider runs models on the user's machine.
func IsLocal(provider string) bool {
	return localProviders[provider]
}

// Request is a single prompt. When Schema is set the provider constrains its
// output to that JSON schema and fills Response.Output.
type Request struct {
	Model  Model
	System string
	Prompt string
	Schema json.RawMessage
}

type Response struct {
	Text   string
	Output json.RawMessage
}

// Provider is the model capability. Stream calls onDelta for each text delta in
// order and returns once the stream ends.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request, onDelta func(string)) error
}

// Options configures NewProvider.
type Options struct {
	Provider string
	BaseURL  string
}

// NewProvider builds the provider for opts, wrapped in a circuit breaker.
func NewProvider(opts Options) (Provider, error) {
	cfg := resilience.DefaultConfig()
	if IsLocal(opts.Provider) {
		cfg = resilience.LocalConfig()
	}
	switch opts.Provider {
	case "ollama":
		return NewGuarded(opts.Provider, NewOllama(OllamaConfig{BaseURL: opts.BaseURL}), cfg), nil
	default:
		return nil, apperrors.Newf(apperrors.ProviderUnsupported, "unsupported llm provider %q", opts.Provider).
			WithMetadata("provider", opts.Provider)
	}
}
