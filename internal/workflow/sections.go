package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/prompt"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

const maxSuggestedSections = 7

// sectionSuggestion is the structured output requested for template inference.
type sectionSuggestion struct {
	Sections []prompt.Section `json:"sections" jsonschema:"minItems=5,maxItems=7"`
}

var suggestionSchema = func() json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	raw, err := json.Marshal(r.Reflect(&sectionSuggestion{}))
	if err != nil {
		panic(err)
	}
	return raw
}()

// SuggestionSchema returns the JSON schema sent with section inference requests.
func SuggestionSchema() json.RawMessage { return suggestionSchema }

// inferSections asks the model for section headings. Structured output is tried
// first, then free text with JSON extraction; if both fail the enhancement
// proceeds without a template.
func (w *Workflow) inferSections(ctx context.Context, model llm.Model, args Args) ([]prompt.Section, error) {
	log := trace.Logger(ctx)
	r := prompt.Render(prompt.TemplateSuggest, w.suggestArgs(model, args))
	if !r.OK() {
		log.Warn("section prompt failed to render", "error", r.Error)
		return nil, nil
	}

	resp, err := w.provider.Generate(ctx, llm.Request{Model: model, Prompt: r.Data, Schema: suggestionSchema})
	if err == nil {
		if sections, ok := parseSections(resp.Output); ok {
			return sections, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.Debug("structured section inference failed, falling back to text", "error", err)

	resp, err = w.provider.Generate(ctx, llm.Request{Model: model, Prompt: r.Data})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil {
		if raw, ok := ExtractJSON(resp.Text); ok {
			if sections, ok := parseSections(raw); ok {
				return sections, nil
			}
		}
	}
	log.Info("section inference failed, generating without template", "error", err)
	return nil, nil
}

// suggestArgs keeps a local model's inference prompt within the chunk budget by
// sending only the leading lines of an oversized transcript.
func (w *Workflow) suggestArgs(model llm.Model, args Args) prompt.SuggestArgs {
	sa := prompt.SuggestArgs{Transcript: args.Transcript, RawNotes: args.RawNotes}
	if !model.Local() {
		return sa
	}
	budget := w.opts.ChunkTokenBudget
	if EstimateTokens(prompt.Render(prompt.TemplateSuggest, sa).Data) <= budget {
		return sa
	}
	overhead := EstimateTokens(prompt.Render(prompt.TemplateSuggest, prompt.SuggestArgs{RawNotes: args.RawNotes}).Data)
	if chunks := SplitChunks(args.Transcript, max(budget-overhead, budget/4)); len(chunks) > 0 {
		sa.Transcript = chunks[0]
	}
	return sa
}

func parseSections(raw json.RawMessage) ([]prompt.Section, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var s sectionSuggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	seen := make(map[string]bool, len(s.Sections))
	out := make([]prompt.Section, 0, len(s.Sections))
	for _, sec := range s.Sections {
		sec.Title = strings.TrimSpace(strings.TrimLeft(sec.Title, "# "))
		key := strings.ToLower(sec.Title)
		if sec.Title == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, sec)
		if len(out) == maxSuggestedSections {
			break
		}
	}
	return out, len(out) > 0
}

// ExtractJSON pulls the outermost JSON object out of free text, tolerating code
// fences and surrounding prose.
func ExtractJSON(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
