// Package workflow is the enhancement pipeline: template inference, prompt
// construction, chunked summarization for local models, and streamed
// generation with early structural validation.
package workflow

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/prompt"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

// Progress steps.
const (
	StepAnalyzing  = "analyzing"
	StepGenerating = "generating"
	StepRetrying   = "retrying"
	StepChunking   = "chunking"
)

const (
	DefaultChunkTokenBudget     = 6000
	DefaultMaxValidationRetries = 2
)

// Args is everything the pipeline needs about one session.
type Args struct {
	SessionTitle string
	Transcript   string // one "Label: text" line per segment
	RawNotes     string
	Sections     []prompt.Section
}

type Options struct {
	ChunkTokenBudget     int
	MaxValidationRetries int
}

// Workflow runs enhancements against one provider.
type Workflow struct {
	provider llm.Provider
	opts     Options
}

func New(provider llm.Provider, opts Options) *Workflow {
	if opts.ChunkTokenBudget <= 0 {
		opts.ChunkTokenBudget = DefaultChunkTokenBudget
	}
	if opts.MaxValidationRetries < 0 {
		opts.MaxValidationRetries = DefaultMaxValidationRetries
	}
	return &Workflow{provider: provider, opts: opts}
}

var errValidation = errors.New("early validation rejected output")

// Execute generates the enhanced markdown. Cancelling ctx aborts any in-flight
// model call and discards partial work.
func (w *Workflow) Execute(ctx context.Context, model llm.Model, args Args, report func(task.Progress)) (string, error) {
	ctx, span := trace.StartSpan(ctx, "workflow_execute")
	span.SetAttr("model", model.Name)
	text, err := w.execute(ctx, model, args, report)
	span.SetAttr("chars", len(text))
	span.Finish(ctx, err)
	return text, err
}

func (w *Workflow) execute(ctx context.Context, model llm.Model, args Args, report func(task.Progress)) (string, error) {
	report(task.Progress{Step: StepAnalyzing})

	if len(args.Sections) == 0 {
		sections, err := w.inferSections(ctx, model, args)
		if err != nil {
			return "", err
		}
		args.Sections = sections
	}

	pa := prompt.EnhanceArgs{
		SessionTitle: args.SessionTitle,
		Transcript:   args.Transcript,
		RawNotes:     args.RawNotes,
		Sections:     args.Sections,
	}
	if model.Local() && w.promptTokens(pa) > w.opts.ChunkTokenBudget {
		merged, err := w.summarizeChunks(ctx, model, args, report)
		if err != nil {
			return "", err
		}
		pa.Transcript = merged
	}
	return w.generateWithValidation(ctx, model, pa, report)
}

func (w *Workflow) promptTokens(pa prompt.EnhanceArgs) int {
	sys := prompt.Render(prompt.EnhanceSystem, pa)
	user := prompt.Render(prompt.EnhanceUser, pa)
	return EstimateTokens(sys.Data) + EstimateTokens(user.Data)
}

// summarizeChunks condenses an oversized transcript part by part and returns
// the merge prompt that replaces the transcript for the final pass.
func (w *Workflow) summarizeChunks(ctx context.Context, model llm.Model, args Args, report func(task.Progress)) (string, error) {
	chunks := SplitChunks(args.Transcript, w.opts.ChunkTokenBudget)
	summaries := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		report(task.Progress{Step: StepChunking, Chunk: i + 1, Total: len(chunks)})

		r := prompt.Render(prompt.ChunkSummary, prompt.ChunkArgs{Index: i + 1, Total: len(chunks), Transcript: chunk})
		if !r.OK() {
			return "", apperrors.New(apperrors.Internal, r.Error)
		}
		cctx, span := trace.StartSpan(ctx, "chunk_summarize")
		span.SetAttr("chunk", i+1)
		resp, err := w.provider.Generate(cctx, llm.Request{Model: model, Prompt: r.Data})
		span.Finish(cctx, err)
		if err != nil {
			return "", err
		}
		summaries = append(summaries, strings.TrimSpace(resp.Text))
	}

	r := prompt.Render(prompt.MergeSummary, prompt.MergeArgs{Summaries: summaries, Sections: args.Sections})
	if !r.OK() {
		return "", apperrors.New(apperrors.Internal, r.Error)
	}
	return r.Data, nil
}

// generateWithValidation streams the final pass, aborting an attempt as soon as
// the text can no longer satisfy the heading rule and retrying with feedback.
// When retries run out the longest attempt is returned as-is.
func (w *Workflow) generateWithValidation(ctx context.Context, model llm.Model, pa prompt.EnhanceArgs, report func(task.Progress)) (string, error) {
	log := trace.Logger(ctx)
	validate := HeadingValidator(pa.Sections)
	var best string

	for attempt := 0; attempt <= w.opts.MaxValidationRetries; attempt++ {
		if attempt > 0 {
			report(task.Progress{Step: StepRetrying, Attempt: attempt})
		}
		report(task.Progress{Step: StepGenerating, Attempt: attempt})

		sys := prompt.Render(prompt.EnhanceSystem, pa)
		user := prompt.Render(prompt.EnhanceUser, pa)
		if !sys.OK() || !user.OK() {
			return "", apperrors.Newf(apperrors.Internal, "render enhance prompt: %s%s", sys.Error, user.Error)
		}

		res, err := w.streamAttempt(ctx, llm.Request{Model: model, System: sys.Data, Prompt: user.Data}, validate, attempt, report)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			return "", err
		}
		if res.rejected == nil {
			return res.text, nil
		}

		log.Info("generation failed validation", "attempt", attempt, "reason", res.rejected.Error())
		if len(res.text) > len(best) {
			best = res.text
		}
		pa.Feedback = res.rejected.Error()
	}

	log.Warn("validation retries exhausted, keeping best effort", "chars", len(best))
	return best, nil
}

type attemptResult struct {
	text     string
	rejected error
}

// streamAttempt runs one streamed generation. A validator rejection aborts the
// stream and is reported in the result, not as an error.
func (w *Workflow) streamAttempt(ctx context.Context, req llm.Request, validate Validator, attempt int, report func(task.Progress)) (attemptResult, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		b    strings.Builder
		verr error
	)
	err := w.provider.Stream(attemptCtx, req, func(delta string) {
		if verr != nil {
			return
		}
		b.WriteString(delta)
		if e := validate(b.String(), false); e != nil {
			verr = e
			cancel(errValidation)
			return
		}
		report(task.Progress{Step: StepGenerating, Attempt: attempt, Delta: delta})
	})

	res := attemptResult{text: b.String(), rejected: verr}
	if verr != nil {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.rejected = validate(res.text, true)
	return res, nil
}
