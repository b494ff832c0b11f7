package workflow

import (
	"context"
	"strings"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/prompt"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

const maxTitleWords = 8

// ModelFunc resolves the configured model; ok is false when none is set.
type ModelFunc func() (model llm.Model, ok bool)

// Titler generates session titles from the session's newest enhanced note.
type Titler struct {
	Provider llm.Provider
	Store    rowstore.Store
	Model    ModelFunc
}

// Spec returns the title task for sessionID. The title is only written if the
// session is still untitled when generation finishes.
func (t *Titler) Spec(sessionID string) task.Spec {
	return task.Spec{
		Run: func(ctx context.Context, report func(task.Progress)) (string, error) {
			return t.generate(ctx, sessionID, report)
		},
		OnSuccess: func(ctx context.Context, title string) error {
			return t.Store.Transaction(func(tx rowstore.Tx) error {
				if SessionTitle(tx, sessionID) != "" {
					return nil
				}
				return tx.SetPartialRow(rowstore.Sessions, sessionID, rowstore.Row{CellTitle: title})
			})
		},
	}
}

func (t *Titler) generate(ctx context.Context, sessionID string, report func(task.Progress)) (string, error) {
	ctx, span := trace.StartSpan(ctx, "title_generate")
	var err error
	defer func() { span.Finish(ctx, err) }()

	model, ok := t.Model()
	if !ok {
		err = apperrors.New(apperrors.LLMNotConfigured, "no model configured")
		return "", err
	}

	notes := SessionNotes(t.Store, sessionID)
	var text string
	for i := len(notes) - 1; i >= 0 && text == ""; i-- {
		text = NoteText(t.Store, notes[i].ID)
	}
	if text == "" {
		err = apperrors.New(apperrors.NotFound, "session has no enhanced note").WithMetadata("session_id", sessionID)
		return "", err
	}

	report(task.Progress{Step: StepGenerating})
	sys := prompt.Render(prompt.TitleSystem, nil)
	user := prompt.Render(prompt.TitleUser, prompt.TitleArgs{Note: text})
	if !sys.OK() || !user.OK() {
		err = apperrors.Newf(apperrors.Internal, "render title prompt: %s%s", sys.Error, user.Error)
		return "", err
	}

	resp, err := t.Provider.Generate(ctx, llm.Request{Model: model, System: sys.Data, Prompt: user.Data})
	if err != nil {
		return "", err
	}
	title := CleanTitle(resp.Text)
	if title == "" {
		err = apperrors.New(apperrors.LLMInvalidResponse, "empty title")
		return "", err
	}
	span.SetAttr("title", title)
	return title, nil
}

// CleanTitle reduces a model reply to a bare title: first non-empty line,
// without heading markers, quotes or trailing punctuation, at most eight words.
func CleanTitle(s string) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimLeft(line, "# ")
	if len(line) >= 6 && strings.EqualFold(line[:6], "title:") {
		line = strings.TrimSpace(line[6:])
	}
	line = strings.Trim(line, "\"'`*“”‘’ ")

	words := strings.Fields(line)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,;:!?\"'“”")
}
