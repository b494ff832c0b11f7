package workflow

import (
	"context"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/llm"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/segment"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/transcript"
)

// Job identifies one enhancement run.
type Job struct {
	SessionID  string
	NoteID     string
	TemplateID string
	Model      llm.Model
}

// BuildArgs assembles the workflow input for a session: its title, raw notes,
// the template's sections and the labeled transcript.
func BuildArgs(r rowstore.Reader, sessionID, templateID string, labels segment.LabelContext, profile transcript.ChannelProfile) Args {
	sw := segment.LoadSession(r, sessionID)
	segs := segment.BuildSegments(sw.Words, sw.Hints, nil, segment.Options{Profile: profile})
	return Args{
		SessionTitle: SessionTitle(r, sessionID),
		Transcript:   segment.Render(segs, labels, segment.FromSegments(segs, labels)),
		RawNotes:     rowstore.StringCell(r, rowstore.Sessions, sessionID, CellRawMD),
		Sections:     TemplateSections(r, templateID),
	}
}

// Starter launches enhancement tasks on the task runner.
type Starter struct {
	Workflow *Workflow
	Store    rowstore.Store
	Tasks    TaskStarter
	Labels   segment.LabelContext
	Profile  transcript.ChannelProfile
	Titles   *TitleCascade
}

// Generate starts the note's enhancement task. It returns false if one is
// already generating.
func (s *Starter) Generate(ctx context.Context, job Job) bool {
	return s.Tasks.Start(ctx, task.EnhanceID(job.NoteID), task.Spec{
		Run: func(ctx context.Context, report func(task.Progress)) (string, error) {
			args := BuildArgs(s.Store, job.SessionID, job.TemplateID, s.Labels, s.Profile)
			return s.Workflow.Execute(ctx, job.Model, args, report)
		},
		OnSuccess: func(ctx context.Context, text string) error {
			return Complete(ctx, s.Store, s.Titles, job.SessionID, job.NoteID, text)
		},
	})
}
