package workflow

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

// TaskStarter is the part of task.Runner the workflow drives.
type TaskStarter interface {
	Get(id string) task.State
	Start(ctx context.Context, id string, spec task.Spec) bool
}

// TitleCascade starts title generation for sessions that have no title yet.
type TitleCascade struct {
	Store   rowstore.Reader
	Tasks   TaskStarter
	NewTask func(sessionID string) task.Spec
}

// Trigger starts the session's title task unless the session already has a
// title or the task is generating or has succeeded. It reports whether a task
// was started.
func (c *TitleCascade) Trigger(ctx context.Context, sessionID string) bool {
	if c == nil || c.NewTask == nil {
		return false
	}
	if SessionTitle(c.Store, sessionID) != "" {
		return false
	}
	id := task.TitleID(sessionID)
	switch c.Tasks.Get(id).Status {
	case task.Generating, task.Success:
		return false
	}
	started := c.Tasks.Start(ctx, id, c.NewTask(sessionID))
	if started {
		trace.Logger(ctx).Info("title generation started", "session_id", sessionID)
	}
	return started
}

// Complete persists a finished enhancement and cascades to title generation
// when the note has content.
func Complete(ctx context.Context, store rowstore.Store, titles *TitleCascade, sessionID, noteID, text string) error {
	if err := SaveNote(store, noteID, text); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	titles.Trigger(ctx, sessionID)
	return nil
}
