// Package mcptools exposes transcripts and note enhancement as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/enhance"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/task"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/trace"
)

const (
	ServerName = "good-listener-notes"

	ToolGetTranscript  = "get_transcript"
	ToolEnhanceSession = "enhance_session"
)

// Backend is what the tools need from the notes core.
type Backend interface {
	TranscriptText(sessionID string) string
	Enhance(ctx context.Context, sessionID string, opts enhance.Options) (enhance.Result, error)
	WaitTask(ctx context.Context, id string) task.State
}

// EnhanceOutput is the enhance_session payload. Task is set once a generation
// was started and has finished.
type EnhanceOutput struct {
	Result enhance.Result `json:"result"`
	Task   *task.State    `json:"task,omitempty"`
}

type Tools struct {
	backend Backend
}

func New(backend Backend) *Tools {
	return &Tools{backend: backend}
}

// NewServer builds an MCP server with every tool registered.
func NewServer(backend Backend, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false))
	New(backend).Register(s)
	return s
}

func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool(ToolGetTranscript,
		mcp.WithDescription("Return a session's transcript, one \"Speaker: text\" line per turn."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to read")),
	), t.GetTranscript)

	s.AddTool(mcp.NewTool(ToolEnhanceSession,
		mcp.WithDescription("Generate enhanced notes for a session and wait for the result."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to enhance")),
		mcp.WithString("template_id", mcp.Description("Optional note template")),
	), t.EnhanceSession)
}

func (t *Tools) GetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := t.backend.TranscriptText(sid)
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("no transcript for session " + sid), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (t *Tools) EnhanceSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sid, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ctx, _ = trace.EnsureContext(ctx)
	ctx = trace.WithScope(ctx, trace.Scope{SessionID: sid})

	res, err := t.backend.Enhance(ctx, sid, enhance.Options{TemplateID: req.GetString("template_id", "")})
	if err != nil {
		trace.Logger(ctx).Error("mcp enhance failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := EnhanceOutput{Result: res}
	if res.Type == enhance.Started {
		st := t.backend.WaitTask(ctx, task.EnhanceID(res.NoteID))
		out.Task = &st
		if st.Status == task.Failed {
			return mcp.NewToolResultError("enhancement failed: " + st.Error), nil
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
