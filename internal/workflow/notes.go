package workflow

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/good-listener/backend/notes/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/markdown"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/prompt"
	"github.com/GriffinCanCode/good-listener/backend/notes/internal/rowstore"
)

// Cells of the sessions, enhanced_notes and templates tables.
const (
	CellTitle       = "title"
	CellRawMD       = "raw_md"
	CellCreatedAt   = "created_at"
	CellSessionID   = "session_id"
	CellContent     = "content"
	CellPosition    = "position"
	CellTemplateID  = "template_id"
	CellDescription = "description"
	CellSections    = "sections"
)

const defaultNoteTitle = "Summary"

// Note is one enhanced_notes row.
type Note struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	TemplateID string `json:"template_id,omitempty"`
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	Position   int64  `json:"position"`
}

// SessionNotes returns the notes of a session ordered by position.
func SessionNotes(r rowstore.Reader, sessionID string) []Note {
	var notes []Note
	r.ForEachRow(rowstore.EnhancedNotes, func(id string, row rowstore.Row) bool {
		if s, _ := row[CellSessionID].(string); s != sessionID {
			return true
		}
		n := Note{ID: id, SessionID: sessionID}
		n.TemplateID, _ = row[CellTemplateID].(string)
		n.Title, _ = row[CellTitle].(string)
		n.Content, _ = row[CellContent].(string)
		n.Position, _ = rowstore.AsInt(row[CellPosition])
		notes = append(notes, n)
		return true
	})
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Position < notes[j].Position })
	return notes
}

// FindNote returns the note of sessionID generated with templateID. An empty
// templateID matches notes created without a template.
func FindNote(r rowstore.Reader, sessionID, templateID string) (string, bool) {
	for _, n := range SessionNotes(r, sessionID) {
		if n.TemplateID == templateID {
			return n.ID, true
		}
	}
	return "", false
}

// CreateNote inserts an empty note after the session's existing notes.
func CreateNote(tx rowstore.Tx, id, sessionID, templateID string) error {
	title := defaultNoteTitle
	if templateID != "" {
		if t := rowstore.StringCell(tx, rowstore.Templates, templateID, CellTitle); t != "" {
			title = t
		}
	}
	row := rowstore.Row{
		CellSessionID: sessionID,
		CellTitle:     title,
		CellContent:   "",
		CellPosition:  int64(len(SessionNotes(tx, sessionID)) + 1),
	}
	if templateID != "" {
		row[CellTemplateID] = templateID
	}
	return tx.SetRow(rowstore.EnhancedNotes, id, row)
}

// SaveNote converts generated markdown to the editor document format and
// stores it as the note's content.
func SaveNote(store rowstore.Store, noteID, md string) error {
	doc, err := markdown.ToJSON(md)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "convert note markdown")
	}
	return store.Transaction(func(tx rowstore.Tx) error {
		if _, ok := tx.GetRow(rowstore.EnhancedNotes, noteID); !ok {
			return apperrors.New(apperrors.NotFound, "note not found").WithMetadata("note_id", noteID)
		}
		return tx.SetPartialRow(rowstore.EnhancedNotes, noteID, rowstore.Row{CellContent: doc})
	})
}

// NoteText returns the plain text of a stored note, or "" if it has none.
func NoteText(r rowstore.Reader, noteID string) string {
	raw := rowstore.StringCell(r, rowstore.EnhancedNotes, noteID, CellContent)
	if raw == "" {
		return ""
	}
	var doc markdown.Node
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return raw
	}
	return strings.TrimSpace(markdown.PlainText(doc))
}

// SessionTitle returns the session's title cell, trimmed.
func SessionTitle(r rowstore.Reader, sessionID string) string {
	return strings.TrimSpace(rowstore.StringCell(r, rowstore.Sessions, sessionID, CellTitle))
}

// EnsureSession creates the session row if it does not exist yet.
func EnsureSession(tx rowstore.Tx, sessionID string) error {
	if _, ok := tx.GetRow(rowstore.Sessions, sessionID); ok {
		return nil
	}
	return tx.SetRow(rowstore.Sessions, sessionID, rowstore.Row{
		CellTitle:     "",
		CellRawMD:     "",
		CellCreatedAt: time.Now().UnixMilli(),
	})
}

// TemplateSections reads a template's sections cell. It holds a JSON array of
// either section objects or plain titles; anything else yields no sections.
func TemplateSections(r rowstore.Reader, templateID string) []prompt.Section {
	if templateID == "" {
		return nil
	}
	raw := rowstore.StringCell(r, rowstore.Templates, templateID, CellSections)
	if raw == "" {
		return nil
	}
	var sections []prompt.Section
	if err := json.Unmarshal([]byte(raw), &sections); err == nil {
		return nonEmpty(sections)
	}
	var titles []string
	if err := json.Unmarshal([]byte(raw), &titles); err != nil {
		return nil
	}
	sections = make([]prompt.Section, len(titles))
	for i, t := range titles {
		sections[i] = prompt.Section{Title: t}
	}
	return nonEmpty(sections)
}

func nonEmpty(sections []prompt.Section) []prompt.Section {
	out := sections[:0]
	for _, s := range sections {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
