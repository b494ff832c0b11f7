// Package prompt renders the system and user prompts used by the enhancer.
package prompt

import (
	"strings"
	"text/template"
)

// Template names.
const (
	EnhanceSystem   = "enhanceSystem"
	EnhanceUser     = "enhanceUser"
	ChunkSummary    = "chunkSummary"
	MergeSummary    = "mergeSummary"
	TemplateSuggest = "templateSuggest"
	TitleSystem     = "titleSystem"
	TitleUser       = "titleUser"
)

type Section struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// EnhanceArgs feeds enhanceSystem and enhanceUser.
type EnhanceArgs struct {
	SessionTitle string
	Transcript   string
	RawNotes     string
	Sections     []Section
	Feedback     string
}

// ChunkArgs feeds chunkSummary.
type ChunkArgs struct {
	Index      int // 1-based
	Total      int
	Transcript string
}

// MergeArgs feeds mergeSummary.
type MergeArgs struct {
	Summaries []string
	Sections  []Section
}

// SuggestArgs feeds templateSuggest.
type SuggestArgs struct {
	Transcript string
	RawNotes   string
}

// TitleArgs feeds titleUser.
type TitleArgs struct {
	Note string
}

const sources = `
{{define "enhanceSystem"}}You are an expert note-taker. You turn meeting transcripts into clear, well-organized markdown notes.
Write in the language of the transcript. Use only facts from the transcript and the user's notes.
{{- if .Sections}}
Organize the notes under exactly these sections, in this order, each as an H1 heading ("# Title"):
{{- range .Sections}}
- {{.Title}}{{if .Description}}: {{.Description}}{{end}}
{{- end}}
Start your response with "# {{(index .Sections 0).Title}}".
{{- else}}
Start your response with an H1 heading ("# ").
{{- end}}
Do not add any preamble before the first heading.{{end}}

{{define "enhanceUser"}}{{if .SessionTitle}}Meeting: {{.SessionTitle}}

{{end}}{{if .RawNotes}}<user_notes>
{{.RawNotes}}
</user_notes>

{{end}}<transcript>
{{.Transcript}}
</transcript>
{{- if .Feedback}}

Your previous attempt was rejected: {{.Feedback}}
Try again and follow the required structure exactly.
{{- end}}{{end}}

{{define "chunkSummary"}}This is part {{.Index}} of {{.Total}} of a longer meeting transcript.
Summarize the key points, decisions, and action items of this part as concise markdown bullets. Do not add headings.

<transcript_part>
{{.Transcript}}
</transcript_part>{{end}}

{{define "mergeSummary"}}The meeting transcript was too long to process at once. Below are summaries of its parts, in order.
{{- if .Sections}}
The final notes will use these sections: {{range $i, $s := .Sections}}{{if $i}}, {{end}}{{$s.Title}}{{end}}.
{{- end}}
{{range $i, $s := .Summaries}}
## Part {{inc $i}}
{{$s}}
{{end}}{{end}}

{{define "templateSuggest"}}Suggest between 5 and 7 section headings that would best organize notes for the meeting below.
Respond with JSON of the form {"sections":[{"title":"...","description":"..."}]}.
{{if .RawNotes}}
<user_notes>
{{.RawNotes}}
</user_notes>
{{end}}
<transcript>
{{.Transcript}}
</transcript>{{end}}

{{define "titleSystem"}}You write short titles for meeting notes. Reply with the title only: at most 8 words, no quotes, no punctuation at the end.{{end}}

{{define "titleUser"}}<note>
{{.Note}}
</note>{{end}}
`

var templates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(sources))

// Result is the outcome of Render. Status is "ok" with Data, or "error" with Error.
type Result struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Status == "ok" }

// Render executes the named template with args.
func Render(name string, args any) Result {
	t := templates.Lookup(name)
	if t == nil {
		return Result{Status: "error", Error: "unknown template " + name}
	}
	var b strings.Builder
	if err := t.Execute(&b, args); err != nil {
		return Result{Status: "error", Error: err.Error()}
	}
	return Result{Status: "ok", Data: strings.TrimSpace(b.String())}
}
