// Package prompt renders session history, retrieved context and the user
// query into the message list sent to the model.
package prompt

import (
	"strings"

	"github.com/ent0n29/gbu-assistant/internal/llm"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

// Prompt is a rendered template. Rendering is pure: identical inputs give
// identical prompts.
type Prompt struct {
	Instructions string
	History      string
	Context      string
	Query        string

	historyHeader string
	contextHeader string
}

type Formatter struct {
	tmpl Template
}

func NewFormatter(tmpl Template) *Formatter {
	return &Formatter{tmpl: tmpl}
}

func (f *Formatter) Template() Template { return f.tmpl }

// FormatHistory renders turns as "User: ..." / "AI: ..." lines.
func (f *Formatter) FormatHistory(turns []session.Turn) string {
	if len(turns) == 0 {
		return f.tmpl.EmptyHistory
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Label()+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) Render(history []session.Turn, context, query string) Prompt {
	return Prompt{
		Instructions:  f.tmpl.Instructions,
		History:       f.FormatHistory(history),
		Context:       context,
		Query:         query,
		historyHeader: f.tmpl.HistoryHeader,
		contextHeader: f.tmpl.ContextHeader,
	}
}

// Messages returns the ordered provider messages: instructions, history and
// context as system messages, then the query as the user message.
func (p Prompt) Messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.Instructions},
		{Role: llm.RoleSystem, Content: p.historyHeader + "\n" + p.History},
		{Role: llm.RoleSystem, Content: p.contextHeader + "\n" + p.Context},
		{Role: llm.RoleUser, Content: p.Query},
	}
}

func (p Prompt) Request() llm.Request {
	return llm.Request{
		SystemInstructions: p.Instructions,
		History:            p.History,
		Context:            p.Context,
		Query:              p.Query,
		Messages:           p.Messages(),
	}
}

// String flattens the prompt for tracing.
func (p Prompt) String() string {
	var b strings.Builder
	for i, m := range p.Messages() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
