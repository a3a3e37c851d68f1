package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ent0n29/gbu-assistant/internal/llm"
	"github.com/ent0n29/gbu-assistant/internal/session"
)

func TestRenderEmptyHistoryIsDeterministic(t *testing.T) {
	f := NewFormatter(DefaultTemplate())
	a := f.Render(nil, "C", "Q")
	b := f.Render([]session.Turn{}, "C", "Q")
	if a.String() != b.String() {
		t.Fatalf("Render() not deterministic:\n%s\n---\n%s", a.String(), b.String())
	}
	if a.History != "[empty]" {
		t.Fatalf("History = %q, want [empty]", a.History)
	}

	msgs := a.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len(Messages()) = %d, want 4", len(msgs))
	}
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: DefaultInstructions},
		{Role: llm.RoleSystem, Content: "Conversation so far:\n[empty]"},
		{Role: llm.RoleSystem, Content: "Additional context:\nC"},
		{Role: llm.RoleUser, Content: "Q"},
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("Messages()[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestRenderHistoryTranscript(t *testing.T) {
	f := NewFormatter(DefaultTemplate())
	history := []session.Turn{
		session.UserTurn("When was GBU founded?"),
		session.AssistantTurn("2002"),
	}
	before := append([]session.Turn(nil), history...)

	p := f.Render(history, "", "Where is it?")
	if p.History != "User: When was GBU founded?\nAI: 2002" {
		t.Fatalf("History = %q", p.History)
	}
	for i := range history {
		if history[i] != before[i] {
			t.Fatalf("Render() mutated history[%d]", i)
		}
	}
}

func TestRequestCarriesSlots(t *testing.T) {
	p := NewFormatter(DefaultTemplate()).Render(nil, "ctx", "q")
	req := p.Request()
	if req.SystemInstructions != DefaultInstructions || req.Context != "ctx" || req.Query != "q" || req.History != "[empty]" {
		t.Fatalf("Request() = %+v", req)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(req.Messages))
	}
}

func TestParseTemplateKeepsDefaultsForMissingKeys(t *testing.T) {
	tmpl, err := ParseTemplate([]byte("instructions: Be brief.\nfallback: Ask the registrar.\n"))
	if err != nil {
		t.Fatalf("ParseTemplate() error = %v", err)
	}
	if tmpl.Instructions != "Be brief." {
		t.Fatalf("Instructions = %q", tmpl.Instructions)
	}
	if tmpl.Fallback != "Ask the registrar." {
		t.Fatalf("Fallback = %q", tmpl.Fallback)
	}
	if tmpl.EmptyHistory != "[empty]" || tmpl.HistoryHeader != "Conversation so far:" {
		t.Fatalf("defaults not kept: %+v", tmpl)
	}
}

func TestLoadTemplate(t *testing.T) {
	tmpl, err := LoadTemplate("")
	if err != nil {
		t.Fatalf("LoadTemplate(\"\") error = %v", err)
	}
	if tmpl != DefaultTemplate() {
		t.Fatalf("LoadTemplate(\"\") = %+v, want defaults", tmpl)
	}

	path := filepath.Join(t.TempDir(), "prompt.yaml")
	if err := os.WriteFile(path, []byte("empty_history: (none)\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	tmpl, err = LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate() error = %v", err)
	}
	if got := NewFormatter(tmpl).FormatHistory(nil); got != "(none)" {
		t.Fatalf("FormatHistory(nil) = %q, want (none)", got)
	}

	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadTemplate(missing) error = nil, want error")
	}
}

func TestParseTemplateRejectsBadYAML(t *testing.T) {
	if _, err := ParseTemplate([]byte("instructions: [unterminated")); err == nil {
		t.Fatalf("ParseTemplate() error = nil, want error")
	}
}
