package observability

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// PromptTracer prints the retrieved context and the session history of each
// exchange as colored console blocks. A nil tracer is a no-op.
type PromptTracer struct {
	mu  sync.Mutex
	out io.Writer

	header  *color.Color
	context *color.Color
	history *color.Color
}

func NewPromptTracer(w io.Writer) *PromptTracer {
	if w == nil {
		w = os.Stderr
	}
	return &PromptTracer{
		out:     w,
		header:  color.New(color.FgHiWhite, color.Bold),
		context: color.New(color.FgYellow),
		history: color.New(color.FgMagenta),
	}
}

func (t *PromptTracer) Trace(context, history string) {
	if t == nil {
		return
	}
	if context == "" {
		context = "[empty]"
	}
	if history == "" {
		history = "[empty]"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.block("CONTEXT", context, t.context)
	t.block("HISTORY", history, t.history)
}

func (t *PromptTracer) block(title, body string, c *color.Color) {
	fmt.Fprintln(t.out, "=====================")
	t.header.Fprintln(t.out, title+":")
	c.Fprintln(t.out, body)
	fmt.Fprintln(t.out, "=====================")
}
