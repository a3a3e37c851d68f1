// Package answer normalizes raw provider output into a StructuredAnswer.
package answer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed is wrapped by every Coerce failure.
var ErrMalformed = errors.New("malformed model response")

// SchemaJSON is the JSON Schema every structured reply must satisfy. It is
// also handed to providers that support schema-constrained output.
const SchemaJSON = `{
  "type": "object",
  "properties": {
    "answer": {"type": "string", "description": "The answer to the user's question"},
    "knowsAnswer": {"type": "boolean", "description": "false when the model is unsure of the answer"}
  },
  "required": ["answer", "knowsAnswer"]
}`

const schemaURL = "mem://answer.schema.json"

// StructuredAnswer is the single canonical shape of a model reply.
type StructuredAnswer struct {
	Answer      string `json:"answer"`
	KnowsAnswer bool   `json:"knowsAnswer"`
}

type Coercer struct {
	schema          *jsonschema.Schema
	acceptPlainText bool
	fallback        string
}

type Option func(*Coercer)

// WithPlainText makes non-JSON replies count as known answers instead of
// failing as malformed.
func WithPlainText(accept bool) Option {
	return func(c *Coercer) { c.acceptPlainText = accept }
}

func WithFallback(text string) Option {
	return func(c *Coercer) {
		if strings.TrimSpace(text) != "" {
			c.fallback = text
		}
	}
}

func NewCoercer(fallback string, opts ...Option) (*Coercer, error) {
	schema, err := jsonschema.CompileString(schemaURL, SchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile answer schema: %w", err)
	}
	c := &Coercer{schema: schema, fallback: fallback}
	for _, opt := range opts {
		opt(c)
	}
	if strings.TrimSpace(c.fallback) == "" {
		return nil, errors.New("fallback text is required")
	}
	return c, nil
}

func (c *Coercer) Fallback() string { return c.fallback }

// Schema returns the raw schema document.
func (c *Coercer) Schema() json.RawMessage { return json.RawMessage(SchemaJSON) }

// Coerce parses raw provider text. Accepted shapes: a bare JSON object, a
// ```json fenced block, or a JSON object embedded in surrounding prose.
func (c *Coercer) Coerce(raw string) (StructuredAnswer, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return StructuredAnswer{}, fmt.Errorf("%w: empty reply", ErrMalformed)
	}

	obj, ok := extractObject(text)
	if !ok {
		if c.acceptPlainText {
			return StructuredAnswer{Answer: text, KnowsAnswer: true}, nil
		}
		return StructuredAnswer{}, fmt.Errorf("%w: reply is not a JSON object", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if c.acceptPlainText {
			return StructuredAnswer{Answer: text, KnowsAnswer: true}, nil
		}
		return StructuredAnswer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return StructuredAnswer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var out StructuredAnswer
	if err := json.Unmarshal(obj, &out); err != nil {
		return StructuredAnswer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out.Answer = strings.TrimSpace(out.Answer)
	if out.KnowsAnswer && out.Answer == "" {
		return StructuredAnswer{}, fmt.Errorf("%w: known answer is blank", ErrMalformed)
	}
	return out, nil
}

// Visible is the text shown to the user and stored in history.
func (c *Coercer) Visible(a StructuredAnswer) string {
	if !a.KnowsAnswer {
		return c.fallback
	}
	return a.Answer
}

func extractObject(text string) ([]byte, bool) {
	if body, ok := stripFence(text); ok {
		text = body
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return []byte(text), true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(text[start : end+1]), true
}

func stripFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	body := strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// drop the info string, e.g. "json"
		body = body[nl+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body), true
}
