package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, temperature float64) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{
		client:      client,
		model:       strings.TrimSpace(model),
		temperature: float32(temperature),
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Invoke(ctx context.Context, req Request) (Output, error) {
	system, contents := splitForGemini(req.Messages)
	if len(contents) == 0 {
		return Output{}, errors.New("gemini request has no user content")
	}

	temp := p.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.ResponseSchema) > 0 {
		schema, err := geminiSchema(req.ResponseSchema)
		if err != nil {
			return Output{}, err
		}
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema
	}

	res, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return Output{}, fmt.Errorf("gemini generate: %w", err)
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return Output{}, errors.New("gemini returned empty text")
	}
	return Output{Text: text, Provider: p.Name()}, nil
}

// splitForGemini folds system messages into one instruction block and maps the
// rest onto genai contents, preserving order.
func splitForGemini(msgs []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

type jsonSchemaDoc struct {
	Type        string                   `json:"type"`
	Description string                   `json:"description"`
	Properties  map[string]jsonSchemaDoc `json:"properties"`
	Required    []string                 `json:"required"`
	Items       *jsonSchemaDoc           `json:"items"`
}

// geminiSchema converts the subset of JSON Schema used for answers into the
// OpenAPI-style schema genai expects.
func geminiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var doc jsonSchemaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode response schema: %w", err)
	}
	return toGeminiSchema(doc), nil
}

func toGeminiSchema(doc jsonSchemaDoc) *genai.Schema {
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(doc.Type)),
		Description: doc.Description,
		Required:    doc.Required,
	}
	if len(doc.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(doc.Properties))
		for name, prop := range doc.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	if doc.Items != nil {
		out.Items = toGeminiSchema(*doc.Items)
	}
	return out
}
