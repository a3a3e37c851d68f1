package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	DefaultGroqModel       = "llama-3.3-70b-versatile"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultOpenRouterModel = "google/gemini-2.5-flash"
)

// ChatCompletionsProvider talks to any OpenAI-compatible /chat/completions
// endpoint (Groq, OpenAI, OpenRouter).
type ChatCompletionsProvider struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewChatCompletionsProvider(name, baseURL, apiKey, model string, temperature float64) (*ChatCompletionsProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s api key is required", name)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%s model is required", name)
	}
	return &ChatCompletionsProvider{
		name:        name,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:      strings.TrimSpace(apiKey),
		model:       strings.TrimSpace(model),
		temperature: temperature,
		maxTokens:   1024,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

func NewGroqProvider(apiKey, model string, temperature float64) (*ChatCompletionsProvider, error) {
	if model == "" {
		model = DefaultGroqModel
	}
	return NewChatCompletionsProvider("groq", groqBaseURL, apiKey, model, temperature)
}

func NewOpenAIProvider(apiKey, model string, temperature float64) (*ChatCompletionsProvider, error) {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return NewChatCompletionsProvider("openai", openAIBaseURL, apiKey, model, temperature)
}

func NewOpenRouterProvider(apiKey, model string, temperature float64) (*ChatCompletionsProvider, error) {
	if model == "" {
		model = DefaultOpenRouterModel
	}
	return NewChatCompletionsProvider("openrouter", openRouterBaseURL, apiKey, model, temperature)
}

func (p *ChatCompletionsProvider) Name() string { return p.name }

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *ChatCompletionsProvider) Invoke(ctx context.Context, req Request) (Output, error) {
	body := chatRequest{
		Model:       p.model,
		Messages:    req.Messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if len(req.ResponseSchema) > 0 {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Output{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Output{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	res, err := p.client.Do(httpReq)
	if err != nil {
		return Output{}, fmt.Errorf("call %s api: %w", p.name, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return Output{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Output{}, &StatusError{Provider: p.name, Code: res.StatusCode, Body: truncate(string(raw), 512)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Output{}, fmt.Errorf("unmarshal %s response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return Output{}, errors.New("no choices in " + p.name + " response")
	}
	return Output{Text: parsed.Choices[0].Message.Content, Provider: p.name}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
