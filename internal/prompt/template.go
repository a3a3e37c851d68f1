package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultInstructions = "You are an AI assistant for Gautam Buddha University. " +
		"You MUST return a JSON object following this schema: { answer: string, knowsAnswer: boolean }. " +
		"If you are unsure, set knowsAnswer to false."
	DefaultFallback = "Model does not know the answer to this query. Please contact the concerning authority."

	defaultHistoryHeader = "Conversation so far:"
	defaultContextHeader = "Additional context:"
	defaultEmptyHistory  = "[empty]"
)

// Template holds the fixed text around the four prompt slots. It can be
// overridden from a YAML file; missing keys keep their defaults.
type Template struct {
	Instructions  string `yaml:"instructions"`
	HistoryHeader string `yaml:"history_header"`
	ContextHeader string `yaml:"context_header"`
	EmptyHistory  string `yaml:"empty_history"`
	Fallback      string `yaml:"fallback"`
}

func DefaultTemplate() Template {
	return Template{
		Instructions:  DefaultInstructions,
		HistoryHeader: defaultHistoryHeader,
		ContextHeader: defaultContextHeader,
		EmptyHistory:  defaultEmptyHistory,
		Fallback:      DefaultFallback,
	}
}

// LoadTemplate reads a YAML prompt file. An empty path yields the default
// template.
func LoadTemplate(path string) (Template, error) {
	tmpl := DefaultTemplate()
	path = strings.TrimSpace(path)
	if path == "" {
		return tmpl, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read prompt file: %w", err)
	}
	return ParseTemplate(raw)
}

func ParseTemplate(raw []byte) (Template, error) {
	var override Template
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Template{}, fmt.Errorf("parse prompt file: %w", err)
	}
	tmpl := DefaultTemplate()
	if v := strings.TrimSpace(override.Instructions); v != "" {
		tmpl.Instructions = v
	}
	if v := strings.TrimSpace(override.HistoryHeader); v != "" {
		tmpl.HistoryHeader = v
	}
	if v := strings.TrimSpace(override.ContextHeader); v != "" {
		tmpl.ContextHeader = v
	}
	if v := strings.TrimSpace(override.EmptyHistory); v != "" {
		tmpl.EmptyHistory = v
	}
	if v := strings.TrimSpace(override.Fallback); v != "" {
		tmpl.Fallback = v
	}
	return tmpl, nil
}
