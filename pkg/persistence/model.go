// Package persistence handles mapping and JSON/YAML serialization of
// conversation transcripts
package persistence

import "time"

type Transcript struct {
	ID             string    `json:"id" yaml:"id"`
	Model          string    `json:"model" yaml:"model"`
	FallbackModels []string  `json:"fallback_models,omitempty" yaml:"fallback_models,omitempty"`
	Temperature    float64   `json:"temperature" yaml:"temperature"`
	MaxTokens      int       `json:"max_tokens" yaml:"max_tokens"`
	SavedAt        time.Time `json:"saved_at" yaml:"saved_at"`

	Messages []Message `json:"messages" yaml:"messages"`
}

type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
}
