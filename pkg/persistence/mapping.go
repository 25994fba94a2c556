package persistence

import (
	"time"

	"github.com/sealor/storyteller/pkg/story"
)

func NewTranscriptFromSession(session *story.Session) *Transcript {
	cfg := session.Config()
	return &Transcript{
		ID:             session.ID(),
		Model:          cfg.Model,
		FallbackModels: cfg.FallbackModels,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		SavedAt:        time.Now().UTC(),
		Messages:       NewMessagesFromStory(session.History()),
	}
}

func NewMessagesFromStory(messages []story.Message) []Message {
	var out []Message
	for _, m := range messages {
		out = append(out, Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func NewMessagesFromTranscript(transcript *Transcript) []story.Message {
	var out []story.Message
	for _, m := range transcript.Messages {
		out = append(out, story.Message{Role: story.Role(m.Role), Content: m.Content})
	}
	return out
}
