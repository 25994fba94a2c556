// Package studio pairs catalog archetypes with system prompts and keeps one
// story session per pairing.
package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sealor/storyteller/pkg/catalog"
	"github.com/sealor/storyteller/pkg/story"
)

// Mode selects what a generation asks for.
type Mode int

const (
	ModeStory Mode = iota
	ModeOutline
)

const (
	storyHeader   = "Write a short story with the following parameters:"
	outlineHeader = "Write a detailed outline, not the full prose, for a story with the following parameters:"
)

// Card is one system prompt paired with one archetype.
type Card struct {
	PromptID int
	Story    catalog.Story
}

// Brief builds the user prompt for an archetype.
func Brief(s catalog.Story, mode Mode) string {
	header := storyHeader
	if mode == ModeOutline {
		header = outlineHeader
	}
	revisions := []story.Revision{
		{Key: "Protagonist", Value: s.Protagonist},
		{Key: "Description", Value: s.Description},
	}
	for _, f := range s.Fields() {
		revisions = append(revisions, story.Revision{Key: f.Label, Value: f.Value})
	}
	return story.Directives(header, revisions)
}

// Studio owns the sessions of all cards it has generated.
type Studio struct {
	catalog *catalog.Catalog
	dial    story.Dialer
	config  story.Config
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[Card]*story.Session
}

type Option func(*Studio)

func WithLogger(log *zap.Logger) Option {
	return func(s *Studio) {
		if log != nil {
			s.log = log
		}
	}
}

func WithSessionConfig(cfg story.Config) Option {
	return func(s *Studio) { s.config = cfg }
}

func New(cat *catalog.Catalog, dial story.Dialer, opts ...Option) *Studio {
	s := &Studio{
		catalog:  cat,
		dial:     dial,
		config:   story.DefaultConfig(),
		log:      zap.NewNop(),
		sessions: make(map[Card]*story.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Studio) Catalog() *catalog.Catalog { return s.catalog }

// Card resolves ids against the catalog.
func (s *Studio) Card(promptID, storyID int) (Card, catalog.Prompt, error) {
	p, err := s.catalog.Prompt(promptID)
	if err != nil {
		return Card{}, catalog.Prompt{}, err
	}
	st, err := s.catalog.Story(storyID)
	if err != nil {
		return Card{}, catalog.Prompt{}, err
	}
	return Card{PromptID: p.ID, Story: st}, p, nil
}

// Generate starts a fresh session for the card and writes its first draft.
func (s *Studio) Generate(ctx context.Context, promptID, storyID int, mode Mode) (Card, string, error) {
	card, session, err := s.open(promptID, storyID)
	if err != nil {
		return Card{}, "", err
	}
	text, err := session.Generate(ctx, Brief(card.Story, mode))
	if err != nil {
		return card, "", err
	}
	return card, text, nil
}

// Stream is Generate with a streamed reply.
func (s *Studio) Stream(ctx context.Context, promptID, storyID int, mode Mode) (Card, *story.Stream, error) {
	card, session, err := s.open(promptID, storyID)
	if err != nil {
		return Card{}, nil, err
	}
	st, err := session.StreamGenerate(ctx, Brief(card.Story, mode))
	if err != nil {
		return card, nil, err
	}
	return card, st, nil
}

// Revise sends an update turn to the card's session.
func (s *Studio) Revise(ctx context.Context, card Card, revisions ...story.Revision) (string, error) {
	session, err := s.session("revise", card)
	if err != nil {
		return "", err
	}
	return session.Update(ctx, revisions...)
}

func (s *Studio) StreamRevise(ctx context.Context, card Card, revisions ...story.Revision) (*story.Stream, error) {
	session, err := s.session("revise", card)
	if err != nil {
		return nil, err
	}
	return session.StreamUpdate(ctx, revisions...)
}

// Output returns the latest assistant text of the card.
func (s *Studio) Output(card Card) (string, bool) {
	s.mu.Lock()
	session, ok := s.sessions[card]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	history := session.History()
	for i := len(history) - 1; i > 0; i-- {
		if history[i].Role == story.RoleAssistant {
			return history[i].Content, true
		}
	}
	return "", false
}

func (s *Studio) Session(card Card) (*story.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[card]
	return session, ok
}

// Cards lists the cards with an open session.
func (s *Studio) Cards() []Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make([]Card, 0, len(s.sessions))
	for c := range s.sessions {
		cards = append(cards, c)
	}
	return cards
}

// Discard closes and forgets the card's session.
func (s *Studio) Discard(card Card) error {
	s.mu.Lock()
	session, ok := s.sessions[card]
	delete(s.sessions, card)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return session.Close()
}

// Close closes every session.
func (s *Studio) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[Card]*story.Session)
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		errs = append(errs, session.Close())
	}
	return errors.Join(errs...)
}

// open replaces any session of the card with a new one seeded by the
// card's system prompt.
func (s *Studio) open(promptID, storyID int) (Card, *story.Session, error) {
	card, prompt, err := s.Card(promptID, storyID)
	if err != nil {
		return Card{}, nil, err
	}

	log := s.log.With(zap.Int("prompt_id", promptID), zap.Int("story_id", storyID))
	session := story.New(s.dial, prompt.SystemPrompt, story.WithConfig(s.config), story.WithLogger(log))

	s.mu.Lock()
	old := s.sessions[card]
	s.sessions[card] = session
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn("closing previous session", zap.Error(err))
		}
	}
	log.Info("session opened", zap.String("session_id", session.ID()))
	return card, session, nil
}

func (s *Studio) session(op string, card Card) (*story.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[card]
	if !ok {
		return nil, &story.SequenceError{Op: op, Err: fmt.Errorf("card %d/%d: %w", card.PromptID, card.Story.ID, story.ErrNotGenerated)}
	}
	return session, nil
}
