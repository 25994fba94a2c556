package studio_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealor/storyteller/pkg/catalog"
	"github.com/sealor/storyteller/pkg/story"
	"github.com/sealor/storyteller/pkg/story/storytest"
	"github.com/sealor/storyteller/pkg/studio"
)

func newStudio(t *testing.T, ep *storytest.Endpoint) *studio.Studio {
	t.Helper()
	cat := catalog.New(os.DirFS(filepath.Join("..", "..", "story_inputs")))
	s := studio.New(cat, ep.Dial)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBrief(t *testing.T) {
	s := catalog.Story{
		ID: 3, Protagonist: "The Tortured Genius", Description: "Haunted.",
		Setting: "An observatory", Plot: "It works", Conflict: "Ambition", Theme: "Cost", PointOfView: "First person",
	}
	want := "Write a short story with the following parameters:\n" +
		"Protagonist: The Tortured Genius\nDescription: Haunted.\nSetting: An observatory\n" +
		"Plot: It works\nConflict: Ambition\nTheme: Cost\nPoint of View: First person"
	assert.Equal(t, want, studio.Brief(s, studio.ModeStory))
	assert.True(t, strings.HasPrefix(studio.Brief(s, studio.ModeOutline), "Write a detailed outline"))
}

func TestGenerateSeedsCatalogPrompt(t *testing.T) {
	ep := storytest.NewEndpoint("A genius story.")
	s := newStudio(t, ep)

	card, text, err := s.Generate(context.Background(), 2, 3, studio.ModeStory)
	require.NoError(t, err)
	assert.Equal(t, "A genius story.", text)
	assert.Equal(t, 2, card.PromptID)
	assert.Equal(t, "The Tortured Genius", card.Story.Protagonist)

	prompt, err := s.Catalog().Prompt(2)
	require.NoError(t, err)
	session, ok := s.Session(card)
	require.True(t, ok)
	history := session.History()
	require.Len(t, history, 3)
	assert.Equal(t, prompt.SystemPrompt, history[0].Content)
	assert.Equal(t, studio.Brief(card.Story, studio.ModeStory), history[1].Content)

	out, ok := s.Output(card)
	assert.True(t, ok)
	assert.Equal(t, "A genius story.", out)
}

func TestGenerateUnknownIDs(t *testing.T) {
	s := newStudio(t, storytest.NewEndpoint("x"))

	_, _, err := s.Generate(context.Background(), 99, 1, studio.ModeStory)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, _, err = s.Generate(context.Background(), 1, 99, studio.ModeStory)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Empty(t, s.Cards())
}

func TestReviseRequiresGeneration(t *testing.T) {
	s := newStudio(t, storytest.NewEndpoint("x"))
	card, _, err := s.Card(1, 1)
	require.NoError(t, err)

	_, err = s.Revise(context.Background(), card, story.Revision{Key: "tone", Value: "darker"})
	assert.ErrorIs(t, err, story.ErrNotGenerated)
}

func TestRevise(t *testing.T) {
	ep := storytest.NewEndpoint("draft", "darker draft")
	s := newStudio(t, ep)
	ctx := context.Background()

	card, _, err := s.Generate(ctx, 1, 1, studio.ModeStory)
	require.NoError(t, err)

	text, err := s.Revise(ctx, card, story.Revision{Key: "tone", Value: "darker"})
	require.NoError(t, err)
	assert.Equal(t, "darker draft", text)

	out, _ := s.Output(card)
	assert.Equal(t, "darker draft", out)
}

func TestStreamThenRegenerate(t *testing.T) {
	ep := storytest.NewEndpoint("streamed story", "fresh story")
	s := newStudio(t, ep)
	ctx := context.Background()

	card, st, err := s.Stream(ctx, 1, 10, studio.ModeOutline)
	require.NoError(t, err)
	for st.Next() {
	}
	require.NoError(t, st.Err())
	require.NoError(t, st.Close())

	first, _ := s.Session(card)
	out, _ := s.Output(card)
	assert.Equal(t, "streamed story", out)

	_, _, err = s.Generate(ctx, 1, 10, studio.ModeStory)
	require.NoError(t, err)
	assert.Equal(t, story.StateClosed, first.State(), "regenerating replaces the session")

	second, _ := s.Session(card)
	assert.Len(t, second.History(), 3)
	assert.Len(t, s.Cards(), 1)
}

func TestDiscardAndClose(t *testing.T) {
	ep := storytest.NewEndpoint("x")
	s := newStudio(t, ep)
	ctx := context.Background()

	a, _, err := s.Generate(ctx, 1, 1, studio.ModeStory)
	require.NoError(t, err)
	_, _, err = s.Generate(ctx, 2, 2, studio.ModeStory)
	require.NoError(t, err)

	require.NoError(t, s.Discard(a))
	_, ok := s.Output(a)
	assert.False(t, ok)
	require.NoError(t, s.Discard(a))

	require.NoError(t, s.Close())
	assert.Empty(t, s.Cards())
	assert.Equal(t, 2, ep.Closes())
}
