package story_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sealor/storyteller/pkg/story"
	"github.com/sealor/storyteller/pkg/story/storytest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(t *testing.T, ep *storytest.Endpoint, system string, opts ...story.Option) *story.Session {
	t.Helper()
	s := story.New(ep.Dial, system, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSeedsSystemMessage(t *testing.T) {
	ep := storytest.NewEndpoint("x")

	s := newSession(t, ep, "")
	assert.Equal(t, []story.Message{{Role: story.RoleSystem, Content: story.DefaultSystemPrompt}}, s.History())
	assert.Equal(t, story.StateCreated, s.State())

	custom := newSession(t, ep, "You write noir.")
	history := custom.History()
	require.Len(t, history, 1)
	assert.Equal(t, story.RoleSystem, history[0].Role)
	assert.Equal(t, "You write noir.", history[0].Content)

	assert.Zero(t, ep.Dials(), "construction must not dial")
	assert.NotEmpty(t, s.ID())
	assert.NotEqual(t, s.ID(), custom.ID())
}

func TestGenerateDefaultPrompt(t *testing.T) {
	ep := storytest.NewEndpoint("Once upon a time.")
	s := newSession(t, ep, "")

	text, err := s.Generate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time.", text)

	want := []story.Message{
		{Role: story.RoleSystem, Content: story.DefaultSystemPrompt},
		{Role: story.RoleUser, Content: story.DefaultUserPrompt},
		{Role: story.RoleAssistant, Content: "Once upon a time."},
	}
	if diff := cmp.Diff(want, s.History()); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, story.StateActive, s.State())
	assert.Equal(t, 1, ep.Dials())
}

func TestGenerateAppendsOneTurnPerCall(t *testing.T) {
	ep := storytest.NewEndpoint("one", "two", "three")
	s := newSession(t, ep, "system")
	ctx := context.Background()

	for i, want := range []string{"one", "two", "three"} {
		text, err := s.Generate(ctx, "prompt")
		require.NoError(t, err)
		assert.Equal(t, want, text)

		history := s.History()
		require.Len(t, history, 1+2*(i+1))
		assert.Equal(t, story.RoleUser, history[len(history)-2].Role)
		assert.Equal(t, story.RoleAssistant, history[len(history)-1].Role)
		assert.Equal(t, want, history[len(history)-1].Content)
	}
	assert.Equal(t, 1, ep.Dials(), "the endpoint is dialed once per session")
}

func TestGenerateSendsConfiguration(t *testing.T) {
	ep := storytest.NewEndpoint("reply")
	s := newSession(t, ep, "system", story.WithModels("primary", "first", "second"))
	s.SetTemperature(0.3)
	require.NoError(t, s.SetMaxTokens(1234))

	_, err := s.Generate(context.Background(), "hello")
	require.NoError(t, err)

	reqs := ep.Requests()
	require.Len(t, reqs, 1)
	want := story.Request{
		Model:          "primary",
		FallbackModels: []string{"first", "second"},
		Messages: []story.Message{
			{Role: story.RoleSystem, Content: "system"},
			{Role: story.RoleUser, Content: "hello"},
		},
		MaxTokens:   1234,
		Temperature: 0.3,
		Stream:      false,
	}
	if diff := cmp.Diff(want, reqs[0]); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultConfig(t *testing.T) {
	s := newSession(t, storytest.NewEndpoint("x"), "")
	cfg := s.Config()
	assert.Equal(t, story.DefaultTemperature, cfg.Temperature)
	assert.Equal(t, story.DefaultMaxTokens, cfg.MaxTokens)
	assert.False(t, cfg.Streaming)
	assert.Equal(t, story.DefaultModel, cfg.Model)
	assert.Equal(t, story.DefaultFallbackModels, cfg.FallbackModels)

	cfg.FallbackModels[0] = "changed"
	assert.Equal(t, story.DefaultFallbackModels, s.Config().FallbackModels)
}

func TestSetMaxTokensRejectsNonPositive(t *testing.T) {
	s := newSession(t, storytest.NewEndpoint("x"), "")
	assert.Error(t, s.SetMaxTokens(0))
	assert.Error(t, s.SetMaxTokens(-5))
	assert.Equal(t, story.DefaultMaxTokens, s.Config().MaxTokens)
}

func TestStreamingFlagKeepsBufferedResult(t *testing.T) {
	ep := storytest.NewEndpoint("a streamed reply")
	s := newSession(t, ep, "system")
	s.SetStreaming(true)

	text, err := s.Generate(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "a streamed reply", text)

	reqs := ep.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Stream)
	assert.Len(t, s.History(), 3)
}

func TestUpdateBeforeGenerate(t *testing.T) {
	ep := storytest.NewEndpoint("x")
	s := newSession(t, ep, "system")

	_, err := s.Update(context.Background(), story.Revision{Key: "tone", Value: "darker"})
	require.Error(t, err)

	var seqErr *story.SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.ErrorIs(t, err, story.ErrNotGenerated)
	assert.Len(t, s.History(), 1)
	assert.Empty(t, ep.Requests())
	assert.Zero(t, ep.Dials())

	_, err = s.StreamUpdate(context.Background(), story.Revision{Key: "tone", Value: "darker"})
	assert.ErrorIs(t, err, story.ErrNotGenerated)
}

func TestUpdateFormatsRevisionsInOrder(t *testing.T) {
	ep := storytest.NewEndpoint("first draft", "second draft")
	s := newSession(t, ep, "system")
	ctx := context.Background()

	_, err := s.Generate(ctx, "write")
	require.NoError(t, err)

	text, err := s.Update(ctx,
		story.Revision{Key: "tone", Value: "darker"},
		story.Revision{Key: "length", Value: "longer"},
	)
	require.NoError(t, err)
	assert.Equal(t, "second draft", text)

	history := s.History()
	require.Len(t, history, 5)
	assert.Equal(t, story.RoleUser, history[3].Role)
	assert.Equal(t, story.UpdateHeader+"\ntone: darker\nlength: longer", history[3].Content)
	assert.Equal(t, story.Message{Role: story.RoleAssistant, Content: "second draft"}, history[4])

	reqs := ep.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 4, "update sends the full history")
}

func TestTransportErrorLeavesHistory(t *testing.T) {
	ep := storytest.NewEndpoint("x")
	ep.FailWith(errors.New("connection refused"))
	s := newSession(t, ep, "system")

	_, err := s.Generate(context.Background(), "hi")
	var te *story.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "generate", te.Op)
	assert.Len(t, s.History(), 1)
	assert.Len(t, ep.Requests(), 1, "no local retry")
}

func TestDialErrorIsTransportError(t *testing.T) {
	ep := storytest.NewEndpoint("x")
	ep.FailDialWith(errors.New("no route"))
	s := newSession(t, ep, "system")

	_, err := s.Generate(context.Background(), "hi")
	var te *story.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, story.StateCreated, s.State())
}

func TestEmptyCompletionIsProtocolError(t *testing.T) {
	ep := storytest.NewEndpoint()
	s := newSession(t, ep, "system")

	_, err := s.Generate(context.Background(), "hi")
	var pe *story.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, s.History(), 1)

	st, err := s.StreamGenerate(context.Background(), "hi")
	require.NoError(t, err)
	defer st.Close()
	assert.False(t, st.Next())
	require.ErrorAs(t, st.Err(), &pe)
	assert.Len(t, s.History(), 1)
}

func TestHistoryIsACopy(t *testing.T) {
	s := newSession(t, storytest.NewEndpoint("reply"), "system")
	_, err := s.Generate(context.Background(), "hi")
	require.NoError(t, err)

	history := s.History()
	history[0].Content = "tampered"
	history = append(history, story.Message{Role: story.RoleUser, Content: "extra"})

	fresh := s.History()
	assert.Len(t, fresh, 3)
	assert.Equal(t, "system", fresh[0].Content)
}

func TestPrettyHistory(t *testing.T) {
	s := newSession(t, storytest.NewEndpoint("The end."), "Be brief.")
	_, err := s.Generate(context.Background(), "Tell a story.")
	require.NoError(t, err)

	line := "--------------------------------------------------"
	want := line + "\nrole: system\ncontent: Be brief.\n" +
		line + "\nrole: user\ncontent: Tell a story.\n" +
		line + "\nrole: assistant\ncontent: The end.\n" +
		line + "\n"
	assert.Equal(t, want, s.PrettyHistory())
}

func TestCloseIsIdempotent(t *testing.T) {
	ep := storytest.NewEndpoint("reply")
	s := story.New(ep.Dial, "system")

	_, err := s.Generate(context.Background(), "hi")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Empty(t, s.History())
	assert.Equal(t, story.StateClosed, s.State())
	assert.Equal(t, 1, ep.Closes())

	require.NoError(t, s.Close())
	assert.Empty(t, s.History())
	assert.Equal(t, 1, ep.Closes())
}

func TestCloseWithoutConnection(t *testing.T) {
	ep := storytest.NewEndpoint("reply")
	s := story.New(ep.Dial, "system")

	require.NoError(t, s.Close())
	assert.Zero(t, ep.Closes())
	assert.Empty(t, s.History())
}

func TestClosedSessionRejectsTurns(t *testing.T) {
	ep := storytest.NewEndpoint("reply")
	s := story.New(ep.Dial, "system")
	ctx := context.Background()

	_, err := s.Generate(ctx, "hi")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Generate(ctx, "again")
	assert.ErrorIs(t, err, story.ErrClosed)
	_, err = s.StreamGenerate(ctx, "again")
	assert.ErrorIs(t, err, story.ErrClosed)
	_, err = s.Update(ctx, story.Revision{Key: "tone", Value: "lighter"})
	assert.ErrorIs(t, err, story.ErrClosed)

	var seqErr *story.SequenceError
	assert.ErrorAs(t, err, &seqErr)
	assert.Equal(t, 1, ep.Dials(), "a closed session never reconnects")
	assert.Empty(t, s.History())
}

func TestWithClosesOnAllPaths(t *testing.T) {
	ep := storytest.NewEndpoint("reply")

	var inner *story.Session
	err := story.With(story.New(ep.Dial, "system"), func(s *story.Session) error {
		inner = s
		_, err := s.Generate(context.Background(), "hi")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, story.StateClosed, inner.State())
	assert.Equal(t, 1, ep.Closes())

	boom := errors.New("boom")
	err = story.With(story.New(ep.Dial, "system"), func(s *story.Session) error {
		inner = s
		if _, err := s.Generate(context.Background(), "hi"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, story.StateClosed, inner.State())
	assert.Equal(t, 2, ep.Closes())
}

func TestConcurrentTurnsKeepAlternation(t *testing.T) {
	ep := storytest.NewEndpoint("reply")
	s := newSession(t, ep, "system")

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Generate(context.Background(), "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history := s.History()
	require.Len(t, history, 1+2*workers)
	for i, m := range history[1:] {
		want := story.RoleUser
		if i%2 == 1 {
			want = story.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i+1)
	}

	// every request saw a complete history that ends with its own user turn
	for _, req := range ep.Requests() {
		assert.Equal(t, 0, (len(req.Messages)-2)%2)
	}
}

func TestIndependentSessions(t *testing.T) {
	a := newSession(t, storytest.NewEndpoint("from a"), "a")
	b := newSession(t, storytest.NewEndpoint("from b"), "b")

	var wg sync.WaitGroup
	for _, s := range []*story.Session{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Generate(context.Background(), "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "from a", a.History()[2].Content)
	assert.Equal(t, "from b", b.History()[2].Content)
	require.NoError(t, a.Close())
	assert.Len(t, b.History(), 3)
}

func TestTurnWaitHonoursContext(t *testing.T) {
	ep := storytest.NewEndpoint("a long streamed reply")
	s := newSession(t, ep, "system")

	st, err := s.StreamGenerate(context.Background(), "hi")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Generate(ctx, "blocked")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, st.Close())
	_, err = s.Generate(context.Background(), "free")
	require.NoError(t, err)
	assert.Len(t, s.History(), 3)
}
