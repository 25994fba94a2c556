// Package story manages a single conversation with a remote chat model used
// to write and revise short stories.
//
// A Session starts with one system message. Each turn appends a user
// message and the assistant reply together, so the history always
// alternates user and assistant after the seed. Turns are serialized per
// session; independent sessions share no state.
package story

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State int

const (
	StateCreated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Session struct {
	id   string
	dial Dialer
	log  *zap.Logger
	link *link

	// turn holds one token while a turn (buffered or streamed) is in flight.
	turn chan struct{}

	mu      sync.Mutex
	cfg     Config
	history []Message
	closed  bool
	active  *Stream
}

// New creates a session seeded with systemPrompt, or DefaultSystemPrompt
// when it is empty. The endpoint is dialed on the first turn.
func New(dial Dialer, systemPrompt string, opts ...Option) *Session {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	s := &Session{
		id:      uuid.NewString(),
		dial:    dial,
		log:     zap.NewNop(),
		link:    &link{},
		turn:    make(chan struct{}, 1),
		cfg:     DefaultConfig(),
		history: []Message{{Role: RoleSystem, Content: systemPrompt}},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("session_id", s.id))

	// Last resort for sessions that are dropped without Close.
	runtime.AddCleanup(s, func(l *link) { _ = l.release() }, s.link)
	return s
}

// With runs fn with s and closes s on every exit path.
func With(s *Session, fn func(*Session) error) (err error) {
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return StateClosed
	case len(s.history) > 1:
		return StateActive
	}
	return StateCreated
}

// Config returns a copy of the current generation parameters.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.clone()
}

// SetTemperature sets the sampling temperature; higher is more varied.
func (s *Session) SetTemperature(t float64) {
	s.mu.Lock()
	s.cfg.Temperature = t
	s.mu.Unlock()
}

func (s *Session) SetMaxTokens(n int) error {
	if n <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", n)
	}
	s.mu.Lock()
	s.cfg.MaxTokens = n
	s.mu.Unlock()
	return nil
}

// SetStreaming selects the transport delivery mode of later Generate and
// Update calls. Turns already in flight are not affected.
func (s *Session) SetStreaming(enabled bool) {
	s.mu.Lock()
	s.cfg.Streaming = enabled
	s.mu.Unlock()
}

// History returns a copy of the conversation.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *Session) PrettyHistory() string {
	return Pretty(s.History())
}

// Generate sends prompt, or DefaultUserPrompt when it is empty, and returns
// the assistant reply.
func (s *Session) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultUserPrompt
	}
	return s.run(ctx, "generate", prompt, false)
}

// Update asks the model to revise the story with the given directives. It
// fails with ErrNotGenerated until a first turn has completed.
func (s *Session) Update(ctx context.Context, revisions ...Revision) (string, error) {
	return s.run(ctx, "update", UpdatePrompt(revisions), true)
}

// StreamGenerate works like Generate but delivers the reply in chunks. The
// turn is added to the history once the stream is drained.
func (s *Session) StreamGenerate(ctx context.Context, prompt string) (*Stream, error) {
	if prompt == "" {
		prompt = DefaultUserPrompt
	}
	return s.stream(ctx, "stream_generate", prompt, false)
}

func (s *Session) StreamUpdate(ctx context.Context, revisions ...Revision) (*Stream, error) {
	return s.stream(ctx, "stream_update", UpdatePrompt(revisions), true)
}

// Close releases the endpoint, aborts an open stream and clears the history,
// including the system message. A closed session rejects further turns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.history = nil
	active := s.active
	s.active = nil
	s.mu.Unlock()

	if active != nil {
		active.abort()
	}
	err := s.link.release()
	s.log.Debug("session closed", zap.Bool("aborted_stream", active != nil))
	return err
}

// pending is a turn that has been sent but not committed.
type pending struct {
	op       string
	user     Message
	req      Request
	endpoint Endpoint
}

func (s *Session) acquire(ctx context.Context, op string) (func(), error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-s.turn }) }, nil
}

func (s *Session) prepare(ctx context.Context, op, content string, needTurn, stream bool) (*pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &SequenceError{Op: op, Err: ErrClosed}
	}
	if needTurn && len(s.history) < 3 {
		return nil, &SequenceError{Op: op, Err: ErrNotGenerated}
	}

	ep, err := s.link.ensure(ctx, s.dial)
	if err != nil {
		return nil, endpointError(op, err)
	}

	user := Message{Role: RoleUser, Content: content}
	messages := make([]Message, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	messages = append(messages, user)

	cfg := s.cfg.clone()
	return &pending{
		op:       op,
		user:     user,
		endpoint: ep,
		req: Request{
			Model:          cfg.Model,
			FallbackModels: cfg.FallbackModels,
			Messages:       messages,
			MaxTokens:      cfg.MaxTokens,
			Temperature:    cfg.Temperature,
			Stream:         stream || cfg.Streaming,
		},
	}, nil
}

func (s *Session) commit(p *pending, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &SequenceError{Op: p.op, Err: ErrClosed}
	}
	s.history = append(s.history, p.user, Message{Role: RoleAssistant, Content: text})
	return nil
}

func (s *Session) run(ctx context.Context, op, content string, needTurn bool) (string, error) {
	release, err := s.acquire(ctx, op)
	if err != nil {
		return "", err
	}
	defer release()

	p, err := s.prepare(ctx, op, content, needTurn, false)
	if err != nil {
		return "", err
	}

	log := s.log.With(zap.String("op", op), zap.String("model", p.req.Model), zap.Int("messages", len(p.req.Messages)))
	log.Debug("sending turn", zap.Bool("stream", p.req.Stream))

	var text string
	if p.req.Stream {
		text, err = collect(ctx, p)
	} else {
		text, err = p.endpoint.Complete(ctx, p.req)
	}
	if err != nil {
		log.Warn("turn failed", zap.Error(err))
		return "", endpointError(op, err)
	}
	if text == "" {
		return "", &ProtocolError{Op: op, Reason: "empty completion"}
	}
	if err := s.commit(p, text); err != nil {
		return "", err
	}

	log.Info("turn completed", zap.Int("chars", len(text)))
	return text, nil
}

// collect reads a streamed completion into one string.
func collect(ctx context.Context, p *pending) (string, error) {
	r, err := p.endpoint.Stream(ctx, p.req)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var b strings.Builder
	for r.Next() {
		b.WriteString(r.Current())
	}
	if err := r.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Session) stream(ctx context.Context, op, content string, needTurn bool) (*Stream, error) {
	release, err := s.acquire(ctx, op)
	if err != nil {
		return nil, err
	}

	p, err := s.prepare(ctx, op, content, needTurn, true)
	if err != nil {
		release()
		return nil, err
	}

	r, err := p.endpoint.Stream(ctx, p.req)
	if err != nil {
		release()
		return nil, endpointError(op, err)
	}

	st := &Stream{
		session: s,
		pending: p,
		reader:  r,
		release: release,
		log:     s.log.With(zap.String("op", op), zap.String("model", p.req.Model)),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = r.Close()
		release()
		return nil, &SequenceError{Op: op, Err: ErrClosed}
	}
	s.active = st
	s.mu.Unlock()

	st.log.Debug("stream opened", zap.Int("messages", len(p.req.Messages)))
	return st, nil
}

// endpointError keeps errors the endpoint already classified and treats
// everything else as a transport failure.
func endpointError(op string, err error) error {
	var (
		te *TransportError
		pe *ProtocolError
		se *SequenceError
	)
	if errors.As(err, &te) || errors.As(err, &pe) || errors.As(err, &se) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
