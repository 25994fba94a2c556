package story

import (
	"context"
	"sync"
)

// Request is one call to the completion endpoint.
type Request struct {
	Model          string
	FallbackModels []string
	Messages       []Message
	MaxTokens      int
	Temperature    float64
	Stream         bool
}

// Endpoint is an open connection to a chat completion service.
type Endpoint interface {
	// Complete returns the full completion text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream returns the completion as incremental text deltas.
	Stream(ctx context.Context, req Request) (ChunkReader, error)
	Close() error
}

// ChunkReader iterates over streamed text deltas, in the manner of an SSE
// stream: Next advances, Current returns the delta, Err reports the reason
// iteration stopped.
type ChunkReader interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Dialer opens an Endpoint. A session calls it on its first turn.
type Dialer func(ctx context.Context) (Endpoint, error)

// link owns the lazily dialed endpoint of a session. It is kept apart from
// the Session so a runtime cleanup can release it without keeping the
// session reachable.
type link struct {
	mu       sync.Mutex
	endpoint Endpoint
}

func (l *link) ensure(ctx context.Context, dial Dialer) (Endpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.endpoint != nil {
		return l.endpoint, nil
	}
	ep, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	l.endpoint = ep
	return ep, nil
}

func (l *link) release() error {
	l.mu.Lock()
	ep := l.endpoint
	l.endpoint = nil
	l.mu.Unlock()
	if ep == nil {
		return nil
	}
	return ep.Close()
}
