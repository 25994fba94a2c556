// Package storytest provides a deterministic in-memory completion endpoint
// for tests.
package storytest

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sealor/storyteller/pkg/story"
)

// Endpoint replies with canned texts, in order; the last reply repeats.
// Streams split a reply into chunks of ChunkSize bytes.
type Endpoint struct {
	mu        sync.Mutex
	replies   []string
	next      int
	chunkSize int
	err       error
	streamErr error
	dialErr   error
	requests  []story.Request
	dials     int
	closes    int
}

var _ story.Endpoint = (*Endpoint)(nil)

func NewEndpoint(replies ...string) *Endpoint {
	return &Endpoint{replies: replies, chunkSize: 4}
}

// Dial is a story.Dialer that hands out the endpoint itself.
func (e *Endpoint) Dial(ctx context.Context) (story.Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dialErr != nil {
		return nil, e.dialErr
	}
	e.dials++
	return e, nil
}

func (e *Endpoint) SetChunkSize(n int) {
	e.mu.Lock()
	e.chunkSize = n
	e.mu.Unlock()
}

// FailWith makes every later call fail with err.
func (e *Endpoint) FailWith(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

// FailStreamWith makes streams end with err after delivering their chunks.
func (e *Endpoint) FailStreamWith(err error) {
	e.mu.Lock()
	e.streamErr = err
	e.mu.Unlock()
}

func (e *Endpoint) FailDialWith(err error) {
	e.mu.Lock()
	e.dialErr = err
	e.mu.Unlock()
}

func (e *Endpoint) Complete(ctx context.Context, req story.Request) (string, error) {
	text, err := e.take(req)
	if err != nil {
		return "", err
	}
	return text, ctx.Err()
}

func (e *Endpoint) Stream(ctx context.Context, req story.Request) (story.ChunkReader, error) {
	text, err := e.take(req)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	size, streamErr := e.chunkSize, e.streamErr
	e.mu.Unlock()
	return &Reader{ctx: ctx, chunks: Split(text, size), err: streamErr}, nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closes++
	e.mu.Unlock()
	return nil
}

// Requests returns the requests received so far.
func (e *Endpoint) Requests() []story.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.requests)
}

func (e *Endpoint) Dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

func (e *Endpoint) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

func (e *Endpoint) take(req story.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req.Messages = slices.Clone(req.Messages)
	req.FallbackModels = slices.Clone(req.FallbackModels)
	e.requests = append(e.requests, req)
	if e.err != nil {
		return "", e.err
	}
	if len(e.replies) == 0 {
		return "", nil
	}
	text := e.replies[e.next]
	if e.next < len(e.replies)-1 {
		e.next++
	}
	return text, nil
}

// Reader replays fixed chunks. Close may be called concurrently with Next.
type Reader struct {
	ctx    context.Context
	chunks []string
	pos    int
	cur    string
	err    error
	ended  error
	closed atomic.Bool
}

func (r *Reader) Next() bool {
	if r.closed.Load() {
		r.ended = context.Canceled
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.ended = err
		return false
	}
	if r.pos >= len(r.chunks) {
		r.ended = r.err
		return false
	}
	r.cur = r.chunks[r.pos]
	r.pos++
	return true
}

func (r *Reader) Current() string { return r.cur }

func (r *Reader) Err() error { return r.ended }

func (r *Reader) Close() error {
	r.closed.Store(true)
	return nil
}

// Split cuts text into pieces of at most size bytes.
func Split(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
