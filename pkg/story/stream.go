package story

import (
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Stream is a single-pass, pull-based sequence of reply chunks. The turn is
// committed to the session history when Next reports the end of a complete
// reply. Closing the stream early discards the turn.
//
// A Stream holds the session's turn until it is drained or closed, so
// callers must always Close it.
type Stream struct {
	session *Session
	pending *pending
	reader  ChunkReader
	release func()
	log     *zap.Logger

	buf     strings.Builder
	current string
	chunks  int
	err     error
	done    bool

	aborted  atomic.Bool
	once     sync.Once
	closeErr error
}

// Next advances to the next non-empty chunk.
func (st *Stream) Next() bool {
	if st.done {
		return false
	}
	for st.reader.Next() {
		delta := st.reader.Current()
		if delta == "" {
			continue
		}
		st.current = delta
		st.buf.WriteString(delta)
		st.chunks++
		return true
	}

	st.done = true
	st.current = ""
	op := st.pending.op
	switch err := st.reader.Err(); {
	case st.aborted.Load():
		st.err = &SequenceError{Op: op, Err: ErrClosed}
	case err != nil:
		st.err = endpointError(op, err)
	case st.buf.Len() == 0:
		st.err = &ProtocolError{Op: op, Reason: "empty completion"}
	default:
		st.err = st.session.commit(st.pending, st.buf.String())
	}
	st.log.Debug("stream drained", zap.Int("chunks", st.chunks), zap.Error(st.err))
	st.finish()
	return false
}

// Current returns the chunk Next advanced to.
func (st *Stream) Current() string { return st.current }

// Text returns the concatenation of all chunks delivered so far.
func (st *Stream) Text() string { return st.buf.String() }

// Err returns the error that ended the stream, if any.
func (st *Stream) Err() error { return st.err }

// Close ends the stream. A stream closed before it was drained reports
// ErrStreamClosed and leaves the history untouched.
func (st *Stream) Close() error {
	if !st.done {
		st.done = true
		st.current = ""
		st.err = &SequenceError{Op: st.pending.op, Err: ErrStreamClosed}
	}
	return st.finish()
}

// Chunks adapts the stream to a range-over-func loop. The stream is closed
// when the loop ends, whether it was drained or not.
func (st *Stream) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer st.Close()
		for st.Next() {
			if !yield(st.Current()) {
				return
			}
		}
	}
}

// abort is used by Session.Close while a consumer may still be reading.
func (st *Stream) abort() {
	st.aborted.Store(true)
	st.finish()
}

func (st *Stream) finish() error {
	st.once.Do(func() {
		st.closeErr = st.reader.Close()

		s := st.session
		s.mu.Lock()
		if s.active == st {
			s.active = nil
		}
		s.mu.Unlock()

		st.release()
		st.log.Debug("stream finished", zap.Bool("aborted", st.aborted.Load()))
	})
	return st.closeErr
}
