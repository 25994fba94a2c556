package story

import (
	"errors"
	"fmt"
)

var (
	// ErrNotGenerated is returned by Update before any turn was completed.
	ErrNotGenerated = errors.New("must generate before updating")

	// ErrClosed is returned by every turn operation on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrStreamClosed is reported by a stream that was closed before it was drained.
	ErrStreamClosed = errors.New("stream closed before completion")
)

// TransportError reports a failure reaching the completion endpoint,
// including timeouts and non-success HTTP status codes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or empty completion.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: protocol: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: protocol: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SequenceError reports an operation invoked in the wrong session state.
type SequenceError struct {
	Op  string
	Err error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SequenceError) Unwrap() error { return e.Err }
