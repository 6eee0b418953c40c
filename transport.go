package toolhost

import (
	"context"
	"iter"
)

// Transport is the message channel between a session and one tool server. The
// stdio and SSE implementations in this package satisfy it; tests inject their
// own over in-memory pipes.
type Transport interface {
	// Start makes the transport ready to exchange messages. For subprocess
	// transports this is where the child is spawned; for network transports it
	// establishes the connection.
	Start(ctx context.Context) error

	// Send writes one message to the server. Implementations must serialize
	// concurrent sends so frames are never interleaved on the wire.
	Send(ctx context.Context, msg Message) error

	// Messages returns an iterator over messages received from the server. The
	// iterator ends when the transport is stopped or the underlying stream
	// closes. It may only be consumed once, by the owning session's read loop.
	Messages() iter.Seq[Message]

	// Stop releases the transport's resources. The caller is guaranteed to call
	// it at most once.
	Stop()
}

// ExitWatcher is implemented by transports whose server can die underneath
// them, such as subprocesses. The returned channel delivers the exit error (or
// nil for a clean exit) exactly once; the owning session treats either as a
// disconnect.
type ExitWatcher interface {
	Exited() <-chan error
}

// FramingErrorHandler is invoked for each inbound line that is not valid JSON.
// Such lines are dropped and the stream continues; the handler exists so the
// caller can observe them.
type FramingErrorHandler func(err error)
