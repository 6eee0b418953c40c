package toolhost

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by sessions and the registry. All are comparable
// with errors.Is; wrapped forms carry the session or call detail.
var (
	// ErrNotConnected is returned when a tool operation is attempted on a
	// session that has not reached StateReady.
	ErrNotConnected = errors.New("session not connected")

	// ErrTimeout is returned when a single call exceeds its deadline. The
	// session itself stays usable.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionClosed resolves every pending call when its session is torn
	// down, whether by Disconnect or by the server process exiting.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnknownServer is returned by the registry for an identifier it does
	// not track.
	ErrUnknownServer = errors.New("unknown server")

	// ErrAlreadyConnecting is returned when Connect is called for an identifier
	// whose connect handshake is still in flight.
	ErrAlreadyConnecting = errors.New("connect already in progress")

	// ErrUnsupportedProtocol fails a connect whose server reported a protocol
	// version this client does not recognize.
	ErrUnsupportedProtocol = errors.New("unsupported protocol version")

	// ErrToolNotFound is returned by CallTool when the server reports that no
	// tool with the requested name exists.
	ErrToolNotFound = errors.New("tool not found")

	// ErrUnreachable is returned by Ping when the server fails to answer.
	ErrUnreachable = errors.New("server unreachable")

	// ErrProcessCrashed records that the tool-server subprocess exited without
	// a Disconnect. Pending calls still fail with ErrConnectionClosed.
	ErrProcessCrashed = errors.New("tool server process exited unexpectedly")
)

// ToolError carries a tool invocation failure reported by the server. Code and
// Message are the peer's error payload, passed through verbatim.
type ToolError struct {
	Tool    string
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q failed with code %d: %s", e.Tool, e.Code, e.Message)
}

// Is matches a server-reported method-not-found against ErrToolNotFound, so
// callers can use errors.Is without losing the verbatim code.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolNotFound && e.Code == codeMethodNotFound
}
