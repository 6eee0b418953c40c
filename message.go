package toolhost

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version accepted in the jsonrpc field.
const JSONRPCVersion = "2.0"

// MessageID identifies a request/response pair. The wire format allows either a
// string or an integer; incoming ids of both kinds are normalized to their string
// form so they can be used as map keys, and ids consisting only of digits are
// written back out as JSON numbers.
type MessageID string

// Message represents a JSON-RPC 2.0 message exchanged with a tool server.
// Which fields are populated determines its kind:
//   - Request: ID, Method, and optionally Params are set
//   - Response: ID and exactly one of Result or Error are set
//   - Notification: Method is set without an ID, and is never answered
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      MessageID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object carried by a failed response, following the
// JSON-RPC 2.0 specification. The code/message pair is reported by the peer and
// is passed through verbatim; interpretation is deliberately loose beyond the
// handful of well-known codes below.
type RPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Method names consumed and produced by sessions.
const (
	methodInitialize = "initialize"
	methodPing       = "ping"

	// MethodToolsList lists the tools a server exposes.
	MethodToolsList = "tools/list"
	// MethodToolsCall invokes a named tool with arguments.
	MethodToolsCall = "tools/call"

	methodNotificationsInitialized      = "notifications/initialized"
	methodNotificationsToolsListChanged = "notifications/tools/list_changed"
)

// Standard JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// IsResponse reports whether the message is a response to an earlier request.
func (m Message) IsResponse() bool {
	return m.ID != "" && m.Method == ""
}

// IsNotification reports whether the message is a notification, which carries a
// method but no id and must never be answered.
func (m Message) IsNotification() bool {
	return m.ID == "" && m.Method != ""
}

// UnmarshalJSON accepts both string and numeric ids, normalizing numbers to
// their decimal string form.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*id = MessageID(v)
	case float64:
		*id = MessageID(fmt.Sprintf("%d", int64(v)))
	default:
		return fmt.Errorf("message id must be string or number, got %T", v)
	}

	return nil
}

// MarshalJSON writes all-digit ids as JSON numbers and everything else as a
// JSON string, so integer ids survive a round trip unchanged.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if isDigits(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
