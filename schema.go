package toolhost

import "encoding/json"

// supportedProtocolVersions lists the protocol revisions this client recognizes.
// A server reporting any other version fails the connect with ErrUnsupportedProtocol.
var supportedProtocolVersions = []string{"2025-03-26", "2024-11-05"}

// latestProtocolVersion is the revision the client declares during initialize.
const latestProtocolVersion = "2025-03-26"

// Info identifies a client or server implementation by name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities declares the features this client supports. The set is
// currently minimal; the struct exists so the handshake payload stays extensible.
type ClientCapabilities struct{}

// ToolsCapability marks that a server exposes tools. ListChanged indicates the
// server emits notifications/tools/list_changed when its tool set changes.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability marks that a server can stream log messages.
type LoggingCapability struct{}

// ServerCapabilities describes the features a server declared at handshake time.
type ServerCapabilities struct {
	Tools   *ToolsCapability   `json:"tools,omitempty"`
	Logging *LoggingCapability `json:"logging,omitempty"`
}

// InitializeParams is the payload of the initialize request sent by the client.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize: its protocol revision,
// declared capabilities, and identity.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// Tool describes one invocable operation a server exposes. InputSchema is an
// opaque JSON Schema document used for validation and display only; it is never
// interpreted here.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the payload returned by tools/list. Tool order is the
// server's listing order and is preserved by the cache.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one piece of a tool result. Only text content is produced by the
// servers this package ships, but the type tag keeps the format open.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the payload returned by tools/call. IsError marks a
// tool-level failure reported inside an otherwise successful response, as
// opposed to a JSON-RPC error.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func protocolVersionSupported(v string) bool {
	for _, s := range supportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}
