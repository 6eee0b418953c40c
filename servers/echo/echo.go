// Package echo implements a minimal tool server speaking the toolhost wire
// protocol over a reader/writer pair. It exposes a single mock_echo tool and
// exists as the reference peer for exercising the connection manager, both in
// tests (over in-memory pipes) and as a runnable subprocess.
package echo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emberchat/toolhost"
)

// ServerName is the identity reported during the initialize handshake.
const ServerName = "echo"

var echoInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"message": {"type": "string", "description": "Text to echo back"}
	},
	"required": ["message"]
}`)

// Server answers initialize, ping, tools/list, and tools/call requests. It
// processes messages sequentially, one per input line, until the input stream
// ends or the context is cancelled.
type Server struct {
	info            toolhost.Info
	protocolVersion string
	logger          *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for server-side events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProtocolVersion overrides the protocol version reported at handshake
// time, letting tests exercise version rejection.
func WithProtocolVersion(version string) Option {
	return func(s *Server) {
		s.protocolVersion = version
	}
}

// NewServer creates an echo tool server.
func NewServer(options ...Option) *Server {
	s := &Server{
		info:            toolhost.Info{Name: ServerName, Version: "1.0.0"},
		protocolVersion: "2025-03-26",
		logger:          slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Serve reads line-delimited messages from in and writes responses to out
// until in reaches end of stream. Undecodable lines are skipped.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}

		var msg toolhost.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Error("skipping undecodable line", "err", err)
			continue
		}

		resp := s.handle(msg)
		if resp == nil {
			continue
		}

		bs, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		bs = append(bs, '\n')
		if _, err := out.Write(bs); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func (s *Server) handle(msg toolhost.Message) *toolhost.Message {
	if msg.IsNotification() {
		// Notifications, including notifications/initialized, are never
		// answered.
		return nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "ping":
		return resultResponse(msg.ID, struct{}{})
	case toolhost.MethodToolsList:
		return resultResponse(msg.ID, toolhost.ListToolsResult{
			Tools: []toolhost.Tool{{
				Name:        "mock_echo",
				Description: "Echoes the given message back, prefixed with EchoResult.",
				InputSchema: echoInputSchema,
			}},
		})
	case toolhost.MethodToolsCall:
		return s.handleCallTool(msg)
	default:
		return errorResponse(msg.ID, -32601, fmt.Sprintf("method %q not found", msg.Method))
	}
}

func (s *Server) handleInitialize(msg toolhost.Message) *toolhost.Message {
	var params toolhost.InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, -32602, "invalid initialize params")
		}
	}

	return resultResponse(msg.ID, toolhost.InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities: toolhost.ServerCapabilities{
			Tools: &toolhost.ToolsCapability{},
		},
		ServerInfo: s.info,
	})
}

func (s *Server) handleCallTool(msg toolhost.Message) *toolhost.Message {
	var params toolhost.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, -32602, "invalid tools/call params")
	}

	if params.Name != "mock_echo" {
		return errorResponse(msg.ID, -32601, fmt.Sprintf("tool %q not found", params.Name))
	}

	var args struct {
		Message string `json:"message"`
	}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return errorResponse(msg.ID, -32602, "invalid mock_echo arguments")
		}
	}

	return resultResponse(msg.ID, toolhost.CallToolResult{
		Content: []toolhost.Content{{
			Type: "text",
			Text: "EchoResult: " + args.Message,
		}},
	})
}

func resultResponse(id toolhost.MessageID, result any) *toolhost.Message {
	bs, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, -32603, "internal error")
	}
	return &toolhost.Message{
		JSONRPC: toolhost.JSONRPCVersion,
		ID:      id,
		Result:  bs,
	}
}

func errorResponse(id toolhost.MessageID, code int, message string) *toolhost.Message {
	return &toolhost.Message{
		JSONRPC: toolhost.JSONRPCVersion,
		ID:      id,
		Error:   &toolhost.RPCError{Code: code, Message: message},
	}
}
