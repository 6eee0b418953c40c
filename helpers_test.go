package toolhost_test

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"sync"
	"testing"

	"github.com/emberchat/toolhost"
	"github.com/emberchat/toolhost/servers/echo"
)

// newEchoTransport wires a StdIO transport to an in-process echo server over
// pipes, simulating a spawned tool-server subprocess.
func newEchoTransport(t *testing.T, opts ...echo.Option) *toolhost.StdIO {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	go func() {
		_ = echo.NewServer(opts...).Serve(context.Background(), serverReader, serverWriter)
	}()

	t.Cleanup(func() {
		clientReader.Close()
		clientWriter.Close()
		serverReader.Close()
		serverWriter.Close()
	})

	return toolhost.NewStdIO(clientReader, clientWriter)
}

// scriptedTransport is a Transport whose peer behavior is a handler function,
// used to script handshakes, silence, and crashes without real processes.
type scriptedTransport struct {
	handler func(st *scriptedTransport, msg toolhost.Message)

	incoming chan toolhost.Message
	exited   chan error
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	sent []toolhost.Message
}

func newScriptedTransport(handler func(st *scriptedTransport, msg toolhost.Message)) *scriptedTransport {
	return &scriptedTransport{
		handler:  handler,
		incoming: make(chan toolhost.Message, 16),
		exited:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (t *scriptedTransport) Start(context.Context) error { return nil }

func (t *scriptedTransport) Send(_ context.Context, msg toolhost.Message) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()

	if t.handler != nil {
		// Peers answer asynchronously.
		go t.handler(t, msg)
	}
	return nil
}

func (t *scriptedTransport) Messages() iter.Seq[toolhost.Message] {
	return func(yield func(toolhost.Message) bool) {
		for {
			select {
			case <-t.done:
				return
			case msg := <-t.incoming:
				if !yield(msg) {
					return
				}
			}
		}
	}
}

func (t *scriptedTransport) Exited() <-chan error { return t.exited }

func (t *scriptedTransport) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// deliver feeds a message to the session as if the server had sent it.
func (t *scriptedTransport) deliver(msg toolhost.Message) {
	select {
	case t.incoming <- msg:
	case <-t.done:
	}
}

func (t *scriptedTransport) sentMessages() []toolhost.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]toolhost.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

func resultMessage(t *testing.T, id toolhost.MessageID, result any) toolhost.Message {
	t.Helper()

	bs, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return toolhost.Message{
		JSONRPC: toolhost.JSONRPCVersion,
		ID:      id,
		Result:  bs,
	}
}

// handshakeOnly answers initialize (with the given protocol version) and
// ignores everything else, leaving all tool calls pending forever.
func handshakeOnly(t *testing.T, version string) func(st *scriptedTransport, msg toolhost.Message) {
	return func(st *scriptedTransport, msg toolhost.Message) {
		if msg.Method != "initialize" {
			return
		}
		st.deliver(resultMessage(t, msg.ID, toolhost.InitializeResult{
			ProtocolVersion: version,
			Capabilities:    toolhost.ServerCapabilities{Tools: &toolhost.ToolsCapability{}},
			ServerInfo:      toolhost.Info{Name: "scripted", Version: "0.0.1"},
		}))
	}
}
