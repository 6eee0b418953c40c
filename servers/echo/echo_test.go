package echo_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emberchat/toolhost"
	"github.com/emberchat/toolhost/servers/echo"
)

// protoClient drives a Server at the wire level, one raw line per request.
type protoClient struct {
	t      *testing.T
	writer io.Writer
	reader *bufio.Reader
}

func startServer(t *testing.T, opts ...echo.Option) *protoClient {
	t.Helper()

	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	go func() {
		_ = echo.NewServer(opts...).Serve(context.Background(), serverReader, serverWriter)
	}()

	t.Cleanup(func() {
		clientWriter.Close()
		clientReader.Close()
		serverReader.Close()
		serverWriter.Close()
	})

	return &protoClient{
		t:      t,
		writer: clientWriter,
		reader: bufio.NewReader(clientReader),
	}
}

func (c *protoClient) send(line string) {
	c.t.Helper()
	if _, err := c.writer.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write request: %v", err)
	}
}

func (c *protoClient) recv() toolhost.Message {
	c.t.Helper()

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 1)
	go func() {
		line, err := c.reader.ReadString('\n')
		lines <- readResult{line, err}
	}()

	select {
	case res := <-lines:
		if res.err != nil {
			c.t.Fatalf("read response: %v", res.err)
		}
		var msg toolhost.Message
		if err := json.Unmarshal([]byte(strings.TrimSuffix(res.line, "\n")), &msg); err != nil {
			c.t.Fatalf("decode response %q: %v", res.line, err)
		}
		return msg
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for response")
		return toolhost.Message{}
	}
}

func TestServeHandshake(t *testing.T) {
	client := startServer(t)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	resp := client.recv()

	if resp.ID != "1" {
		t.Errorf("response id %q, want 1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}

	var result toolhost.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ServerInfo.Name != echo.ServerName {
		t.Errorf("server name %q, want %q", result.ServerInfo.Name, echo.ServerName)
	}
	if result.Capabilities.Tools == nil {
		t.Error("server did not declare the tools capability")
	}

	// notifications/initialized is consumed silently; ping still answers,
	// proving the server did not stall on it.
	client.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	client.send(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	pong := client.recv()
	if pong.ID != "2" || pong.Error != nil {
		t.Errorf("ping response %+v", pong)
	}
}

func TestServeListAndCall(t *testing.T) {
	client := startServer(t)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	resp := client.recv()
	if resp.Error != nil {
		t.Fatalf("tools/list failed: %v", resp.Error)
	}

	var list toolhost.ListToolsResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "mock_echo" {
		t.Fatalf("got tools %+v, want exactly mock_echo", list.Tools)
	}
	if len(list.Tools[0].InputSchema) == 0 {
		t.Error("mock_echo is missing its input schema")
	}

	client.send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"mock_echo","arguments":{"message":"ahoy"}}}`)
	resp = client.recv()
	if resp.Error != nil {
		t.Fatalf("tools/call failed: %v", resp.Error)
	}

	var result toolhost.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode tools/call result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "EchoResult: ahoy" {
		t.Errorf("got %+v, want one text content %q", result.Content, "EchoResult: ahoy")
	}
}

func TestServeUnknownToolAndMethod(t *testing.T) {
	client := startServer(t)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"definitely_not_a_tool","arguments":{}}}`)
	resp := client.recv()
	if resp.Error == nil {
		t.Fatal("expected an error response for an unknown tool")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("unknown tool code %d, want -32601", resp.Error.Code)
	}

	client.send(`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`)
	resp = client.recv()
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("unknown method response %+v, want code -32601", resp)
	}
}

func TestServeSkipsGarbageLines(t *testing.T) {
	client := startServer(t)

	client.send(`garbage that is not json`)
	client.send(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	resp := client.recv()
	if resp.ID != "1" || resp.Error != nil {
		t.Errorf("ping after garbage line: %+v", resp)
	}
}

func TestServeReportsConfiguredProtocolVersion(t *testing.T) {
	client := startServer(t, echo.WithProtocolVersion("2024-11-05"))

	client.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	resp := client.recv()

	var result toolhost.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version %q, want 2024-11-05", result.ProtocolVersion)
	}
}
