package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSEClient is a Transport for tool servers reachable over Server-Sent Events:
// server-to-client messages arrive on the event stream, client-to-server
// messages go out as HTTP POSTs to the endpoint URL the server announces in
// its first event. It lets a ServerSession manage a remote tool server with
// the same lifecycle as a spawned subprocess.
//
// Instances must be created with NewSSEClient.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	logger     *slog.Logger

	maxPayloadSize int

	mu         sync.Mutex
	messageURL string

	messages chan Message
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// SSEClientOption configures an SSEClient.
type SSEClientOption func(*SSEClient)

// WithSSELogger sets the logger for transport-level events.
func WithSSELogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger
	}
}

// WithSSEMaxPayloadSize caps the size of a single inbound event. Oversized
// events terminate the stream.
func WithSSEMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// NewSSEClient creates an SSE transport connecting to connectURL. A nil
// httpClient falls back to http.DefaultClient.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
		messages:   make(chan Message),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start opens the event stream and waits for the server to announce its
// message endpoint. The stream stays open until Stop.
func (s *SSEClient) Start(ctx context.Context) error {
	// The stream outlives the connect context; Stop cancels it.
	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create SSE request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("connect to SSE server: unexpected status code %d", resp.StatusCode)
	}

	ready := make(chan error, 1)
	go s.listenEvents(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	return nil
}

// Send posts one message to the endpoint announced by the server.
func (s *SSEClient) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	messageURL := s.messageURL
	s.mu.Unlock()
	if messageURL == "" {
		return errors.New("no message endpoint announced yet")
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("send message: unexpected status code %d", resp.StatusCode)
	}

	return nil
}

// Messages yields inbound messages until the stream closes or Stop is called.
func (s *SSEClient) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for msg := range s.messages {
			if !yield(msg) {
				return
			}
		}
	}
}

// Stop terminates the event stream.
func (s *SSEClient) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *SSEClient) listenEvents(body io.ReadCloser, ready chan<- error) {
	defer func() {
		body.Close()
		close(s.messages)
	}()

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: s.maxPayloadSize,
		}
	}

	announced := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("failed to read SSE event", "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("empty endpoint URL")
				return
			}
			// Servers usually announce a path relative to the connect URL.
			if base, err := url.Parse(s.connectURL); err == nil {
				u = base.ResolveReference(u)
			}
			s.mu.Lock()
			s.messageURL = u.String()
			s.mu.Unlock()
			if !announced {
				announced = true
				ready <- nil
			}
		case "message":
			var msg Message
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				s.logger.Error("dropping undecodable SSE message", "err", err)
				continue
			}
			s.messages <- msg
		default:
			s.logger.Error("unhandled SSE event type", slog.String("type", ev.Type))
		}
	}
}
