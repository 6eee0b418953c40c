package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a ServerSession.
type SessionState int

const (
	// StateDisconnected is both the initial state and the terminal state after
	// a clean or crash-driven teardown.
	StateDisconnected SessionState = iota
	// StateConnecting covers transport startup, including process spawn.
	StateConnecting
	// StateInitializing covers the initialize/initialized handshake.
	StateInitializing
	// StateReady is the only state in which tool operations are accepted.
	StateReady
	// StateClosing is the transient teardown state.
	StateClosing
	// StateError is reached when the connect attempt itself fails, for example
	// on a handshake error or an unsupported protocol version.
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var defaultCallTimeout = 30 * time.Second

// ServerSession owns the connection to one tool server: its transport, its
// request correlator, and the handshake state. A session is single-use; after
// it leaves StateReady a new session must be created to reconnect. All state
// transitions are serialized, and every path that leaves StateReady resolves
// all outstanding calls with ErrConnectionClosed before the session settles.
//
// Create sessions with NewServerSession, or let a Registry manage them.
type ServerSession struct {
	desc   ServerDescriptor
	id     string
	info   Info
	logger *slog.Logger
	cache  *ToolCache

	callTimeout   time.Duration
	pingInterval  time.Duration
	pingThreshold int

	transport       Transport
	toolListWatcher func()
	onFramingError  FramingErrorHandler
	onClose         func(reason error)

	mu         sync.Mutex
	state      SessionState
	lastErr    error
	closed     bool
	corr       *correlator
	serverInfo Info
	serverCaps ServerCapabilities

	done chan struct{}
}

// SessionOption configures a ServerSession.
type SessionOption func(*ServerSession)

// WithSessionLogger sets the logger for session events.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *ServerSession) {
		s.logger = logger
	}
}

// WithClientInfo sets the identity declared to servers during initialize.
func WithClientInfo(info Info) SessionOption {
	return func(s *ServerSession) {
		s.info = info
	}
}

// WithCallTimeout sets the deadline applied to each outgoing request. A call
// that exceeds it fails with ErrTimeout; the session stays usable.
func WithCallTimeout(timeout time.Duration) SessionOption {
	return func(s *ServerSession) {
		s.callTimeout = timeout
	}
}

// WithPingInterval enables periodic liveness pings. Zero, the default, leaves
// them disabled.
func WithPingInterval(interval time.Duration) SessionOption {
	return func(s *ServerSession) {
		s.pingInterval = interval
	}
}

// WithPingThreshold sets how many consecutive ping failures are tolerated
// before the session is torn down.
func WithPingThreshold(threshold int) SessionOption {
	return func(s *ServerSession) {
		s.pingThreshold = threshold
	}
}

// WithToolListWatcher registers a callback invoked when the server announces
// that its tool list changed. The cached tool list is invalidated first.
func WithToolListWatcher(watcher func()) SessionOption {
	return func(s *ServerSession) {
		s.toolListWatcher = watcher
	}
}

// WithSessionFramingErrorHandler registers a handler for undecodable inbound
// lines. Framing errors are absorbed and never terminate the session.
func WithSessionFramingErrorHandler(h FramingErrorHandler) SessionOption {
	return func(s *ServerSession) {
		s.onFramingError = h
	}
}

// WithTransport supplies the transport directly instead of deriving one from
// the descriptor. Used for custom transports and for in-memory testing.
func WithTransport(t Transport) SessionOption {
	return func(s *ServerSession) {
		s.transport = t
	}
}

// WithToolCache shares a tool cache with the session. Without it the session
// creates a private one.
func WithToolCache(c *ToolCache) SessionOption {
	return func(s *ServerSession) {
		s.cache = c
	}
}

// withCloseHook is used by the registry to observe session teardown.
func withCloseHook(f func(reason error)) SessionOption {
	return func(s *ServerSession) {
		s.onClose = f
	}
}

// NewServerSession creates a session for the given descriptor. Nothing is
// spawned or connected until Connect.
func NewServerSession(desc ServerDescriptor, options ...SessionOption) *ServerSession {
	s := &ServerSession{
		desc:          desc,
		id:            uuid.New().String(),
		info:          Info{Name: "toolhost", Version: "dev"},
		logger:        slog.Default(),
		callTimeout:   defaultCallTimeout,
		pingThreshold: 3,
		state:         StateDisconnected,
		done:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewToolCache()
	}
	s.logger = s.logger.With(
		slog.String("server", desc.Name),
		slog.String("session", s.id))
	return s
}

// Name returns the caller-chosen server identifier from the descriptor.
func (s *ServerSession) Name() string { return s.desc.Name }

// ID returns the session's unique instance id.
func (s *ServerSession) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *ServerSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the session, if any.
func (s *ServerSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ServerInfo returns the identity the server declared at handshake time.
func (s *ServerSession) ServerInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ServerCapabilities returns the capability set the server declared at
// handshake time.
func (s *ServerSession) ServerCapabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverCaps
}

// Tools returns the cached tool list from the last successful ListTools, in
// server listing order.
func (s *ServerSession) Tools() ([]Tool, bool) {
	return s.cache.Get(s.desc.Name)
}

// Connect starts the transport (spawning the subprocess for command-based
// descriptors), runs the initialize handshake, and moves the session to
// StateReady. On handshake failure the session settles in StateError and
// cannot be reused.
func (s *ServerSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	// Sessions are single-use: once torn down, the transport is spent and a
	// reconnect needs a fresh session.
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("connect %q: %w", s.desc.Name, ErrConnectionClosed)
	}
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateConnecting, StateInitializing:
		s.mu.Unlock()
		return ErrAlreadyConnecting
	case StateClosing, StateError:
		s.mu.Unlock()
		return fmt.Errorf("connect %q: %w", s.desc.Name, ErrConnectionClosed)
	}
	s.state = StateConnecting
	transport := s.transport
	s.mu.Unlock()

	if transport == nil {
		transport = s.transportFromDescriptor()
		s.mu.Lock()
		s.transport = transport
		s.mu.Unlock()
	}

	if err := transport.Start(ctx); err != nil {
		err = fmt.Errorf("connect %q: %w", s.desc.Name, err)
		s.failConnect(err)
		return err
	}

	corr := newCorrelator(transport, s.logger)
	s.mu.Lock()
	s.corr = corr
	s.state = StateInitializing
	s.mu.Unlock()

	go s.readLoop(transport)
	if ew, ok := transport.(ExitWatcher); ok {
		go s.watchExit(ew)
	}

	if err := s.handshake(ctx); err != nil {
		s.failConnect(err)
		transport.Stop()
		return err
	}

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
	s.logger.Info("tool server connected",
		slog.String("serverName", s.serverInfo.Name),
		slog.String("serverVersion", s.serverInfo.Version))

	if s.pingInterval > 0 {
		go s.pingLoop()
	}

	return nil
}

// Disconnect tears the session down: all pending calls fail with
// ErrConnectionClosed, the transport is stopped (terminating the subprocess if
// still alive), and the cached tool list is dropped. It is safe to call more
// than once.
func (s *ServerSession) Disconnect() {
	s.teardown(nil)
}

// ListTools fetches the server's tool list, replaces the cache entry for this
// session, and returns the tools in server listing order. Valid only in
// StateReady.
func (s *ServerSession) ListTools(ctx context.Context) ([]Tool, error) {
	if err := s.requireTools(); err != nil {
		return nil, err
	}

	res, err := s.corr.call(ctx, MethodToolsList, struct{}{}, s.callTimeout)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, fmt.Errorf("tools/list: %w", res.Error)
	}

	var result ListToolsResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	s.cache.set(s.desc.Name, result.Tools)
	return result.Tools, nil
}

// CallTool invokes the named tool with the given JSON arguments. A
// server-reported unknown tool surfaces as ErrToolNotFound; any other error
// response becomes a *ToolError carrying the peer's code and message verbatim.
func (s *ServerSession) CallTool(ctx context.Context, name string, args json.RawMessage) (CallToolResult, error) {
	if err := s.requireTools(); err != nil {
		return CallToolResult{}, err
	}

	params := CallToolParams{Name: name, Arguments: args}
	res, err := s.corr.call(ctx, MethodToolsCall, params, s.callTimeout)
	if err != nil {
		return CallToolResult{}, err
	}
	if res.Error != nil {
		return CallToolResult{}, &ToolError{Tool: name, Code: res.Error.Code, Message: res.Error.Message}
	}

	var result CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return CallToolResult{}, fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	return result, nil
}

// Ping checks server liveness. Any failure, including timeout, is surfaced as
// ErrUnreachable.
func (s *ServerSession) Ping(ctx context.Context) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	res, err := s.corr.call(ctx, methodPing, struct{}{}, s.callTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, res.Error)
	}

	return nil
}

func (s *ServerSession) transportFromDescriptor() Transport {
	stdioOpts := []StdIOOption{WithStdIOLogger(s.logger)}
	if s.onFramingError != nil {
		stdioOpts = append(stdioOpts, WithFramingErrorHandler(s.onFramingError))
	}

	if s.desc.URL != "" {
		return NewSSEClient(s.desc.URL, nil, WithSSELogger(s.logger))
	}
	return NewProcess(s.desc,
		WithProcessLogger(s.logger),
		WithProcessStdIOOptions(stdioOpts...))
}

func (s *ServerSession) handshake(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: latestProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      s.info,
	}

	res, err := s.corr.call(ctx, methodInitialize, params, s.callTimeout)
	if err != nil {
		return fmt.Errorf("initialize %q: %w", s.desc.Name, err)
	}
	if res.Error != nil {
		return fmt.Errorf("initialize %q: %w", s.desc.Name, res.Error)
	}

	var result InitializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	if !protocolVersionSupported(result.ProtocolVersion) {
		return fmt.Errorf("%w: server %q reported %q", ErrUnsupportedProtocol, s.desc.Name, result.ProtocolVersion)
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.serverCaps = result.Capabilities
	s.mu.Unlock()

	// Failing to deliver the courtesy notification is not worth failing the
	// connect over.
	if err := s.corr.notify(ctx, methodNotificationsInitialized, nil); err != nil {
		s.logger.Warn("failed to send initialized notification", "err", err)
	}

	return nil
}

func (s *ServerSession) readLoop(transport Transport) {
	for msg := range transport.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Error("dropping message with invalid jsonrpc version", slog.String("version", msg.JSONRPC))
			continue
		}

		switch {
		case msg.IsResponse():
			s.corr.dispatch(msg)
		case msg.IsNotification():
			s.handleNotification(msg)
		case msg.Method == methodPing:
			s.replyResult(msg.ID, struct{}{})
		default:
			s.replyError(msg.ID, codeMethodNotFound, fmt.Sprintf("method %q not supported", msg.Method))
		}
	}

	// The inbound stream ended: either Stop interrupted it, or the server went
	// away. Teardown is idempotent so the raced cases collapse.
	s.teardown(ErrConnectionClosed)
}

func (s *ServerSession) watchExit(ew ExitWatcher) {
	select {
	case <-s.done:
	case err := <-ew.Exited():
		s.mu.Lock()
		alreadyClosing := s.closed
		s.mu.Unlock()
		if alreadyClosing {
			return
		}
		if err != nil {
			s.teardown(fmt.Errorf("%w: %v", ErrProcessCrashed, err))
		} else {
			s.teardown(ErrProcessCrashed)
		}
	}
}

func (s *ServerSession) pingLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
			err := s.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed) {
				return
			}
			failures++
			s.logger.Warn("ping failed", slog.Int("consecutive", failures), "err", err)
			if failures > s.pingThreshold {
				s.logger.Error("too many ping failures, closing session")
				s.teardown(fmt.Errorf("%w: %d consecutive ping failures", ErrUnreachable, failures))
				return
			}
		}
	}
}

func (s *ServerSession) handleNotification(msg Message) {
	switch msg.Method {
	case methodNotificationsToolsListChanged:
		s.cache.drop(s.desc.Name)
		if s.toolListWatcher != nil {
			s.toolListWatcher()
		}
	default:
		s.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
}

func (s *ServerSession) replyResult(id MessageID, result any) {
	bs, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("marshal reply", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, Message{JSONRPC: JSONRPCVersion, ID: id, Result: bs}); err != nil {
		s.logger.Error("send reply", "err", err)
	}
}

func (s *ServerSession) replyError(id MessageID, code int, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	msg := Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		s.logger.Error("send error reply", "err", err)
	}
}

func (s *ServerSession) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return fmt.Errorf("%w: %q is %s", ErrNotConnected, s.desc.Name, s.state)
	}
	return nil
}

func (s *ServerSession) requireTools() error {
	if err := s.requireReady(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serverCaps.Tools == nil {
		return fmt.Errorf("server %q does not expose tools", s.desc.Name)
	}
	return nil
}

// failConnect settles a failed connect attempt in StateError. Unlike teardown
// it never transitions to StateDisconnected, so the failure stays inspectable.
func (s *ServerSession) failConnect(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateError
	s.lastErr = err
	corr := s.corr
	s.mu.Unlock()

	if corr != nil {
		corr.failAll(ErrConnectionClosed)
	}
	close(s.done)
	s.cache.drop(s.desc.Name)
	if s.onClose != nil {
		s.onClose(err)
	}
}

// teardown moves the session through StateClosing to StateDisconnected,
// resolving every pending call with ErrConnectionClosed first. reason, when
// not nil, is recorded as the session failure (for example ErrProcessCrashed).
func (s *ServerSession) teardown(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosing
	s.lastErr = reason
	corr := s.corr
	transport := s.transport
	s.mu.Unlock()

	if corr != nil {
		corr.failAll(ErrConnectionClosed)
	}
	close(s.done)
	if transport != nil {
		transport.Stop()
	}
	s.cache.drop(s.desc.Name)

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	if reason != nil && !errors.Is(reason, ErrConnectionClosed) {
		s.logger.Warn("session closed", "reason", reason)
	}
	if s.onClose != nil {
		s.onClose(reason)
	}
}
