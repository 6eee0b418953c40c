package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry tracks every connected tool server by a caller-chosen identifier
// and routes tool operations to the right session. Lifecycle operations for
// one identifier are serialized: a Connect racing an in-flight connect for the
// same identifier fails with ErrAlreadyConnecting, while a Connect on an
// already ready identifier is a no-op success. Sessions are independent; one
// server failing never disturbs its siblings.
type Registry struct {
	logger      *slog.Logger
	info        Info
	cache       *ToolCache
	metrics     *Metrics
	sessionOpts []SessionOption

	mu         sync.Mutex
	sessions   map[string]*ServerSession
	connecting map[string]bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger shared by the registry and its sessions.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRegistryClientInfo sets the identity declared to every server.
func WithRegistryClientInfo(info Info) RegistryOption {
	return func(r *Registry) {
		r.info = info
	}
}

// WithRegistryMetrics records connect and call metrics on the given
// instruments.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithSessionOptions forwards options to every session the registry creates.
func WithSessionOptions(opts ...SessionOption) RegistryOption {
	return func(r *Registry) {
		r.sessionOpts = append(r.sessionOpts, opts...)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		logger:     slog.Default(),
		info:       Info{Name: "toolhost", Version: "dev"},
		cache:      NewToolCache(),
		sessions:   make(map[string]*ServerSession),
		connecting: make(map[string]bool),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Connect establishes a session for id using the given descriptor and returns
// once the session is ready or the connect has failed. If a ready session
// already exists for id this is a no-op success; if a connect for id is still
// in flight it fails with ErrAlreadyConnecting. A session left in an error or
// disconnected state is replaced.
func (r *Registry) Connect(ctx context.Context, id string, desc ServerDescriptor) error {
	start := time.Now()

	r.mu.Lock()
	// The registry's own marker, not the session state, decides whether a
	// connect is in flight: a freshly published session has not transitioned
	// out of its initial state yet, so its state alone cannot be trusted here.
	if r.connecting[id] {
		r.mu.Unlock()
		return fmt.Errorf("connect %q: %w", id, ErrAlreadyConnecting)
	}
	if existing, ok := r.sessions[id]; ok {
		switch existing.State() {
		case StateReady:
			r.mu.Unlock()
			return nil
		case StateConnecting, StateInitializing:
			r.mu.Unlock()
			return fmt.Errorf("connect %q: %w", id, ErrAlreadyConnecting)
		default:
			// Dead session; replace it below.
			delete(r.sessions, id)
		}
	}
	r.connecting[id] = true

	desc.Name = id
	opts := append([]SessionOption{
		WithSessionLogger(r.logger),
		WithClientInfo(r.info),
		WithToolCache(r.cache),
		withCloseHook(func(reason error) {
			r.onSessionClosed(id, reason)
		}),
	}, r.sessionOpts...)

	sess := NewServerSession(desc, opts...)
	// Registering before the handshake lets a concurrent Connect for the same
	// id observe the in-flight attempt.
	r.sessions[id] = sess
	r.mu.Unlock()

	err := sess.Connect(ctx)
	r.mu.Lock()
	delete(r.connecting, id)
	r.mu.Unlock()

	r.metrics.recordConnect(ctx, id, time.Since(start), err)
	if err != nil {
		r.mu.Lock()
		if r.sessions[id] == sess {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		return err
	}

	return nil
}

// Disconnect tears down the session for id and removes it. Unknown identifiers
// succeed trivially, so the operation is idempotent.
func (r *Registry) Disconnect(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	sess.Disconnect()
	return nil
}

// ListTools fetches and returns the tool list of the named server, refreshing
// the registry's tool cache.
func (r *Registry) ListTools(ctx context.Context, id string) ([]Tool, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.ListTools(ctx)
}

// CachedTools returns the last tool list fetched from the named server without
// touching the wire. The second result is false when nothing is cached, which
// includes every server not currently ready.
func (r *Registry) CachedTools(id string) ([]Tool, bool) {
	return r.cache.Get(id)
}

// CallTool invokes a tool on the named server.
func (r *Registry) CallTool(ctx context.Context, id, name string, args json.RawMessage) (CallToolResult, error) {
	sess, err := r.lookup(id)
	if err != nil {
		r.metrics.recordCall(ctx, id, name, 0, err)
		return CallToolResult{}, err
	}

	start := time.Now()
	result, err := sess.CallTool(ctx, name, args)
	r.metrics.recordCall(ctx, id, name, time.Since(start), err)
	return result, err
}

// Ping checks liveness of the named server.
func (r *Registry) Ping(ctx context.Context, id string) error {
	sess, err := r.lookup(id)
	if err != nil {
		return err
	}
	return sess.Ping(ctx)
}

// ConnectedServers returns the identifiers of all servers currently ready, in
// sorted order.
func (r *Registry) ConnectedServers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if sess.State() == StateReady {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Session returns the live session for id, mainly for callers that need
// handshake details such as the server's declared identity.
func (r *Registry) Session(id string) (*ServerSession, error) {
	return r.lookup(id)
}

// Close disconnects every session. The registry stays usable afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*ServerSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*ServerSession)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Disconnect()
	}
}

func (r *Registry) lookup(id string) (*ServerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, id)
	}
	return sess, nil
}

// onSessionClosed drops registry bookkeeping for sessions that die on their
// own, for example when the server process crashes.
func (r *Registry) onSessionClosed(id string, reason error) {
	if reason == nil {
		return
	}

	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok && sess.State() != StateReady {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	r.logger.Warn("tool server session closed",
		slog.String("server", id), "reason", reason)
}
