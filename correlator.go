package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// correlator bridges asynchronous request/response pairing to a synchronous
// call contract. It allocates session-unique request ids, keeps one pending
// call record per outstanding id, and resolves each record on exactly one of:
// matching response, deadline expiry, or session teardown.
type correlator struct {
	transport Transport
	logger    *slog.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[MessageID]*pendingCall
	closed  bool
	failure error
}

// pendingCall tracks one outstanding request awaiting its response. The done
// channel is buffered so the resolving side never blocks, and each record is
// resolved at most once (it is removed from the table first).
type pendingCall struct {
	id     MessageID
	method string
	done   chan callResult
}

type callResult struct {
	msg Message
	err error
}

func newCorrelator(transport Transport, logger *slog.Logger) *correlator {
	return &correlator{
		transport: transport,
		logger:    logger,
		pending:   make(map[MessageID]*pendingCall),
	}
}

// call sends a request and waits for its response, the timeout, or context
// cancellation. A timeout or cancellation removes the pending record so a late
// response is silently discarded rather than delivered twice.
func (c *correlator) call(ctx context.Context, method string, params any, timeout time.Duration) (Message, error) {
	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s params: %w", method, err)
		}
		paramsBs = bs
	}

	pc, err := c.register(method)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		JSONRPC: JSONRPCVersion,
		ID:      pc.id,
		Method:  method,
		Params:  paramsBs,
	}

	if err := c.transport.Send(ctx, msg); err != nil {
		c.remove(pc.id)
		return Message{}, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pc.done:
		if res.err != nil {
			return Message{}, res.err
		}
		return res.msg, nil
	case <-timer.C:
		c.remove(pc.id)
		return Message{}, fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
	case <-ctx.Done():
		c.remove(pc.id)
		return Message{}, ctx.Err()
	}
}

// notify sends a notification, which carries no id and expects no response.
func (c *correlator) notify(ctx context.Context, method string, params any) error {
	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		paramsBs = bs
	}

	return c.transport.Send(ctx, Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

// dispatch routes a response to its pending call. A response with an id no
// pending call claims is dropped and logged; that covers both unknown ids and
// responses arriving after their call timed out.
func (c *correlator) dispatch(msg Message) {
	c.mu.Lock()
	pc, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping response with no pending call", slog.String("id", string(msg.ID)))
		return
	}

	pc.done <- callResult{msg: msg}
}

// failAll resolves every pending call with err and refuses new registrations
// with the same error. Called exactly once, on session teardown.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.failure = err
	pending := c.pending
	c.pending = make(map[MessageID]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.done <- callResult{err: fmt.Errorf("%s: %w", pc.method, err)}
	}
}

// register allocates the next id and records the pending call. Ids increase
// monotonically for the life of the session and are never reused while a call
// with that id is unresolved.
func (c *correlator) register(method string) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.failure
	}

	c.nextID++
	pc := &pendingCall{
		id:     MessageID(strconv.FormatInt(c.nextID, 10)),
		method: method,
		done:   make(chan callResult, 1),
	}
	c.pending[pc.id] = pc
	return pc, nil
}

func (c *correlator) remove(id MessageID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
