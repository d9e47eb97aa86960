/**
 * @description
 * JSON-RPC 2.0 session over a single WebSocket connection to a ledger node. Requests
 * are multiplexed by id; one reader goroutine dispatches responses and reports the
 * first transport error to the owner so it can drop the handle.
 *
 * @dependencies
 * - nhooyr.io/websocket: WebSocket transport.
 */
package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"
)

const (
	codeMethodNotFound = -32601
	maxMessageBytes    = 1 << 20
)

var (
	// ErrDisconnected is returned for calls on a connection whose reader has stopped.
	ErrDisconnected = errors.New("ledger connection closed")
	// ErrCallUnavailable means the node does not expose the requested RPC method.
	ErrCallUnavailable = errors.New("ledger call unavailable")
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	if e.Code == codeMethodNotFound {
		return ErrCallUnavailable
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Conn is a live ledger session. It is safe for concurrent use.
type Conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan rpcResponse

	done      chan struct{}
	closeOnce sync.Once
	err       error
	onClose   func(*Conn, error)
}

func newConn(ws *websocket.Conn, onClose func(*Conn, error)) *Conn {
	ws.SetReadLimit(maxMessageBytes)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		cancel:  cancel,
		pending: make(map[uint64]chan rpcResponse),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go c.readLoop(ctx)
	return c
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID == nil {
			// Notifications and malformed frames carry nothing we wait on.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		if c.onClose != nil {
			c.onClose(c, err)
		}
		// The close handshake can wait on the peer; never hold the reader on it.
		go func() {
			_ = c.ws.Close(websocket.StatusNormalClosure, "")
			c.cancel()
		}()
	})
}

// Closed reports whether the session has stopped.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close ends the session.
func (c *Conn) Close() error {
	c.fail(ErrDisconnected)
	return nil
}

// Call sends one request and decodes its result into out (which may be nil).
func (c *Conn) Call(ctx context.Context, method string, params any, out any) error {
	if c.Closed() {
		return c.closedErr()
	}
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() == nil {
			c.fail(err)
		}
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if len(resp.Result) == 0 {
			return fmt.Errorf("%s returned empty result", method)
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Conn) closedErr() error {
	if c.err == nil || errors.Is(c.err, ErrDisconnected) {
		return ErrDisconnected
	}
	return fmt.Errorf("%w: %v", ErrDisconnected, c.err)
}
