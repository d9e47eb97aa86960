/**
 * @description
 * The Manager owns the relayer's connection to the ledger node. It hands out a cached
 * session, drops it as soon as the session's reader reports a failure, and dials again
 * lazily on the next use. Concurrent dials collapse into one.
 *
 * @dependencies
 * - nhooyr.io/websocket: WebSocket transport.
 * - golang.org/x/sync/singleflight: Dial collapsing.
 */
package ledgerclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"nhooyr.io/websocket"
)

const (
	methodGetHeader     = "chain_getHeader"
	defaultCallTimeout  = 30 * time.Second
	defaultSubmitMethod = "author_submitRelayCall"
)

// Config configures a Manager.
type Config struct {
	Endpoint       string
	CallTimeout    time.Duration
	SubmitMethod   string
	HeightCacheTTL time.Duration
	Signer         *Signer
	Logger         *slog.Logger
	// OnDial runs after every successful dial.
	OnDial func()
}

// Call is a ledger extrinsic ready for submission.
type Call struct {
	Pallet string
	Method string
	Args   []any
}

type callBody struct {
	Pallet string `json:"pallet"`
	Call   string `json:"call"`
	Args   []any  `json:"args"`
}

type signedCall struct {
	callBody
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group

	mu   sync.Mutex
	conn *Conn

	heightMu sync.Mutex
	height   uint64
	heightAt time.Time
	now      func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if strings.TrimSpace(cfg.SubmitMethod) == "" {
		cfg.SubmitMethod = defaultSubmitMethod
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// Endpoint returns the configured node URL.
func (m *Manager) Endpoint() string { return m.cfg.Endpoint }

// SignerAddress returns the relayer signer address, or "" when none is configured.
func (m *Manager) SignerAddress() string { return m.cfg.Signer.Address() }

// IsConnected reports whether a live session is cached. It never dials.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && !m.conn.Closed()
}

// Connection returns the cached session or dials a new one.
func (m *Manager) Connection(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	if m.conn != nil && !m.conn.Closed() {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	result := m.group.DoChan("dial", func() (any, error) {
		// The dial outlives any single caller so a cancelled request cannot fail the others.
		dialCtx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
		defer cancel()
		return m.dial(dialCtx)
	})
	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) dial(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	if m.conn != nil && !m.conn.Closed() {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	ws, _, err := websocket.Dial(ctx, m.cfg.Endpoint, nil)
	if err != nil {
		m.logger.Warn("ledger dial failed", slog.String("endpoint", m.cfg.Endpoint), slog.Any("err", err))
		return nil, fmt.Errorf("dial ledger %s: %w", m.cfg.Endpoint, err)
	}
	conn := newConn(ws, m.dropConn)

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.logger.Info("ledger connected", slog.String("endpoint", m.cfg.Endpoint))
	if m.cfg.OnDial != nil {
		m.cfg.OnDial()
	}
	return conn, nil
}

func (m *Manager) dropConn(conn *Conn, err error) {
	m.mu.Lock()
	dropped := m.conn == conn
	if dropped {
		m.conn = nil
	}
	m.mu.Unlock()
	if dropped && !errors.Is(err, ErrDisconnected) {
		m.logger.Warn("ledger connection lost", slog.String("endpoint", m.cfg.Endpoint), slog.Any("err", err))
	}
}

// Close tears down the cached session, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) call(ctx context.Context, method string, params any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	conn, err := m.Connection(ctx)
	if err != nil {
		return err
	}
	return conn.Call(ctx, method, params, out)
}

// CurrentBlockHeight returns the best block number, cached for HeightCacheTTL.
func (m *Manager) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	if m.cfg.HeightCacheTTL > 0 {
		m.heightMu.Lock()
		if !m.heightAt.IsZero() && m.now().Sub(m.heightAt) < m.cfg.HeightCacheTTL {
			height := m.height
			m.heightMu.Unlock()
			return height, nil
		}
		m.heightMu.Unlock()
	}

	var header struct {
		Number json.RawMessage `json:"number"`
	}
	if err := m.call(ctx, methodGetHeader, []any{}, &header); err != nil {
		return 0, err
	}
	height, err := parseBlockNumber(header.Number)
	if err != nil {
		return 0, err
	}

	m.heightMu.Lock()
	m.height = height
	m.heightAt = m.now()
	m.heightMu.Unlock()
	return height, nil
}

// Submit signs and submits a call, returning the transaction hash.
func (m *Manager) Submit(ctx context.Context, call Call) (string, error) {
	if m.cfg.Signer == nil {
		return "", ErrSignerNotConfigured
	}
	args := call.Args
	if args == nil {
		args = []any{}
	}
	body := callBody{Pallet: call.Pallet, Call: call.Method, Args: args}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode call: %w", err)
	}
	sig, err := m.cfg.Signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign call: %w", err)
	}

	envelope := signedCall{
		callBody:  body,
		Signer:    m.cfg.Signer.Address(),
		Signature: "0x" + hex.EncodeToString(sig),
	}
	var txHash string
	if err := m.call(ctx, m.cfg.SubmitMethod, []any{envelope}, &txHash); err != nil {
		return "", err
	}
	if strings.TrimSpace(txHash) == "" {
		return "", fmt.Errorf("%s returned empty transaction hash", m.cfg.SubmitMethod)
	}
	return txHash, nil
}

// parseBlockNumber accepts the node's hex quantity ("0x1a") or a plain JSON number.
func parseBlockNumber(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("header has no block number")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
			return strconv.ParseUint(text[2:], 16, 64)
		}
		return strconv.ParseUint(text, 10, 64)
	}
	var number uint64
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, fmt.Errorf("invalid block number %s: %w", string(raw), err)
	}
	return number, nil
}
