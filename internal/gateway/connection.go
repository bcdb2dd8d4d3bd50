package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ErrTerminal is returned once the connection has given up: either the
// network logged the session out or the reconnect ceiling was exhausted.
var ErrTerminal = errors.New("gateway connection is terminal")

// ErrNotConnected is returned by sends while no session is established.
var ErrNotConnected = errors.New("gateway not connected")

// Handler receives each normalized inbound message exactly once per event
// id (redelivered ids are dropped before dispatch).
type Handler func(ctx context.Context, message domain.Message)

type Config struct {
	URL   string
	Token string

	ReconnectCeiling int
	ReconnectDelay   time.Duration

	// MediaDir scopes attachment downloads; empty means the OS temp dir.
	MediaDir string

	DedupeTTL  time.Duration
	DedupeSize int

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.ReconnectCeiling <= 0 {
		c.ReconnectCeiling = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 10 * time.Minute
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = 4096
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// Connection maintains exactly one logical session with the messaging
// network. It normalizes inbound payloads into canonical messages, sends
// outbound replies, and owns the reconnect-with-ceiling policy.
type Connection struct {
	cfg     Config
	creds   *CredentialStore
	handler Handler
	logger  *zap.Logger
	dialer  *websocket.Dialer
	seen    *expirable.LRU[string, struct{}]

	mu                sync.Mutex
	conn              *websocket.Conn
	status            Status
	reconnectAttempts int
	terminal          bool

	writeMu sync.Mutex
}

func NewConnection(cfg Config, creds *CredentialStore, handler Handler, logger *zap.Logger) *Connection {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		cfg:     cfg,
		creds:   creds,
		handler: handler,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		seen:    expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeTTL),
		status:  StatusDisconnected,
	}
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts
}

// Connect performs one connection attempt. A failed attempt schedules the
// next one after the configured delay while the attempt counter stays below
// the ceiling; exhausting the ceiling is terminal and requires operator
// intervention.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return ErrTerminal
	}
	if c.status == StatusConnected {
		// An established session stays in place; redialing here would
		// leak the open socket and its read loop.
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("gateway connect failed", zap.Error(err))
		c.scheduleReconnect(ctx)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	c.reconnectAttempts = 0
	c.mu.Unlock()
	c.logger.Info("gateway connected", zap.String("url", c.cfg.URL))

	go c.readLoop(ctx, conn)
	return nil
}

// dial establishes the websocket and runs the verification handshake: the
// network sends a challenge nonce, we answer with its HMAC under the shared
// token, and no inbound traffic is accepted before the ready frame.
func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.creds != nil {
		blob, err := c.creds.Load()
		if err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			header.Set("X-Session-Credentials", string(blob))
		}
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Connection) handshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(10 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	var challenge envelope
	if err := conn.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	if challenge.Type != frameChallenge || challenge.Nonce == "" {
		return fmt.Errorf("unexpected handshake frame %q", challenge.Type)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.Token))
	mac.Write([]byte(challenge.Nonce))
	response := outboundFrame{
		Type:     frameChallengeResponse,
		Response: hex.EncodeToString(mac.Sum(nil)),
	}
	if err := conn.WriteJSON(response); err != nil {
		return fmt.Errorf("write challenge response: %w", err)
	}

	var ready envelope
	if err := conn.ReadJSON(&ready); err != nil {
		return fmt.Errorf("read handshake result: %w", err)
	}
	if ready.Type != frameReady {
		return fmt.Errorf("handshake rejected with frame %q", ready.Type)
	}
	return nil
}

func (c *Connection) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	c.conn = nil
	c.status = StatusDisconnected
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	if attempts >= c.cfg.ReconnectCeiling {
		c.terminal = true
		c.mu.Unlock()
		c.logger.Error("gateway reconnect ceiling exhausted, operator intervention required",
			zap.Int("attempts", attempts))
		return
	}
	c.mu.Unlock()

	c.logger.Warn("gateway reconnect scheduled",
		zap.Int("attempt", attempts),
		zap.Duration("delay", c.cfg.ReconnectDelay))
	time.AfterFunc(c.cfg.ReconnectDelay, func() {
		if ctx.Err() != nil {
			return
		}
		_ = c.Connect(ctx)
	})
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			terminal := c.terminal
			c.mu.Unlock()
			if terminal || ctx.Err() != nil {
				return
			}
			// Anything but an explicit logout is a transient disconnect.
			c.logger.Warn("gateway session lost", zap.Error(err))
			c.scheduleReconnect(ctx)
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Connection) handleFrame(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("undecodable gateway frame dropped", zap.Error(err))
		return
	}

	switch env.Type {
	case frameMessage:
		c.handleInbound(ctx, env)
	case frameCredentials:
		if c.creds == nil {
			return
		}
		if err := c.creds.Save(env.Credentials); err != nil {
			c.logger.Error("persisting rotated credentials failed", zap.Error(err))
			return
		}
		c.logger.Info("gateway credentials rotated")
	case frameLogout:
		c.mu.Lock()
		c.terminal = true
		c.status = StatusDisconnected
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		c.logger.Warn("gateway logged out, not reconnecting", zap.String("reason", env.Reason))
	default:
		c.logger.Warn("unsupported gateway frame dropped", zap.String("type", env.Type))
	}
}

func (c *Connection) handleInbound(ctx context.Context, env envelope) {
	id := env.ID
	if id == "" {
		id = newEventID()
	}
	if _, dup := c.seen.Get(id); dup {
		c.logger.Debug("duplicate inbound event dropped", zap.String("id", id))
		return
	}

	message, err := c.normalize(ctx, id, env)
	if err != nil {
		// Not marked seen: redelivery of the same id gets another
		// normalization attempt, which is the only recovery path for a
		// failed attachment download.
		c.logger.Warn("inbound payload dropped",
			zap.String("id", id),
			zap.String("kind", env.Kind),
			zap.Error(err))
		return
	}
	c.seen.Add(id, struct{}{})
	c.handler(ctx, message)
}

// Close tears the session down without entering the reconnect policy.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.terminal = true
	c.status = StatusDisconnected
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
