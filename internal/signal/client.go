// Package signal is the client side of the relay's signaling channel: one
// persistent websocket per session carrying typed control frames.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
)

const (
	defaultHandshakeTimeout = 3 * time.Second
	defaultWriteDeadline    = 5 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultPongWait         = 30 * time.Second
	defaultSendBuffer       = 64

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signal client closed")
	ErrAuthRejected = errors.New("relay rejected auth token")
)

type Handler func(Envelope)

// Client owns the websocket to the relay for exactly one session. Connect is
// idempotent; Close is idempotent and releases all handlers. Reconnects are
// the client's own business and only surface through Connected().
type Client struct {
	url       string
	token     string
	sessionID domain.SessionID
	selfID    domain.ParticipantID
	log       zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	runCtx context.Context
	cancel context.CancelFunc
	// connCancel stops the pumps of the current socket only; the session
	// context stays alive across reconnects.
	connCancel context.CancelFunc
	connected  bool
	closed     bool

	hmu      sync.RWMutex
	handlers map[MessageType]Handler
	onDown   func(error)
}

func NewClient(url, token string, sessionID domain.SessionID, selfID domain.ParticipantID) *Client {
	return &Client{
		url:       url,
		token:     token,
		sessionID: sessionID,
		selfID:    selfID,
		log:       log.With().Str("module", "signal").Str("session", string(sessionID)).Logger(),
		handlers:  make(map[MessageType]Handler),
	}
}

// On registers the handler for one message kind, replacing any previous one.
// Handlers run on the read loop, so per-sender receipt order is preserved.
func (c *Client) On(t MessageType, h Handler) {
	c.hmu.Lock()
	c.handlers[t] = h
	c.hmu.Unlock()
}

// OnDown registers the hook invoked when the transport goes down for good
// (explicit Close or fatal auth failure).
func (c *Client) OnDown(fn func(error)) {
	c.hmu.Lock()
	c.onDown = fn
	c.hmu.Unlock()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the relay and announces presence. Calling it again while the
// session is live is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		c.log.Debug().Msg("connect: already connected")
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	connCtx, connCancel := context.WithCancel(runCtx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		connCancel()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.send = make(chan []byte, defaultSendBuffer)
	c.runCtx = runCtx
	c.cancel = cancel
	c.connCancel = connCancel
	c.connected = true
	c.mu.Unlock()

	go c.writePump(connCtx, conn, c.send)
	go c.readPump(connCtx, conn)

	c.log.Info().Msg("connected to relay")
	return c.Send(TypeJoinSession, JoinSessionPayload{SessionID: c.sessionID})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthRejected
		}
		return nil, err
	}
	return conn, nil
}

// Send marshals payload into an Envelope and queues it. A full send buffer
// returns ErrBackpressure instead of blocking the caller.
func (c *Client) Send(t MessageType, payload any) error {
	return c.SendTo("", t, payload)
}

// SendTo targets one remote participant via the relay.
func (c *Client) SendTo(to domain.ParticipantID, t MessageType, payload any) error {
	env := Envelope{Type: t, To: string(to), From: string(c.selfID)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close tears the channel down once: stops both pumps, closes the socket and
// drops every registered handler. Dependent state (peer links) is released
// through the OnDown hook.
func (c *Client) Close() {
	c.shutdown(nil)
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.hmu.Lock()
	c.handlers = make(map[MessageType]Handler)
	down := c.onDown
	c.hmu.Unlock()

	c.log.Info().Msg("signal channel closed")
	if down != nil {
		down(cause)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Error().Err(err).Msg("writePump ping")
				return
			}
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(defaultPongWait))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.onReadError(err)
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Error().Err(err).Msg("bad json frame")
		return
	}
	if !env.Type.Known() {
		c.log.Warn().Str("type", string(env.Type)).Msg("unknown message kind")
		return
	}

	c.hmu.RLock()
	h := c.handlers[env.Type]
	c.hmu.RUnlock()
	if h == nil {
		c.log.Debug().Str("type", string(env.Type)).Msg("no handler registered")
		return
	}
	h(env)
}

// onReadError runs the reconnect loop. Connectivity errors are retried with
// backoff; the session's in-memory state stays put while the flag is down.
func (c *Client) onReadError(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	// The dead socket's writePump must stop before replacements start, or two
	// pumps end up draining the same send channel.
	if c.connCancel != nil {
		c.connCancel()
	}
	ctx := c.runCtx
	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("signal channel lost, reconnecting")

	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				c.shutdown(err)
				return
			}
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect failed")
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		connCtx, connCancel := context.WithCancel(ctx)
		c.conn = conn
		c.connCancel = connCancel
		c.connected = true
		c.mu.Unlock()

		go c.readPump(connCtx, conn)
		go c.writePump(connCtx, conn, c.send)

		c.log.Info().Msg("reconnected to relay")
		_ = c.Send(TypeJoinSession, JoinSessionPayload{SessionID: c.sessionID})
		return
	}
}
