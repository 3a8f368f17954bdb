package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

const writeWait = 10 * time.Second

// Options bound a single connection.
type Options struct {
	MaxMessageBytes   int64
	PongWait          time.Duration
	PingPeriod        time.Duration
	SendBuffer        int
	MessagesPerSecond float64
	Burst             int
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// Client is one websocket connection. It implements port.Participant.
type Client struct {
	id      domain.ParticipantID
	hub     *Hub
	conn    *websocket.Conn
	opts    Options
	limiter *rate.Limiter
	log     zerolog.Logger

	mu     sync.Mutex
	send   chan domain.Envelope
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	id := domain.NewParticipantID()

	limit := rate.Inf
	if opts.MessagesPerSecond > 0 {
		limit = rate.Limit(opts.MessagesPerSecond)
	}

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		log:     log.With().Str("client_id", id.String()).Logger(),
		send:    make(chan domain.Envelope, opts.SendBuffer),
	}
}

func (c *Client) ID() domain.ParticipantID {
	return c.id
}

// Send queues env for the write pump without blocking.
func (c *Client) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close drops the underlying connection. The read pump notices and
// unregisters the client.
func (c *Client) Close() error {
	return c.conn.Close()
}

// shutdown stops the write pump. Only the hub calls it.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Serve registers the client and runs both pumps. It returns when the
// connection is gone.
func (c *Client) Serve() {
	if !c.hub.Register(c) {
		c.conn.Close()
		return
	}
	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads frames and hands them to the hub. There is at most one
// reader per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		if !c.limiter.Allow() {
			c.log.Warn().Msg("Rate limit exceeded")
			c.writeClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			c.log.Warn().Int("type", msgType).Msg("Dropping non-text frame")
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		c.hub.dispatch(c, env)
	}
}

// WritePump writes queued frames in order and pings the peer. There is at
// most one writer per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Error().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
