package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

var ErrSendBufferFull = errors.New("signaling send buffer full")

type Options struct {
	URL        string
	Header     http.Header
	Dialer     *websocket.Dialer
	BackoffMin time.Duration
	BackoffMax time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Transport keeps one websocket to the signaling server alive, redialing
// with jittered exponential backoff. It implements port.SignalingTransport.
type Transport struct {
	opts   Options
	log    zerolog.Logger
	events chan port.TransportEvent

	mu   sync.Mutex
	conn *websocket.Conn
	send chan domain.Envelope

	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		opts:   opts,
		log:    log.With().Str("url", opts.URL).Logger(),
		events: make(chan port.TransportEvent, 64),
		closed: make(chan struct{}),
	}
}

func (t *Transport) Events() <-chan port.TransportEvent {
	return t.events
}

// Run dials and serves connections until ctx is done or Close is called.
// The events channel is closed on return.
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.events)

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	if t.isClosed() {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	retry := backoff.WithContext(t.newBackOff(), dialCtx)
	for {
		conn, _, err := t.opts.Dialer.DialContext(dialCtx, t.opts.URL, t.opts.Header)
		if err != nil {
			if t.isClosed() {
				return ctx.Err()
			}
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				return ctx.Err()
			}
			t.log.Warn().Err(err).Dur("retry_in", wait).Msg("Dial failed")
			if !t.sleep(wait) {
				return ctx.Err()
			}
			continue
		}

		retry.Reset()
		err = t.serve(conn)
		if t.isClosed() {
			return ctx.Err()
		}
		t.log.Warn().Err(err).Msg("Signaling connection lost")
		t.emit(port.TransportEvent{Kind: port.TransportDisconnected, Err: err})
		wait := retry.NextBackOff()
		if wait == backoff.Stop || !t.sleep(wait) {
			return ctx.Err()
		}
	}
}

// newBackOff retries forever with jittered delays between BackoffMin and
// BackoffMax.
func (t *Transport) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.BackoffMin
	b.MaxInterval = t.opts.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Send queues env on the current connection.
func (t *Transport) Send(env domain.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.send == nil {
		return domain.ErrNotConnected
	}
	select {
	case t.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame on the live connection, if any, and stops Run.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		if t.send != nil {
			close(t.send)
			t.send = nil
		}
		if t.cancel != nil {
			t.cancel()
		}
		t.mu.Unlock()
	})
	return nil
}

func (t *Transport) serve(conn *websocket.Conn) error {
	send := make(chan domain.Envelope, t.opts.SendBuffer)

	t.mu.Lock()
	if t.isClosed() {
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	t.conn = conn
	t.send = send
	t.mu.Unlock()

	t.log.Info().Msg("Connected to signaling server")
	t.emit(port.TransportEvent{Kind: port.TransportConnected})

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		t.writePump(conn, send)
	}()

	err := t.readPump(conn)

	t.mu.Lock()
	if t.send == send {
		close(send)
		t.send = nil
	}
	t.conn = nil
	t.mu.Unlock()
	<-writeDone
	return err
}

func (t *Transport) readPump(conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.opts.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			t.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		t.emit(port.TransportEvent{Kind: port.TransportMessage, Envelope: env})
	}
}

func (t *Transport) writePump(conn *websocket.Conn, send <-chan domain.Envelope) {
	ticker := time.NewTicker(t.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				t.log.Error().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *Transport) emit(ev port.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.closed:
	}
}

// sleep waits d and reports false if the transport closed meanwhile.
func (t *Transport) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.closed:
		return false
	}
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
