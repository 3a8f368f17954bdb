package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

const (
	defaultNegotiationTimeout = 30 * time.Second
	eventBuffer               = 64
)

type CoordinatorConfig struct {
	RoomID             domain.RoomID
	NegotiationTimeout time.Duration
	// AutoRejoin recovers from Failed by leaving and re-joining the room.
	AutoRejoin bool
}

type command int

const (
	cmdLeave command = iota
	cmdRejoin
)

// Coordinator drives one participant through joining a room and negotiating
// a peer connection with whoever else is in it. All negotiation work happens
// on the goroutine running Run; native callbacks are posted to it.
type Coordinator struct {
	cfg       CoordinatorConfig
	transport port.SignalingTransport
	engine    port.PeerEngine
	source    port.MediaSource
	log       zerolog.Logger

	events   chan domain.SessionEvent
	inputs   chan func()
	commands chan command
	done     chan struct{}

	mu     sync.RWMutex
	neg    domain.Negotiation
	local  port.LocalMedia
	remote []port.RemoteMedia

	// owned by the Run goroutine
	peer       port.PeerSession
	generation int
	candidates []json.RawMessage
	timer      *time.Timer
	leaving    bool
	terminal   error
}

// NewCoordinator normalizes cfg.RoomID the way the server does and fails if
// the server would reject it.
func NewCoordinator(cfg CoordinatorConfig, transport port.SignalingTransport, engine port.PeerEngine, source port.MediaSource) (*Coordinator, error) {
	roomID, err := domain.ParseRoomID(cfg.RoomID.String())
	if err != nil {
		return nil, fmt.Errorf("room %q: %w", cfg.RoomID, err)
	}
	cfg.RoomID = roomID
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = defaultNegotiationTimeout
	}
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		engine:    engine,
		source:    source,
		log:       log.With().Str("room_id", cfg.RoomID.String()).Logger(),
		events:    make(chan domain.SessionEvent, eventBuffer),
		inputs:    make(chan func(), eventBuffer),
		commands:  make(chan command, 8),
		done:      make(chan struct{}),
	}, nil
}

// Events reports state changes, remote tracks and errors. It is closed when
// Run returns.
func (c *Coordinator) Events() <-chan domain.SessionEvent {
	return c.events
}

func (c *Coordinator) State() domain.NegotiationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.neg.State
}

// Negotiation returns a snapshot of the session state.
func (c *Coordinator) Negotiation() domain.Negotiation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.neg
}

// LocalMedia is nil until Run has acquired capture.
func (c *Coordinator) LocalMedia() port.LocalMedia {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

func (c *Coordinator) RemoteTracks() []port.RemoteMedia {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]port.RemoteMedia(nil), c.remote...)
}

func (c *Coordinator) SetAudioEnabled(enabled bool) { c.setEnabled(domain.MediaAudio, enabled) }
func (c *Coordinator) SetVideoEnabled(enabled bool) { c.setEnabled(domain.MediaVideo, enabled) }

func (c *Coordinator) setEnabled(kind domain.MediaKind, enabled bool) {
	if m := c.LocalMedia(); m != nil {
		m.SetEnabled(kind, enabled)
	}
}

// Leave ends the session. Run returns nil once teardown is complete.
func (c *Coordinator) Leave() { c.command(cmdLeave) }

// Rejoin drops the current peer and joins the room again.
func (c *Coordinator) Rejoin() { c.command(cmdRejoin) }

func (c *Coordinator) command(cmd command) {
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}

// Run acquires local media, connects to the signaling server and negotiates
// until Leave is called, ctx is done or the session hits a terminal error
// (media denied, room full).
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.events)
	defer close(c.done)

	local, err := c.source.Acquire(ctx)
	if err != nil {
		c.emitError(err)
		return fmt.Errorf("acquire media: %w", err)
	}
	c.mu.Lock()
	c.local = local
	c.mu.Unlock()

	runErr := make(chan error, 1)
	go func() { runErr <- c.transport.Run(ctx) }()

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			c.step(domain.Trigger{Kind: domain.TriggerLeave}, nil)
			c.drain(events)
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				c.stopTimer()
				c.closePeer()
				local.Stop()
				if c.terminal != nil {
					return c.terminal
				}
				if c.leaving {
					return nil
				}
				if err := <-runErr; err != nil {
					return fmt.Errorf("signaling: %w", err)
				}
				return domain.ErrSessionClosed
			}
			c.handleTransport(ev)

		case fn := <-c.inputs:
			fn()

		case cmd := <-c.commands:
			switch cmd {
			case cmdLeave:
				c.step(domain.Trigger{Kind: domain.TriggerLeave}, nil)
			case cmdRejoin:
				c.step(domain.Trigger{Kind: domain.TriggerRejoin}, nil)
			}

		case <-c.timerC():
			c.timer = nil
			c.log.Warn().Str("state", c.neg.State.String()).Msg("Negotiation timed out")
			c.step(domain.Trigger{Kind: domain.TriggerTimeout}, nil)
		}
	}
}

func (c *Coordinator) drain(events <-chan port.TransportEvent) {
	for range events {
	}
}

func (c *Coordinator) handleTransport(ev port.TransportEvent) {
	switch ev.Kind {
	case port.TransportConnected:
		c.step(domain.Trigger{Kind: domain.TriggerConnected}, nil)
	case port.TransportDisconnected:
		c.log.Warn().Err(ev.Err).Msg("Signaling disconnected")
		c.step(domain.Trigger{Kind: domain.TriggerDisconnected}, nil)
	case port.TransportMessage:
		if err := c.handleMessage(ev.Envelope); err != nil {
			c.log.Warn().Err(err).Str("event", string(ev.Envelope.Event)).Msg("Dropping signaling message")
		}
	}
}

func (c *Coordinator) handleMessage(env domain.Envelope) error {
	switch env.Event {
	case domain.EventWelcome:
		var w domain.Welcome
		if err := env.Decode(&w); err != nil {
			return err
		}
		c.step(domain.Trigger{Kind: domain.TriggerWelcome, Peer: w.PeerID}, nil)

	case domain.EventJoined:
		var j domain.Joined
		if err := env.Decode(&j); err != nil {
			return err
		}
		if j.RoomID != c.cfg.RoomID {
			err := fmt.Errorf("%w: joined %q, want %q", domain.ErrUnexpectedRoom, j.RoomID, c.cfg.RoomID)
			c.emitError(err)
			return err
		}
		t := domain.Trigger{Kind: domain.TriggerJoined, Role: j.Role}
		if len(j.Peers) > 0 {
			t.Peer = j.Peers[0]
		}
		c.step(t, nil)

	case domain.EventPeerConnected:
		var pc domain.PeerConnected
		if err := env.Decode(&pc); err != nil {
			return err
		}
		c.step(domain.Trigger{Kind: domain.TriggerPeerConnected, Peer: pc.PeerID, Role: pc.Role}, nil)

	case domain.EventPeerLeft:
		var pl domain.PeerLeft
		if err := env.Decode(&pl); err != nil {
			return err
		}
		c.step(domain.Trigger{Kind: domain.TriggerPeerLeft, Peer: pl.PeerID}, nil)

	case domain.EventOffer, domain.EventAnswer, domain.EventIceCandidate:
		var in domain.Inbound
		if err := env.Decode(&in); err != nil {
			return err
		}
		kind, payload := domain.TriggerOffer, in.SDP
		switch env.Event {
		case domain.EventAnswer:
			kind = domain.TriggerAnswer
		case domain.EventIceCandidate:
			kind, payload = domain.TriggerCandidate, in.Candidate
		}
		if len(payload) == 0 {
			return fmt.Errorf("%w: %s without payload", domain.ErrMalformedFrame, env.Event)
		}
		c.step(domain.Trigger{Kind: kind, Peer: in.Caller}, payload)

	case domain.EventError:
		var e domain.ErrorPayload
		if err := env.Decode(&e); err != nil {
			return err
		}
		return c.serverError(e)

	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Event)
	}
	return nil
}

// serverError ends the session for errors the room will keep returning.
func (c *Coordinator) serverError(e domain.ErrorPayload) error {
	var err error
	switch e.Code {
	case domain.CodeRoomFull:
		err = domain.ErrRoomFull
	case domain.CodeInvalidRoom:
		err = domain.ErrInvalidRoom
	default:
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	c.log.Error().Err(err).Str("code", string(e.Code)).Msg("Server rejected join")
	c.emitError(err)
	c.terminal = err
	c.teardown(false)
	return nil
}

// step feeds one trigger through the negotiation machine and performs the
// resulting action.
func (c *Coordinator) step(t domain.Trigger, payload json.RawMessage) {
	prev := c.neg
	next, action, err := prev.Apply(t)
	if err != nil {
		var pe *domain.ProtocolError
		if errors.As(err, &pe) {
			c.log.Warn().Str("event", string(pe.Event)).Str("state", pe.State.String()).Msg(pe.Reason)
		}
		c.emitError(err)
		return
	}
	c.setNegotiation(next)

	if next.State != prev.State || next.Peer != prev.Peer || next.Role != prev.Role {
		c.log.Debug().Str("from", prev.State.String()).Str("to", next.State.String()).Str("peer_id", next.Peer.String()).Msg("Negotiation state")
		c.emit(domain.SessionEvent{Kind: domain.SessionStateChanged, State: next.State, Role: next.Role, Peer: next.Peer})
	}
	if next.State != prev.State || next.Established != prev.Established {
		c.armTimer(next)
	}

	if err := c.perform(action, payload); err != nil {
		c.log.Error().Err(err).Str("state", c.neg.State.String()).Msg("Negotiation step failed")
		c.emitError(err)
		if action != domain.ActionApplyCandidate {
			c.step(domain.Trigger{Kind: domain.TriggerLinkFailed}, nil)
		}
	}
	c.flushCandidates()

	if c.neg.State == domain.StateFailed && prev.State != domain.StateFailed && c.cfg.AutoRejoin {
		c.log.Info().Msg("Rejoining after failure")
		c.step(domain.Trigger{Kind: domain.TriggerRejoin}, nil)
	}
}

func (c *Coordinator) perform(action domain.Action, payload json.RawMessage) error {
	ctx := context.Background()
	switch action {
	case domain.ActionJoin:
		c.send(domain.EventJoinRoom, domain.JoinRoom{RoomID: c.cfg.RoomID.String()})

	case domain.ActionCreateOffer:
		peer, err := c.ensurePeer()
		if err != nil {
			return err
		}
		offer, err := peer.CreateOffer(ctx)
		if err != nil {
			return err
		}
		c.signal(domain.EventOffer, offer)
		c.step(domain.Trigger{Kind: domain.TriggerOfferSent}, nil)

	case domain.ActionCreateAnswer:
		peer, err := c.ensurePeer()
		if err != nil {
			return err
		}
		answer, err := peer.CreateAnswer(ctx, payload)
		if err != nil {
			return err
		}
		c.signal(domain.EventAnswer, answer)
		c.step(domain.Trigger{Kind: domain.TriggerAnswerSent}, nil)

	case domain.ActionApplyAnswer:
		if c.peer == nil {
			return errors.New("answer without a peer connection")
		}
		return c.peer.ApplyAnswer(ctx, payload)

	case domain.ActionApplyCandidate:
		peer, err := c.ensurePeer()
		if err != nil {
			return err
		}
		return peer.AddCandidate(payload)

	case domain.ActionResetPeer:
		c.closePeer()

	case domain.ActionRejoin:
		c.closePeer()
		c.send(domain.EventLeaveRoom, struct{}{})
		c.send(domain.EventJoinRoom, domain.JoinRoom{RoomID: c.cfg.RoomID.String()})

	case domain.ActionTeardown:
		c.teardown(true)

	case domain.ActionEstablished:
		c.log.Info().Str("peer_id", c.neg.Peer.String()).Msg("Peer connection established")
		c.emit(domain.SessionEvent{Kind: domain.SessionEstablished, State: c.neg.State, Role: c.neg.Role, Peer: c.neg.Peer})
	}
	return nil
}

// teardown closes everything; Run returns once the transport is gone.
func (c *Coordinator) teardown(announce bool) {
	if c.leaving {
		return
	}
	c.leaving = true
	if announce {
		c.send(domain.EventLeaveRoom, struct{}{})
	}
	c.stopTimer()
	c.closePeer()
	if m := c.LocalMedia(); m != nil {
		m.Stop()
	}
	if err := c.transport.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Error closing signaling transport")
	}
}

func (c *Coordinator) ensurePeer() (port.PeerSession, error) {
	if c.peer != nil {
		return c.peer, nil
	}
	c.generation++
	gen := c.generation
	h := port.PeerHandlers{
		OnCandidate: func(raw json.RawMessage) {
			c.post(gen, func() { c.candidates = append(c.candidates, raw) })
		},
		OnRemoteTrack: func(r port.RemoteMedia) {
			c.post(gen, func() { c.remoteTrack(r) })
		},
		OnLinkState: func(s domain.LinkState) {
			c.post(gen, func() { c.linkState(s) })
		},
	}
	peer, err := c.engine.NewPeer(h, c.LocalMedia())
	if err != nil {
		return nil, fmt.Errorf("new peer: %w", err)
	}
	c.peer = peer
	return peer, nil
}

// post runs fn on the loop unless the peer it came from has been replaced.
func (c *Coordinator) post(gen int, fn func()) {
	wrapped := func() {
		if gen != c.generation || c.peer == nil {
			return
		}
		fn()
		c.flushCandidates()
	}
	select {
	case c.inputs <- wrapped:
	case <-c.done:
	}
}

func (c *Coordinator) closePeer() {
	c.candidates = nil
	c.mu.Lock()
	c.remote = nil
	c.mu.Unlock()
	if c.peer == nil {
		return
	}
	if err := c.peer.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Error closing peer connection")
	}
	c.peer = nil
	c.generation++
}

// flushCandidates relays local candidates once the peer is known.
func (c *Coordinator) flushCandidates() {
	if c.neg.Peer == "" || len(c.candidates) == 0 {
		return
	}
	for _, raw := range c.candidates {
		c.signal(domain.EventIceCandidate, raw)
	}
	c.candidates = nil
}

func (c *Coordinator) remoteTrack(r port.RemoteMedia) {
	c.mu.Lock()
	c.remote = append(c.remote, r)
	c.mu.Unlock()
	info := r.Info()
	c.log.Info().Str("kind", string(info.Kind)).Str("track_id", info.ID).Msg("Remote track")
	c.emit(domain.SessionEvent{Kind: domain.SessionRemoteTrack, State: c.neg.State, Peer: c.neg.Peer, Track: info})
}

func (c *Coordinator) linkState(s domain.LinkState) {
	c.log.Debug().Str("link", s.String()).Msg("Link state")
	switch s {
	case domain.LinkConnected:
		c.step(domain.Trigger{Kind: domain.TriggerLinkUp}, nil)
	case domain.LinkFailed:
		c.step(domain.Trigger{Kind: domain.TriggerLinkFailed}, nil)
	}
}

func (c *Coordinator) signal(kind domain.SignalKind, payload json.RawMessage) {
	env, err := domain.Signal{Kind: kind, Target: c.neg.Peer, Payload: payload}.Outgoing()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode signal")
		return
	}
	if err := c.transport.Send(env); err != nil {
		c.log.Warn().Err(err).Str("event", string(kind)).Msg("Failed to send signal")
	}
}

func (c *Coordinator) send(ev domain.Event, data any) {
	env, err := domain.NewEnvelope(ev, data)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode message")
		return
	}
	if err := c.transport.Send(env); err != nil {
		c.log.Warn().Err(err).Str("event", string(ev)).Msg("Failed to send message")
	}
}

func (c *Coordinator) setNegotiation(n domain.Negotiation) {
	c.mu.Lock()
	c.neg = n
	c.mu.Unlock()
}

// armTimer bounds the time spent in each negotiating state.
func (c *Coordinator) armTimer(n domain.Negotiation) {
	c.stopTimer()
	if n.Negotiating() {
		c.timer = time.NewTimer(c.cfg.NegotiationTimeout)
	}
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) timerC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

func (c *Coordinator) emit(ev domain.SessionEvent) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn().Str("kind", string(ev.Kind)).Msg("Session event dropped, consumer too slow")
	}
}

func (c *Coordinator) emitError(err error) {
	c.emit(domain.SessionEvent{Kind: domain.SessionError, State: c.State(), Err: err})
}
