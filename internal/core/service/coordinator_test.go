package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

type fakeTransport struct {
	events chan port.TransportEvent
	sent   chan domain.Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan port.TransportEvent, 32),
		sent:   make(chan domain.Envelope, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Run(ctx context.Context) error {
	defer close(f.events)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return nil
	}
}

func (f *fakeTransport) Send(env domain.Envelope) error {
	select {
	case <-f.closed:
		return domain.ErrNotConnected
	default:
	}
	select {
	case f.sent <- env:
		return nil
	default:
		return errors.New("fake send buffer full")
	}
}

func (f *fakeTransport) Events() <-chan port.TransportEvent { return f.events }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakePeer struct {
	handlers port.PeerHandlers

	mu         sync.Mutex
	offers     []json.RawMessage
	answers    []json.RawMessage
	candidates []json.RawMessage
	closed     bool
	offerErr   error
}

func (p *fakePeer) CreateOffer(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return nil, p.offerErr
	}
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (p *fakePeer) CreateAnswer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, offer)
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (p *fakePeer) ApplyAnswer(_ context.Context, answer json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, answer)
	return nil
}

func (p *fakePeer) AddCandidate(c json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

type fakeEngine struct {
	peers    chan *fakePeer
	offerErr error
}

func (e *fakeEngine) NewPeer(h port.PeerHandlers, _ port.LocalMedia) (port.PeerSession, error) {
	p := &fakePeer{handlers: h, offerErr: e.offerErr}
	e.peers <- p
	return p, nil
}

type fakeTrack struct {
	kind    domain.MediaKind
	enabled atomic.Bool
}

func (t *fakeTrack) ID() string              { return string(t.kind) }
func (t *fakeTrack) Kind() domain.MediaKind  { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

type fakeMedia struct {
	audio, video *fakeTrack
	stopped      atomic.Bool
}

func newFakeMedia() *fakeMedia {
	m := &fakeMedia{audio: &fakeTrack{kind: domain.MediaAudio}, video: &fakeTrack{kind: domain.MediaVideo}}
	m.audio.enabled.Store(true)
	m.video.enabled.Store(true)
	return m
}

func (m *fakeMedia) Tracks() []port.LocalTrack { return []port.LocalTrack{m.audio, m.video} }
func (m *fakeMedia) Stop()                     { m.stopped.Store(true) }

func (m *fakeMedia) SetEnabled(kind domain.MediaKind, enabled bool) {
	for _, t := range []*fakeTrack{m.audio, m.video} {
		if t.kind == kind {
			t.SetEnabled(enabled)
		}
	}
}

type fakeSource struct {
	media *fakeMedia
	err   error
}

func (s fakeSource) Acquire(context.Context) (port.LocalMedia, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.media, nil
}

type harness struct {
	t         *testing.T
	c         *Coordinator
	transport *fakeTransport
	engine    *fakeEngine
	media     *fakeMedia
	done      chan error
}

const testRoom = domain.RoomID("consult-1")

func startCoordinator(t *testing.T, cfg CoordinatorConfig, source port.MediaSource) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		engine:    &fakeEngine{peers: make(chan *fakePeer, 8)},
		done:      make(chan error, 1),
	}
	if source == nil {
		h.media = newFakeMedia()
		source = fakeSource{media: h.media}
	}
	if cfg.RoomID == "" {
		cfg.RoomID = testRoom
	}
	c, err := NewCoordinator(cfg, h.transport, h.engine, source)
	require.NoError(t, err)
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- h.c.Run(ctx) }()
	return h
}

func (h *harness) connect() {
	h.transport.events <- port.TransportEvent{Kind: port.TransportConnected}
	h.expectSent(domain.EventJoinRoom, nil)
}

func (h *harness) deliver(ev domain.Event, data any) {
	h.t.Helper()
	env, err := domain.NewEnvelope(ev, data)
	require.NoError(h.t, err)
	h.transport.events <- port.TransportEvent{Kind: port.TransportMessage, Envelope: env}
}

func (h *harness) expectSent(ev domain.Event, v any) {
	h.t.Helper()
	select {
	case env := <-h.transport.sent:
		require.Equal(h.t, ev, env.Event, "sent %s", env.Data)
		if v != nil {
			require.NoError(h.t, env.Decode(v))
		}
	case <-time.After(2 * time.Second):
		h.t.Fatalf("nothing sent, want %s", ev)
	}
}

func (h *harness) expectNothingSent() {
	h.t.Helper()
	select {
	case env := <-h.transport.sent:
		h.t.Fatalf("unexpected %s %s", env.Event, env.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) waitState(want domain.NegotiationState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.c.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state %s, want %s", h.c.State(), want)
}

func (h *harness) nextPeer() *fakePeer {
	h.t.Helper()
	select {
	case p := <-h.engine.peers:
		return p
	case <-time.After(2 * time.Second):
		h.t.Fatal("no peer connection created")
		return nil
	}
}

func (h *harness) waitEvent(kind domain.SessionEventKind) domain.SessionEvent {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("no %s event", kind)
			return domain.SessionEvent{}
		}
	}
}

func (h *harness) leave() {
	h.t.Helper()
	h.c.Leave()
	select {
	case err := <-h.done:
		require.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after Leave")
	}
}

// joinAsResponder walks the first participant up to an answered offer.
func (h *harness) joinAsResponder(caller domain.ParticipantID) *fakePeer {
	h.t.Helper()
	h.connect()
	h.deliver(domain.EventWelcome, domain.Welcome{PeerID: "self"})
	h.deliver(domain.EventJoined, domain.Joined{RoomID: testRoom, PeerID: "self", Role: domain.RoleResponder, Peers: []domain.ParticipantID{}})
	h.deliver(domain.EventPeerConnected, domain.PeerConnected{PeerID: caller, Role: domain.RoleInitiator})
	h.deliver(domain.EventOffer, domain.Inbound{SDP: json.RawMessage(`{"type":"offer","sdp":"remote"}`), Caller: caller})

	peer := h.nextPeer()
	var answer domain.Outbound
	h.expectSent(domain.EventAnswer, &answer)
	require.Equal(h.t, caller, answer.Target)
	h.waitState(domain.StateConnected)
	return peer
}

func TestCoordinator_ResponderAnswersOffer(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	peer := h.joinAsResponder("initiator")

	assert.Equal(t, domain.RoleResponder, h.c.Negotiation().Role)
	assert.JSONEq(t, `{"type":"offer","sdp":"remote"}`, string(peer.offers[0]))

	peer.handlers.OnCandidate(json.RawMessage(`{"candidate":"local"}`))
	var out domain.Outbound
	h.expectSent(domain.EventIceCandidate, &out)
	assert.Equal(t, domain.ParticipantID("initiator"), out.Target)
	assert.JSONEq(t, `{"candidate":"local"}`, string(out.Candidate))

	h.deliver(domain.EventIceCandidate, domain.Inbound{Candidate: json.RawMessage(`{"candidate":"remote"}`), Caller: "initiator"})
	require.Eventually(t, func() bool { return peer.candidateCount() == 1 }, time.Second, 5*time.Millisecond)

	peer.handlers.OnLinkState(domain.LinkConnected)
	ev := h.waitEvent(domain.SessionEstablished)
	assert.Equal(t, domain.ParticipantID("initiator"), ev.Peer)
	assert.True(t, h.c.Negotiation().Established)

	h.leave()
}

func TestCoordinator_InitiatorOffers(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	h.connect()
	h.deliver(domain.EventJoined, domain.Joined{RoomID: testRoom, PeerID: "self", Role: domain.RoleInitiator, Peers: []domain.ParticipantID{"first"}})

	peer := h.nextPeer()
	var offer domain.Outbound
	h.expectSent(domain.EventOffer, &offer)
	assert.Equal(t, domain.ParticipantID("first"), offer.Target)
	h.waitState(domain.StateAwaitingAnswer)

	h.deliver(domain.EventAnswer, domain.Inbound{SDP: json.RawMessage(`{"type":"answer","sdp":"x"}`), Caller: "first"})
	h.waitState(domain.StateConnected)
	peer.mu.Lock()
	assert.Len(t, peer.answers, 1)
	peer.mu.Unlock()

	h.leave()
}

func TestCoordinator_RoomIDIsNormalized(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{RoomID: " consult-1 \t"}, nil)
	h.transport.events <- port.TransportEvent{Kind: port.TransportConnected}
	var join domain.JoinRoom
	h.expectSent(domain.EventJoinRoom, &join)
	assert.Equal(t, testRoom.String(), join.RoomID)

	h.deliver(domain.EventJoined, domain.Joined{RoomID: testRoom, PeerID: "self", Role: domain.RoleInitiator, Peers: []domain.ParticipantID{"first"}})
	h.nextPeer()
	h.expectSent(domain.EventOffer, nil)
	h.waitState(domain.StateAwaitingAnswer)

	h.leave()
}

func TestCoordinator_JoinedOtherRoomIsReported(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	h.connect()
	h.deliver(domain.EventJoined, domain.Joined{RoomID: "consult-2", PeerID: "self", Role: domain.RoleInitiator, Peers: []domain.ParticipantID{"first"}})

	ev := h.waitEvent(domain.SessionError)
	assert.ErrorIs(t, ev.Err, domain.ErrUnexpectedRoom)
	assert.Equal(t, domain.StateJoining, h.c.State())
	h.expectNothingSent()

	h.leave()
}

func TestNewCoordinator_RejectsInvalidRoom(t *testing.T) {
	for _, room := range []domain.RoomID{"", "  ", "consult-\xff"} {
		_, err := NewCoordinator(CoordinatorConfig{RoomID: room}, newFakeTransport(), &fakeEngine{}, fakeSource{})
		assert.ErrorIs(t, err, domain.ErrInvalidRoom, "room %q", room)
	}
}

func TestCoordinator_DuplicateCandidatesAreApplied(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	peer := h.joinAsResponder("initiator")

	cand := domain.Inbound{Candidate: json.RawMessage(`{"candidate":"same"}`), Caller: "initiator"}
	h.deliver(domain.EventIceCandidate, cand)
	h.deliver(domain.EventIceCandidate, cand)
	require.Eventually(t, func() bool { return peer.candidateCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StateConnected, h.c.State())

	h.leave()
}

func TestCoordinator_ProtocolViolationsKeepRunning(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	h.connect()
	h.deliver(domain.EventJoined, domain.Joined{RoomID: testRoom, Role: domain.RoleResponder})

	h.deliver(domain.EventAnswer, domain.Inbound{SDP: json.RawMessage(`{}`), Caller: "someone"})
	ev := h.waitEvent(domain.SessionError)
	var pe *domain.ProtocolError
	require.ErrorAs(t, ev.Err, &pe)
	assert.Equal(t, domain.EventAnswer, pe.Event)
	assert.Equal(t, domain.StateJoining, h.c.State())

	h.deliver(domain.EventIceCandidate, domain.Inbound{Candidate: json.RawMessage(`{}`), Caller: "stranger"})
	ev = h.waitEvent(domain.SessionError)
	require.ErrorAs(t, ev.Err, &pe)
	assert.Equal(t, domain.EventIceCandidate, pe.Event)
	h.expectNothingSent()

	h.leave()
}

func TestCoordinator_PeerLeftResetsToWaiting(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	first := h.joinAsResponder("initiator")

	h.deliver(domain.EventPeerLeft, domain.PeerLeft{PeerID: "initiator"})
	h.waitState(domain.StateJoining)
	assert.True(t, first.isClosed())
	assert.Equal(t, domain.ParticipantID(""), h.c.Negotiation().Peer)

	h.deliver(domain.EventPeerConnected, domain.PeerConnected{PeerID: "second", Role: domain.RoleInitiator})
	h.deliver(domain.EventOffer, domain.Inbound{SDP: json.RawMessage(`{"type":"offer","sdp":"2"}`), Caller: "second"})
	second := h.nextPeer()
	var answer domain.Outbound
	h.expectSent(domain.EventAnswer, &answer)
	assert.Equal(t, domain.ParticipantID("second"), answer.Target)
	assert.NotSame(t, first, second)

	// callbacks from the closed peer are ignored
	first.handlers.OnCandidate(json.RawMessage(`{"candidate":"stale"}`))
	h.expectNothingSent()

	h.leave()
}

func TestCoordinator_TimeoutFailsAndRejoin(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{NegotiationTimeout: 50 * time.Millisecond}, nil)
	h.connect()
	h.deliver(domain.EventJoined, domain.Joined{RoomID: testRoom, Role: domain.RoleInitiator, Peers: []domain.ParticipantID{"first"}})
	peer := h.nextPeer()
	h.expectSent(domain.EventOffer, nil)

	h.waitState(domain.StateFailed)
	h.expectNothingSent()

	h.c.Rejoin()
	h.expectSent(domain.EventLeaveRoom, nil)
	h.expectSent(domain.EventJoinRoom, nil)
	h.waitState(domain.StateJoining)
	assert.True(t, peer.isClosed())

	h.leave()
}

func TestCoordinator_AutoRejoinOnLinkFailure(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{AutoRejoin: true}, nil)
	peer := h.joinAsResponder("initiator")

	peer.handlers.OnLinkState(domain.LinkFailed)
	h.expectSent(domain.EventLeaveRoom, nil)
	var join domain.JoinRoom
	h.expectSent(domain.EventJoinRoom, &join)
	assert.Equal(t, testRoom.String(), join.RoomID)
	h.waitState(domain.StateJoining)
	assert.True(t, peer.isClosed())

	h.leave()
}

func TestCoordinator_OfferFailureFails(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	h.engine.offerErr = errors.New("no codecs")
	h.connect()
	h.deliver(domain.EventJoined, domain.Joined{RoomID: testRoom, Role: domain.RoleInitiator, Peers: []domain.ParticipantID{"first"}})

	h.waitState(domain.StateFailed)
	h.leave()
}

func TestCoordinator_RejoinsAfterReconnect(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	peer := h.joinAsResponder("initiator")

	h.transport.events <- port.TransportEvent{Kind: port.TransportDisconnected, Err: errors.New("reset")}
	h.waitState(domain.StateDisconnected)
	assert.True(t, peer.isClosed())

	h.connect()
	h.waitState(domain.StateJoining)

	h.leave()
}

func TestCoordinator_MediaDenied(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, fakeSource{err: domain.ErrMediaDenied})

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, domain.ErrMediaDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	h.expectNothingSent()
}

func TestCoordinator_RoomFullIsTerminal(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{AutoRejoin: true}, nil)
	h.connect()
	h.deliver(domain.EventError, domain.ErrorPayload{Code: domain.CodeRoomFull, Message: "room is full"})

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, domain.ErrRoomFull)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, h.media.stopped.Load())
}

func TestCoordinator_LeaveTearsDown(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	peer := h.joinAsResponder("initiator")

	h.leave()
	assert.True(t, peer.isClosed())
	assert.True(t, h.media.stopped.Load())
	assert.Equal(t, domain.StateDisconnected, h.c.State())

	var sent []domain.Event
	for len(h.transport.sent) > 0 {
		sent = append(sent, (<-h.transport.sent).Event)
	}
	assert.Equal(t, []domain.Event{domain.EventLeaveRoom}, sent)
}

func TestCoordinator_MuteDoesNotRenegotiate(t *testing.T) {
	h := startCoordinator(t, CoordinatorConfig{}, nil)
	h.joinAsResponder("initiator")

	h.c.SetAudioEnabled(false)
	h.c.SetVideoEnabled(false)
	assert.False(t, h.media.audio.Enabled())
	assert.False(t, h.media.video.Enabled())
	h.expectNothingSent()

	h.c.SetAudioEnabled(true)
	assert.True(t, h.media.audio.Enabled())

	h.leave()
}
