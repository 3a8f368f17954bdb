package pion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

type Option func(*webrtc.SettingEngine)

// WithNet routes all peer traffic through a virtual network.
func WithNet(n *vnet.Net) Option {
	return func(se *webrtc.SettingEngine) { se.SetNet(n) }
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(se *webrtc.SettingEngine) { se.LoggerFactory = f }
}

// Engine creates peer connections sharing one media and interceptor setup.
// It implements port.PeerEngine.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(iceServers []string, opts ...Option) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	for _, opt := range opts {
		opt(&se)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Engine{api: api, config: config}, nil
}

// NewPeer builds a peer connection carrying the tracks of media. Kinds the
// media does not cover get a recvonly transceiver so the remote side can
// still send them.
func (e *Engine) NewPeer(h port.PeerHandlers, media port.LocalMedia) (port.PeerSession, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{pc: pc}
	if err := p.addMedia(media); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnCandidate == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		h.OnCandidate(raw)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("Received remote track")
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go requestKeyframes(pc, track)
		}
		if h.OnRemoteTrack != nil {
			h.OnRemoteTrack(&remoteTrack{track: track})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("Peer connection state")
		if h.OnLinkState != nil {
			h.OnLinkState(linkState(s))
		}
	})

	return p, nil
}

// Peer wraps one webrtc.PeerConnection. Remote candidates that arrive before
// the remote description are held and applied once it is set.
type Peer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func (p *Peer) addMedia(media port.LocalMedia) error {
	covered := map[webrtc.RTPCodecType]bool{}
	if media != nil {
		for _, t := range media.Tracks() {
			lt, ok := t.(*LocalTrack)
			if !ok {
				continue
			}
			sender, err := p.pc.AddTrack(lt.track)
			if err != nil {
				return fmt.Errorf("add %s track: %w", lt.Kind(), err)
			}
			go drainRTCP(sender)
			covered[codecType(lt.Kind())] = true
		}
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if covered[kind] {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (p *Peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(p.pc.LocalDescription())
}

func (p *Peer) CreateAnswer(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.setRemote(raw, webrtc.SDPTypeOffer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(p.pc.LocalDescription())
}

func (p *Peer) ApplyAnswer(ctx context.Context, raw json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.setRemote(raw, webrtc.SDPTypeAnswer)
}

func (p *Peer) setRemote(raw json.RawMessage, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	if desc.Type != want {
		return fmt.Errorf("expected %s, got %s", want, desc.Type)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", want, err)
	}
	for _, c := range p.pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Msg("Dropping buffered candidate")
		}
	}
	p.pending = nil
	return nil
}

// AddCandidate applies a remote candidate. Re-adding a known candidate is a
// no-op.
func (p *Peer) AddCandidate(raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		return nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (r *remoteTrack) Info() domain.RemoteTrackInfo {
	kind := domain.MediaAudio
	if r.track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
	}
	return domain.RemoteTrackInfo{
		ID:       r.track.ID(),
		StreamID: r.track.StreamID(),
		Kind:     kind,
		Codec:    r.track.Codec().MimeType,
	}
}

// Read reads one RTP packet.
func (r *remoteTrack) Read(b []byte) (int, error) {
	n, _, err := r.track.Read(b)
	return n, err
}

func linkState(s webrtc.PeerConnectionState) domain.LinkState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.LinkFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.LinkClosed
	}
	return domain.LinkNew
}

func codecType(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.MediaVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
