package pion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

var ErrTrackStopped = errors.New("track stopped")

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

// LocalTrack is an outgoing sample track. A disabled track swallows samples
// without sending them.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    domain.MediaKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func NewLocalTrack(kind domain.MediaKind, streamID string) (*LocalTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.MediaVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	track, err := webrtc.NewTrackLocalStaticSample(capability, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	t := &LocalTrack{track: track, kind: kind}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string                    { return t.track.ID() }
func (t *LocalTrack) Kind() domain.MediaKind        { return t.kind }
func (t *LocalTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *LocalTrack) Stop()                         { t.stopped.Store(true) }
func (t *LocalTrack) Stopped() bool                 { return t.stopped.Load() }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// WriteSample sends s to every bound peer.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// LocalStream groups the local tracks of one participant. It implements
// port.LocalMedia.
type LocalStream struct {
	id     string
	tracks []*LocalTrack
}

func NewLocalStream(kinds ...domain.MediaKind) (*LocalStream, error) {
	s := &LocalStream{id: "medsignal-" + uuid.NewString()}
	for _, kind := range kinds {
		t, err := NewLocalTrack(kind, s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, t)
	}
	return s, nil
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []port.LocalTrack {
	out := make([]port.LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// Track returns the first track of kind.
func (s *LocalStream) Track(kind domain.MediaKind) (*LocalTrack, bool) {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}

func (s *LocalStream) SetEnabled(kind domain.MediaKind, enabled bool) {
	for _, t := range s.tracks {
		if t.kind == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// PumpSilence feeds the audio track Opus silence until ctx is done or the
// track stops.
func (s *LocalStream) PumpSilence(ctx context.Context) {
	audio, ok := s.Track(domain.MediaAudio)
	if !ok {
		return
	}
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := audio.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				return
			}
		}
	}
}

// SampleSource produces synthetic local media. It implements
// port.MediaSource and stands in for device capture.
type SampleSource struct {
	Audio bool
	Video bool
	// Silence starts an Opus silence pump on the audio track.
	Silence bool
}

func (src SampleSource) Acquire(ctx context.Context) (port.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var kinds []domain.MediaKind
	if src.Audio {
		kinds = append(kinds, domain.MediaAudio)
	}
	if src.Video {
		kinds = append(kinds, domain.MediaVideo)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: no audio or video requested", domain.ErrMediaDenied)
	}

	stream, err := NewLocalStream(kinds...)
	if err != nil {
		return nil, err
	}
	if src.Silence {
		go stream.PumpSilence(ctx)
	}
	return stream, nil
}
