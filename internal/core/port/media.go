package port

import (
	"context"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

// MediaSource acquires local capture. A denial must wrap domain.ErrMediaDenied.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
}

type LocalMedia interface {
	Tracks() []LocalTrack
	SetEnabled(kind domain.MediaKind, enabled bool)
	Stop()
}

type RemoteMedia interface {
	Info() domain.RemoteTrackInfo
	Read(b []byte) (int, error)
}
