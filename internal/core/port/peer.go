package port

import (
	"context"
	"encoding/json"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

// PeerHandlers are invoked from the native stack's goroutines.
type PeerHandlers struct {
	OnCandidate   func(candidate json.RawMessage)
	OnRemoteTrack func(track RemoteMedia)
	OnLinkState   func(state domain.LinkState)
}

// PeerSession is one native peer connection. Descriptions and candidates are
// passed around as opaque JSON.
type PeerSession interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(ctx context.Context, answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

type PeerEngine interface {
	NewPeer(h PeerHandlers, media LocalMedia) (PeerSession, error)
}
