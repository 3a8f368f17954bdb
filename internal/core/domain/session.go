package domain

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type SessionEventKind string

const (
	SessionStateChanged SessionEventKind = "state"
	SessionEstablished  SessionEventKind = "established"
	SessionRemoteTrack  SessionEventKind = "remote-track"
	SessionError        SessionEventKind = "error"
)

// LinkState is the peer connection state as reported by the native stack,
// reduced to what the coordinator reacts to.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// SessionEvent is what the coordinator reports to the UI.
type SessionEvent struct {
	Kind  SessionEventKind
	State NegotiationState
	Role  Role
	Peer  ParticipantID
	Track RemoteTrackInfo
	Err   error
}

type RemoteTrackInfo struct {
	ID       string
	StreamID string
	Kind     MediaKind
	Codec    string
}
