package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxRoomIDLen = 128

// ParticipantID identifies one signaling connection. It lives as long as the
// connection does.
type ParticipantID string

type RoomID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New().String())
}

func (id ParticipantID) String() string {
	return string(id)
}

// ParseRoomID trims the client supplied identifier and rejects empty,
// oversized or non UTF-8 values.
func ParseRoomID(s string) (RoomID, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxRoomIDLen || !utf8.ValidString(s) {
		return "", ErrInvalidRoom
	}
	return RoomID(s), nil
}

func (id RoomID) String() string {
	return string(id)
}
