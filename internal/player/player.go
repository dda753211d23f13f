package player

import (
	"net"

	"github.com/google/uuid"
)

// ID is the opaque identifier the coordinator assigns to a connecting player.
type ID string

// NewID mints a fresh random identifier. Identifiers are 128-bit UUIDs and are
// never reused within a coordinator run.
func NewID() ID {
	return ID(uuid.New().String())
}

func (id ID) String() string {
	return string(id)
}

// PlayerStatus tracks where a player's connection is in its lifecycle.
type PlayerStatus string

const (
	StatusConnected    PlayerStatus = "connected"
	StatusDisconnected PlayerStatus = "disconnected"
)

// Player represents one connected player on the coordinator.
type Player struct {
	ID     ID
	Conn   net.Conn
	Status PlayerStatus
}

// NewPlayer wraps an accepted connection for the given identifier.
func NewPlayer(id ID, conn net.Conn) *Player {
	return &Player{
		ID:     id,
		Conn:   conn,
		Status: StatusConnected,
	}
}

// RemoteAddr returns the peer address, or "" when unknown.
func (p *Player) RemoteAddr() string {
	if p.Conn == nil || p.Conn.RemoteAddr() == nil {
		return ""
	}
	return p.Conn.RemoteAddr().String()
}
