package state

import (
	"time"

	"github.com/google/uuid"
)

// Sender is the outbound half of a transport connection as the registry sees
// it. *transport.Connection satisfies it; tests substitute fakes.
type Sender interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Sender
	CreatedAt time.Time

	// Code is the short code currently assigned to this connection, or ""
	// before registration. Guarded by the manager's lock.
	Code string

	// Rooms is the set of room IDs this connection belongs to. Guarded by
	// the manager's lock.
	Rooms map[string]struct{}
}

// canonical representation of a signaling room.
type Room struct {
	ID      string
	Members map[uuid.UUID]*Connection
}

// Departure records one room a disconnecting connection was removed from,
// with the members that remain so the caller can notify them.
type Departure struct {
	RoomID    string
	Remaining []*Connection
}

// Cleanup summarizes the state torn down for one connection.
type Cleanup struct {
	ReleasedCode string
	Departures   []Departure
}
