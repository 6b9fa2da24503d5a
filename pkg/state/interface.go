package state

import "github.com/google/uuid"

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(transport Sender, ipAddr string) (*Connection, error)
	// DeregisterConnection releases the connection's code and removes it from
	// every room. It is idempotent; a second call reports no work.
	DeregisterConnection(connID uuid.UUID) (*Cleanup, error)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	AllConnections() []*Connection
	ConnectionCountByIP(ipAddr string) int
	FindOldestConnectionByIP(ipAddr string) (*Connection, bool)

	// --- Short Code Management ---
	// AssignCode binds a fresh unique 6-digit code to the connection,
	// releasing any code it held before.
	AssignCode(connID uuid.UUID) (string, error)
	ResolveCode(code string) (*Connection, bool)
	CodeOf(connID uuid.UUID) (string, bool)

	// --- Room & Membership Management ---
	// Join adds the connection to a room, creating the room if it doesn't
	// exist, and returns the members that were present before the add.
	Join(connID uuid.UUID, roomID string) ([]*Connection, error)
	// Leave removes the connection and returns the remaining members. Empty
	// rooms are deleted.
	Leave(connID uuid.UUID, roomID string) ([]*Connection, error)
	RoomMembers(roomID string) ([]*Connection, error)
	RoomExists(roomID string) bool
	// EnsureRoom pre-creates an empty room so both call parties observe the
	// same room regardless of which one joins first.
	EnsureRoom(roomID string)
}
