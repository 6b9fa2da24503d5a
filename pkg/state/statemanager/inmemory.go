package statemanager

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/google/uuid"
)

// codeSpace is the size of the short-code range (100000-999999).
const codeSpace = 900000

type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	codes map[string]uuid.UUID
	rooms map[string]*state.Room

	// One lock for all three maps. Operations are O(room size) and traffic
	// is low, so per-map locking buys nothing and would complicate the
	// cross-map invariants (code<->conn, conn<->room).
	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		codes:  make(map[string]uuid.UUID),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(transport state.Sender, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := transport.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: transport,
		CreatedAt: time.Now(),
		Rooms:     make(map[string]struct{}),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) (*state.Cleanup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// Already deregistered; duplicate disconnect signals are expected.
		return &state.Cleanup{}, nil
	}

	cleanup := &state.Cleanup{}

	if conn.Code != "" {
		delete(m.codes, conn.Code)
		cleanup.ReleasedCode = conn.Code
		conn.Code = ""
	}

	for roomID := range conn.Rooms {
		remaining := m.removeFromRoomLocked(conn, roomID)
		cleanup.Departures = append(cleanup.Departures, state.Departure{
			RoomID:    roomID,
			Remaining: remaining,
		})
	}

	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return cleanup, nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) ConnectionCountByIP(ipAddr string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conns {
		if c.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

func (m *InMemoryManager) FindOldestConnectionByIP(ipAddr string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, c := range m.conns {
		if c.IPAddress != ipAddr {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest, true
}

// --- Short Code Management ---

func (m *InMemoryManager) AssignCode(connID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return "", errors.New("cannot assign code to unknown connection")
	}

	// Re-registration releases the previous code first.
	if conn.Code != "" {
		delete(m.codes, conn.Code)
		m.logger.Debug("Released previous code", slog.String("code", conn.Code), slog.String("connID", connID.String()))
		conn.Code = ""
	}

	// Rejection sampling; the 900k code space is never close to exhausted
	// in a single-process deployment, so this terminates quickly.
	var code string
	for {
		code = fmt.Sprintf("%06d", randomIndex(codeSpace)+100000)
		if _, taken := m.codes[code]; !taken {
			break
		}
	}

	m.codes[code] = connID
	conn.Code = code
	m.logger.Debug("Code assigned", slog.String("code", code), slog.String("connID", connID.String()))
	return code, nil
}

func (m *InMemoryManager) ResolveCode(code string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connID, ok := m.codes[code]
	if !ok {
		return nil, false
	}
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) CodeOf(connID uuid.UUID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok || conn.Code == "" {
		return "", false
	}
	return conn.Code, true
}

// randomIndex returns a cryptographically secure random int in [0, max).
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand failing means the platform is broken; there is no
		// sensible degraded mode for code generation.
		panic("failed to generate random index: " + err.Error())
	}
	return int(n.Int64())
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(connID uuid.UUID, roomID string) ([]*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, errors.New("cannot join room: connection not found")
	}

	room, exists := m.rooms[roomID]
	if !exists {
		room = &state.Room{
			ID:      roomID,
			Members: make(map[uuid.UUID]*state.Connection),
		}
		m.rooms[roomID] = room
	}

	// Rejoining is a no-op; the caller gets no pre-existing members so no
	// duplicate peer notifications are synthesized.
	if _, member := room.Members[connID]; member {
		return nil, nil
	}

	// Snapshot the members present before the add; the relay uses this to
	// tell the new joiner about everyone already there.
	existing := make([]*state.Connection, 0, len(room.Members))
	for _, member := range room.Members {
		existing = append(existing, member)
	}

	room.Members[connID] = conn
	conn.Rooms[roomID] = struct{}{}

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return existing, nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID, roomID string) ([]*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// Connection already gone; nothing to do.
		return nil, nil
	}
	if _, member := conn.Rooms[roomID]; !member {
		return nil, nil
	}

	remaining := m.removeFromRoomLocked(conn, roomID)
	m.logger.Debug("Connection left room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return remaining, nil
}

// removeFromRoomLocked unlinks conn from roomID and returns the remaining
// members. Deletes the room when it empties. Caller must hold mu.
func (m *InMemoryManager) removeFromRoomLocked(conn *state.Connection, roomID string) []*state.Connection {
	delete(conn.Rooms, roomID)

	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room.Members, conn.ID)

	if len(room.Members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
		return nil
	}

	remaining := make([]*state.Connection, 0, len(room.Members))
	for _, member := range room.Members {
		remaining = append(remaining, member)
	}
	return remaining
}

func (m *InMemoryManager) RoomMembers(roomID string) ([]*state.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, errors.New("room not found")
	}

	members := make([]*state.Connection, 0, len(room.Members))
	for _, member := range room.Members {
		members = append(members, member)
	}
	return members, nil
}

func (m *InMemoryManager) RoomExists(roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok
}

func (m *InMemoryManager) EnsureRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[roomID]; exists {
		return
	}
	m.rooms[roomID] = &state.Room{
		ID:      roomID,
		Members: make(map[uuid.UUID]*state.Connection),
	}
	m.logger.Debug("Room pre-created", slog.String("roomID", roomID))
}
