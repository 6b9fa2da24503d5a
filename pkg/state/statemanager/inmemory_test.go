package statemanager_test

import (
	"log/slog"
	"os"
	"regexp"
	"sync"
	"testing"

	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/RafliFerdian25/go-signaling/pkg/state/statemanager"
	"github.com/google/uuid"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

// fakeSender satisfies state.Sender without a real websocket.
type fakeSender struct {
	id uuid.UUID
}

func newFakeSender() *fakeSender          { return &fakeSender{id: uuid.New()} }
func (f *fakeSender) ID() uuid.UUID       { return f.id }
func (f *fakeSender) Send(message []byte) {}
func (f *fakeSender) Close(err error)     {}

func register(t *testing.T, m *statemanager.InMemoryManager, ip string) *state.Connection {
	t.Helper()
	conn, err := m.RegisterConnection(newFakeSender(), ip)
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	return conn
}

// --- Connection Lifecycle Tests ---

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	retrieved, found := m.GetConnection(conn.ID)
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrieved.ID != conn.ID {
		t.Errorf("Retrieved connection ID mismatch")
	}

	if _, err := m.DeregisterConnection(conn.ID); err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if _, found := m.GetConnection(conn.ID); found {
		t.Error("Found connection after it should have been deregistered")
	}
}

func TestDeregisterIsIdempotent(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	first, err := m.DeregisterConnection(conn.ID)
	if err != nil {
		t.Fatalf("first DeregisterConnection failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected cleanup summary from first deregister")
	}

	// Duplicate disconnect signals from the transport must be harmless.
	second, err := m.DeregisterConnection(conn.ID)
	if err != nil {
		t.Fatalf("second DeregisterConnection failed: %v", err)
	}
	if second.ReleasedCode != "" || len(second.Departures) != 0 {
		t.Errorf("second deregister reported work: %+v", second)
	}
}

func TestConnectionCountByIP(t *testing.T) {
	m := newTestManager()
	register(t, m, "1.1.1.1")
	register(t, m, "1.1.1.1")
	register(t, m, "2.2.2.2")

	if count := m.ConnectionCountByIP("1.1.1.1"); count != 2 {
		t.Errorf("Expected 2 connections for 1.1.1.1, got %d", count)
	}
	if count := m.ConnectionCountByIP("3.3.3.3"); count != 0 {
		t.Errorf("Expected 0 connections for unknown IP, got %d", count)
	}
}

func TestFindOldestConnectionByIP(t *testing.T) {
	m := newTestManager()
	conn1 := register(t, m, "1.1.1.1")
	conn2 := register(t, m, "1.1.1.1")
	// Guard against equal timestamps on coarse clocks.
	conn2.CreatedAt = conn1.CreatedAt.Add(1)

	oldest, found := m.FindOldestConnectionByIP("1.1.1.1")
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID {
		t.Errorf("Expected oldest connection ID to be %s, got %s", conn1.ID, oldest.ID)
	}

	if _, found := m.FindOldestConnectionByIP("9.9.9.9"); found {
		t.Error("Found a connection for an IP with no connections")
	}
}

// --- Short Code Tests ---

var codePattern = regexp.MustCompile(`^\d{6}$`)

func TestAssignCodeRoundTrip(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	code, err := m.AssignCode(conn.ID)
	if err != nil {
		t.Fatalf("AssignCode failed: %v", err)
	}
	if !codePattern.MatchString(code) {
		t.Errorf("Expected a 6-digit code, got %q", code)
	}

	resolved, found := m.ResolveCode(code)
	if !found {
		t.Fatal("ResolveCode failed to find assigned code")
	}
	if resolved.ID != conn.ID {
		t.Errorf("ResolveCode returned wrong connection")
	}

	got, found := m.CodeOf(conn.ID)
	if !found || got != code {
		t.Errorf("CodeOf = %q, %v; want %q, true", got, found, code)
	}
}

func TestAssignCodeUnknownConnection(t *testing.T) {
	m := newTestManager()
	if _, err := m.AssignCode(uuid.New()); err == nil {
		t.Error("Expected error assigning code to unknown connection")
	}
}

func TestReassignReleasesOldCode(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	first, _ := m.AssignCode(conn.ID)
	second, err := m.AssignCode(conn.ID)
	if err != nil {
		t.Fatalf("second AssignCode failed: %v", err)
	}

	if _, found := m.ResolveCode(first); found {
		t.Errorf("Old code %q still resolves after re-registration", first)
	}
	if resolved, found := m.ResolveCode(second); !found || resolved.ID != conn.ID {
		t.Errorf("New code %q does not resolve to the connection", second)
	}
}

func TestCodeReleasedOnDeregister(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")
	code, _ := m.AssignCode(conn.ID)

	cleanup, err := m.DeregisterConnection(conn.ID)
	if err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if cleanup.ReleasedCode != code {
		t.Errorf("Expected released code %q, got %q", code, cleanup.ReleasedCode)
	}
	if _, found := m.ResolveCode(code); found {
		t.Errorf("Code %q still resolves after disconnect", code)
	}
}

func TestAssignCode_ConcurrentUniqueness(t *testing.T) {
	m := newTestManager()
	const numConns = 100

	conns := make([]*state.Connection, numConns)
	for i := range conns {
		conns[i] = register(t, m, "127.0.0.1")
	}

	codes := make([]string, numConns)
	var wg sync.WaitGroup
	for i := 0; i < numConns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := m.AssignCode(conns[i].ID)
			if err != nil {
				t.Errorf("AssignCode failed: %v", err)
				return
			}
			codes[i] = code
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, numConns)
	for _, code := range codes {
		if seen[code] {
			t.Fatalf("Duplicate code assigned: %q", code)
		}
		seen[code] = true
	}
}

// --- Room Membership Tests ---

func TestRoomMembership(t *testing.T) {
	m := newTestManager()
	roomID := "test-room"
	conn1 := register(t, m, "1.1.1.1")
	conn2 := register(t, m, "2.2.2.2")

	existing, err := m.Join(conn1.ID, roomID)
	if err != nil {
		t.Fatalf("conn1 failed to join room: %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("First joiner should see an empty room, saw %d members", len(existing))
	}

	existing, err = m.Join(conn2.ID, roomID)
	if err != nil {
		t.Fatalf("conn2 failed to join room: %v", err)
	}
	if len(existing) != 1 || existing[0].ID != conn1.ID {
		t.Fatalf("Second joiner should see exactly conn1, saw %d members", len(existing))
	}

	members, err := m.RoomMembers(roomID)
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members in room, got %d", len(members))
	}

	remaining, err := m.Leave(conn1.ID, roomID)
	if err != nil {
		t.Fatalf("conn1 failed to leave room: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != conn2.ID {
		t.Errorf("Expected conn2 to remain, got %d members", len(remaining))
	}

	// Test empty room cleanup
	m.Leave(conn2.ID, roomID)
	if m.RoomExists(roomID) {
		t.Error("Expected room to be deleted after last member left, but it exists")
	}
}

func TestRejoinIsNoOp(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	m.Join(conn.ID, "room")
	existing, err := m.Join(conn.ID, "room")
	if err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("Rejoin must not report pre-existing members, got %d", len(existing))
	}

	members, _ := m.RoomMembers("room")
	if len(members) != 1 {
		t.Errorf("Rejoin duplicated membership: %d members", len(members))
	}
}

func TestEnsureRoomThenJoin(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	m.EnsureRoom("pre-created")
	if !m.RoomExists("pre-created") {
		t.Fatal("EnsureRoom did not create the room")
	}

	existing, err := m.Join(conn.ID, "pre-created")
	if err != nil {
		t.Fatalf("Join into pre-created room failed: %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("Pre-created room should be empty, saw %d members", len(existing))
	}
}

func TestLeaveUnknownRoomOrConnection(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "127.0.0.1")

	if _, err := m.Leave(conn.ID, "nowhere"); err != nil {
		t.Errorf("Leaving a room the connection isn't in should be a no-op, got %v", err)
	}
	if _, err := m.Leave(uuid.New(), "nowhere"); err != nil {
		t.Errorf("Leave for unknown connection should be a no-op, got %v", err)
	}
}

func TestDeregisterRemovesFromAllRooms(t *testing.T) {
	m := newTestManager()
	conn := register(t, m, "1.1.1.1")
	peerA := register(t, m, "2.2.2.2")
	peerB := register(t, m, "3.3.3.3")

	m.Join(conn.ID, "room-a")
	m.Join(peerA.ID, "room-a")
	m.Join(conn.ID, "room-b")
	m.Join(peerB.ID, "room-b")
	m.AssignCode(conn.ID)

	cleanup, err := m.DeregisterConnection(conn.ID)
	if err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if len(cleanup.Departures) != 2 {
		t.Fatalf("Expected departures from 2 rooms, got %d", len(cleanup.Departures))
	}

	for _, roomID := range []string{"room-a", "room-b"} {
		members, err := m.RoomMembers(roomID)
		if err != nil {
			t.Fatalf("RoomMembers(%s) failed: %v", roomID, err)
		}
		for _, member := range members {
			if member.ID == conn.ID {
				t.Errorf("Connection still a member of %s after deregister", roomID)
			}
		}
	}
}

func TestEmptiedRoomIsFreshOnNextJoin(t *testing.T) {
	m := newTestManager()
	conn1 := register(t, m, "1.1.1.1")
	conn2 := register(t, m, "2.2.2.2")

	m.Join(conn1.ID, "room")
	m.Leave(conn1.ID, "room")

	existing, err := m.Join(conn2.ID, "room")
	if err != nil {
		t.Fatalf("Join after room emptied failed: %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("Recreated room leaked %d prior members", len(existing))
	}
}
