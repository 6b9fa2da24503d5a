package signal

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/RafliFerdian25/go-signaling/internal/protocol"
	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// roomIDAlphabet feeds the random suffix of generated room IDs.
const roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (s *Service) handleRegisterUser(_ context.Context, conn *state.Connection, _ json.RawMessage) {
	code, err := s.state.AssignCode(conn.ID)
	if err != nil {
		s.logger.Error("Failed to assign code", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}
	s.logger.Info("User registered", slog.String("code", code), slog.String("connID", conn.ID.String()))
	s.send(conn, protocol.EventUserRegistered, protocol.UserRegistered{UserCode: code})
}

func (s *Service) handleCallUser(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	targetCode := gjson.GetBytes(payload, "targetUserCode").String()

	target, ok := s.state.ResolveCode(targetCode)
	if !ok {
		s.sendError(conn, "target code not found")
		return
	}

	callerCode, ok := s.state.CodeOf(conn.ID)
	if !ok {
		s.sendError(conn, "caller not registered")
		return
	}

	callerName := gjson.GetBytes(payload, "callerName").String()
	if callerName == "" {
		callerName = callerCode
	}

	roomID := s.newRoomID()
	s.logger.Info("Call initiated",
		slog.String("caller", callerCode),
		slog.String("target", targetCode),
		slog.String("roomID", roomID),
	)

	// The target replies to the caller's connection ID directly; the caller
	// may re-register and change codes while the call is ringing.
	s.send(target, protocol.EventIncomingCall, protocol.IncomingCall{
		From:           callerCode,
		CallerName:     callerName,
		RoomID:         roomID,
		CallerSocketID: conn.ID.String(),
	})
	s.send(conn, protocol.EventCallInitiated, protocol.CallInitiated{
		TargetUserCode: targetCode,
		RoomID:         roomID,
	})
}

func (s *Service) handleAcceptCall(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()
	callerSocketID := gjson.GetBytes(payload, "callerSocketId").String()

	// The room is pre-created, but membership only comes from an explicit
	// join. That keeps peer-joined delivery order-independent no matter
	// which side reaches the room first.
	if roomID != "" {
		s.state.EnsureRoom(roomID)
	}

	callerID, err := uuid.Parse(callerSocketID)
	if err != nil {
		s.logger.Warn("accept-call with malformed callerSocketId", slog.String("value", callerSocketID))
		return
	}

	caller, ok := s.state.GetConnection(callerID)
	if !ok {
		// Caller hung up or dropped while the call was ringing; the accept
		// quietly goes nowhere.
		s.logger.Debug("Accept for disconnected caller", slog.String("callerID", callerID.String()))
		return
	}

	s.logger.Info("Call accepted", slog.String("roomID", roomID), slog.String("callerID", callerID.String()))
	s.send(caller, protocol.EventCallAccepted, protocol.CallAccepted{RoomID: roomID})
}

func (s *Service) handleRejectCall(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	callerSocketID := gjson.GetBytes(payload, "callerSocketId").String()

	callerID, err := uuid.Parse(callerSocketID)
	if err != nil {
		s.logger.Warn("reject-call with malformed callerSocketId", slog.String("value", callerSocketID))
		return
	}

	caller, ok := s.state.GetConnection(callerID)
	if !ok {
		return
	}

	s.logger.Info("Call rejected", slog.String("callerID", callerID.String()))
	s.send(caller, protocol.EventCallRejected, protocol.Notice{Message: "call was rejected"})
}

func (s *Service) handleCancelCall(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	targetCode := gjson.GetBytes(payload, "targetUserCode").String()

	target, ok := s.state.ResolveCode(targetCode)
	if !ok {
		// Target disconnected or never existed; cancelling is a no-op.
		return
	}

	s.logger.Info("Call cancelled", slog.String("target", targetCode))
	s.send(target, protocol.EventCallCancelled, protocol.Notice{Message: "call was cancelled by the caller"})
}

func (s *Service) handleEndCall(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()

	members, err := s.state.RoomMembers(roomID)
	if err != nil {
		return
	}

	s.logger.Info("Call ended", slog.String("roomID", roomID), slog.String("connID", conn.ID.String()))
	// Ending the call does not remove anybody from the room; membership is
	// torn down by leave or disconnect.
	for _, member := range members {
		if member.ID == conn.ID {
			continue
		}
		s.send(member, protocol.EventCallEnded, nil)
	}
}

// newRoomID mints a room ID that no live room is using. Millisecond timestamp
// plus a random suffix keeps the collision risk negligible; the loop makes it
// zero against rooms that actually exist.
func (s *Service) newRoomID() string {
	for {
		id := fmt.Sprintf("room-%d-%s", time.Now().UnixMilli(), randomSuffix(6))
		if !s.state.RoomExists(id) {
			return id
		}
	}
}

func randomSuffix(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = roomIDAlphabet[randomIndex(len(roomIDAlphabet))]
	}
	return string(b)
}

// randomIndex returns a cryptographically secure random int in [0, max).
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("failed to generate random index: " + err.Error())
	}
	return int(n.Int64())
}
