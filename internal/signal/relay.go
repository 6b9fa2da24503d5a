package signal

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RafliFerdian25/go-signaling/internal/protocol"
	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/tidwall/gjson"
)

func (s *Service) handleJoin(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()
	if roomID == "" {
		s.sendError(conn, "join requires a roomId")
		return
	}

	existing, err := s.state.Join(conn.ID, roomID)
	if err != nil {
		s.logger.Warn("Join failed", slog.String("connID", conn.ID.String()), slog.String("roomID", roomID), slog.Any("error", err))
		return
	}

	s.logger.Info("Joined room", slog.String("connID", conn.ID.String()), slog.String("roomID", roomID))

	// Both directions, so the outcome is the same no matter which side of a
	// call joins first: everyone already present learns about the newcomer,
	// and the newcomer learns about everyone already present.
	for _, member := range existing {
		s.send(member, protocol.EventPeerJoined, protocol.PeerEvent{SocketID: conn.ID.String()})
		s.send(conn, protocol.EventPeerJoined, protocol.PeerEvent{SocketID: member.ID.String()})
	}
}

func (s *Service) handleLeave(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()

	remaining, err := s.state.Leave(conn.ID, roomID)
	if err != nil {
		s.logger.Warn("Leave failed", slog.String("connID", conn.ID.String()), slog.String("roomID", roomID), slog.Any("error", err))
		return
	}

	s.logger.Info("Left room", slog.String("connID", conn.ID.String()), slog.String("roomID", roomID))
	s.notifyPeerLeft(conn.ID, remaining)
}

func (s *Service) handleOffer(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	s.relaySDP(protocol.EventOffer, conn, payload)
}

func (s *Service) handleAnswer(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	s.relaySDP(protocol.EventAnswer, conn, payload)
}

// relaySDP forwards an offer or answer to every other room member. The sdp
// blob is relayed verbatim; the server never inspects it.
func (s *Service) relaySDP(event string, conn *state.Connection, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()
	sdp := gjson.GetBytes(payload, "sdp")
	if !sdp.Exists() {
		return
	}

	s.fanOut(conn, roomID, event, protocol.SDPForward{
		SDP:  json.RawMessage(sdp.Raw),
		From: conn.ID.String(),
	})
}

func (s *Service) handleICECandidate(_ context.Context, conn *state.Connection, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()
	candidate := gjson.GetBytes(payload, "candidate")
	if !candidate.Exists() {
		return
	}

	s.fanOut(conn, roomID, protocol.EventICECandidate, protocol.CandidateForward{
		Candidate: json.RawMessage(candidate.Raw),
		From:      conn.ID.String(),
	})
}

// fanOut delivers an event to every member of the room except the sender.
// A missing room or an empty recipient set is a silent no-op.
func (s *Service) fanOut(sender *state.Connection, roomID, event string, payload any) {
	members, err := s.state.RoomMembers(roomID)
	if err != nil {
		s.logger.Debug("Relay to unknown room", slog.String("roomID", roomID), slog.String("event", event))
		return
	}

	delivered := 0
	for _, member := range members {
		if member.ID == sender.ID {
			continue
		}
		s.send(member, event, payload)
		delivered++
	}
	s.logger.Debug("Relayed event",
		slog.String("event", event),
		slog.String("roomID", roomID),
		slog.Int("recipients", delivered),
	)
}
