// Package signal implements the call-coordination protocol on top of the
// connection registry: short-code registration, the call lifecycle
// (ring/accept/reject/cancel/end) and room-scoped relaying of opaque
// negotiation payloads.
package signal

import (
	"log/slog"

	"github.com/RafliFerdian25/go-signaling/internal/protocol"
	"github.com/RafliFerdian25/go-signaling/internal/router"
	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/google/uuid"
)

type Service struct {
	logger *slog.Logger
	state  state.Manager
}

func NewService(logger *slog.Logger, stateManager state.Manager) *Service {
	return &Service{
		logger: logger.With(slog.String("component", "signal")),
		state:  stateManager,
	}
}

// Routes returns the event table the router dispatches on.
func (s *Service) Routes() map[string]router.HandlerFunc {
	return map[string]router.HandlerFunc{
		protocol.EventRegisterUser: s.handleRegisterUser,
		protocol.EventCallUser:     s.handleCallUser,
		protocol.EventAcceptCall:   s.handleAcceptCall,
		protocol.EventRejectCall:   s.handleRejectCall,
		protocol.EventCancelCall:   s.handleCancelCall,
		protocol.EventEndCall:      s.handleEndCall,
		protocol.EventJoin:         s.handleJoin,
		protocol.EventLeave:        s.handleLeave,
		protocol.EventOffer:        s.handleOffer,
		protocol.EventAnswer:       s.handleAnswer,
		protocol.EventICECandidate: s.handleICECandidate,
	}
}

// HandleDisconnect is the transport's close callback. All derived state is
// torn down synchronously: the code mapping is released and every room the
// connection belonged to gets a peer-left notification.
func (s *Service) HandleDisconnect(connID uuid.UUID) {
	cleanup, err := s.state.DeregisterConnection(connID)
	if err != nil {
		s.logger.Error("Failed to deregister connection", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	if cleanup.ReleasedCode != "" {
		s.logger.Info("Code released", slog.String("code", cleanup.ReleasedCode), slog.String("connID", connID.String()))
	}
	for _, departure := range cleanup.Departures {
		s.notifyPeerLeft(connID, departure.Remaining)
	}
}

// send encodes an event for one connection. Delivery is fire-and-forget; a
// dead peer is a benign race, never an error.
func (s *Service) send(conn *state.Connection, event string, payload any) {
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		s.logger.Error("Failed to encode outbound event", slog.String("event", event), slog.Any("error", err))
		return
	}
	conn.Transport.Send(msg)
}

func (s *Service) sendError(conn *state.Connection, message string) {
	s.send(conn, protocol.EventCallError, protocol.Notice{Message: message})
}

func (s *Service) notifyPeerLeft(departed uuid.UUID, remaining []*state.Connection) {
	for _, member := range remaining {
		s.send(member, protocol.EventPeerLeft, protocol.PeerEvent{SocketID: departed.String()})
	}
}
