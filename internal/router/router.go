package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/RafliFerdian25/go-signaling/internal/protocol"
	"github.com/RafliFerdian25/go-signaling/pkg/state"
	"github.com/google/uuid"
)

// HandlerFunc processes one client event. The payload is the raw JSON object
// from the envelope; handlers pick the fields they need.
type HandlerFunc func(ctx context.Context, conn *state.Connection, payload json.RawMessage)

type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	handlers     map[string]HandlerFunc
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, handlers map[string]HandlerFunc) *EventRouter {
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		handlers:     handlers,
	}
}

// HandleMessage is the transport's message callback: it decodes the envelope
// and dispatches to the handler registered for the event.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg protocol.Message
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", "connID", connID, "error", err)
		return
	}

	handler, ok := r.handlers[clientMsg.Event]
	if !ok {
		r.logger.Warn("Received unknown event", "event", clientMsg.Event, "connID", connID)
		return
	}

	conn, ok := r.stateManager.GetConnection(connID)
	if !ok {
		// The connection raced its own disconnect; drop the message.
		r.logger.Warn("Message from unregistered connection", "connID", connID)
		return
	}

	r.logger.Debug("Dispatching event", slog.String("event", clientMsg.Event), slog.String("connID", connID.String()))
	handler(ctx, conn, clientMsg.Payload)
}
