// Package protocol defines the wire messages exchanged with signaling
// clients. SDP and ICE payloads are opaque to the server and pass through
// unparsed.
package protocol

import "encoding/json"

// Client-to-server events.
const (
	EventRegisterUser = "register-user"
	EventCallUser     = "call-user"
	EventAcceptCall   = "accept-call"
	EventRejectCall   = "reject-call"
	EventCancelCall   = "cancel-call"
	EventJoin         = "join"
	EventLeave        = "leave"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventEndCall      = "end-call"
)

// Server-to-client events.
const (
	EventUserRegistered = "user-registered"
	EventIncomingCall   = "incoming-call"
	EventCallInitiated  = "call-initiated"
	EventCallAccepted   = "call-accepted"
	EventCallRejected   = "call-rejected"
	EventCallCancelled  = "call-cancelled"
	EventCallError      = "call-error"
	EventPeerJoined     = "peer-joined"
	EventPeerLeft       = "peer-left"
	EventCallEnded      = "call-ended"
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a payload in the envelope and marshals it.
func Encode(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Message{Event: event, Payload: raw})
}

type UserRegistered struct {
	UserCode string `json:"userCode"`
}

type IncomingCall struct {
	From           string `json:"from"`
	CallerName     string `json:"callerName"`
	RoomID         string `json:"roomId"`
	CallerSocketID string `json:"callerSocketId"`
}

type CallInitiated struct {
	TargetUserCode string `json:"targetUserCode"`
	RoomID         string `json:"roomId"`
}

type CallAccepted struct {
	RoomID string `json:"roomId"`
}

// Notice carries the human-readable text of call-rejected, call-cancelled and
// call-error events.
type Notice struct {
	Message string `json:"message"`
}

type PeerEvent struct {
	SocketID string `json:"socketId"`
}

// SDPForward relays an offer or answer; SDP is forwarded verbatim.
type SDPForward struct {
	SDP  json.RawMessage `json:"sdp"`
	From string          `json:"from"`
}

// CandidateForward relays an ICE candidate verbatim.
type CandidateForward struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}
