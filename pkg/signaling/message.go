package signaling

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Inbound message types.
const (
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeWebRTCOffer  = "webrtc_offer"
	TypeWebRTCAnswer = "webrtc_answer"
	TypeICECandidate = "ice_candidate"
	TypePing         = "ping"
)

// Outbound message types.
const (
	TypeJoined     = "joined"
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
	TypePong       = "pong"
	TypeError      = "error"
)

// Error codes sent in error envelopes.
const (
	CodeValidationFailed    = "validation_failed"
	CodeInvalidState        = "invalid_state"
	CodeUnknownPeer         = "unknown_peer"
	CodeCrossRoomForbidden  = "cross_room_forbidden"
	CodeFrameTooLarge       = "frame_too_large"
	CodeSendBufferExhausted = "send_buffer_exhausted"
	CodeForbidden           = "forbidden"
	CodeUnavailable         = "unavailable"
)

// PeerInfo is the public description of a peer session.
type PeerInfo struct {
	SessionID  string    `json:"session_id"`
	DeviceName string    `json:"device_name"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Envelope is the single wire format for all signaling frames. The hub
// reads only the routing metadata; offer, answer and candidate payloads
// pass through opaque.
type Envelope struct {
	Type string `json:"type"`

	// join_room
	RoomID     string `json:"room_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`

	// directed messages
	TargetSession string `json:"target_session,omitempty"`
	SenderSession string `json:"sender_session,omitempty"`

	// joined / peer_joined / peer_left
	SessionID string     `json:"session_id,omitempty"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
	Peers     []PeerInfo `json:"peers,omitempty"`

	// WebRTC payloads, never inspected.
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorEnvelope(code, message string) *Envelope {
	return &Envelope{Type: TypeError, Code: code, Message: message}
}

// NewRoomID returns a short room identifier for the rendezvous endpoint.
func NewRoomID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic("signaling: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// defaultDeviceName labels peers that do not announce a device name.
func defaultDeviceName() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic("signaling: crypto/rand unavailable: " + err.Error())
	}
	return "Device_" + hex.EncodeToString(buf)
}
