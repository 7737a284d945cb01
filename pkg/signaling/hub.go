// Package signaling implements the WebRTC rendezvous hub. The hub relays
// handshake frames between browser peers in the same room; it reads only
// envelope metadata and never interprets signaling payloads.
//
// All state is in-memory and process-local. A restart drops every session;
// peers are expected to rejoin, which is acceptable because P2P sessions
// are short-lived.
package signaling

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/internal/metrics"
)

// AdmitFunc decides whether a caller may join a room. userID is empty for
// anonymous peers. A nil AdmitFunc admits everyone.
type AdmitFunc func(roomID, userID, ipHash string) bool

// Config holds hub tuning knobs.
type Config struct {
	// MaxRooms caps concurrently live rooms; joins beyond it are refused.
	MaxRooms int `mapstructure:"max_rooms" yaml:"max_rooms"`

	// RoomCap caps peers per room.
	RoomCap int `mapstructure:"room_cap" yaml:"room_cap"`

	// SendQueueSize bounds each peer's outbound queue in frames. A peer
	// that overflows it is closed rather than allowed to stall senders.
	SendQueueSize int `mapstructure:"send_queue_size" yaml:"send_queue_size"`

	// MaxFrameBytes caps a single inbound frame.
	MaxFrameBytes int64 `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`

	// HeartbeatInterval is the liveness sweep and protocol-ping period.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// IdleTimeout closes sessions with no inbound traffic.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// AllowAnonymous admits peers without a session; they stay bound to a
	// hashed IP for rate limiting.
	AllowAnonymous bool `mapstructure:"allow_anonymous" yaml:"allow_anonymous"`

	// Admit overrides room admission; nil admits any room id.
	Admit AdmitFunc `mapstructure:"-" yaml:"-"`
}

// ApplyDefaults fills in zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxRooms == 0 {
		c.MaxRooms = 1024
	}
	if c.RoomCap == 0 {
		c.RoomCap = 16
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 64
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = 64 * 1024
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxRooms < 1 || c.RoomCap < 1 {
		return fmt.Errorf("max_rooms and room_cap must be at least 1")
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1")
	}
	if c.MaxFrameBytes < 1024 {
		return fmt.Errorf("max_frame_bytes must be at least 1024")
	}
	if c.IdleTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("idle_timeout must exceed heartbeat_interval")
	}
	return nil
}

// Hub is the room and session registry.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	rooms    map[string]*Room
	sessions map[string]*Peer

	metrics *metrics.HubMetrics
	now     func() time.Time
}

// NewHub creates a hub with the given configuration.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session auth happens before the upgrade; cross-origin pages
			// cannot read the HttpOnly cookie, so origin pinning adds
			// nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Peer),
		now:      time.Now,
	}
}

// SetMetrics attaches hub metrics. m may be nil.
func (h *Hub) SetMetrics(m *metrics.HubMetrics) {
	h.metrics = m
}

// ServeWS upgrades the request and runs the session pumps. userID is empty
// for anonymous callers; ipHash must always be set.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, ipHash string) {
	if userID == "" && !h.cfg.AllowAnonymous {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	now := h.now()
	p := &Peer{
		hub:       h,
		conn:      conn,
		sessionID: uuid.NewString(),
		userID:    userID,
		ipHash:    ipHash,
		state:     stateConnecting,
		lastSeen:  now,
		send:      make(chan []byte, h.cfg.SendQueueSize),
	}

	h.mu.Lock()
	h.sessions[p.sessionID] = p
	h.mu.Unlock()

	logger.Debug("signaling session opened",
		"session_id", p.sessionID,
		"authenticated", userID != "")

	go p.writePump()
	go p.readPump()
}

// handle dispatches one inbound frame. Called from the peer's read pump.
func (h *Hub) handle(p *Peer, env *Envelope) {
	switch env.Type {
	case TypePing:
		h.reply(p, &Envelope{Type: TypePong})
	case TypeJoinRoom:
		h.handleJoin(p, env)
	case TypeLeaveRoom:
		h.handleLeave(p)
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeICECandidate:
		h.relay(p, env)
	default:
		h.reply(p, errorEnvelope(CodeValidationFailed, "unknown message type"))
	}
}

func (h *Hub) handleJoin(p *Peer, env *Envelope) {
	if env.RoomID == "" {
		h.reply(p, errorEnvelope(CodeValidationFailed, "room_id is required"))
		return
	}
	if h.cfg.Admit != nil && !h.cfg.Admit(env.RoomID, p.userID, p.ipHash) {
		h.reply(p, errorEnvelope(CodeForbidden, "room admission refused"))
		return
	}

	deviceName := env.DeviceName
	if deviceName == "" {
		deviceName = defaultDeviceName()
	}

	h.mu.Lock()
	p.mu.Lock()
	if p.state != stateConnecting {
		p.mu.Unlock()
		h.mu.Unlock()
		h.reply(p, errorEnvelope(CodeInvalidState, "already joined"))
		return
	}

	room, ok := h.rooms[env.RoomID]
	if !ok {
		if len(h.rooms) >= h.cfg.MaxRooms {
			p.mu.Unlock()
			h.mu.Unlock()
			h.reply(p, errorEnvelope(CodeUnavailable, "room capacity reached"))
			return
		}
		room = newRoom(env.RoomID, h.now())
		h.rooms[env.RoomID] = room
	}
	if len(room.peers) >= h.cfg.RoomCap {
		p.mu.Unlock()
		h.mu.Unlock()
		h.reply(p, errorEnvelope(CodeUnavailable, "room is full"))
		return
	}

	now := h.now()
	p.state = stateJoined
	p.roomID = env.RoomID
	p.deviceName = deviceName
	p.joinedAt = now
	p.mu.Unlock()

	room.peers[p.sessionID] = p

	others := room.others(p.sessionID)
	peers := make([]PeerInfo, 0, len(others))
	for _, other := range others {
		peers = append(peers, other.info())
	}
	h.mu.Unlock()

	h.reply(p, &Envelope{
		Type:      TypeJoined,
		SessionID: p.sessionID,
		RoomID:    env.RoomID,
		Peers:     peers,
	})

	joined := &Envelope{
		Type:       TypePeerJoined,
		SessionID:  p.sessionID,
		DeviceName: deviceName,
		RoomID:     env.RoomID,
		JoinedAt:   &now,
	}
	for _, other := range others {
		h.reply(other, joined)
	}

	logger.Debug("peer joined room",
		"session_id", p.sessionID,
		"room_id", env.RoomID,
		"device_name", deviceName,
		"peers", len(others)+1)
}

func (h *Hub) handleLeave(p *Peer) {
	p.mu.Lock()
	if p.state != stateJoined {
		p.mu.Unlock()
		h.reply(p, errorEnvelope(CodeInvalidState, "not in a room"))
		return
	}
	p.state = stateLeaving
	p.mu.Unlock()

	// detach broadcasts peer_left and finishes the leaving -> closed
	// transition; closing the transport unblocks the read pump which
	// calls it.
	p.close("", "left room")
}

// relay forwards a directed frame to its target with the sender stamped.
// Targets outside the sender's room are refused without revealing whether
// the session exists.
func (h *Hub) relay(p *Peer, env *Envelope) {
	p.mu.Lock()
	state, roomID := p.state, p.roomID
	p.mu.Unlock()

	if state != stateJoined {
		h.reply(p, errorEnvelope(CodeInvalidState, "join a room first"))
		return
	}
	if env.TargetSession == "" {
		h.reply(p, errorEnvelope(CodeValidationFailed, "target_session is required"))
		return
	}

	h.mu.RLock()
	target, ok := h.sessions[env.TargetSession]
	var targetRoom string
	if ok {
		target.mu.Lock()
		targetRoom = target.roomID
		target.mu.Unlock()
	}
	h.mu.RUnlock()

	if !ok {
		h.reply(p, errorEnvelope(CodeUnknownPeer, "no such peer"))
		return
	}
	if targetRoom != roomID {
		h.reply(p, errorEnvelope(CodeCrossRoomForbidden, "peer is not in your room"))
		return
	}

	forward := &Envelope{
		Type:          env.Type,
		SenderSession: p.sessionID,
		Offer:         env.Offer,
		Answer:        env.Answer,
		Candidate:     env.Candidate,
	}
	if !target.enqueue(forward) {
		target.close(CodeSendBufferExhausted, "send queue overflow")
		return
	}
	h.metrics.FrameRelayed()
}

// reply enqueues a frame for p, closing it when the queue is saturated.
func (h *Hub) reply(p *Peer, env *Envelope) {
	if !p.enqueue(env) {
		p.close(CodeSendBufferExhausted, "send queue overflow")
	}
}

// detach removes a session from the registry and its room, broadcasting
// peer_left to the remaining occupants. Safe to call more than once.
func (h *Hub) detach(p *Peer) {
	h.mu.Lock()
	if _, ok := h.sessions[p.sessionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, p.sessionID)

	p.mu.Lock()
	roomID := p.roomID
	p.state = stateClosed
	p.mu.Unlock()

	// A non-empty room id means the peer made it past join_room and the
	// occupants must hear peer_left exactly once.
	var remaining []*Peer
	if roomID != "" {
		if room, ok := h.rooms[roomID]; ok {
			delete(room.peers, p.sessionID)
			if room.empty() {
				delete(h.rooms, roomID)
			} else {
				remaining = room.others(p.sessionID)
			}
		}
	}
	h.mu.Unlock()

	left := &Envelope{Type: TypePeerLeft, SessionID: p.sessionID, RoomID: roomID}
	for _, other := range remaining {
		h.reply(other, left)
	}
}

// Run sweeps idle sessions until ctx is done. One sweep per heartbeat
// interval closes every session idle past the timeout; empty rooms are
// collected by detach as their last peer goes.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case <-ticker.C:
			h.sweepIdle()
			stats := h.Stats()
			h.metrics.SetConnectedPeers(stats.ConnectedPeers)
			h.metrics.SetActiveRooms(stats.ActiveRooms)
		}
	}
}

func (h *Hub) sweepIdle() {
	now := h.now()

	h.mu.RLock()
	var idle []*Peer
	for _, p := range h.sessions {
		if p.idleSince(now) > h.cfg.IdleTimeout {
			idle = append(idle, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range idle {
		logger.Debug("closing idle signaling session", "session_id", p.sessionID)
		p.close("", "idle timeout")
		h.detach(p)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.sessions))
	for _, p := range h.sessions {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.close("", "shutdown")
		h.detach(p)
	}
}

// Stats reports live hub counters for health reporting.
type Stats struct {
	ConnectedPeers int `json:"connected_peers"`
	ActiveRooms    int `json:"active_rooms"`
}

// Stats returns a snapshot of the registry.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		ConnectedPeers: len(h.sessions),
		ActiveRooms:    len(h.rooms),
	}
}

// RoomInfo returns the public summary of a room, or false when it does not
// exist (or has already been collected).
func (h *Hub) RoomInfo(roomID string) (RoomInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{
		RoomID:    room.id,
		PeerCount: len(room.peers),
		CreatedAt: room.createdAt,
	}, true
}
