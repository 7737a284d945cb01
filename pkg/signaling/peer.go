package signaling

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sharesync/sharesync/internal/logger"
)

// peerState tracks the session lifecycle:
// connecting -> joined -> leaving -> closed.
type peerState int

const (
	stateConnecting peerState = iota
	stateJoined
	stateLeaving
	stateClosed
)

// Peer is one live signaling session. The hub owns the peer; it is
// destroyed on disconnect or idle timeout and never outlives the process.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn

	sessionID  string
	deviceName string

	// userID is empty for anonymous peers; ipHash is always set and binds
	// anonymous sessions to a rate-limit subject.
	userID string
	ipHash string

	mu       sync.Mutex
	state    peerState
	roomID   string
	joinedAt time.Time
	lastSeen time.Time

	send      chan []byte
	closeOnce sync.Once
}

func (p *Peer) info() PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PeerInfo{
		SessionID:  p.sessionID,
		DeviceName: p.deviceName,
		JoinedAt:   p.joinedAt,
	}
}

func (p *Peer) touch(now time.Time) {
	p.mu.Lock()
	p.lastSeen = now
	p.mu.Unlock()
}

func (p *Peer) idleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastSeen)
}

// enqueue offers a frame to the peer's send queue without blocking. A full
// queue means the peer is too slow to keep; the caller closes it.
func (p *Peer) enqueue(env *Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("failed to marshal signaling frame", "type", env.Type, "error", err)
		return true
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// close tears down the transport once. The close frame carries the error
// code so clients can distinguish policy closes from network failures.
func (p *Peer) close(code, reason string) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = stateClosed
		p.mu.Unlock()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, code)
		deadline := time.Now().Add(p.hub.cfg.WriteTimeout)
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = p.conn.Close()

		if reason != "" {
			logger.Debug("signaling peer closed", "session_id", p.sessionID, "reason", reason)
		}
	})
}

// readPump reads frames until the transport dies, dispatching each one to
// the hub. It owns the read side of the connection.
func (p *Peer) readPump() {
	defer func() {
		p.hub.detach(p)
		p.close("", "read loop ended")
	}()

	p.conn.SetReadLimit(p.hub.cfg.MaxFrameBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.hub.cfg.IdleTimeout))
	p.conn.SetPongHandler(func(string) error {
		p.touch(p.hub.now())
		return p.conn.SetReadDeadline(time.Now().Add(p.hub.cfg.IdleTimeout))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				p.close(CodeFrameTooLarge, "frame over size cap")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("signaling read error", "session_id", p.sessionID, "error", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(p.hub.cfg.IdleTimeout))
		p.touch(p.hub.now())

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if !p.enqueue(errorEnvelope(CodeValidationFailed, "malformed frame")) {
				p.close(CodeSendBufferExhausted, "send queue overflow")
				return
			}
			continue
		}
		p.hub.handle(p, &env)
	}
}

// writePump drains the send queue onto the transport and keeps the
// connection alive with protocol pings. It owns the write side.
func (p *Peer) writePump() {
	ticker := time.NewTicker(p.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		p.close("", "write loop ended")
	}()

	for {
		select {
		case data, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.hub.cfg.WriteTimeout))
			if !ok {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.hub.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
