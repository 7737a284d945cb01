package signaling

import "time"

// Room is a rendezvous point for peers. Rooms are created on first join
// and garbage-collected as soon as the last peer leaves. All access goes
// through the hub's registry lock; the room owns only its peer set.
type Room struct {
	id        string
	createdAt time.Time
	peers     map[string]*Peer
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		id:        id,
		createdAt: now,
		peers:     make(map[string]*Peer),
	}
}

func (r *Room) empty() bool { return len(r.peers) == 0 }

// others lists every peer in the room except the given session.
func (r *Room) others(sessionID string) []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != sessionID {
			out = append(out, p)
		}
	}
	return out
}

// RoomInfo is the public summary served by the room info endpoint.
type RoomInfo struct {
	RoomID    string    `json:"room_id"`
	PeerCount int       `json:"peer_count"`
	CreatedAt time.Time `json:"created_at"`
}
