package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sharesync/sharesync/pkg/signaling"
)

// P2PHandler serves the room bootstrap routes for direct transfers.
type P2PHandler struct {
	hub *signaling.Hub
}

// NewP2PHandler creates a P2PHandler.
func NewP2PHandler(hub *signaling.Hub) *P2PHandler {
	return &P2PHandler{hub: hub}
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

// CreateRoom handles GET /api/v1/p2p/room. Room ids are minted here and
// only materialize in the hub when the first peer joins.
func (h *P2PHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, createRoomResponse{RoomID: signaling.NewRoomID()})
}

// GetRoom handles GET /api/v1/p2p/room/{roomID}.
func (h *P2PHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	info, ok := h.hub.RoomInfo(chi.URLParam(r, "roomID"))
	if !ok {
		WriteError(w, http.StatusNotFound, CodeNotFound, "room not found")
		return
	}
	WriteJSON(w, http.StatusOK, info)
}
