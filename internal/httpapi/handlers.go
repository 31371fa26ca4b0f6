package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/partyplay/room-server/internal/registry"
)

// ListRooms exposes the public room directory for server browsers. Rooms
// themselves are created over the websocket, not here.
func ListRooms(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := reg.List()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms any `json:"rooms"`
			Count int `json:"count"`
		}{Rooms: summaries, Count: len(summaries)})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
