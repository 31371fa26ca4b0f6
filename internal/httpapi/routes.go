package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/registry"
	"github.com/partyplay/room-server/internal/transport"
	"github.com/partyplay/room-server/internal/transport/relay"
)

func SetupRoutes(reg *registry.Registry, rt *transport.Router, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/rooms", ListRooms(reg))
	r.Get("/ws", relay.Handler(rt, logger))
	return r
}
