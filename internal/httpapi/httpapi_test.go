package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/game"
	"github.com/partyplay/room-server/internal/registry"
	"github.com/partyplay/room-server/internal/transport"
)

func newTestHandler(t *testing.T) (http.Handler, *registry.Registry) {
	t.Helper()
	reg := registry.New(context.Background(), registry.Config{}, zap.NewNop())
	t.Cleanup(reg.Shutdown)
	rt := transport.NewRouter(reg, zap.NewNop())
	return SetupRoutes(reg, rt, zap.NewNop()), reg
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListRooms(t *testing.T) {
	h, reg := newTestHandler(t)

	_, state, err := reg.Create(registry.CreateParams{
		Name:     "friday night",
		HostID:   "host-1",
		HostName: "Alice",
		Capacity: 4,
		GameType: "board-race",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Rooms []game.Summary `json:"rooms"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, state.Code, body.Rooms[0].Code)
	require.Equal(t, 1, body.Rooms[0].PlayerCount)
}
