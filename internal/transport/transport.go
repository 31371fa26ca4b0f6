// Package transport is the binding-agnostic half of the message transport.
// The concrete bindings (hosted relay over websocket, LAN over a raw TCP
// stream) only pump frames; everything protocol-aware lives here, so the
// room and registry code never sees either binding.
//
// The capability surface maps onto the bindings as: send = Session.Outbox,
// onMessage = Router.HandleMessage, onDisconnect = Router.HandleDisconnect;
// room-scoped broadcasts are fanned out by the room's dispatcher into every
// attached session outbox.
package transport

import (
	"github.com/google/uuid"

	"github.com/partyplay/room-server/internal/protocol"
	"github.com/partyplay/room-server/internal/room"
)

// outboxSize bounds how far a client may fall behind before it is dropped.
const outboxSize = 32

// Session is one live connection and its player identity. Its fields are
// only touched from the connection's reader goroutine, which handles
// messages strictly in arrival order.
type Session struct {
	ID     string
	Outbox chan protocol.Message

	playerID string
	roomID   string
	rm       *room.Room
}

func NewSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		Outbox: make(chan protocol.Message, outboxSize),
	}
}

// PlayerID is the player identity bound at create/join time, or "".
func (s *Session) PlayerID() string { return s.playerID }

// RoomID is the code of the joined room, or "".
func (s *Session) RoomID() string { return s.roomID }
