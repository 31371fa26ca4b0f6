// Package room hosts one goroutine per room. The goroutine owns the room's
// state and processes commands one at a time off a typed inbox, which gives
// FIFO broadcasts and serialized state mutation without locks.
package room

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/game"
	"github.com/partyplay/room-server/internal/protocol"
)

type Msg interface{ isRoomMsg() }

// Attach registers a session outbox for broadcasts and replies.
type Attach struct {
	SessionID string
	Outbox    chan protocol.Message
}

func (Attach) isRoomMsg() {}

type Detach struct{ SessionID string }

func (Detach) isRoomMsg() {}

// FromClient carries one validated command plus the correlation info
// needed to reply to its originator.
type FromClient struct {
	SessionID string
	RequestID string
	Event     string
	Cmd       game.Command

	// Ack, when non-nil (it must be buffered), receives whether the
	// command was accepted. The router uses it on joins to bind the
	// session only once the player is actually seated.
	Ack chan<- bool
}

func (FromClient) isRoomMsg() {}

type GetView struct{ Reply chan View }

func (GetView) isRoomMsg() {}

type View struct {
	State       game.State
	NumSessions int
}

// Expire is sent by the registry sweep; the room tells its members and
// shuts down.
type Expire struct{}

func (Expire) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type Options struct {
	Logger *zap.Logger
	Rng    *rand.Rand
	Win    game.WinFunc
	// OnEmpty is called from the room goroutine when the last player
	// leaves, so the owner can drop its reference. The room has already
	// shut down (Done is closed) by the time it fires.
	OnEmpty func(code string)
}

type Room struct {
	inbox  chan Msg
	state  game.State
	disp   *Dispatcher
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	// Unix nanos of the last accepted command; read by the registry sweep
	// without entering the room goroutine.
	lastActivity atomic.Int64
}

func New(parent context.Context, initial game.State, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Rng == nil {
		opts.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	r := &Room{
		inbox:  make(chan Msg, 64),
		state:  initial,
		disp:   NewDispatcher(opts.Logger.With(zap.String("room", initial.Code))),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	r.lastActivity.Store(time.Now().UnixNano())
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room goroutine has been told to stop.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) Code() string { return r.state.Code }

// LastActivity is safe to call from any goroutine.
func (r *Room) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				r.disp.Attach(msg.SessionID, msg.Outbox)

			case Detach:
				r.disp.Detach(msg.SessionID)

			case FromClient:
				r.handleCommand(msg)

			case GetView:
				msg.Reply <- View{State: r.state, NumSessions: r.disp.Len()}

			case Expire:
				r.disp.Broadcast(protocol.ErrorMessage("", &protocol.ErrorPayload{
					Code:    protocol.CodeRoomTimeout,
					Message: "room closed after inactivity",
				}))
				r.shutdown()
				return

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleCommand(msg FromClient) {
	deps := game.Deps{Rng: r.opts.Rng, Now: time.Now(), Win: r.opts.Win}
	events, newState, err := game.Apply(r.state, msg.Cmd, deps)
	if err != nil {
		// Internal commands (disconnect-driven leaves) carry no requestId
		// and need no reply.
		if msg.RequestID != "" {
			r.disp.ReplyTo(msg.SessionID, protocol.ErrorMessage(msg.RequestID, protocol.WireError(err)))
		}
		// A session whose join was refused has no business staying
		// attached to this room's broadcasts.
		if msg.Cmd.Type == game.CmdJoin {
			r.disp.Detach(msg.SessionID)
		}
		ack(msg.Ack, false)
		return
	}
	r.state = newState
	r.lastActivity.Store(deps.Now.UnixNano())
	r.state.LastActivity = deps.Now

	// Every accepted command replies with the resulting snapshot before the
	// broadcasts go out, so the originator always resolves its request.
	reply := protocol.Response(msg.Event, msg.RequestID, r.state)
	reply.PlayerID = msg.Cmd.PlayerID
	r.disp.ReplyTo(msg.SessionID, reply)
	ack(msg.Ack, true)
	r.broadcastEvents(events, msg.Cmd)

	if len(r.state.Players) == 0 {
		// Shut down first: with Done closed, an OnEmpty that sends to the
		// owner can never deadlock against the owner waiting on this room.
		r.shutdown()
		if r.opts.OnEmpty != nil {
			r.opts.OnEmpty(r.state.Code)
		}
	}
}

func ack(ch chan<- bool, ok bool) {
	if ch == nil {
		return
	}
	select {
	case ch <- ok:
	default:
	}
}

func (r *Room) broadcastEvents(events []game.Event, cmd game.Command) {
	needUpdate := false
	for _, e := range events {
		switch e.Type {
		case game.EvtPlayerJoined, game.EvtPlayerLeft, game.EvtHostChanged,
			game.EvtTurnAdvanced, game.EvtGamePaused, game.EvtGameResumed:
			needUpdate = true

		case game.EvtGameStarted:
			r.disp.Broadcast(protocol.Broadcast(protocol.EvGameStart, r.state))
			needUpdate = true

		case game.EvtDiceRolled:
			r.disp.Broadcast(protocol.Broadcast(protocol.EvDiceRoll, protocol.DiceRollPayload{
				RoomID:    r.state.Code,
				PlayerID:  e.PlayerID,
				DiceValue: e.Value,
			}))

		case game.EvtPlayerMoved:
			r.disp.Broadcast(protocol.Broadcast(protocol.EvPlayerMove, protocol.PlayerMovePayload{
				RoomID:       r.state.Code,
				PlayerID:     e.PlayerID,
				FromPosition: e.From,
				ToPosition:   e.To,
				Steps:        e.Steps,
			}))
			needUpdate = true

		case game.EvtTaskTriggered:
			r.disp.Broadcast(protocol.Broadcast(protocol.EvTaskTrigger, e.Task))

		case game.EvtTaskCompleted:
			r.disp.Broadcast(protocol.Broadcast(protocol.EvTaskComplete, protocol.TaskCompletePayload{
				RoomID:    r.state.Code,
				TaskID:    cmd.TaskID,
				PlayerID:  e.PlayerID,
				Completed: e.Completed,
			}))
			needUpdate = true

		case game.EvtGameEnded:
			name := ""
			if i := r.state.PlayerByID(e.WinnerID); i >= 0 {
				name = r.state.Players[i].Name
			}
			r.disp.Broadcast(protocol.Broadcast(protocol.EvGameVictory, map[string]string{
				"winnerId":   e.WinnerID,
				"winnerName": name,
			}))
			needUpdate = true

		case game.EvtRoomEmptied:
			// handleCommand tears the room down right after this.
		}
	}
	if needUpdate {
		r.disp.Broadcast(protocol.Broadcast(protocol.EvRoomUpdate, r.state))
	}
}

func (r *Room) shutdown() {
	r.disp.detachAll()
	r.cancel()
}
