package transport

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/game"
	"github.com/partyplay/room-server/internal/protocol"
	"github.com/partyplay/room-server/internal/registry"
	"github.com/partyplay/room-server/internal/room"
)

// Router validates inbound frames and routes them to the registry or the
// session's room. Both bindings share one Router.
type Router struct {
	reg    *registry.Registry
	logger *zap.Logger
}

func NewRouter(reg *registry.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{reg: reg, logger: logger}
}

// reply pushes a message onto the session outbox without ever blocking the
// reader goroutine.
func (rt *Router) reply(sess *Session, msg protocol.Message) {
	select {
	case sess.Outbox <- msg:
	default:
		rt.logger.Warn("session outbox full, dropping reply", zap.String("session", sess.ID))
	}
}

func (rt *Router) replyError(sess *Session, requestID, code, message string) {
	rt.reply(sess, protocol.ErrorMessage(requestID, &protocol.ErrorPayload{Code: code, Message: message}))
}

// HandleMessage processes one inbound frame. Malformed payloads get an
// error reply; they never reach the state machine.
func (rt *Router) HandleMessage(sess *Session, msg protocol.Message) {
	if msg.Type != protocol.TypeEvent {
		rt.replyError(sess, msg.RequestID, protocol.CodeBadRequest, "clients may only send event messages")
		return
	}

	payload, err := protocol.DecodeCommand(msg.Event, msg.Data)
	if err != nil {
		rt.replyError(sess, msg.RequestID, protocol.CodeBadRequest, err.Error())
		return
	}

	switch p := payload.(type) {
	case protocol.CreateRoomPayload:
		rt.handleCreate(sess, msg.RequestID, p)
	case protocol.JoinRoomPayload:
		rt.handleJoin(sess, msg.RequestID, p)
	case protocol.SyncRoomPayload:
		rt.handleSync(sess, msg.RequestID, p)
	default:
		switch msg.Event {
		case protocol.EvRoomList:
			reply := protocol.Response(protocol.EvRoomList, msg.RequestID, rt.reg.List())
			rt.reply(sess, reply)
		case protocol.EvRoomLeave:
			rt.handleLeave(sess, msg.RequestID)
		default:
			rt.handleGameCommand(sess, msg.RequestID, msg.Event, payload)
		}
	}
}

func (rt *Router) handleCreate(sess *Session, requestID string, p protocol.CreateRoomPayload) {
	// Creating while bound to a room implicitly leaves it first.
	rt.leaveCurrent(sess)
	playerID := uuid.NewString()
	rm, state, err := rt.reg.Create(registry.CreateParams{
		Name:       p.RoomName,
		HostID:     playerID,
		HostName:   p.PlayerName,
		HostAvatar: p.Avatar,
		Capacity:   p.MaxPlayers,
		TaskSetID:  p.TaskSetID,
		GameType:   p.GameType,
	})
	if err != nil {
		rt.replyError(sess, requestID, protocol.CodeBadRequest, err.Error())
		return
	}
	select {
	case rm.Inbox() <- room.Attach{SessionID: sess.ID, Outbox: sess.Outbox}:
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room is gone")
		return
	}
	sess.playerID = playerID
	sess.roomID = state.Code
	sess.rm = rm

	reply := protocol.Response(protocol.EvRoomCreate, requestID, state)
	reply.PlayerID = playerID
	rt.reply(sess, reply)
}

func (rt *Router) handleJoin(sess *Session, requestID string, p protocol.JoinRoomPayload) {
	rt.leaveCurrent(sess)
	rm, err := rt.reg.Get(p.RoomID)
	if err != nil {
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
		return
	}
	playerID := uuid.NewString()

	// Attach first so the session also receives its own join broadcast.
	// Every send is guarded on Done: a room that emptied or expired between
	// the registry lookup and here must still produce an explicit reply.
	select {
	case rm.Inbox() <- room.Attach{SessionID: sess.ID, Outbox: sess.Outbox}:
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
		return
	}
	seated := make(chan bool, 1)
	select {
	case rm.Inbox() <- room.FromClient{
		SessionID: sess.ID,
		RequestID: requestID,
		Event:     protocol.EvRoomJoin,
		Cmd: game.Command{
			Type:     game.CmdJoin,
			PlayerID: playerID,
			Name:     p.PlayerName,
			Avatar:   p.Avatar,
		},
		Ack: seated,
	}:
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
		return
	}

	// Bind the session only once the player is actually seated; a refused
	// join (full, already started) leaves it unbound, so later commands get
	// NOT_IN_ROOM from the router rather than an in-room error.
	select {
	case ok := <-seated:
		if !ok {
			return // the room already sent the error reply and detached us
		}
	case <-rm.Done():
		select {
		case ok := <-seated:
			if !ok {
				return
			}
		default:
			rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
			return
		}
	}
	sess.playerID = playerID
	sess.roomID = p.RoomID
	sess.rm = rm
}

func (rt *Router) handleSync(sess *Session, requestID string, p protocol.SyncRoomPayload) {
	rm, err := rt.reg.Get(p.RoomID)
	if err != nil {
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
		return
	}
	// Reconnect path: re-attach so the session receives broadcasts again.
	select {
	case rm.Inbox() <- room.Attach{SessionID: sess.ID, Outbox: sess.Outbox}:
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
		return
	}
	sess.roomID = p.RoomID
	sess.rm = rm

	reply := make(chan room.View, 1)
	select {
	case rm.Inbox() <- room.GetView{Reply: reply}:
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
		return
	}
	select {
	case view := <-reply:
		resp := protocol.Response(protocol.EvRoomSync, requestID, view.State)
		resp.PlayerID = sess.playerID
		rt.reply(sess, resp)
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room not found")
	}
}

func (rt *Router) handleLeave(sess *Session, requestID string) {
	if sess.rm == nil {
		rt.replyError(sess, requestID, protocol.CodeNotInRoom, "not in a room")
		return
	}
	rm, playerID := sess.rm, sess.playerID
	sess.playerID = ""
	sess.roomID = ""
	sess.rm = nil

	select {
	case rm.Inbox() <- room.FromClient{
		SessionID: sess.ID,
		RequestID: requestID,
		Event:     protocol.EvRoomLeave,
		Cmd:       game.Command{Type: game.CmdLeave, PlayerID: playerID},
	}:
	case <-rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room is gone")
		return
	}
	// Detach queues behind the leave command, so the reply and the final
	// broadcast still reach this session.
	select {
	case rm.Inbox() <- room.Detach{SessionID: sess.ID}:
	case <-rm.Done():
	}
}

// handleGameCommand covers every event that operates on the session's
// current room. The player identity always comes from the session, never
// from the payload, so a client cannot act as another player.
func (rt *Router) handleGameCommand(sess *Session, requestID, event string, payload any) {
	if sess.rm == nil {
		rt.replyError(sess, requestID, protocol.CodeNotInRoom, "join a room first")
		return
	}

	cmd := game.Command{PlayerID: sess.playerID}
	switch p := payload.(type) {
	case protocol.StartGamePayload:
		switch event {
		case protocol.EvGameStart:
			cmd.Type = game.CmdStart
		case protocol.EvGamePause:
			cmd.Type = game.CmdPause
		case protocol.EvGameResume:
			cmd.Type = game.CmdResume
		}
	case protocol.DiceRollPayload:
		cmd.Type = game.CmdRollDice
		cmd.Value = p.DiceValue
	case protocol.PlayerMovePayload:
		cmd.Type = game.CmdMove
		cmd.From = p.FromPosition
		cmd.To = p.ToPosition
		cmd.Steps = p.Steps
	case protocol.EndTurnPayload:
		cmd.Type = game.CmdEndTurn
	case protocol.TaskTriggerPayload:
		cmd.Type = game.CmdTriggerTask
		cmd.TaskType = p.TaskType
		cmd.Executors = p.AllExecutors()
		cmd.Task = p.Task
	case protocol.TaskCompletePayload:
		cmd.Type = game.CmdCompleteTask
		cmd.TaskID = p.TaskID
		cmd.Completed = p.Completed
		cmd.RewardSteps = p.RewardSteps
	default:
		rt.replyError(sess, requestID, protocol.CodeBadRequest, "unsupported event")
		return
	}

	select {
	case sess.rm.Inbox() <- room.FromClient{
		SessionID: sess.ID,
		RequestID: requestID,
		Event:     event,
		Cmd:       cmd,
	}:
	case <-sess.rm.Done():
		rt.replyError(sess, requestID, protocol.CodeRoomNotFound, "room is gone")
		sess.playerID = ""
		sess.roomID = ""
		sess.rm = nil
	}
}

// HandleDisconnect runs the leave path for a dropped connection. The
// reference behavior removes the player immediately, no grace period.
func (rt *Router) HandleDisconnect(sess *Session) {
	rt.leaveCurrent(sess)
}

// leaveCurrent detaches the session from its room, removing its player.
// The leave carries no requestId, so a player that was never actually
// seated (a refused join) produces no stray error frame.
func (rt *Router) leaveCurrent(sess *Session) {
	if sess.rm == nil {
		return
	}
	rm := sess.rm
	select {
	case rm.Inbox() <- room.FromClient{
		SessionID: sess.ID,
		Event:     protocol.EvRoomLeave,
		Cmd:       game.Command{Type: game.CmdLeave, PlayerID: sess.playerID},
	}:
	case <-rm.Done():
	}
	select {
	case rm.Inbox() <- room.Detach{SessionID: sess.ID}:
	case <-rm.Done():
	}
	sess.playerID = ""
	sess.roomID = ""
	sess.rm = nil
}
