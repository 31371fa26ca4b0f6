// Package clientsync mirrors the server's authoritative room snapshot into
// local client state and rides out transient disconnects. It works over any
// transport binding through the Conn interface: the relay, the LAN socket,
// and test fakes all fit.
package clientsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/partyplay/room-server/internal/game"
	"github.com/partyplay/room-server/internal/protocol"
)

// Conn is one live connection to the server. Receive blocks until a
// message arrives or the connection dies.
type Conn interface {
	Send(protocol.Message) error
	Receive() (protocol.Message, error)
	Close() error
}

var ErrRoomGone = errors.New("room no longer exists")

// RequestError wraps the server's error payload for a failed command.
type RequestError struct {
	Payload protocol.ErrorPayload
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Payload.Code, e.Payload.Message)
}

type Options struct {
	// OnUpdate fires after every applied authoritative snapshot.
	OnUpdate func(game.State)
	// OnRoomGone fires when the room is discovered to be gone (timeout
	// broadcast, or a failed resync).
	OnRoomGone func()
}

type Client struct {
	opts Options

	mu       sync.Mutex
	conn     Conn
	playerID string
	roomID   string
	snapshot *game.State
	pending  map[string]pendingReq
}

// pendingReq remembers which connection a request went out on, so the
// death of an old connection cannot fail requests already issued on its
// replacement.
type pendingReq struct {
	ch   chan protocol.Message
	conn Conn
}

func New(conn Conn, opts Options) *Client {
	return &Client{
		opts:    opts,
		conn:    conn,
		pending: make(map[string]pendingReq),
	}
}

// newRequestID builds a unique correlation id: timestamp plus a random
// suffix.
func newRequestID() string {
	return fmt.Sprintf("%d-%04x", time.Now().UnixMilli(), rand.Intn(1<<16))
}

// Run consumes inbound messages until the connection dies or the context
// is cancelled. It must be running for Request and the broadcast handling
// to make progress.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		msg, err := conn.Receive()
		if err != nil {
			c.failPending(conn, err)
			return err
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	// Correlated replies resolve their pending request.
	if msg.RequestID != "" {
		c.mu.Lock()
		req, ok := c.pending[msg.RequestID]
		if ok {
			delete(c.pending, msg.RequestID)
		}
		c.mu.Unlock()
		if ok {
			req.ch <- msg
		}
		return
	}

	switch {
	case msg.Type == protocol.TypeError:
		if msg.Error != nil && msg.Error.Code == protocol.CodeRoomTimeout {
			c.clearRoom()
			if c.opts.OnRoomGone != nil {
				c.opts.OnRoomGone()
			}
		}

	case msg.Event == protocol.EvRoomUpdate || msg.Event == protocol.EvGameStart:
		var s game.State
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return
		}
		c.applySnapshot(s)

	case msg.Event == protocol.EvDiceRoll:
		var p protocol.DiceRollPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		// The authoritative roll always overwrites any optimistic value.
		c.mu.Lock()
		if c.snapshot != nil {
			c.snapshot.LastDice = p.DiceValue
		}
		c.mu.Unlock()
	}
}

// applySnapshot is a pure full replacement, never a merge; replaying an
// identical snapshot produces an identical local view.
func (c *Client) applySnapshot(s game.State) {
	c.mu.Lock()
	c.snapshot = &s
	c.roomID = s.Code
	c.mu.Unlock()
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(s)
	}
}

func (c *Client) clearRoom() {
	c.mu.Lock()
	c.snapshot = nil
	c.roomID = ""
	c.mu.Unlock()
}

func (c *Client) failPending(conn Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, req := range c.pending {
		if req.conn != conn {
			continue
		}
		delete(c.pending, id)
		req.ch <- protocol.ErrorMessage(id, &protocol.ErrorPayload{
			Code:    protocol.CodeBadRequest,
			Message: err.Error(),
		})
	}
}

// Request sends one command and waits for its correlated reply.
func (c *Client) Request(ctx context.Context, event string, payload any) (protocol.Message, error) {
	requestID := newRequestID()
	ch := make(chan protocol.Message, 1)

	c.mu.Lock()
	conn := c.conn
	c.pending[requestID] = pendingReq{ch: ch, conn: conn}
	c.mu.Unlock()

	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return protocol.Message{}, err
		}
	}
	err := conn.Send(protocol.Message{
		Type:      protocol.TypeEvent,
		Event:     event,
		RequestID: requestID,
		Data:      data,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return protocol.Message{}, err
	}

	select {
	case reply := <-ch:
		if reply.Type == protocol.TypeError {
			payload := protocol.ErrorPayload{Code: protocol.CodeBadRequest}
			if reply.Error != nil {
				payload = *reply.Error
			}
			return reply, &RequestError{Payload: payload}
		}
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return protocol.Message{}, ctx.Err()
	}
}

func (c *Client) requestSnapshot(ctx context.Context, event string, payload any) (game.State, error) {
	reply, err := c.Request(ctx, event, payload)
	if err != nil {
		return game.State{}, err
	}
	var s game.State
	if err := json.Unmarshal(reply.Data, &s); err != nil {
		return game.State{}, err
	}
	if reply.PlayerID != "" {
		c.mu.Lock()
		c.playerID = reply.PlayerID
		c.mu.Unlock()
	}
	c.applySnapshot(s)
	return s, nil
}

func (c *Client) CreateRoom(ctx context.Context, p protocol.CreateRoomPayload) (game.State, error) {
	return c.requestSnapshot(ctx, protocol.EvRoomCreate, p)
}

func (c *Client) JoinRoom(ctx context.Context, roomID, playerName, avatar string) (game.State, error) {
	return c.requestSnapshot(ctx, protocol.EvRoomJoin, protocol.JoinRoomPayload{
		RoomID: roomID, PlayerName: playerName, Avatar: avatar,
	})
}

func (c *Client) Leave(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.EvRoomLeave, nil)
	c.clearRoom()
	return err
}

func (c *Client) StartGame(ctx context.Context) (game.State, error) {
	return c.requestSnapshot(ctx, protocol.EvGameStart, protocol.StartGamePayload{RoomID: c.RoomID()})
}

// RollDice reflects the roll locally right away for animation, then lets
// the authoritative broadcast settle the value.
func (c *Client) RollDice(ctx context.Context, value int) error {
	c.mu.Lock()
	if c.snapshot != nil {
		c.snapshot.LastDice = value
	}
	c.mu.Unlock()
	_, err := c.Request(ctx, protocol.EvDiceRoll, protocol.DiceRollPayload{
		RoomID: c.RoomID(), PlayerID: c.PlayerID(), DiceValue: value,
	})
	return err
}

func (c *Client) Move(ctx context.Context, from, to, steps int) error {
	_, err := c.Request(ctx, protocol.EvPlayerMove, protocol.PlayerMovePayload{
		RoomID: c.RoomID(), PlayerID: c.PlayerID(), FromPosition: from, ToPosition: to, Steps: steps,
	})
	return err
}

func (c *Client) EndTurn(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.EvEndTurn, protocol.EndTurnPayload{RoomID: c.RoomID()})
	return err
}

func (c *Client) TriggerTask(ctx context.Context, taskType game.TaskType, executors []string, task game.TaskCard) error {
	_, err := c.Request(ctx, protocol.EvTaskTrigger, protocol.TaskTriggerPayload{
		RoomID:            c.RoomID(),
		TaskType:          taskType,
		TriggerPlayerID:   c.PlayerID(),
		ExecutorPlayerIDs: executors,
		Task:              task,
	})
	return err
}

func (c *Client) CompleteTask(ctx context.Context, taskID string, completed bool) error {
	_, err := c.Request(ctx, protocol.EvTaskComplete, protocol.TaskCompletePayload{
		RoomID: c.RoomID(), TaskID: taskID, PlayerID: c.PlayerID(), Completed: completed,
	})
	return err
}

// Reconnect swaps in a fresh connection after a transport loss and
// re-requests the authoritative snapshot for the stored room id. Prior
// state is never assumed valid. Restart Run once Reconnect has issued
// the sync request; the reply cannot arrive without the receive loop.
func (c *Client) Reconnect(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	c.conn = conn
	roomID := c.roomID
	c.mu.Unlock()

	if roomID == "" {
		return nil
	}
	_, err := c.requestSnapshot(ctx, protocol.EvRoomSync, protocol.SyncRoomPayload{RoomID: roomID})
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Payload.Code == protocol.CodeRoomNotFound {
			c.clearRoom()
			if c.opts.OnRoomGone != nil {
				c.opts.OnRoomGone()
			}
			return ErrRoomGone
		}
		return err
	}
	return nil
}

func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Snapshot returns a copy of the latest authoritative room state.
func (c *Client) Snapshot() (game.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return game.State{}, false
	}
	return *c.snapshot, true
}

// IsMyTurn compares this client's player identity against the player at
// the snapshot's current turn index.
func (c *Client) IsMyTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil || c.snapshot.Status != game.StatusPlaying {
		return false
	}
	if c.snapshot.CurrentTurn < 0 || c.snapshot.CurrentTurn >= len(c.snapshot.Players) {
		return false
	}
	return c.snapshot.Players[c.snapshot.CurrentTurn].ID == c.playerID
}
