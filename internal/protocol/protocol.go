// Package protocol defines the wire contract shared by both transport
// bindings.
//
// Envelope (one JSON object per message; the LAN binding terminates each
// with a single '\n'):
//
//	{ type: "event"|"response"|"broadcast"|"error",
//	  event?: string,            // e.g. "room:join"
//	  requestId?: string,        // correlates a request to its response
//	  playerId?: string,
//	  data?: object,
//	  error?: { code, message, details? } }
//
// Client commands carry a requestId and always receive exactly one
// "response" or "error" with the same requestId. Broadcasts ("room:update",
// "game:*") carry no requestId and go to every session in the room.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/partyplay/room-server/internal/game"
)

type MsgType string

const (
	TypeEvent     MsgType = "event"
	TypeResponse  MsgType = "response"
	TypeBroadcast MsgType = "broadcast"
	TypeError     MsgType = "error"
)

// Client -> server command events.
const (
	EvRoomCreate   = "room:create"
	EvRoomJoin     = "room:join"
	EvRoomLeave    = "room:leave"
	EvRoomList     = "room:list"
	EvRoomSync     = "room:sync"
	EvGameStart    = "game:start"
	EvGamePause    = "game:pause"
	EvGameResume   = "game:resume"
	EvDiceRoll     = "game:dice-roll"
	EvPlayerMove   = "game:player-move"
	EvEndTurn      = "game:end-turn"
	EvTaskTrigger  = "game:task-trigger"
	EvTaskComplete = "game:task-complete"
)

// Server -> client broadcast events.
const (
	EvRoomUpdate  = "room:update"
	EvGameVictory = "game:victory"
)

type Message struct {
	Type      MsgType         `json:"type"`
	Event     string          `json:"event,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	PlayerID  string          `json:"playerId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes surfaced to clients.
const (
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeRoomFull           = "ROOM_FULL"
	CodeGameAlreadyStarted = "GAME_ALREADY_STARTED"
	CodeGameNotStarted     = "GAME_NOT_STARTED"
	CodeGameEnded          = "GAME_ENDED"
	CodeNotHost            = "NOT_HOST"
	CodeNotEnoughPlayers   = "NOT_ENOUGH_PLAYERS"
	CodeNotYourTurn        = "NOT_YOUR_TURN"
	CodeNotInRoom          = "NOT_IN_ROOM"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeRoomTimeout        = "ROOM_TIMEOUT"
	CodeBadRequest         = "BAD_REQUEST"
)

// WireError maps a state-machine error to its wire payload.
func WireError(err error) *ErrorPayload {
	code := CodeBadRequest
	switch {
	case errors.Is(err, game.ErrRoomFull):
		code = CodeRoomFull
	case errors.Is(err, game.ErrAlreadyStarted):
		code = CodeGameAlreadyStarted
	case errors.Is(err, game.ErrNotStarted):
		code = CodeGameNotStarted
	case errors.Is(err, game.ErrGameEnded):
		code = CodeGameEnded
	case errors.Is(err, game.ErrNotHost):
		code = CodeNotHost
	case errors.Is(err, game.ErrNotEnoughPlayers):
		code = CodeNotEnoughPlayers
	case errors.Is(err, game.ErrWrongTurn):
		code = CodeNotYourTurn
	case errors.Is(err, game.ErrUnknownPlayer):
		code = CodeNotInRoom
	case errors.Is(err, game.ErrUnknownTask),
		errors.Is(err, game.ErrNotExecutor),
		errors.Is(err, game.ErrAlreadyReported):
		code = CodeTaskNotFound
	}
	return &ErrorPayload{Code: code, Message: err.Error()}
}

// ErrorMessage builds an "error" reply correlated to a request.
func ErrorMessage(requestID string, payload *ErrorPayload) Message {
	return Message{Type: TypeError, RequestID: requestID, Error: payload}
}

// Response builds a "response" reply with a marshaled body.
func Response(event, requestID string, body any) Message {
	data, _ := json.Marshal(body)
	return Message{Type: TypeResponse, Event: event, RequestID: requestID, Data: data}
}

// Broadcast builds a fire-and-forget room broadcast.
func Broadcast(event string, body any) Message {
	data, _ := json.Marshal(body)
	return Message{Type: TypeBroadcast, Event: event, Data: data}
}

// Command payloads, one schema per event name. Validation happens at the
// transport boundary; the state machine only sees well-formed commands.

type CreateRoomPayload struct {
	RoomName   string `json:"roomName"`
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar,omitempty"`
	MaxPlayers int    `json:"maxPlayers"`
	TaskSetID  string `json:"taskSetId,omitempty"`
	GameType   string `json:"gameType"`
}

type JoinRoomPayload struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar,omitempty"`
}

type SyncRoomPayload struct {
	RoomID string `json:"roomId"`
}

type StartGamePayload struct {
	RoomID string `json:"roomId"`
}

type DiceRollPayload struct {
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
	DiceValue int    `json:"diceValue"`
}

type PlayerMovePayload struct {
	RoomID       string `json:"roomId"`
	PlayerID     string `json:"playerId"`
	FromPosition int    `json:"fromPosition"`
	ToPosition   int    `json:"toPosition"`
	Steps        int    `json:"steps"`
}

type EndTurnPayload struct {
	RoomID string `json:"roomId"`
}

// TaskTriggerPayload accepts either the single-executor field or the
// richer executor list; at least one executor must be named.
type TaskTriggerPayload struct {
	RoomID            string        `json:"roomId"`
	TaskType          game.TaskType `json:"taskType"`
	TriggerPlayerID   string        `json:"triggerPlayerId"`
	ExecutorPlayerID  string        `json:"executorPlayerId,omitempty"`
	ExecutorPlayerIDs []string      `json:"executorPlayerIds,omitempty"`
	Task              game.TaskCard `json:"task"`
}

func (p TaskTriggerPayload) AllExecutors() []string {
	if len(p.ExecutorPlayerIDs) > 0 {
		return p.ExecutorPlayerIDs
	}
	if p.ExecutorPlayerID != "" {
		return []string{p.ExecutorPlayerID}
	}
	return nil
}

type TaskCompletePayload struct {
	RoomID      string `json:"roomId"`
	TaskID      string `json:"taskId"`
	PlayerID    string `json:"playerId"`
	Completed   bool   `json:"completed"`
	RewardSteps int    `json:"rewardSteps,omitempty"`
}

var ErrUnknownEvent = errors.New("unknown event")
var ErrBadPayload = errors.New("bad payload")

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}

// DecodeCommand parses and validates the payload for a command event.
// The result is one of the typed payload structs above, or nil for
// body-less events (room:leave, room:list).
func DecodeCommand(event string, data json.RawMessage) (any, error) {
	switch event {
	case EvRoomCreate:
		p, err := decode[CreateRoomPayload](data)
		if err != nil {
			return nil, err
		}
		if p.PlayerName == "" {
			return nil, fmt.Errorf("%w: playerName required", ErrBadPayload)
		}
		if p.MaxPlayers < 2 {
			return nil, fmt.Errorf("%w: maxPlayers must be at least 2", ErrBadPayload)
		}
		return p, nil
	case EvRoomJoin:
		p, err := decode[JoinRoomPayload](data)
		if err != nil {
			return nil, err
		}
		if p.RoomID == "" || p.PlayerName == "" {
			return nil, fmt.Errorf("%w: roomId and playerName required", ErrBadPayload)
		}
		return p, nil
	case EvRoomSync:
		p, err := decode[SyncRoomPayload](data)
		if err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			return nil, fmt.Errorf("%w: roomId required", ErrBadPayload)
		}
		return p, nil
	case EvRoomLeave, EvRoomList:
		return nil, nil
	case EvGameStart:
		return decode[StartGamePayload](data)
	case EvGamePause, EvGameResume:
		return decode[StartGamePayload](data)
	case EvDiceRoll:
		p, err := decode[DiceRollPayload](data)
		if err != nil {
			return nil, err
		}
		if p.DiceValue < 1 || p.DiceValue > 6 {
			return nil, fmt.Errorf("%w: diceValue out of range", ErrBadPayload)
		}
		return p, nil
	case EvPlayerMove:
		return decode[PlayerMovePayload](data)
	case EvEndTurn:
		return decode[EndTurnPayload](data)
	case EvTaskTrigger:
		p, err := decode[TaskTriggerPayload](data)
		if err != nil {
			return nil, err
		}
		switch p.TaskType {
		case game.TaskTrap, game.TaskStar, game.TaskCollision:
		default:
			return nil, fmt.Errorf("%w: unknown taskType %q", ErrBadPayload, p.TaskType)
		}
		if len(p.AllExecutors()) == 0 {
			return nil, fmt.Errorf("%w: at least one executor required", ErrBadPayload)
		}
		if p.Task.ID == "" {
			return nil, fmt.Errorf("%w: task.id required", ErrBadPayload)
		}
		return p, nil
	case EvTaskComplete:
		p, err := decode[TaskCompletePayload](data)
		if err != nil {
			return nil, err
		}
		if p.TaskID == "" {
			return nil, fmt.Errorf("%w: taskId required", ErrBadPayload)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}
