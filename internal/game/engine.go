package game

import (
	"errors"
	"maps"
	"math/rand"
	"slices"
	"time"
)

var ErrRoomFull = errors.New("room is full")
var ErrAlreadyStarted = errors.New("game already started")
var ErrNotStarted = errors.New("game not started")
var ErrGameEnded = errors.New("game already ended")
var ErrNotHost = errors.New("requester is not the host")
var ErrNotEnoughPlayers = errors.New("not enough players")
var ErrWrongTurn = errors.New("not this player's turn")
var ErrUnknownPlayer = errors.New("player not in room")
var ErrUnknownTask = errors.New("no such pending task")
var ErrTaskPending = errors.New("a task is awaiting resolution")
var ErrNotExecutor = errors.New("player is not an executor of this task")
var ErrAlreadyReported = errors.New("executor already reported")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Palette assigned to players cycling by join order.
var Palette = []string{
	"#E53935", "#1E88E5", "#43A047", "#FDD835",
	"#8E24AA", "#FB8C00", "#00ACC1", "#6D4C41",
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdStart        CommandType = "Start"
	CmdRollDice     CommandType = "RollDice"
	CmdMove         CommandType = "Move"
	CmdEndTurn      CommandType = "EndTurn"
	CmdTriggerTask  CommandType = "TriggerTask"
	CmdCompleteTask CommandType = "CompleteTask"
	CmdPause        CommandType = "Pause"
	CmdResume       CommandType = "Resume"
)

type Command struct {
	Type     CommandType
	PlayerID string

	// Join
	Name   string
	Avatar string

	// RollDice
	Value int

	// Move
	From  int
	To    int
	Steps int

	// TriggerTask
	TaskType  TaskType
	Executors []string
	Task      TaskCard

	// CompleteTask
	TaskID      string
	Completed   bool
	RewardSteps int // 0 means draw from the rng
}

type EventType string

const (
	EvtPlayerJoined  EventType = "PlayerJoined"
	EvtPlayerLeft    EventType = "PlayerLeft"
	EvtHostChanged   EventType = "HostChanged"
	EvtGameStarted   EventType = "GameStarted"
	EvtDiceRolled    EventType = "DiceRolled"
	EvtPlayerMoved   EventType = "PlayerMoved"
	EvtTaskTriggered EventType = "TaskTriggered"
	EvtTaskCompleted EventType = "TaskCompleted"
	EvtTurnAdvanced  EventType = "TurnAdvanced"
	EvtGameEnded     EventType = "GameEnded"
	EvtGamePaused    EventType = "GamePaused"
	EvtGameResumed   EventType = "GameResumed"
	EvtRoomEmptied   EventType = "RoomEmptied"
)

type Event struct {
	Type      EventType
	PlayerID  string
	Value     int
	From      int
	To        int
	Steps     int
	Task      *PendingTask
	Completed bool
	WinnerID  string
}

// WinFunc is the game-specific victory predicate, supplied by the caller.
type WinFunc func(State, Player) bool

// DefaultWin treats the last board cell as the finish line.
func DefaultWin(s State, p Player) bool {
	return s.BoardLength > 0 && p.Position >= s.BoardLength-1
}

// Deps carries the injected collaborators a transition may need.
type Deps struct {
	Rng *rand.Rand
	Now time.Time
	Win WinFunc
}

func (d Deps) win() WinFunc {
	if d.Win != nil {
		return d.Win
	}
	return DefaultWin
}

// Settings are the immutable room parameters chosen at creation.
type Settings struct {
	Code        string
	Name        string
	Capacity    int
	TaskSetID   string
	GameType    string
	BoardLength int
}

const DefaultBoardLength = 40

// NewState builds a waiting room with the host as its sole player.
func NewState(set Settings, hostID, hostName, hostAvatar string, now time.Time) State {
	if set.BoardLength <= 0 {
		set.BoardLength = DefaultBoardLength
	}
	s := State{
		Code:         set.Code,
		Name:         set.Name,
		Capacity:     set.Capacity,
		GameType:     set.GameType,
		TaskSetID:    set.TaskSetID,
		BoardLength:  set.BoardLength,
		Status:       StatusWaiting,
		LastActivity: now,
	}
	s.Players = append(s.Players, Player{
		ID:        hostID,
		Name:      hostName,
		Avatar:    hostAvatar,
		Color:     Palette[0],
		Connected: true,
		Host:      true,
		JoinedAt:  now,
		LastSeen:  now,
	})
	s.ColorSeq = 1
	return s
}

// Apply processes one command against the state and returns the resulting
// events and new state. The input state is never mutated; on error it is
// returned unchanged.
func Apply(s State, cmd Command, deps Deps) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, cmd, deps)
	case CmdLeave:
		return applyLeave(s, cmd)
	case CmdStart:
		return applyStart(s, cmd)
	case CmdRollDice:
		return applyRollDice(s, cmd)
	case CmdMove:
		return applyMove(s, cmd, deps)
	case CmdEndTurn:
		return applyEndTurn(s, cmd)
	case CmdTriggerTask:
		return applyTriggerTask(s, cmd)
	case CmdCompleteTask:
		return applyCompleteTask(s, cmd, deps)
	case CmdPause:
		return applyPause(s, cmd)
	case CmdResume:
		return applyResume(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func (s State) clone() State {
	out := s
	out.Players = slices.Clone(s.Players)
	for i := range out.Players {
		out.Players[i].CompletedTasks = slices.Clone(out.Players[i].CompletedTasks)
		out.Players[i].Achievements = slices.Clone(out.Players[i].Achievements)
	}
	if s.Pending != nil {
		p := *s.Pending
		p.Executors = slices.Clone(p.Executors)
		p.Outcomes = maps.Clone(p.Outcomes)
		out.Pending = &p
	}
	return out
}

func applyJoin(s State, cmd Command, deps Deps) ([]Event, State, error) {
	if s.Status != StatusWaiting {
		return nil, s, ErrAlreadyStarted
	}
	if len(s.Players) >= s.Capacity {
		return nil, s, ErrRoomFull
	}
	ns := s.clone()
	ns.Players = append(ns.Players, Player{
		ID:        cmd.PlayerID,
		Name:      cmd.Name,
		Avatar:    cmd.Avatar,
		Color:     Palette[ns.ColorSeq%len(Palette)],
		Connected: true,
		JoinedAt:  deps.Now,
		LastSeen:  deps.Now,
	})
	ns.ColorSeq++
	return []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID}}, ns, nil
}

func applyLeave(s State, cmd Command) ([]Event, State, error) {
	idx := s.PlayerByID(cmd.PlayerID)
	if idx < 0 {
		return nil, s, ErrUnknownPlayer
	}
	ns := s.clone()
	wasHost := ns.Players[idx].Host
	ns.Players = slices.Delete(ns.Players, idx, idx+1)
	events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID}}

	if len(ns.Players) == 0 {
		ns.Pending = nil
		events = append(events, Event{Type: EvtRoomEmptied})
		return events, ns, nil
	}

	// Players is in join order, so index 0 is the earliest-joined survivor.
	if wasHost {
		ns.Players[0].Host = true
		events = append(events, Event{Type: EvtHostChanged, PlayerID: ns.Players[0].ID})
	}

	// Re-clamp the turn index around the removed slot.
	if ns.Status == StatusPlaying || ns.Status == StatusPaused {
		if idx < ns.CurrentTurn {
			ns.CurrentTurn--
		}
		ns.CurrentTurn %= len(ns.Players)
	}

	// Drop the leaver from any in-flight task; resolve if they were the
	// last outstanding executor.
	if ns.Pending != nil {
		if i := slices.Index(ns.Pending.Executors, cmd.PlayerID); i >= 0 {
			ns.Pending.Executors = slices.Delete(ns.Pending.Executors, i, i+1)
			delete(ns.Pending.Outcomes, cmd.PlayerID)
			if len(ns.Pending.Executors) == 0 || ns.Pending.Resolved() {
				ns.Pending = nil
				if ns.Status == StatusPlaying {
					ns.CurrentTurn = (ns.CurrentTurn + 1) % len(ns.Players)
					events = append(events, Event{Type: EvtTurnAdvanced})
				}
			}
		}
	}
	return events, ns, nil
}

func applyStart(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusWaiting {
		return nil, s, ErrAlreadyStarted
	}
	if s.HostID() != cmd.PlayerID {
		return nil, s, ErrNotHost
	}
	if len(s.Players) < 2 {
		return nil, s, ErrNotEnoughPlayers
	}
	ns := s.clone()
	ns.Status = StatusPlaying
	ns.CurrentTurn = 0
	for i := range ns.Players {
		ns.Players[i].Position = 0
	}
	return []Event{{Type: EvtGameStarted}}, ns, nil
}

func requirePlaying(s State) error {
	switch s.Status {
	case StatusPlaying:
		return nil
	case StatusEnded:
		return ErrGameEnded
	default:
		return ErrNotStarted
	}
}

func requireTurn(s State, playerID string) (int, error) {
	idx := s.PlayerByID(playerID)
	if idx < 0 {
		return -1, ErrUnknownPlayer
	}
	if idx != s.CurrentTurn {
		return -1, ErrWrongTurn
	}
	return idx, nil
}

func applyRollDice(s State, cmd Command) ([]Event, State, error) {
	if err := requirePlaying(s); err != nil {
		return nil, s, err
	}
	if _, err := requireTurn(s, cmd.PlayerID); err != nil {
		return nil, s, err
	}
	ns := s.clone()
	ns.LastDice = cmd.Value
	return []Event{{Type: EvtDiceRolled, PlayerID: cmd.PlayerID, Value: cmd.Value}}, ns, nil
}

func clampPos(pos, boardLength int) int {
	return min(max(pos, 0), boardLength-1)
}

func applyMove(s State, cmd Command, deps Deps) ([]Event, State, error) {
	if err := requirePlaying(s); err != nil {
		return nil, s, err
	}
	idx, err := requireTurn(s, cmd.PlayerID)
	if err != nil {
		return nil, s, err
	}
	ns := s.clone()
	ns.Players[idx].Position = clampPos(cmd.To, ns.BoardLength)
	events := []Event{{
		Type:     EvtPlayerMoved,
		PlayerID: cmd.PlayerID,
		From:     cmd.From,
		To:       ns.Players[idx].Position,
		Steps:    cmd.Steps,
	}}
	events = checkWin(&ns, events, deps, idx)
	return events, ns, nil
}

func applyEndTurn(s State, cmd Command) ([]Event, State, error) {
	if err := requirePlaying(s); err != nil {
		return nil, s, err
	}
	if _, err := requireTurn(s, cmd.PlayerID); err != nil {
		return nil, s, err
	}
	if s.Pending != nil {
		return nil, s, ErrTaskPending
	}
	ns := s.clone()
	ns.CurrentTurn = (ns.CurrentTurn + 1) % len(ns.Players)
	return []Event{{Type: EvtTurnAdvanced}}, ns, nil
}

func applyTriggerTask(s State, cmd Command) ([]Event, State, error) {
	if err := requirePlaying(s); err != nil {
		return nil, s, err
	}
	if s.PlayerByID(cmd.PlayerID) < 0 {
		return nil, s, ErrUnknownPlayer
	}
	if s.Pending != nil {
		return nil, s, ErrTaskPending
	}
	executors := slices.Clone(cmd.Executors)
	for _, id := range executors {
		if s.PlayerByID(id) < 0 {
			return nil, s, ErrUnknownPlayer
		}
	}
	ns := s.clone()
	ns.Pending = &PendingTask{
		TaskID:      cmd.Task.ID,
		Type:        cmd.TaskType,
		TriggeredBy: cmd.PlayerID,
		Executors:   executors,
		Outcomes:    make(map[string]bool, len(executors)),
		Task:        cmd.Task,
	}
	return []Event{{Type: EvtTaskTriggered, PlayerID: cmd.PlayerID, Task: ns.Pending}}, ns, nil
}

// drawSteps is the single uniform draw behind the trap/star reward policy.
func drawSteps(rng *rand.Rand) int {
	return 3 + rng.Intn(4)
}

func applyCompleteTask(s State, cmd Command, deps Deps) ([]Event, State, error) {
	if err := requirePlaying(s); err != nil {
		return nil, s, err
	}
	if s.Pending == nil || s.Pending.TaskID != cmd.TaskID {
		return nil, s, ErrUnknownTask
	}
	if !slices.Contains(s.Pending.Executors, cmd.PlayerID) {
		return nil, s, ErrNotExecutor
	}
	if _, done := s.Pending.Outcomes[cmd.PlayerID]; done {
		return nil, s, ErrAlreadyReported
	}

	ns := s.clone()
	ns.Pending.Outcomes[cmd.PlayerID] = cmd.Completed
	idx := ns.PlayerByID(cmd.PlayerID)

	// Per-executor reward/penalty, based on that executor's own outcome.
	switch ns.Pending.Type {
	case TaskTrap, TaskStar:
		steps := cmd.RewardSteps
		if steps < 3 || steps > 6 {
			steps = drawSteps(deps.Rng)
		}
		if cmd.Completed {
			ns.Players[idx].Position = clampPos(ns.Players[idx].Position+steps, ns.BoardLength)
		} else {
			ns.Players[idx].Position = clampPos(ns.Players[idx].Position-steps, ns.BoardLength)
		}
	case TaskCollision:
		if !cmd.Completed {
			ns.Players[idx].Position = 0
		}
	}
	if cmd.Completed {
		ns.Players[idx].Score++
		ns.Players[idx].CompletedTasks = append(ns.Players[idx].CompletedTasks, cmd.TaskID)
	}

	events := []Event{{
		Type:      EvtTaskCompleted,
		PlayerID:  cmd.PlayerID,
		Completed: cmd.Completed,
		Task:      ns.Pending,
	}}
	events = checkWin(&ns, events, deps, idx)

	// The turn advances only once every required executor has reported;
	// single-executor tasks therefore advance immediately.
	if ns.Pending != nil && ns.Pending.Resolved() {
		ns.Pending = nil
		if ns.Status == StatusPlaying {
			ns.CurrentTurn = (ns.CurrentTurn + 1) % len(ns.Players)
			events = append(events, Event{Type: EvtTurnAdvanced})
		}
	}
	return events, ns, nil
}

func checkWin(ns *State, events []Event, deps Deps, idx int) []Event {
	if ns.Status != StatusPlaying {
		return events
	}
	if !deps.win()(*ns, ns.Players[idx]) {
		return events
	}
	ns.Status = StatusEnded
	ns.WinnerID = ns.Players[idx].ID
	return append(events, Event{Type: EvtGameEnded, WinnerID: ns.Players[idx].ID})
}

func applyPause(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusPlaying {
		return nil, s, ErrNotStarted
	}
	if s.HostID() != cmd.PlayerID {
		return nil, s, ErrNotHost
	}
	ns := s.clone()
	ns.Status = StatusPaused
	return []Event{{Type: EvtGamePaused}}, ns, nil
}

func applyResume(s State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusPaused {
		return nil, s, ErrNotStarted
	}
	if s.HostID() != cmd.PlayerID {
		return nil, s, ErrNotHost
	}
	ns := s.clone()
	ns.Status = StatusPlaying
	return []Event{{Type: EvtGameResumed}}, ns, nil
}
