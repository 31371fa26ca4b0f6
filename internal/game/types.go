package game

import (
	"time"
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

type TaskType string

const (
	TaskTrap      TaskType = "trap"
	TaskStar      TaskType = "star"
	TaskCollision TaskType = "collision"
)

// Player is one room membership. The core treats name/avatar as opaque
// display metadata supplied by the client.
type Player struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Avatar         string    `json:"avatar,omitempty"`
	Color          string    `json:"color"`
	Connected      bool      `json:"connected"`
	Host           bool      `json:"host"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastSeen       time.Time `json:"lastSeen"`
	Position       int       `json:"position"`
	Score          int       `json:"score"`
	CompletedTasks []string  `json:"completedTasks,omitempty"`
	Achievements   []string  `json:"achievements,omitempty"`
}

// TaskCard is the opaque task payload owned by the task-content system.
type TaskCard struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Difficulty  int    `json:"difficulty,omitempty"`
}

// PendingTask is an in-flight task scoped to one room. Outcomes records,
// per executor, whether that executor has reported and with what result;
// key presence means reported.
type PendingTask struct {
	TaskID      string          `json:"taskId"`
	Type        TaskType        `json:"type"`
	TriggeredBy string          `json:"triggeredBy"`
	Executors   []string        `json:"executors"`
	Outcomes    map[string]bool `json:"outcomes"`
	Task        TaskCard        `json:"task"`
}

// Resolved reports whether every required executor has reported.
func (p *PendingTask) Resolved() bool {
	for _, id := range p.Executors {
		if _, ok := p.Outcomes[id]; !ok {
			return false
		}
	}
	return true
}

// State is the authoritative room snapshot. Players is kept strictly in
// join order; it defines the turn sequence and the host-migration order,
// so it is never reordered.
type State struct {
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Players      []Player     `json:"players"`
	Capacity     int          `json:"capacity"`
	GameType     string       `json:"gameType"`
	Status       Status       `json:"status"`
	CurrentTurn  int          `json:"currentPlayerIndex"`
	TaskSetID    string       `json:"taskSetId,omitempty"`
	BoardLength  int          `json:"boardLength"`
	LastDice     int          `json:"lastDice,omitempty"`
	Pending      *PendingTask `json:"pendingTask,omitempty"`
	WinnerID     string       `json:"winnerId,omitempty"`
	LastActivity time.Time    `json:"lastActivity"`

	// ColorSeq counts total joins so colors keep cycling after leaves.
	ColorSeq int `json:"-"`
}

// Summary is the public room listing entry.
type Summary struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
	Capacity    int    `json:"capacity"`
	GameType    string `json:"gameType"`
	Status      Status `json:"status"`
}

func (s State) Summary() Summary {
	return Summary{
		Code:        s.Code,
		Name:        s.Name,
		PlayerCount: len(s.Players),
		Capacity:    s.Capacity,
		GameType:    s.GameType,
		Status:      s.Status,
	}
}

// PlayerByID returns the index of the player, or -1.
func (s State) PlayerByID(id string) int {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// HostID returns the current host's id, or "" for an empty room.
func (s State) HostID() string {
	for i := range s.Players {
		if s.Players[i].Host {
			return s.Players[i].ID
		}
	}
	return ""
}
