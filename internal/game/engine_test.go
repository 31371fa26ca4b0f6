package game

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDeps(seed int64) Deps {
	return Deps{
		Rng: rand.New(rand.NewSource(seed)),
		Now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func roomWith(t *testing.T, capacity int, playerIDs ...string) State {
	t.Helper()
	deps := testDeps(1)
	s := NewState(Settings{Code: "ABC123", Name: "test", Capacity: capacity, GameType: "board"}, playerIDs[0], "p-"+playerIDs[0], "", deps.Now)
	for _, id := range playerIDs[1:] {
		var err error
		_, s, err = Apply(s, Command{Type: CmdJoin, PlayerID: id, Name: "p-" + id}, deps)
		require.NoError(t, err)
	}
	return s
}

func startGame(t *testing.T, s State) State {
	t.Helper()
	_, ns, err := Apply(s, Command{Type: CmdStart, PlayerID: s.HostID()}, testDeps(1))
	require.NoError(t, err)
	return ns
}

func TestJoinRespectsCapacity(t *testing.T) {
	s := roomWith(t, 2, "a", "b")
	require.Len(t, s.Players, 2)

	_, after, err := Apply(s, Command{Type: CmdJoin, PlayerID: "c", Name: "late"}, testDeps(1))
	require.ErrorIs(t, err, ErrRoomFull)
	require.Len(t, after.Players, 2, "failed join must leave room unchanged")
}

func TestJoinRejectedOnceStarted(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	_, _, err := Apply(s, Command{Type: CmdJoin, PlayerID: "c"}, testDeps(1))
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestJoinAssignsColorsInJoinOrder(t *testing.T) {
	s := roomWith(t, 4, "a", "b", "c")
	require.Equal(t, Palette[0], s.Players[0].Color)
	require.Equal(t, Palette[1], s.Players[1].Color)
	require.Equal(t, Palette[2], s.Players[2].Color)
}

func countHosts(s State) int {
	n := 0
	for _, p := range s.Players {
		if p.Host {
			n++
		}
	}
	return n
}

func TestHostMigratesToEarliestJoined(t *testing.T) {
	s := roomWith(t, 4, "a", "b", "c")
	require.Equal(t, "a", s.HostID())
	require.Equal(t, 1, countHosts(s))

	events, ns, err := Apply(s, Command{Type: CmdLeave, PlayerID: "a"}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, "b", ns.HostID(), "earliest remaining joiner becomes host")
	require.Equal(t, 1, countHosts(ns))

	var hostChanged bool
	for _, e := range events {
		if e.Type == EvtHostChanged {
			hostChanged = true
			require.Equal(t, "b", e.PlayerID)
		}
	}
	require.True(t, hostChanged)
}

func TestLastLeaveEmitsRoomEmptied(t *testing.T) {
	s := roomWith(t, 2, "a")
	events, ns, err := Apply(s, Command{Type: CmdLeave, PlayerID: "a"}, testDeps(1))
	require.NoError(t, err)
	require.Empty(t, ns.Players)
	require.Equal(t, EvtRoomEmptied, events[len(events)-1].Type)
}

func TestLeaveReclampsTurnIndex(t *testing.T) {
	cases := []struct {
		name     string
		turn     int
		leaver   string
		wantTurn int
	}{
		{name: "leave before current shifts it down", turn: 2, leaver: "a", wantTurn: 1},
		{name: "current leaves mid-list", turn: 1, leaver: "b", wantTurn: 1},
		{name: "current leaves at tail wraps to zero", turn: 2, leaver: "c", wantTurn: 0},
		{name: "leave after current keeps it", turn: 0, leaver: "c", wantTurn: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := startGame(t, roomWith(t, 4, "a", "b", "c"))
			s.CurrentTurn = tc.turn
			_, ns, err := Apply(s, Command{Type: CmdLeave, PlayerID: tc.leaver}, testDeps(1))
			require.NoError(t, err)
			require.Equal(t, tc.wantTurn, ns.CurrentTurn)
			require.GreaterOrEqual(t, ns.CurrentTurn, 0)
			require.Less(t, ns.CurrentTurn, len(ns.Players))
		})
	}
}

func TestStartRequiresHostAndTwoPlayers(t *testing.T) {
	solo := roomWith(t, 4, "a")
	_, _, err := Apply(solo, Command{Type: CmdStart, PlayerID: "a"}, testDeps(1))
	require.ErrorIs(t, err, ErrNotEnoughPlayers)

	s := roomWith(t, 4, "a", "b")
	_, _, err = Apply(s, Command{Type: CmdStart, PlayerID: "b"}, testDeps(1))
	require.ErrorIs(t, err, ErrNotHost)

	_, ns, err := Apply(s, Command{Type: CmdStart, PlayerID: "a"}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, StatusPlaying, ns.Status)
	require.Equal(t, 0, ns.CurrentTurn)

	_, _, err = Apply(ns, Command{Type: CmdStart, PlayerID: "a"}, testDeps(1))
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestRollDiceRejectsOutOfTurn(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	_, _, err := Apply(s, Command{Type: CmdRollDice, PlayerID: "b", Value: 4}, testDeps(1))
	require.ErrorIs(t, err, ErrWrongTurn)

	events, ns, err := Apply(s, Command{Type: CmdRollDice, PlayerID: "a", Value: 4}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, 4, ns.LastDice)
	require.Equal(t, EvtDiceRolled, events[0].Type)
	require.Equal(t, s.CurrentTurn, ns.CurrentTurn, "rolling must not advance the turn")
}

func TestMoveClampsToBoard(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	_, ns, err := Apply(s, Command{Type: CmdMove, PlayerID: "a", From: 0, To: 999, Steps: 999}, testDeps(1))
	require.NoError(t, err)
	// Landing on the last cell also wins the game.
	require.Equal(t, ns.BoardLength-1, ns.Players[0].Position)
	require.Equal(t, StatusEnded, ns.Status)
	require.Equal(t, "a", ns.WinnerID)
}

func TestEndTurnAdvancesAndWraps(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	_, ns, err := Apply(s, Command{Type: CmdEndTurn, PlayerID: "a"}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, 1, ns.CurrentTurn)

	_, ns, err = Apply(ns, Command{Type: CmdEndTurn, PlayerID: "b"}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, 0, ns.CurrentTurn)
}

func triggerSolo(t *testing.T, s State, typ TaskType, executor string) State {
	t.Helper()
	_, ns, err := Apply(s, Command{
		Type:      CmdTriggerTask,
		PlayerID:  executor,
		TaskType:  typ,
		Executors: []string{executor},
		Task:      TaskCard{ID: "t1", Title: "do the thing"},
	}, testDeps(1))
	require.NoError(t, err)
	require.NotNil(t, ns.Pending)
	return ns
}

func TestTrapRewardStaysInRange(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		s := startGame(t, roomWith(t, 4, "a", "b"))
		s.Players[0].Position = 10
		s = triggerSolo(t, s, TaskTrap, "a")

		_, ns, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: true}, testDeps(seed))
		require.NoError(t, err)
		pos := ns.Players[0].Position
		require.GreaterOrEqual(t, pos, 13)
		require.LessOrEqual(t, pos, 16)
	}
}

func TestTrapPenaltyClampsAtZero(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		s := startGame(t, roomWith(t, 4, "a", "b"))
		s.Players[0].Position = 2
		s = triggerSolo(t, s, TaskTrap, "a")

		_, ns, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: false}, testDeps(seed))
		require.NoError(t, err)
		pos := ns.Players[0].Position
		require.GreaterOrEqual(t, pos, 0)
		require.LessOrEqual(t, pos, 2)
	}
}

func TestRewardIsDeterministicPerSeed(t *testing.T) {
	run := func(seed int64) int {
		s := startGame(t, roomWith(t, 4, "a", "b"))
		s.Players[0].Position = 10
		s = triggerSolo(t, s, TaskStar, "a")
		_, ns, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: true}, testDeps(seed))
		require.NoError(t, err)
		return ns.Players[0].Position
	}
	require.Equal(t, run(7), run(7))
}

func TestCollisionOutcomes(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	s.Players[0].Position = 17
	s = triggerSolo(t, s, TaskCollision, "a")

	_, ok, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: true}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, 17, ok.Players[0].Position, "completed collision keeps position")

	_, fail, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: false}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, 0, fail.Players[0].Position, "failed collision resets to start")
}

func TestSoloTaskAdvancesTurnImmediately(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	s.Players[0].Position = 5
	s = triggerSolo(t, s, TaskStar, "a")

	_, ns, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: false}, testDeps(3))
	require.NoError(t, err)
	require.Nil(t, ns.Pending)
	require.Equal(t, 1, ns.CurrentTurn)
	require.Less(t, ns.Players[0].Position, 5)
	require.GreaterOrEqual(t, ns.Players[0].Position, 0)
}

func TestMultiExecutorTaskAdvancesOnlyWhenAllReport(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b", "c"))
	s.Players[1].Position = 8
	s.Players[2].Position = 8
	_, s, err := Apply(s, Command{
		Type:      CmdTriggerTask,
		PlayerID:  "a",
		TaskType:  TaskStar,
		Executors: []string{"b", "c"},
		Task:      TaskCard{ID: "t2", Title: "team task"},
	}, testDeps(1))
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdCompleteTask, PlayerID: "b", TaskID: "t2", Completed: true}, testDeps(2))
	require.NoError(t, err)
	require.NotNil(t, s.Pending, "task stays pending until all executors report")
	require.Equal(t, 0, s.CurrentTurn)
	require.Greater(t, s.Players[1].Position, 8, "reward applies per executor immediately")

	_, s, err = Apply(s, Command{Type: CmdCompleteTask, PlayerID: "c", TaskID: "t2", Completed: false}, testDeps(3))
	require.NoError(t, err)
	require.Nil(t, s.Pending)
	require.Equal(t, 1, s.CurrentTurn)
	require.Less(t, s.Players[2].Position, 8, "penalty applies per executor independently")
}

func TestCompleteTaskValidation(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	s = triggerSolo(t, s, TaskStar, "a")

	_, _, err := Apply(s, Command{Type: CmdCompleteTask, PlayerID: "b", TaskID: "t1", Completed: true}, testDeps(1))
	require.ErrorIs(t, err, ErrNotExecutor)

	_, _, err = Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "nope", Completed: true}, testDeps(1))
	require.ErrorIs(t, err, ErrUnknownTask)

	_, s, err = Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: true}, testDeps(1))
	require.NoError(t, err)
	_, _, err = Apply(s, Command{Type: CmdCompleteTask, PlayerID: "a", TaskID: "t1", Completed: true}, testDeps(1))
	require.ErrorIs(t, err, ErrUnknownTask, "resolved task is gone")
}

func TestExecutorLeavingResolvesTask(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b", "c"))
	_, s, err := Apply(s, Command{
		Type:      CmdTriggerTask,
		PlayerID:  "a",
		TaskType:  TaskTrap,
		Executors: []string{"b", "c"},
		Task:      TaskCard{ID: "t3"},
	}, testDeps(1))
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdCompleteTask, PlayerID: "b", TaskID: "t3", Completed: true}, testDeps(1))
	require.NoError(t, err)
	require.NotNil(t, s.Pending)

	_, s, err = Apply(s, Command{Type: CmdLeave, PlayerID: "c"}, testDeps(1))
	require.NoError(t, err)
	require.Nil(t, s.Pending, "last outstanding executor leaving resolves the task")
	require.Equal(t, 1, s.CurrentTurn)
}

func TestVictoryFreezesCommandsExceptLeave(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	_, s, err := Apply(s, Command{Type: CmdMove, PlayerID: "a", From: 0, To: s.BoardLength - 1, Steps: 6}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, StatusEnded, s.Status)

	_, _, err = Apply(s, Command{Type: CmdRollDice, PlayerID: "b", Value: 2}, testDeps(1))
	require.ErrorIs(t, err, ErrGameEnded)

	_, ns, err := Apply(s, Command{Type: CmdLeave, PlayerID: "b"}, testDeps(1))
	require.NoError(t, err)
	require.Len(t, ns.Players, 1)
}

func TestPauseResume(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))

	_, _, err := Apply(s, Command{Type: CmdPause, PlayerID: "b"}, testDeps(1))
	require.ErrorIs(t, err, ErrNotHost)

	_, paused, err := Apply(s, Command{Type: CmdPause, PlayerID: "a"}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, StatusPaused, paused.Status)

	_, _, err = Apply(paused, Command{Type: CmdRollDice, PlayerID: "a", Value: 3}, testDeps(1))
	require.ErrorIs(t, err, ErrNotStarted)

	_, resumed, err := Apply(paused, Command{Type: CmdResume, PlayerID: "a"}, testDeps(1))
	require.NoError(t, err)
	require.Equal(t, StatusPlaying, resumed.Status)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := startGame(t, roomWith(t, 4, "a", "b"))
	before := len(s.Players)
	_, _, err := Apply(s, Command{Type: CmdLeave, PlayerID: "b"}, testDeps(1))
	require.NoError(t, err)
	require.Len(t, s.Players, before, "input state is immutable")
}
