// Package registry owns the process-wide map of live rooms. It is a single
// goroutine with a typed inbox, so map mutation needs no locks; the
// inactivity sweep runs inside the same loop.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	mrand "math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/game"
	"github.com/partyplay/room-server/internal/room"
)

var ErrNotFound = errors.New("room not found")
var ErrCapacityInvalid = errors.New("capacity must be at least 2")
var ErrShutdown = errors.New("registry is shut down")

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

// generateCode builds a short human-typeable room code.
func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

type Config struct {
	RoomTimeout   time.Duration // inactivity before a room is expired
	SweepInterval time.Duration
	BoardLength   int
	Win           game.WinFunc
	// Seed, when non-zero, makes every room's reward draws reproducible.
	Seed int64
}

const (
	DefaultRoomTimeout   = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

type regMsg interface{ isRegMsg() }

type createRoom struct {
	params CreateParams
	reply  chan createResult
}

type getRoom struct {
	code  string
	reply chan *room.Room
}

type listRooms struct {
	reply chan []game.Summary
}

type removeRoom struct{ code string }

type shutdown struct{}

func (createRoom) isRegMsg() {}
func (getRoom) isRegMsg()    {}
func (listRooms) isRegMsg()  {}
func (removeRoom) isRegMsg() {}
func (shutdown) isRegMsg()   {}

type createResult struct {
	room  *room.Room
	state game.State
	err   error
}

// CreateParams is everything needed to open a room with its host seated.
type CreateParams struct {
	Name       string
	HostID     string
	HostName   string
	HostAvatar string
	Capacity   int
	TaskSetID  string
	GameType   string
}

type Registry struct {
	inbox  chan regMsg
	rooms  map[string]*room.Room
	cfg    Config
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config, logger *zap.Logger) *Registry {
	if cfg.RoomTimeout <= 0 {
		cfg.RoomTimeout = DefaultRoomTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:  make(chan regMsg, 64),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

// Create opens a new room and returns it with its initial snapshot.
// Every accessor selects on the registry context so callers cannot hang
// on a loop that has already exited.
func (r *Registry) Create(params CreateParams) (*room.Room, game.State, error) {
	reply := make(chan createResult, 1)
	select {
	case r.inbox <- createRoom{params: params, reply: reply}:
	case <-r.ctx.Done():
		return nil, game.State{}, ErrShutdown
	}
	select {
	case res := <-reply:
		return res.room, res.state, res.err
	case <-r.ctx.Done():
		return nil, game.State{}, ErrShutdown
	}
}

// Get returns the room for a code, or ErrNotFound.
func (r *Registry) Get(code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	select {
	case r.inbox <- getRoom{code: code, reply: reply}:
	case <-r.ctx.Done():
		return nil, ErrNotFound
	}
	select {
	case rm := <-reply:
		if rm == nil {
			return nil, ErrNotFound
		}
		return rm, nil
	case <-r.ctx.Done():
		return nil, ErrNotFound
	}
}

// List returns a point-in-time snapshot of room summaries, not a live view.
func (r *Registry) List() []game.Summary {
	reply := make(chan []game.Summary, 1)
	select {
	case r.inbox <- listRooms{reply: reply}:
	case <-r.ctx.Done():
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-r.ctx.Done():
		return nil
	}
}

// Remove drops a room from the registry. The room itself shuts down via
// its own lifecycle; Remove only forgets it.
func (r *Registry) Remove(code string) {
	select {
	case r.inbox <- removeRoom{code: code}:
	case <-r.ctx.Done():
	}
}

// Shutdown stops the sweep and tears down every room.
func (r *Registry) Shutdown() {
	select {
	case r.inbox <- shutdown{}:
	case <-r.ctx.Done():
	}
}

func (r *Registry) loop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			r.teardown()
			return

		case <-ticker.C:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case createRoom:
				msg.reply <- r.handleCreate(msg.params)

			case getRoom:
				msg.reply <- r.rooms[msg.code] // may be nil

			case listRooms:
				out := make([]game.Summary, 0, len(r.rooms))
				for code, rm := range r.rooms {
					reply := make(chan room.View, 1)
					select {
					case rm.Inbox() <- room.GetView{Reply: reply}:
					case <-rm.Done():
						continue
					}
					select {
					case v := <-reply:
						out = append(out, v.State.Summary())
					case <-rm.Done():
						// Room shut down between request and reply; it will
						// be removed from the map shortly.
						r.logger.Debug("room gone during list", zap.String("room", code))
					}
				}
				msg.reply <- out

			case removeRoom:
				delete(r.rooms, msg.code)

			case shutdown:
				r.teardown()
				return
			}
		}
	}
}

func (r *Registry) handleCreate(params CreateParams) createResult {
	if params.Capacity < 2 {
		return createResult{err: ErrCapacityInvalid}
	}

	var code string
	for {
		c, err := generateCode()
		if err != nil {
			return createResult{err: err}
		}
		if _, taken := r.rooms[c]; !taken {
			code = c
			break
		}
		r.logger.Info("room code collision, regenerating", zap.String("code", c))
	}

	now := time.Now()
	state := game.NewState(game.Settings{
		Code:        code,
		Name:        params.Name,
		Capacity:    params.Capacity,
		TaskSetID:   params.TaskSetID,
		GameType:    params.GameType,
		BoardLength: r.cfg.BoardLength,
	}, params.HostID, params.HostName, params.HostAvatar, now)

	seed := r.cfg.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	rm := room.New(r.ctx, state, room.Options{
		Logger: r.logger,
		Rng:    mrand.New(mrand.NewSource(seed)),
		Win:    r.cfg.Win,
		OnEmpty: func(code string) {
			// Runs on the room goroutine after the room's Done has closed,
			// so the registry loop can always drain its inbox even if it is
			// mid-request against this very room.
			r.Remove(code)
		},
	})
	r.rooms[code] = rm
	r.logger.Info("room created",
		zap.String("room", code),
		zap.String("host", params.HostID),
		zap.Int("capacity", params.Capacity))
	return createResult{room: rm, state: state}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.cfg.RoomTimeout)
	for code, rm := range r.rooms {
		if rm.LastActivity().After(cutoff) {
			continue
		}
		r.logger.Info("expiring idle room", zap.String("room", code))
		select {
		case rm.Inbox() <- room.Expire{}:
		case <-rm.Done():
		}
		delete(r.rooms, code)
	}
}

func (r *Registry) teardown() {
	for code, rm := range r.rooms {
		select {
		case rm.Inbox() <- room.Shutdown{}:
		case <-rm.Done():
		}
		delete(r.rooms, code)
	}
	r.cancel()
}
