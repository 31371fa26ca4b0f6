package room

import (
	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/protocol"
)

// Dispatcher fans room output out to the attached sessions. Sends are
// non-blocking: a session whose outbox is full is dropped so one slow
// client can never stall the room loop. Outbox channels are owned by the
// transport binding, so the dispatcher never closes them; a dropped
// session recovers by issuing room:sync.
type Dispatcher struct {
	logger *zap.Logger
	outs   map[string]chan protocol.Message
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		outs:   make(map[string]chan protocol.Message),
	}
}

func (d *Dispatcher) Attach(sessionID string, outbox chan protocol.Message) {
	d.outs[sessionID] = outbox
}

func (d *Dispatcher) Detach(sessionID string) {
	delete(d.outs, sessionID)
}

func (d *Dispatcher) Len() int { return len(d.outs) }

// Broadcast delivers to every attached session, the originator included.
func (d *Dispatcher) Broadcast(msg protocol.Message) {
	for id, ch := range d.outs {
		select {
		case ch <- msg:
		default:
			d.logger.Warn("dropping slow session", zap.String("session", id))
			delete(d.outs, id)
		}
	}
}

// ReplyTo delivers a point-to-point reply to the originating session.
func (d *Dispatcher) ReplyTo(sessionID string, msg protocol.Message) {
	ch, ok := d.outs[sessionID]
	if !ok {
		d.logger.Warn("reply to detached session", zap.String("session", sessionID))
		return
	}
	select {
	case ch <- msg:
	default:
		d.logger.Warn("dropping slow session", zap.String("session", sessionID))
		delete(d.outs, sessionID)
	}
}

func (d *Dispatcher) detachAll() {
	clear(d.outs)
}
