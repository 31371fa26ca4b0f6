// Package relay is the hosted websocket binding of the message transport.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/protocol"
	"github.com/partyplay/room-server/internal/transport"
)

const (
	writeTimeout = 3 * time.Second
	pingInterval = 25 * time.Second
)

// Handler upgrades the connection and pumps frames between the socket and
// the shared Router. One goroutine writes, the request goroutine reads.
func Handler(rt *transport.Router, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The relay fronts browser and app clients from anywhere.
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		sess := transport.NewSession()
		defer rt.HandleDisconnect(sess)
		log := logger.With(zap.String("session", sess.ID))

		connCtx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer: drains the session outbox and keeps the socket alive.
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-connCtx.Done():
					return
				case <-ticker.C:
					ctx, cancelPing := context.WithTimeout(connCtx, writeTimeout)
					err := conn.Ping(ctx)
					cancelPing()
					if err != nil {
						cancel()
						return
					}
				case msg := <-sess.Outbox:
					payload, err := json.Marshal(msg)
					if err != nil {
						log.Warn("marshal broadcast", zap.Error(err))
						continue
					}
					ctx, cancelWrite := context.WithTimeout(connCtx, writeTimeout)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancelWrite()
					if err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if connCtx.Err() == nil {
						log.Debug("read ended", zap.Error(err))
					}
				}
				return
			}

			msg, err := protocol.ParseFrame(data)
			if err != nil {
				// Malformed frames never kill the connection.
				log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			rt.HandleMessage(sess, msg)
		}
	}
}
