// Package lan is the peer-hosted binding: one participant's device runs a
// plain TCP listener on the local network and speaks newline-framed JSON.
package lan

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/partyplay/room-server/internal/protocol"
	"github.com/partyplay/room-server/internal/transport"
)

const (
	writeTimeout    = 3 * time.Second
	keepAlivePeriod = 30 * time.Second
)

type Server struct {
	addr   string
	rt     *transport.Router
	logger *zap.Logger

	ln    net.Listener
	ready chan struct{}
}

func New(addr string, rt *transport.Router, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{addr: addr, rt: rt, logger: logger, ready: make(chan struct{})}
}

// Addr is valid once Ready is closed.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run accepts connections until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("lan listen %s: %w", s.addr, err)
	}
	s.ln = ln
	close(s.ready)
	s.logger.Info("lan listener ready", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		// Transport-level liveness; a silent peer is detected here and
		// surfaces as a read error, which runs the leave path below.
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
	}

	sess := transport.NewSession()
	defer s.rt.HandleDisconnect(sess)
	log := s.logger.With(zap.String("session", sess.ID), zap.String("peer", conn.RemoteAddr().String()))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case msg := <-sess.Outbox:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := protocol.WriteFrame(conn, msg); err != nil {
					log.Debug("write failed", zap.Error(err))
					cancel()
					conn.Close()
					return
				}
			}
		}
	}()

	// The scanner buffers until each '\n', so frames split or coalesced by
	// TCP segmentation parse independently.
	sc := protocol.NewFrameScanner(conn)
	for sc.Scan() {
		msg, err := protocol.ParseFrame(sc.Bytes())
		if err != nil {
			log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		s.rt.HandleMessage(sess, msg)
	}
	if err := sc.Err(); err != nil && connCtx.Err() == nil {
		log.Debug("read ended", zap.Error(err))
	}
}
