package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// openSession registers a freshly upgraded connection with the router. Once
// CloseAll has run it answers with a going-away close instead and reports false.
// On success the caller owns one count of r.wg.
func (r *Router) openSession(parent context.Context, conn *websocket.Conn, remoteAddr string) (*session, bool) {
	ctx, cancel := context.WithCancel(parent)
	sess := &session{
		id:           uuid.NewString(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		connectedAt:  time.Now(),
		writeTimeout: r.writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	r.mu.Lock()
	if r.closing {
		reason := r.closeReason
		r.mu.Unlock()
		cancel()
		r.log.Debug("refused connection during shutdown", zap.String("remote_addr", remoteAddr))
		_ = sess.closeWith(websocket.CloseGoingAway, reason)
		return nil, false
	}
	r.wg.Add(1)
	r.sessions[sess.id] = sess
	r.mu.Unlock()

	if r.maxMessageBytes > 0 {
		conn.SetReadLimit(r.maxMessageBytes)
	}
	sess.extendDeadline(r.idleTimeout)
	conn.SetPongHandler(func(string) error {
		sess.extendDeadline(r.idleTimeout)
		return nil
	})
	r.metrics.incSession()

	r.log.Info("client connected",
		zap.String("session_id", sess.id),
		zap.String("remote_addr", remoteAddr),
	)
	return sess, true
}

// closeSession runs once per connection after its read loop ends, whatever
// the reason. Only a slot still holding this session is cleared, so a
// connection displaced by a newer registration leaves the newer one alone.
func (r *Router) closeSession(sess *session) {
	sess.cancel()
	if err := sess.conn.Close(); err != nil && !isClosedConn(err) {
		r.log.Debug("close connection", zap.Error(err), zap.String("session_id", sess.id))
	}

	r.mu.Lock()
	delete(r.sessions, sess.id)
	r.mu.Unlock()

	released := false
	if sess.registered {
		released = r.registry.Release(sess.identity, sess.role, sess.id)
	}
	r.metrics.decSession()
	r.metrics.setPairings(r.registry.Len())

	r.log.Info("client disconnected",
		zap.String("session_id", sess.id),
		zap.String("client_id", sess.identity),
		zap.String("role", string(sess.role)),
		zap.Bool("released", released),
		zap.Duration("connected_for", time.Since(sess.connectedAt)),
	)
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
