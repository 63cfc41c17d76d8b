package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leninjo/pairrelay/internal/protocol"
)

// session is one client connection. The routing state (identity, role,
// registered) is only touched by the connection's read goroutine; writes may
// come from any goroutine and are serialized by writeMu.
type session struct {
	id           string
	conn         *websocket.Conn
	remoteAddr   string
	connectedAt  time.Time
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	writeMu sync.Mutex

	identity   string
	role       protocol.Role
	registered bool
}

// SessionID implements registry.Handle.
func (s *session) SessionID() string { return s.id }

// Send implements registry.Handle by writing one text frame.
func (s *session) Send(text []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, text)
}

func (s *session) reply(msg string) error {
	return s.Send([]byte(msg))
}

func (s *session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// closeWith sends a close frame and drops the connection.
func (s *session) closeWith(code int, reason string) error {
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.writeTimeout))
	_ = s.conn.Close()
	return err
}

func (s *session) extendDeadline(idle time.Duration) {
	_ = s.conn.SetReadDeadline(time.Now().Add(idle))
}
