package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leninjo/pairrelay/internal/auth"
	"github.com/leninjo/pairrelay/internal/protocol"
	"github.com/leninjo/pairrelay/internal/registry"
	"go.uber.org/zap"
)

const (
	errDecode            = "DECODE_ERROR"
	errInvalidPayload    = "INVALID_PAYLOAD"
	errAuthFailed        = "AUTH_FAILED"
	errNotRegistered     = "NOT_REGISTERED"
	errAlreadyRegistered = "ALREADY_REGISTERED"
	errUnsupportedType   = "UNSUPPORTED_TYPE"
	errNotConnected      = "NOT_CONNECTED"
	errDeliveryFailed    = "DELIVERY_FAILED"
)

// Publisher hands a send envelope with no local target to other instances.
type Publisher interface {
	Publish(ctx context.Context, text []byte) error
}

// RouterOptions configures transport limits and observability.
type RouterOptions struct {
	Metrics         *routerMetrics
	Relay           Publisher
	PingPeriod      time.Duration
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// Router upgrades client connections and runs the per-connection
// registration and routing state machine.
type Router struct {
	log      *zap.Logger
	registry *registry.Registry
	verifier *auth.Verifier
	relay    Publisher
	metrics  *routerMetrics
	upgrader websocket.Upgrader

	mu          sync.Mutex
	sessions    map[string]*session
	closing     bool
	closeReason string
	wg          sync.WaitGroup

	pingPeriod      time.Duration
	idleTimeout     time.Duration
	writeTimeout    time.Duration
	maxMessageBytes int64
}

// NewRouter wires dependencies for the WebSocket handler.
func NewRouter(log *zap.Logger, reg *registry.Registry, verifier *auth.Verifier, opts RouterOptions) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = registry.New()
	}
	r := &Router{
		log:             log,
		registry:        reg,
		verifier:        verifier,
		relay:           opts.Relay,
		metrics:         opts.Metrics,
		sessions:        make(map[string]*session),
		pingPeriod:      opts.PingPeriod,
		idleTimeout:     opts.IdleTimeout,
		writeTimeout:    opts.WriteTimeout,
		maxMessageBytes: opts.MaxMessageBytes,
	}
	if r.pingPeriod <= 0 {
		r.pingPeriod = 60 * time.Second
	}
	if r.idleTimeout <= r.pingPeriod {
		r.idleTimeout = 2 * r.pingPeriod
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = 10 * time.Second
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
		CheckOrigin:       originChecker(opts.AllowedOrigins),
	}
	return r
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		r.log.Debug("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", req.RemoteAddr))
		return
	}

	sess, ok := r.openSession(req.Context(), conn, req.RemoteAddr)
	if !ok {
		return
	}
	defer r.wg.Done()
	defer r.closeSession(sess)

	r.wg.Add(1)
	go r.keepAlive(sess)
	r.serve(sess)
}

func (r *Router) serve(sess *session) {
	for {
		msgType, text, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				r.log.Debug("websocket read ended", zap.Error(err), zap.String("session_id", sess.id))
			}
			return
		}
		sess.extendDeadline(r.idleTimeout)

		start := time.Now()
		op, err := r.routeFrame(sess, msgType, text)
		r.observe(op, start, err)
		if err == nil {
			continue
		}

		var rerr *routeError
		if !errors.As(err, &rerr) {
			r.log.Debug("websocket write failed", zap.Error(err), zap.String("session_id", sess.id))
			return
		}
		if rerr.fatal {
			_ = sess.closeWith(websocket.ClosePolicyViolation, rerr.msg)
			return
		}
		if err := sess.reply(rerr.msg); err != nil {
			r.log.Debug("websocket write failed", zap.Error(err), zap.String("session_id", sess.id))
			return
		}
	}
}

func (r *Router) routeFrame(sess *session, msgType int, text []byte) (string, error) {
	if msgType != websocket.TextMessage {
		return "unknown", &routeError{code: errDecode, msg: protocol.InvalidFormat(errors.New("binary frames are not supported"))}
	}

	env, err := protocol.DecodeEnvelope(text)
	if err != nil {
		return "unknown", &routeError{code: errDecode, msg: protocol.InvalidFormat(err)}
	}

	if !env.Known() {
		return "unknown", &routeError{code: errUnsupportedType, msg: protocol.UnsupportedType(env.Type)}
	}

	switch env.Type {
	case protocol.TypeRegister:
		return env.Type, r.handleRegister(sess, env)
	case protocol.TypeSendToApp:
		return env.Type, r.handleSendToApp(sess, env, text)
	default:
		return env.Type, r.handleSendToWeb(sess, env, text)
	}
}

func (r *Router) handleRegister(sess *session, env protocol.Envelope) error {
	data, err := protocol.DecodeRegister(env.Data)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidRole) {
			return &routeError{code: errInvalidPayload, msg: protocol.InvalidRole()}
		}
		return &routeError{code: errDecode, msg: protocol.RegisterDataError()}
	}

	if sess.registered && (data.ClientID != sess.identity || data.Role != sess.role) {
		return &routeError{code: errAlreadyRegistered, msg: protocol.AlreadyRegistered(sess.role, sess.identity)}
	}

	if err := r.verifier.Verify(data.ClientID, data.AuthToken); err != nil {
		r.metrics.recordAuthFailure()
		r.log.Warn("registration rejected",
			zap.String("session_id", sess.id),
			zap.String("client_id", data.ClientID),
			zap.String("role", string(data.Role)),
			zap.Error(err),
		)
		return &routeError{code: errAuthFailed, msg: protocol.CloseReasonInvalidToken, fatal: true}
	}

	r.registry.Register(data.ClientID, data.Role, sess)
	if !sess.registered {
		sess.identity, sess.role, sess.registered = data.ClientID, data.Role, true
		r.metrics.recordRegistration(string(data.Role))
		r.metrics.setPairings(r.registry.Len())
	}
	_, peerOnline := r.registry.Lookup(data.ClientID, data.Role.Peer())
	r.log.Info("client registered",
		zap.String("session_id", sess.id),
		zap.String("client_id", data.ClientID),
		zap.String("role", string(data.Role)),
		zap.Bool("peer_connected", peerOnline),
	)
	return sess.reply(protocol.RegisteredAck(data.Role, data.ClientID))
}

func (r *Router) handleSendToApp(sess *session, env protocol.Envelope, text []byte) error {
	if !sess.registered {
		return &routeError{code: errNotRegistered, msg: protocol.NotRegistered()}
	}
	data, err := protocol.DecodeSendToApp(env.Data)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalid) {
			return &routeError{code: errInvalidPayload, msg: protocol.BodyRequired(protocol.MethodPrintVoucher)}
		}
		return &routeError{code: errDecode, msg: protocol.SendDataError(env.Type, err)}
	}
	return r.forward(sess, data.To, protocol.RoleApp, text)
}

func (r *Router) handleSendToWeb(sess *session, env protocol.Envelope, text []byte) error {
	if !sess.registered {
		return &routeError{code: errNotRegistered, msg: protocol.NotRegistered()}
	}
	data, err := protocol.DecodeSendToWeb(env.Data)
	if err != nil {
		return &routeError{code: errDecode, msg: protocol.SendDataError(env.Type, err)}
	}
	if err := protocol.ValidateResponse(data.Method, data.Response); err != nil {
		return &routeError{code: errInvalidPayload, msg: protocol.ResponseParseError(err)}
	}
	return r.forward(sess, data.To, protocol.RoleWeb, text)
}

// forward delivers text verbatim to the local holder of (to, role), or
// publishes it for other instances when this one has no such connection.
func (r *Router) forward(sess *session, to string, role protocol.Role, text []byte) error {
	target, ok := r.registry.Lookup(to, role)
	if ok {
		if err := target.Send(text); err != nil {
			released := r.registry.Release(to, role, target.SessionID())
			r.metrics.recordForward("failed")
			r.metrics.setPairings(r.registry.Len())
			r.log.Warn("local delivery failed",
				zap.String("session_id", sess.id),
				zap.String("to", to),
				zap.String("role", string(role)),
				zap.Bool("released", released),
				zap.Error(err),
			)
			return &routeError{code: errDeliveryFailed, msg: protocol.DeliveryFailed(role, to)}
		}
		r.metrics.recordForward("local")
		r.log.Debug("forwarded locally",
			zap.String("session_id", sess.id),
			zap.String("to", to),
			zap.String("role", string(role)),
		)
		return nil
	}

	if r.relay == nil {
		r.metrics.recordForward("miss")
	} else if err := r.relay.Publish(sess.ctx, text); err != nil {
		r.metrics.recordForward("publish_failed")
		r.log.Warn("backplane publish failed", zap.String("session_id", sess.id), zap.Error(err))
	} else {
		r.metrics.recordForward("published")
		r.log.Debug("published to backplane",
			zap.String("session_id", sess.id),
			zap.String("to", to),
			zap.String("role", string(role)),
		)
	}
	return &routeError{code: errNotConnected, msg: protocol.NotConnected(role, to)}
}

func (r *Router) keepAlive(sess *session) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				r.log.Debug("ping failed", zap.Error(err), zap.String("session_id", sess.id))
				_ = sess.conn.Close()
				return
			}
		}
	}
}

// CloseAll sends a going-away close to every open connection and refuses
// connections upgraded afterwards. Read loops then end and run their normal
// cleanup.
func (r *Router) CloseAll(reason string) {
	r.mu.Lock()
	r.closing = true
	r.closeReason = reason
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.closeWith(websocket.CloseGoingAway, reason)
	}
}

// Wait blocks until every connection goroutine has finished its cleanup or
// ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionCount reports how many connections are open on this router.
func (r *Router) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Router) observe(op string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.observeLatency(op, time.Since(start))
	if err != nil {
		code := "internal"
		var rerr *routeError
		if errors.As(err, &rerr) && rerr.code != "" {
			code = rerr.code
		}
		r.metrics.recordError(code)
	}
}

// originChecker accepts any origin when allowed is empty; otherwise the
// Origin header's host must match one entry. Requests without an Origin
// header come from non-browser clients and are accepted.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			a = u.Host
		}
		hosts[strings.ToLower(a)] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Host)]
		return ok
	}
}

type routeError struct {
	code  string
	msg   string
	fatal bool
}

func (e *routeError) Error() string {
	return e.msg
}
