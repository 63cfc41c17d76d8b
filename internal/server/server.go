package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/leninjo/pairrelay/internal/auth"
	"github.com/leninjo/pairrelay/internal/backplane"
	"github.com/leninjo/pairrelay/internal/config"
	"github.com/leninjo/pairrelay/internal/registry"
	"github.com/leninjo/pairrelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NodeServer wires dependencies and hosts the client WebSocket endpoint.
type NodeServer struct {
	cfg        config.Config
	log        *zap.Logger
	registry   *registry.Registry
	backplane  backplane.Backplane
	httpServer *http.Server
	adminHTTP  *http.Server
	router     *Router
	bridge     *relay.Bridge
	metrics    *routerMetrics
	ready      atomic.Bool
	stopped    chan struct{}
}

// NewNodeServer constructs a server with its dependencies. bp may be nil, in
// which case routing misses are only answered locally.
func NewNodeServer(cfg config.Config, logger *zap.Logger, reg *registry.Registry, bp backplane.Backplane) *NodeServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = registry.New()
	}
	return &NodeServer{
		cfg:       cfg,
		log:       logger,
		registry:  reg,
		backplane: bp,
		stopped:   make(chan struct{}),
	}
}

// Start listens on the configured address and blocks until shutdown.
func (s *NodeServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, lis)
}

// Serve runs the server on lis until ctx is cancelled.
func (s *NodeServer) Serve(ctx context.Context, lis net.Listener) error {
	verifier, err := auth.NewVerifier(s.cfg.Auth.Secret)
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("auth verifier: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	s.metrics = newRouterMetrics(reg)
	s.startAdminServer(reg)

	var publisher Publisher
	if s.backplane != nil {
		bridge, err := relay.NewBridge(relay.Config{
			Log:        s.log.Named("relay"),
			Backplane:  s.backplane,
			Registry:   s.registry,
			InstanceID: s.cfg.InstanceID,
			Metrics:    relay.NewMetrics(reg),
		})
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("relay bridge: %w", err)
		}
		// A node without a working subscriber still serves local pairs.
		if err := bridge.Start(ctx); err != nil {
			s.log.Error("relay subscriber failed to start", zap.Error(err))
		}
		s.bridge = bridge
		publisher = bridge
	}

	s.router = NewRouter(s.log.Named("router"), s.registry, verifier, RouterOptions{
		Metrics:         s.metrics,
		Relay:           publisher,
		PingPeriod:      s.cfg.WebSocket.PingPeriod,
		IdleTimeout:     s.cfg.WebSocket.IdleTimeout,
		WriteTimeout:    s.cfg.WebSocket.WriteTimeout,
		MaxMessageBytes: s.cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  s.cfg.WebSocket.AllowedOrigins,
	})

	mux := http.NewServeMux()
	mux.Handle(s.cfg.WSPath, s.router)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
		close(s.stopped)
	}()

	s.log.Info("websocket server listening",
		zap.String("address", lis.Addr().String()),
		zap.String("path", s.cfg.WSPath),
		zap.String("instance_id", s.cfg.InstanceID),
	)
	s.ready.Store(true)
	err = s.httpServer.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve websocket: %w", err)
	}
	<-s.stopped
	return nil
}

// Ready reports whether the server is accepting connections.
func (s *NodeServer) Ready() bool { return s.ready.Load() }

func (s *NodeServer) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown stops accepting connections, closes the open ones with a
// going-away frame and waits for their cleanup and for the relay subscriber.
func (s *NodeServer) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out; forcing stop", zap.Error(err))
		_ = s.httpServer.Close()
	}
	// Hijacked WebSocket connections are not tracked by http.Server.
	if s.router != nil {
		s.router.CloseAll("server shutting down")
		if err := s.router.Wait(ctx); err != nil {
			s.log.Warn("connections still open after grace period", zap.Int("sessions", s.router.SessionCount()))
		}
	}
	if s.bridge != nil {
		select {
		case <-s.bridge.Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("websocket server stopped")
}
