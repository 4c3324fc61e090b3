package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/config"
	"github.com/Chase-Garrett/sealedchat/internal/fanout"
	"github.com/Chase-Garrett/sealedchat/internal/router"
	"github.com/Chase-Garrett/sealedchat/internal/store"
)

// UpgradePath is the websocket entry point.
const UpgradePath = "/ws"

// paths that never need a credential
var publicPrefixes = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/public-key/",
	"/healthz",
	"/metrics",
}

// Server holds all dependencies for the chat server
type Server struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	db       *store.DB
	users    *auth.UserStorage
	messages *store.Messages
	tokens   *auth.TokenService
	broker   fanout.Broker
	router   *router.Router
	gate     *auth.Gate
	registry *prometheus.Registry
	tracing  *sdktrace.TracerProvider
	upgrader websocket.Upgrader

	// base context for connection work, cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	conns  *atomic.Int64
}

// New creates a server from cfg, opening the database and the fan-out broker.
func New(cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	var broker fanout.Broker
	switch cfg.Fanout.Driver {
	case config.DriverNATS:
		broker, err = fanout.ConnectNATS(cfg.Fanout.NATSURL, log.WithField("component", "fanout"))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	default:
		broker = fanout.NewHub(log.WithField("component", "fanout"))
	}

	s, err := newServer(cfg, log, db, broker)
	if err != nil {
		return nil, multierr.Append(err, multierr.Combine(broker.Close(), db.Close()))
	}
	return s, nil
}

func newServer(cfg *config.Config, log logrus.FieldLogger, db *store.DB, broker fanout.Broker) (*Server, error) {
	tokens, err := auth.NewTokenService(&auth.TokenConfig{
		Secret: []byte(cfg.Auth.Secret),
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	users := auth.NewUserStorage(db.DB)
	messages := store.NewMessages(db)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		log:      log,
		db:       db,
		users:    users,
		messages: messages,
		tokens:   tokens,
		broker:   broker,
		router: router.New(users, messages, broker, tp.Tracer(router.TracerName),
			log.WithField("component", "router"), registry),
		gate: auth.NewGate(tokens, auth.GateOptions{
			PublicPrefixes: publicPrefixes,
			UpgradePath:    UpgradePath,
			Strict:         cfg.Auth.Strict,
			Accounts:       users,
		}, log.WithField("component", "auth"), registry),
		registry: registry,
		tracing:  tp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  atomic.NewInt64(0),
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sealedchat",
		Name:      "active_connections",
		Help:      "Open websocket connections.",
	}, func() float64 { return float64(s.conns.Load()) }))
	return s, nil
}

// Tokens exposes the token service the gate verifies against.
func (s *Server) Tokens() *auth.TokenService { return s.tokens }

// Handler builds the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog, s.gate.Middleware)

	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc(UpgradePath, s.HandleConnections).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", s.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/public-key/{username}", s.HandleGetPublicKey).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(auth.RequireIdentity)
	protected.HandleFunc("/api/auth/me", s.HandleMe).Methods(http.MethodGet)
	protected.HandleFunc("/api/auth/users", s.HandleListUsers).Methods(http.MethodGet)
	protected.HandleFunc("/api/messages/conversation/{other}", s.HandleConversation).Methods(http.MethodGet)
	protected.HandleFunc("/api/chat/inbox", s.HandleInbox).Methods(http.MethodGet)
	protected.HandleFunc("/api/chat/sent", s.HandleSent).Methods(http.MethodGet)
	protected.HandleFunc("/api/chat/send", s.HandleSend).Methods(http.MethodPost)
	protected.HandleFunc("/api/chat/delete/{id}", s.HandleDelete).Methods(http.MethodDelete)

	return otelhttp.NewHandler(r, serviceName, otelhttp.WithTracerProvider(s.tracing))
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   m.Code,
			"bytes":    m.Written,
			"duration": m.Duration,
		}).Info("request")
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("HTTP server started")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// Close flushes pending spans and releases the broker and the database.
func (s *Server) Close() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return multierr.Combine(s.tracing.Shutdown(ctx), s.broker.Close(), s.db.Close())
}
