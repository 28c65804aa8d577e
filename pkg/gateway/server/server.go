// Package server assembles the gateway: routes, middleware, metrics and
// the shared session infrastructure.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/voiceswitch/pkg/accounts"
	"github.com/vango-go/voiceswitch/pkg/gateway/config"
	"github.com/vango-go/voiceswitch/pkg/gateway/handlers"
	"github.com/vango-go/voiceswitch/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceswitch/pkg/gateway/metrics"
	"github.com/vango-go/voiceswitch/pkg/gateway/mw"
	"github.com/vango-go/voiceswitch/pkg/gateway/sessions"
	"github.com/vango-go/voiceswitch/pkg/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	st        store.Store
	accounts  *accounts.Manager
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
}

func New(cfg config.Config, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		st:     st,
		accounts: accounts.NewManager(accounts.Config{
			StaticKeys:      cfg.AccountKeys,
			MagicLinkSecret: cfg.MagicLinkSecret,
			MagicLinkTTLMs:  cfg.MagicLinkTTL.Milliseconds(),
		}, st, logger),
		metrics:   metrics.New(cfg.MetricsNamespace),
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/realtime", handlers.RealtimeHandler{
		Config:    s.cfg,
		Store:     s.st,
		Accounts:  s.accounts,
		Logger:    s.logger,
		Metrics:   s.metrics,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Accounts exposes the account manager for tooling.
func (s *Server) Accounts() *accounts.Manager { return s.accounts }

// SetDraining flips readiness so load balancers stop routing here.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnSessionsDraining notifies every live session about the shutdown.
func (s *Server) WarnSessionsDraining() int {
	return s.sessions.WarnAll("gateway is shutting down")
}

// WaitSessions blocks until live sessions finish or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CancelSessions force-closes whatever is still running.
func (s *Server) CancelSessions() int {
	return s.sessions.CancelAll()
}
