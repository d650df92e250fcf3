package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thinkscotty/artichat/internal/config"
	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/models"
	"github.com/thinkscotty/artichat/internal/session"
)

// Session is the controller surface the API exposes. *session.Controller
// implements it.
type Session interface {
	Entries() []session.Entry
	Submit(text string) (int, bool)
	Regenerate(id int) (int, error)
	RejectImage(id int) error
	TogglePin(id int) bool
	Delete(id int) bool
	Clear()
	Status() models.TrialStatus
	Settings() models.Settings
	SaveSettings(s models.Settings) error
}

type Server struct {
	cfg       config.ServerConfig
	sess      Session
	metrics   *metrics.Exporter
	version   string
	buildTime string
	httpSrv   *http.Server
}

func New(cfg config.ServerConfig, sess Session, m *metrics.Exporter, version, buildTime string) *Server {
	return &Server{
		cfg:       cfg,
		sess:      sess,
		metrics:   m,
		version:   version,
		buildTime: buildTime,
	}
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return recoveryMiddleware(loggingMiddleware(mux))
}

// Start sets up routes and starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	slog.Info("Starting server", "addr", addr, "token_required", s.cfg.Token != "")
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", s.metrics.Handler())

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireToken(h))
	}

	api("GET /api/v1/messages", s.handleListMessages)
	api("POST /api/v1/messages", s.handleSubmit)
	api("DELETE /api/v1/messages/{id}", s.handleDelete)
	api("POST /api/v1/messages/{id}/pin", s.handleTogglePin)
	api("POST /api/v1/messages/{id}/regenerate", s.handleRegenerate)
	api("POST /api/v1/messages/{id}/reject-image", s.handleRejectImage)
	api("POST /api/v1/clear", s.handleClear)

	api("GET /api/v1/status", s.handleStatus)
	api("GET /api/v1/settings", s.handleGetSettings)
	api("PUT /api/v1/settings", s.handlePutSettings)
}
