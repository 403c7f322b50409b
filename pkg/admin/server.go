// Package admin runs the optional HTTP surface operators use to probe a
// running node: liveness, Prometheus metrics, and a JSON dump of the
// registries and live connections. pkg/node.Node works headless; nothing
// in the connection engine depends on this package being wired up.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/tcpros/internal/diag"
	"github.com/marmos91/tcpros/internal/logger"
	"github.com/marmos91/tcpros/pkg/node"
)

// Server hosts the admin HTTP handlers for a single node.
type Server struct {
	node *node.Node
	http *http.Server
}

// New builds a Server bound to addr. Call ListenAndServe to start it.
func New(n *node.Node, addr string) *Server {
	s := &Server{node: n}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/registries", s.handleRegistries)

	return r
}

// ListenAndServe blocks serving the admin HTTP surface until Shutdown is
// called or a non-shutdown error occurs.
func (s *Server) ListenAndServe() error {
	logger.Info("admin server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin HTTP surface.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.node.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errResponse("unhealthy", "node listener not up"))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

// registriesView is the JSON shape /debug/registries returns: the four
// registry snapshots plus per-connection diagnostics, the latter
// supplementing the registries with read-only TCP_INFO stats the original
// client never exposed.
type registriesView struct {
	Publishers       interface{}      `json:"publishers"`
	Subscribers      interface{}      `json:"subscribers"`
	ServiceProviders interface{}      `json:"service_providers"`
	ServiceCallers   interface{}      `json:"service_callers"`
	Connections      []connectionView `json:"connections"`
}

type connectionView struct {
	ID         uint64             `json:"id"`
	Role       string             `json:"role"`
	RemoteAddr string             `json:"remote_addr"`
	State      string             `json:"state"`
	TCPInfo    *diag.TCPInfoStats `json:"tcp_info,omitempty"`
}

func (s *Server) handleRegistries(w http.ResponseWriter, r *http.Request) {
	snap := s.node.Tables().Snapshot()

	conns := s.node.Conns()
	view := registriesView{
		Publishers:       snap.Publishers,
		Subscribers:      snap.Subscribers,
		ServiceProviders: snap.ServiceProviders,
		ServiceCallers:   snap.ServiceCallers,
		Connections:      make([]connectionView, 0, len(conns)),
	}

	for _, c := range conns {
		cv := connectionView{
			ID:         uint64(c.ID),
			Role:       c.Role,
			RemoteAddr: c.RemoteAddr,
			State:      c.State,
		}
		if info, ok := diag.TCPInfo(c.TCPConn); ok {
			cv.TCPInfo = info
		}
		view.Connections = append(view.Connections, cv)
	}

	writeJSON(w, http.StatusOK, okResponse(view))
}
