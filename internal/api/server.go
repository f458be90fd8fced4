// Package api exposes the gateway's operational HTTP surface: a liveness
// check, Prometheus exposition, and a JSON cache dump for debugging. It
// follows the teacher codebase's own gorilla/mux router-construction and
// graceful-shutdown idiom (see server.go's mux.NewRouter/http.Server
// pattern), scaled down to the handful of routes a PVA gateway needs —
// this is not a public API for PVA clients, who talk the wire protocol,
// not HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/pkg/log"
)

// Server owns the diagnostics http.Server and the router mounted on it.
type Server struct {
	cache *channelcache.ChannelCache
	http  *http.Server
}

// New builds a Server listening on addr, routing /healthz, /metrics, and
// /debug/cache against cache. It does not start listening until Serve is
// called.
func New(addr string, cache *channelcache.ChannelCache) *Server {
	r := mux.NewRouter()
	s := &Server{cache: cache}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/debug/cache", s.handleDebugCache).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's router, for tests driving it with
// httptest.NewRecorder instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve runs the server until it errors or is shut down via Shutdown.
// http.ErrServerClosed is swallowed, the way a graceful Shutdown caller
// expects.
func (s *Server) Serve() error {
	log.Infof("api: diagnostics server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("ok"))
}
