// Package server wires the relay's top-level HTTP surface: metrics,
// health, the game-server catalog, and the signaling endpoint.
package server

import (
	"log/slog"
	"net/http"

	"github.com/oharashane/cs16relay/internal/config"
	"github.com/oharashane/cs16relay/internal/metrics"
	"github.com/oharashane/cs16relay/internal/query"
	"github.com/oharashane/cs16relay/internal/session"
	"github.com/oharashane/cs16relay/internal/signaling"
)

// Server owns the top-level http.ServeMux, grounded on wingthing
// internal/relay/server.go's NewServer route-registration shape.
type Server struct {
	Config           *config.Config
	Metrics          *metrics.Registry
	Registry         *session.Registry
	Query            *query.Client
	Logger           *slog.Logger
	SidecarHealthURL string

	mux          *http.ServeMux
	rateLimiters []*RateLimiter
}

// NewServer builds the mux and registers every route.
func NewServer(cfg *config.Config, reg *metrics.Registry, sessions *session.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Config:   cfg,
		Metrics:  reg,
		Registry: sessions,
		Query:    &query.Client{},
		Logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.Metrics.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)

	rl := NewRateLimiter(5, 10)
	mux.Handle("GET /servers", rl.Middleware(http.HandlerFunc(s.handleServers)))
	mux.Handle("GET /heartbeat", rl.Middleware(http.HandlerFunc(s.handleHeartbeat)))

	signalHandler := &signaling.Handler{
		Config:   cfg,
		Metrics:  reg,
		Registry: sessions,
		Logger:   logger,
	}
	mux.Handle("GET /websocket", signalHandler)
	mux.Handle("GET /signal", signalHandler)

	s.mux = mux
	s.rateLimiters = []*RateLimiter{rl}
	return s
}

// Close stops the rate limiters' background evictors. Called by
// cmd/relayd alongside the other components it shuts down.
func (s *Server) Close() {
	for _, rl := range s.rateLimiters {
		rl.Close()
	}
}

// ServeHTTP applies CORS before dispatching to the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.cors(s.mux).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "cs16relay"})
}

// cors sets Access-Control-Allow-Origin from Config.AllowedOrigins and
// allows credentials plus all methods/headers, grounded on
// original_source's CORSMiddleware re-expressed as an http.Handler wrapper
// in the style of bandwidth.go's RateLimiter.Middleware.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigin(s.Config.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
