// Package adminhttp exposes a small read-only operator surface over
// the dispatcher and session manager: a gorilla/mux-routed server
// trimmed to health, stats and session listing only — no REST
// business logic lives here.
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/glennswest/netpkt/dispatch"
	"github.com/glennswest/netpkt/session"
)

// Server is the admin HTTP listener.
type Server struct {
	port       int
	version    string
	manager    *session.Manager
	dispatcher *dispatch.Dispatcher
	router     *mux.Router
	httpServer *http.Server
}

// New builds an admin Server bound to port, backed by manager and
// dispatcher for its read-only views.
func New(port int, manager *session.Manager, dispatcher *dispatch.Dispatcher, version string) *Server {
	s := &Server{
		port:       port,
		version:    version,
		manager:    manager,
		dispatcher: dispatcher,
		router:     mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/sessions", s.handleSessions).Methods("GET")
}

type requestIDKey struct{}

// requestIDMiddleware tags every request with a uuid so operator
// support can correlate a single curl against a log line.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Sessions  int    `json:"sessions"`
	UptimeSec int64  `json:"uptime_sec"`
}

var startedAt = time.Now()

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Sessions:  s.manager.Count(),
		UptimeSec: int64(time.Since(startedAt).Seconds()),
	}
	writeJSON(w, resp)
}

type opStatsResponse struct {
	OpCode      uint16 `json:"opcode"`
	Received    int64  `json:"received"`
	Dispatched  int64  `json:"dispatched"`
	RateLimited int64  `json:"rate_limited"`
	Overloaded  int64  `json:"overloaded"`
	Forbidden   int64  `json:"forbidden"`
	TimedOut    int64  `json:"timed_out"`
	Errored     int64  `json:"errored"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	raw := s.dispatcher.Stats()
	out := make([]opStatsResponse, 0, len(raw))
	for op, st := range raw {
		out = append(out, opStatsResponse{
			OpCode:      op,
			Received:    st.Received.Load(),
			Dispatched:  st.Dispatched.Load(),
			RateLimited: st.RateLimited.Load(),
			Overloaded:  st.Overloaded.Load(),
			Forbidden:   st.Forbidden.Load(),
			TimedOut:    st.TimedOut.Load(),
			Errored:     st.Errored.Load(),
		})
	}
	writeJSON(w, out)
}

type sessionResponse struct {
	ID            uint64 `json:"id"`
	RemoteAddress string `json:"remote_address"`
	Role          string `json:"role"`
	Connected     bool   `json:"connected"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.All()
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			ID:            sess.ID,
			RemoteAddress: sess.RemoteAddress,
			Role:          sess.Role.String(),
			Connected:     sess.Connected(),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Run starts the HTTP listener and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
