package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/movingmountains/driversync/internal/sync/queue"
	"github.com/movingmountains/driversync/internal/sync/reachability"
)

// Server exposes the agent's operational endpoints: liveness, sync status
// and Prometheus metrics.
type Server struct {
	reach  *reachability.Monitor
	queue  *queue.Queue
	server *http.Server
}

// NewServer creates the status server.
func NewServer(port int, reach *reachability.Monitor, q *queue.Queue) *Server {
	r := mux.NewRouter()
	s := &Server{
		reach: reach,
		queue: q,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// StatusReport is the JSON body served at /status.
type StatusReport struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := StatusReport{
		Online:  s.reach.IsOnline(),
		Pending: s.queue.Len(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
