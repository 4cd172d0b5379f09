// Package server exposes the agent's local observability surface: health,
// delivery status, and prometheus metrics. It listens on localhost-class
// ports only; the data path to the remote API does not pass through here.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"luxagent/internal/buffer"
	"luxagent/internal/buildinfo"
	"luxagent/internal/metrics"
	"luxagent/internal/storage"
)

// DeliveryState is what the status endpoint reads from the orchestrator.
type DeliveryState interface {
	LastSend() time.Time
	LastSync() time.Time
	SendFailed() bool
}

// Config tunes the HTTP server.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the local observability HTTP server.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// Deps are the server's data sources.
type Deps struct {
	Samples  *buffer.SampleBuffer
	Unsent   *buffer.UnsentBuffer
	Store    *storage.BatchStore
	Delivery DeliveryState
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

type statusResponse struct {
	Status          string `json:"status"`
	CommitSHA       string `json:"commit_sha,omitempty"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	SampleBuffered  int    `json:"sample_buffered"`
	UnsentBuffered  int    `json:"unsent_buffered"`
	PersistedStored int    `json:"persisted_stored"`
	DroppedTotal    uint64 `json:"dropped_total"`
	LastSend        string `json:"last_send,omitempty"`
	LastSync        string `json:"last_sync,omitempty"`
	LastCycleFailed bool   `json:"last_cycle_failed"`
}

// New creates the server and registers all routes.
func New(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	started := time.Now()

	router := mux.NewRouter()
	router.Use(NewLogging(log).Handler)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Status:        "running",
			CommitSHA:     buildinfo.CommitSHA,
			UptimeSeconds: int64(time.Since(started).Seconds()),
		}
		if deps.Samples != nil {
			resp.SampleBuffered = deps.Samples.Len()
		}
		if deps.Unsent != nil {
			resp.UnsentBuffered = deps.Unsent.Len()
			resp.DroppedTotal = deps.Unsent.Dropped()
		}
		if deps.Store != nil {
			if n, err := deps.Store.Count(); err == nil {
				resp.PersistedStored = n
			}
		}
		if deps.Delivery != nil {
			if ts := deps.Delivery.LastSend(); !ts.IsZero() {
				resp.LastSend = ts.UTC().Format(time.RFC3339)
			}
			if ts := deps.Delivery.LastSync(); !ts.IsZero() {
				resp.LastSync = ts.UTC().Format(time.RFC3339)
			}
			resp.LastCycleFailed = deps.Delivery.SendFailed()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("Failed to encode status response", zap.Error(err))
		}
	}).Methods("GET")

	if deps.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		log: log,
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("observability server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown drains in-flight requests within the deadline.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
