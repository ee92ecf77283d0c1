// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package healthcheck serves the liveness and readiness probes for the
// worker processes.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Response is the JSON body of every probe. Waiting lists the readiness
// conditions that are not yet met.
type Response struct {
	Healthy bool     `json:"healthy"`
	Status  string   `json:"status"`
	Waiting []string `json:"waiting,omitempty"`
}

// Config controls the probe listener.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DefaultConfig listens on 8090.
func DefaultConfig() Config {
	return Config{Enabled: true, Port: 8090}
}

type Server struct {
	port       int
	status     atomic.Int32
	conditions sync.Map // condition name -> bool
	server     *http.Server
}

func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = 8090
	}
	return &Server{port: config.Port}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

// SetReadyCondition sets a named readiness gate, such as the work queue
// being connected. Readiness requires a healthy status and every gate set.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.conditions.Store(name, ready)
	slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
}

// ClearReadyCondition removes a named readiness condition entirely.
func (s *Server) ClearReadyCondition(name string) {
	s.conditions.Delete(name)
}

func (s *Server) waiting() []string {
	var names []string
	s.conditions.Range(func(key, value any) bool {
		if !value.(bool) {
			names = append(names, key.(string))
		}
		return true
	})
	slices.Sort(names)
	return names
}

func (s *Server) IsReady() bool {
	return s.GetStatus() == StatusHealthy && len(s.waiting()) == 0
}

// Handler serves /healthz, /readyz and /livez.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeProbe(w, s.GetStatus() == StatusHealthy, nil)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		waiting := s.waiting()
		s.writeProbe(w, s.GetStatus() == StatusHealthy && len(waiting) == 0, waiting)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		s.writeProbe(w, s.GetStatus() != StatusUnhealthy, nil)
	})
	return mux
}

func (s *Server) writeProbe(w http.ResponseWriter, ok bool, waiting []string) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	resp := Response{Healthy: ok, Status: s.GetStatus().String(), Waiting: waiting}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

// Start serves the probes until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
