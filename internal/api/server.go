// Package api provides the HTTP API for the go-p1mini reader.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusSource reports the reader's runtime state for the status endpoint.
type StatusSource interface {
	Status() map[string]interface{}
}

// Server represents the HTTP API server that exposes the latest meter
// readings and reader status.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	store     *domain.ReadingStore
	status    StatusSource
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server. The status source may be nil,
// in which case the status endpoint only reports uptime and reading count.
func NewServer(cfg *config.Config, store *domain.ReadingStore, status StatusSource) *Server {
	apiServer := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		store:     store,
		status:    status,
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	apiServer.setupRoutes()
	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	// API versioning
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/readings", s.handleListReadings).Methods("GET")
	api.HandleFunc("/readings/{name}", s.handleGetReading).Methods("GET")
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"version":      "dev",
		"uptime":       time.Since(s.startTime).String(),
		"readingCount": len(s.store.All()),
	}

	if s.status != nil {
		for key, value := range s.status.Status() {
			status[key] = value
		}
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListReadings returns the latest reading of every sensor.
func (s *Server) handleListReadings(w http.ResponseWriter, _ *http.Request) {
	readings := s.store.All()

	s.writeJSON(w, map[string]interface{}{
		"readings": readings,
		"count":    len(readings),
	}, http.StatusOK)
}

// handleGetReading returns the latest reading of a single sensor by name.
func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	reading, found := s.store.Get(name)
	if !found {
		s.writeError(w, "Reading not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, reading, http.StatusOK)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
