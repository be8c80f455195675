package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
	"github.com/scannsing/scannsing/pkg/scannsing"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// TrackService is the part of the engine the API serves.
type TrackService interface {
	ListTracks() ([]models.Track, error)
	GetTrack(id string) (*models.Track, error)
	CreateTrack(name string, lines []models.LyricLine) (*models.Track, error)
	UpdateTrack(id, name string, lines []models.LyricLine) (*models.Track, error)
	DeleteTrack(id string) error
	ImportLRC(name, text string) (*models.Track, error)
	ExportLRC(id string) (string, error)
	SeedSampleTracks() (int, error)
}

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service TrackService
	config  *ServerConfig
	log     scannsing.Logger
	started time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	AllowedOrigins []string
	LogRequests    bool
}

// NewServer creates a new server instance
func NewServer(service TrackService, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger().Named("api"),
		started: time.Now(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondServiceError maps engine errors to status codes
func (s *Server) respondServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, scannsing.ErrTrackNotFound):
		s.respondError(w, http.StatusNotFound, "Track not found")
	case errors.Is(err, scannsing.ErrInvalidTrack):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Errorf("Failed to %s: %v", action, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "ScanNSing API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":      "GET /health",
			"metrics":     "GET /api/health/metrics",
			"listTracks":  "GET /api/tracks",
			"createTrack": "POST /api/tracks",
			"importLRC":   "POST /api/tracks/import",
			"seed":        "POST /api/tracks/seed",
			"getTrack":    "GET /api/tracks/{id}",
			"updateTrack": "PUT /api/tracks/{id}",
			"deleteTrack": "DELETE /api/tracks/{id}",
			"exportLRC":   "GET /api/tracks/{id}/lrc",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.service.ListTracks()
	if err != nil {
		s.log.Errorf("Failed to get track count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	lines := 0
	for _, t := range tracks {
		lines += len(t.Lines)
	}

	resp := MetricsResponse{
		Status:       "healthy",
		DatabasePath: s.config.DBPath,
		TrackCount:   len(tracks),
		LineCount:    lines,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
	}
	if info, err := os.Stat(s.config.DBPath); err == nil {
		resp.DatabaseSize = humanize.Bytes(uint64(info.Size()))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleListTracks handles GET /api/tracks
func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.service.ListTracks()
	if err != nil {
		s.respondServiceError(w, err, "retrieve tracks")
		return
	}

	dtos := make([]TrackDTO, len(tracks))
	for i := range tracks {
		dtos[i] = toTrackDTO(&tracks[i], false)
	}

	s.respondJSON(w, http.StatusOK, ListTracksResponse{
		Tracks: dtos,
		Count:  len(dtos),
	})
}

// handleCreateTrack handles POST /api/tracks
func (s *Server) handleCreateTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	track, err := s.service.CreateTrack(req.Name, req.modelLines())
	if err != nil {
		s.respondServiceError(w, err, "create track")
		return
	}
	s.log.Infof("Created track %s (%q)", track.ID, track.Name)
	s.respondJSON(w, http.StatusCreated, toTrackDTO(track, true))
}

// handleGetTrack handles GET /api/tracks/{id}
func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request, id string) {
	track, err := s.service.GetTrack(id)
	if err != nil {
		s.respondServiceError(w, err, "retrieve track")
		return
	}
	s.respondJSON(w, http.StatusOK, toTrackDTO(track, true))
}

// handleUpdateTrack handles PUT /api/tracks/{id}
func (s *Server) handleUpdateTrack(w http.ResponseWriter, r *http.Request, id string) {
	var req TrackRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	track, err := s.service.UpdateTrack(id, req.Name, req.modelLines())
	if err != nil {
		s.respondServiceError(w, err, "update track")
		return
	}
	s.respondJSON(w, http.StatusOK, toTrackDTO(track, true))
}

// handleDeleteTrack handles DELETE /api/tracks/{id}
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.service.DeleteTrack(id); err != nil {
		s.respondServiceError(w, err, "delete track")
		return
	}
	s.log.Infof("Deleted track %s", id)
	s.respondJSON(w, http.StatusOK, DeleteTrackResponse{
		Message: "Track deleted",
		ID:      id,
	})
}

// handleExportTrack handles GET /api/tracks/{id}/lrc
func (s *Server) handleExportTrack(w http.ResponseWriter, r *http.Request, id string) {
	text, err := s.service.ExportLRC(id)
	if err != nil {
		s.respondServiceError(w, err, "export track")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

// handleImportTrack handles POST /api/tracks/import. It takes an
// ImportRequest as JSON, or raw lyric text with an optional ?name=.
func (s *Server) handleImportTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Only POST is allowed")
		return
	}

	var req ImportRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Failed to read body: "+err.Error())
			return
		}
		req = ImportRequest{Name: r.URL.Query().Get("name"), Text: string(body)}
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	track, err := s.service.ImportLRC(req.Name, req.Text)
	if err != nil {
		s.respondServiceError(w, err, "import track")
		return
	}
	s.respondJSON(w, http.StatusCreated, toTrackDTO(track, true))
}

// handleSeed handles POST /api/tracks/seed
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Only POST is allowed")
		return
	}
	added, err := s.service.SeedSampleTracks()
	if err != nil {
		s.respondServiceError(w, err, "seed sample tracks")
		return
	}
	s.respondJSON(w, http.StatusOK, SeedResponse{Added: added})
}

// handleTracks routes /api/tracks
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTracks(w, r)
	case http.MethodPost:
		s.handleCreateTrack(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Only GET and POST are allowed")
	}
}

// handleTrack routes /api/tracks/{id} and /api/tracks/{id}/lrc
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tracks/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Track ID is required")
		return
	}

	switch sub {
	case "":
	case "lrc":
		if r.Method != http.MethodGet {
			s.respondError(w, http.StatusMethodNotAllowed, "Only GET is allowed")
			return
		}
		s.handleExportTrack(w, r, id)
		return
	default:
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetTrack(w, r, id)
	case http.MethodPut:
		s.handleUpdateTrack(w, r, id)
	case http.MethodDelete:
		s.handleDeleteTrack(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Only GET, PUT and DELETE are allowed")
	}
}
