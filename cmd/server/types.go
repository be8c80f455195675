package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/scannsing/scannsing/pkg/models"
)

// MaxLinesPerTrack bounds the lines accepted in one request.
const MaxLinesPerTrack = 5000

// LineDTO represents one lyric line in requests and responses
type LineDTO struct {
	ID        string  `json:"id,omitempty"`
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

// TrackRequest is the request body for POST /api/tracks and PUT /api/tracks/{id}
type TrackRequest struct {
	Name  string    `json:"name"`
	Lines []LineDTO `json:"lines"`
}

// Validate checks if the request is valid
func (r *TrackRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Lines) > MaxLinesPerTrack {
		return fmt.Errorf("too many lines: %d (maximum: %d)", len(r.Lines), MaxLinesPerTrack)
	}
	for i, l := range r.Lines {
		if l.Timestamp < 0 {
			return fmt.Errorf("line %d: timestamp must not be negative", i+1)
		}
	}
	return nil
}

func (r *TrackRequest) modelLines() []models.LyricLine {
	lines := make([]models.LyricLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = models.LyricLine{Timestamp: l.Timestamp, Text: l.Text}
	}
	return lines
}

// ImportRequest is the request body for POST /api/tracks/import
type ImportRequest struct {
	// Name is optional; the [ti:] tag of Text is used when empty
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
}

func (r *ImportRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// TrackDTO represents a track in API responses
type TrackDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LineCount int       `json:"line_count"`
	Lines     []LineDTO `json:"lines,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Updated   string    `json:"updated"`
}

func toTrackDTO(t *models.Track, withLines bool) TrackDTO {
	dto := TrackDTO{
		ID:        t.ID,
		Name:      t.Name,
		LineCount: len(t.Lines),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		Updated:   humanize.Time(t.UpdatedAt),
	}
	if withLines {
		sorted := t.SortedLines()
		dto.Lines = make([]LineDTO, len(sorted))
		for i, l := range sorted {
			dto.Lines[i] = LineDTO{ID: l.ID, Timestamp: l.Timestamp, Text: l.Text}
		}
	}
	return dto
}

// ListTracksResponse is the response for GET /api/tracks
type ListTracksResponse struct {
	Tracks []TrackDTO `json:"tracks"`
	Count  int        `json:"count"`
}

// DeleteTrackResponse is the response for DELETE /api/tracks/{id}
type DeleteTrackResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// SeedResponse is the response for POST /api/tracks/seed
type SeedResponse struct {
	Added int `json:"added"`
}

// MetricsResponse provides server health and database metrics
type MetricsResponse struct {
	Status       string `json:"status"`
	DatabasePath string `json:"database_path"`
	DatabaseSize string `json:"database_size,omitempty"`
	TrackCount   int    `json:"track_count"`
	LineCount    int    `json:"line_count"`
	Uptime       string `json:"uptime"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
