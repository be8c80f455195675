package scannsing

import (
	"github.com/scannsing/scannsing/internal/capture"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/pkg/models"
)

type Storage interface {
	CreateTrack(name string, lines []models.LyricLine) (*models.Track, error)
	GetTrack(id string) (*models.Track, error)
	ListTracks() ([]models.Track, error)
	UpdateTrack(id, name string, lines []models.LyricLine) (*models.Track, error)
	DeleteTrack(id string) error
	FindTrackByName(title string) (*models.Track, error)
	CountLines(trackID string) (int64, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

type (
	// Device is an audio input that records 16-bit PCM samples.
	Device = capture.Device
	// Player plays a WAV payload back.
	Player = capture.Player
	// AudioFormat describes the samples a Device produces.
	AudioFormat = capture.Format
	// Recognizer submits recordings and polls for their result.
	Recognizer = session.Recognizer
	// SessionConfig tunes the record and poll timings of a recognition run.
	SessionConfig = session.Config
)
