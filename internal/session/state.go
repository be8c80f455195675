package session

import (
	"fmt"
	"time"

	"github.com/scannsing/scannsing/internal/timeline"
	"github.com/scannsing/scannsing/pkg/models"
)

// Kind distinguishes the identification session from the periodic resync
// sessions.
type Kind int

const (
	Initial Kind = iota
	Resync
)

func (k Kind) String() string {
	if k == Resync {
		return "resync"
	}
	return "initial"
}

type Phase int

const (
	Idle Phase = iota
	Capturing
	Submitting
	Polling
	MatchedMusic
	MatchedCover
	NotFound
	Failed
	TimedOut // polling attempts ran out while the job was still pending
)

var phaseNames = [...]string{
	Idle:         "idle",
	Capturing:    "capturing",
	Submitting:   "submitting",
	Polling:      "polling",
	MatchedMusic: "matched_music",
	MatchedCover: "matched_cover",
	NotFound:     "not_found",
	Failed:       "failed",
	TimedOut:     "timed_out",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Resolved reports whether a run has finished in p.
func (p Phase) Resolved() bool {
	return p >= MatchedMusic
}

// Matched reports whether p carries a usable match.
func (p Phase) Matched() bool {
	return p == MatchedMusic || p == MatchedCover
}

// State is a snapshot of a session.
type State struct {
	Kind         Kind
	Phase        Phase
	CaptureStart time.Time
	JobID        string
	Match        models.MatchResult
	Attempts     int // Polls made so far
	Err          error
	ResolvedAt   time.Time
	Elapsed      float64 // Playback position at ResolvedAt, in seconds
	HasElapsed   bool
}

// Anchor returns the playback anchor derived from a music match.
func (s State) Anchor() (timeline.Anchor, bool) {
	if !s.HasElapsed {
		return timeline.Anchor{}, false
	}
	return timeline.Anchor{PlaybackTime: s.Elapsed, Wall: s.ResolvedAt}, true
}
