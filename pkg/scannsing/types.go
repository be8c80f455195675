package scannsing

import (
	"time"

	"github.com/scannsing/scannsing/internal/resync"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/internal/timeline"
	"github.com/scannsing/scannsing/pkg/models"
)

// EventType tells which part of the engine an Event comes from.
type EventType int

const (
	EventCapture     EventType = iota // Recorder state changed
	EventRecognition                  // Identification progressed
	EventLine                         // Active lyric line or anchor changed
	EventResync                       // An auto-sync cycle finished
)

func (t EventType) String() string {
	switch t {
	case EventCapture:
		return "capture"
	case EventRecognition:
		return "recognition"
	case EventLine:
		return "line"
	case EventResync:
		return "resync"
	default:
		return "unknown"
	}
}

// Event is delivered to Subscribe listeners. Only the fields for its Type
// are set.
type Event struct {
	Type         EventType
	Capture      string
	Recognition  Recognition
	Index        int
	Line         *models.LyricLine
	PlaybackTime float64
	NextFire     time.Time
	Resync       string
	Err          error
}

// Recognition summarizes an identification run.
type Recognition struct {
	Phase      string
	Matched    bool
	Resolved   bool
	Match      models.MatchResult
	Attempts   int
	Elapsed    float64 // Playback position at ResolvedAt, in seconds
	HasElapsed bool
	ResolvedAt time.Time
	Err        error
}

// Snapshot is the engine state at one instant.
type Snapshot struct {
	Capture      string
	Recognition  Recognition
	Track        *models.Track
	AutoSync     bool
	Source       string // Session whose anchor is in use
	Index        int    // -1 when no line is active
	Line         *models.LyricLine
	PlaybackTime float64
	Anchored     bool
}

func toRecognition(st session.State) Recognition {
	return Recognition{
		Phase:      st.Phase.String(),
		Matched:    st.Phase.Matched(),
		Resolved:   st.Phase.Resolved(),
		Match:      st.Match,
		Attempts:   st.Attempts,
		Elapsed:    st.Elapsed,
		HasElapsed: st.HasElapsed,
		ResolvedAt: st.ResolvedAt,
		Err:        st.Err,
	}
}

func lineEvent(u timeline.Update) Event {
	return Event{
		Type:         EventLine,
		Index:        u.Index,
		Line:         u.Line,
		PlaybackTime: u.PlaybackTime,
		NextFire:     u.NextFire,
	}
}

func resyncEvent(r resync.Result) Event {
	ev := Event{
		Type:        EventResync,
		Resync:      r.Outcome.String(),
		Recognition: toRecognition(r.Resync),
		Err:         r.Err,
	}
	if r.Outcome == resync.Committed {
		ev.PlaybackTime = r.Anchor.PlaybackTime
	}
	return ev
}
