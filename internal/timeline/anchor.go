// Package timeline maps wall-clock time onto a track's playback position and
// advances the active lyric line as playback moves on.
package timeline

import (
	"math"
	"sort"
	"time"

	"github.com/scannsing/scannsing/pkg/models"
)

// Anchor pins a playback position to a wall-clock instant. Playback is
// assumed to progress in real time from there.
type Anchor struct {
	PlaybackTime float64 // Seconds into the track
	Wall         time.Time
}

func (a Anchor) IsZero() bool {
	return a.Wall.IsZero()
}

// At returns the playback position at now.
func (a Anchor) At(now time.Time) float64 {
	return a.PlaybackTime + now.Sub(a.Wall).Seconds()
}

// WallFor returns the instant playback reaches t.
func (a Anchor) WallFor(t float64) time.Time {
	return a.Wall.Add(Seconds(t - a.PlaybackTime))
}

// Seconds converts fractional seconds to a Duration, rounded to the
// nanosecond.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// LineAt returns the index of the last line whose timestamp is <= t, or -1
// when t precedes every line. lines must be sorted by timestamp.
func LineAt(lines []models.LyricLine, t float64) int {
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].Timestamp > t
	})
	return i - 1
}
