package models

import (
	"sort"
	"time"
)

// LyricLine is one timestamped line of a track's lyrics.
type LyricLine struct {
	ID        string  // UUID of the line
	Timestamp float64 // Seconds from the start of the track
	Text      string
}

// Track is a named set of lyric lines as kept by the track store.
type Track struct {
	ID        string // UUID of the track
	Name      string
	Lines     []LyricLine // Storage order, not necessarily sorted
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SortedLines returns the track's lines ordered by timestamp.
func (t *Track) SortedLines() []LyricLine {
	if t == nil {
		return nil
	}
	return SortLines(t.Lines)
}

// SortLines returns a copy of lines sorted ascending by timestamp. Lines with
// equal timestamps keep their relative order.
func SortLines(lines []LyricLine) []LyricLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]LyricLine, len(lines))
	copy(out, lines)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
