package models

import "fmt"

// MatchStatus mirrors the provider's job state codes.
type MatchStatus int

const (
	StatusError    MatchStatus = -2
	StatusNotFound MatchStatus = -1
	StatusPending  MatchStatus = 0
	StatusFound    MatchStatus = 1
)

func (s MatchStatus) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	case StatusFound:
		return "found"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether polling can stop at this status.
func (s MatchStatus) Terminal() bool {
	return s == StatusFound || s == StatusNotFound || s == StatusError
}

// TrackKind tells an original studio recording apart from a cover.
type TrackKind int

const (
	KindUnknown TrackKind = iota
	KindMusic
	KindCover
)

func (k TrackKind) String() string {
	switch k {
	case KindMusic:
		return "music"
	case KindCover:
		return "cover"
	default:
		return "unknown"
	}
}

// MatchResult is a normalized recognition result.
type MatchResult struct {
	Status       MatchStatus
	Title        string
	Album        string
	Artist       string
	PlayOffsetMs *float64 // Position in the track, only reported for music matches
	Kind         TrackKind
}

// Offset returns the play offset in seconds when the provider reported one.
func (m MatchResult) Offset() (float64, bool) {
	if m.PlayOffsetMs == nil {
		return 0, false
	}
	return *m.PlayOffsetMs / 1000, true
}
