package capture

// State is the capture/playback controller state.
type State int

const (
	Idle State = iota
	AwaitingRecordStart
	Recording
	AwaitingPlayStart
	Playing
	Paused
)

var stateNames = [...]string{
	Idle:                "idle",
	AwaitingRecordStart: "awaiting_record_start",
	Recording:           "recording",
	AwaitingPlayStart:   "awaiting_play_start",
	Playing:             "playing",
	Paused:              "paused",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Event drives a state change.
type Event int

const (
	RecordRequested Event = iota
	PlayRequested
	StopRequested
	DoneRequested
	CaptureFailed
)

var eventNames = [...]string{
	RecordRequested: "record",
	PlayRequested:   "play",
	StopRequested:   "stop",
	DoneRequested:   "done",
	CaptureFailed:   "capture_failed",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// AllStates lists every state, in declaration order.
func AllStates() []State {
	return []State{Idle, AwaitingRecordStart, Recording, AwaitingPlayStart, Playing, Paused}
}

// AllEvents lists every event, in declaration order.
func AllEvents() []Event {
	return []Event{RecordRequested, PlayRequested, StopRequested, DoneRequested, CaptureFailed}
}

// Transition returns the state reached from s on e. Pairs with no rule leave
// the state unchanged.
func Transition(s State, e Event) State {
	if e == DoneRequested {
		return Idle
	}

	switch s {
	case Idle:
		switch e {
		case RecordRequested:
			return Recording
		case PlayRequested:
			return Playing
		}
	case AwaitingRecordStart:
		if e == RecordRequested {
			return Recording
		}
	case AwaitingPlayStart:
		if e == PlayRequested {
			return Playing
		}
	case Recording:
		switch e {
		case RecordRequested, StopRequested:
			return Idle
		case CaptureFailed:
			return AwaitingRecordStart
		}
	case Playing:
		switch e {
		case PlayRequested:
			return Paused
		case StopRequested, CaptureFailed:
			return Idle
		}
	case Paused:
		switch e {
		case RecordRequested:
			return Recording
		case PlayRequested:
			return Playing
		case StopRequested, CaptureFailed:
			return Idle
		}
	}
	return s
}
