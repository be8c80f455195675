package timeline

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/events"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

// DefaultMargin fires line changes slightly early to absorb dispatch latency.
const DefaultMargin = 100 * time.Millisecond

// Update is published whenever the active line or the anchor changes.
// Seq grows with every update; listeners may drop one whose Seq is not
// above the last they handled, since a timer fire can race a Rebase.
type Update struct {
	Seq          uint64
	Index        int // -1 when no line is active
	Line         *models.LyricLine
	Anchor       Anchor
	PlaybackTime float64
	NextFire     time.Time // zero when nothing is armed
}

type Option func(*Synchronizer)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Synchronizer) {
		s.clock = clock
	}
}

func WithLogger(log logger.Leveled) Option {
	return func(s *Synchronizer) {
		s.log = log
	}
}

func WithMargin(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.margin = d
	}
}

// Synchronizer tracks the active line of one track. At most one advance
// timer is armed at a time; every anchor change disarms it before arming a
// replacement.
type Synchronizer struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	log      logger.Leveled
	margin   time.Duration
	lines    []models.LyricLine
	anchor   Anchor
	current  int
	timer    clockwork.Timer
	gen      uint64
	seq      uint64
	nextFire time.Time
	bus      events.Bus[Update]
}

// New returns a synchronizer over lines. It has no anchor until Rebase or
// Seek is called.
func New(lines []models.LyricLine, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		margin:  DefaultMargin,
		lines:   models.SortLines(lines),
		current: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = logger.GetLogger().Named("timeline")
	}
	return s
}

// Subscribe registers fn for every Update.
func (s *Synchronizer) Subscribe(fn func(Update)) func() {
	return s.bus.Subscribe(fn)
}

// Rebase replaces the anchor, recomputes the active line and re-arms the
// advance timer.
func (s *Synchronizer) Rebase(a Anchor) {
	s.Commit(a)()
}

// Commit is Rebase without the notification: the anchor is replaced at
// once and the returned func publishes the resulting Update. Callers that
// hold their own locks run it after releasing them.
func (s *Synchronizer) Commit(a Anchor) func() {
	s.mu.Lock()
	s.invalidateLocked()
	s.anchor = a
	s.alignLocked()
	u := s.updateLocked()
	s.mu.Unlock()

	s.log.Debugf("rebased to %.2fs, line %d", a.PlaybackTime, u.Index)
	return func() { s.bus.Publish(u) }
}

// Seek anchors playback position t at the current instant.
func (s *Synchronizer) Seek(t float64) {
	s.Rebase(Anchor{PlaybackTime: t, Wall: s.clock.Now()})
}

// SelectLine anchors the line with id at the current instant. It reports
// false when no such line exists.
func (s *Synchronizer) SelectLine(id string) bool {
	s.mu.Lock()
	ts, ok := 0.0, false
	for _, l := range s.lines {
		if l.ID == id {
			ts, ok = l.Timestamp, true
			break
		}
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.Seek(ts)
	return true
}

// SetLines swaps the line set, keeping the anchor.
func (s *Synchronizer) SetLines(lines []models.LyricLine) {
	s.mu.Lock()
	s.invalidateLocked()
	s.lines = models.SortLines(lines)
	s.current = -1
	if !s.anchor.IsZero() {
		s.alignLocked()
	}
	u := s.updateLocked()
	s.mu.Unlock()

	s.bus.Publish(u)
}

// Stop disarms the advance timer. A later Rebase or Seek arms it again.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

// CurrentLine returns the active line, or nil.
func (s *Synchronizer) CurrentLine() *models.LyricLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineLocked(s.current)
}

// CurrentIndex returns the active line's index, or -1.
func (s *Synchronizer) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentLineAt computes the line active under a at the current instant
// without touching the synchronizer's state.
func (s *Synchronizer) CurrentLineAt(a Anchor) *models.LyricLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.IsZero() {
		return nil
	}
	return s.lineLocked(LineAt(s.lines, a.At(s.clock.Now())))
}

// NextFire returns the instant the armed timer fires.
func (s *Synchronizer) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFire, !s.nextFire.IsZero()
}

func (s *Synchronizer) Anchor() Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchor
}

// Lines returns the sorted line set.
func (s *Synchronizer) Lines() []models.LyricLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LyricLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// PlaybackTime returns the anchored playback position now.
func (s *Synchronizer) PlaybackTime() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor.IsZero() {
		return 0, false
	}
	return s.anchor.At(s.clock.Now()), true
}

func (s *Synchronizer) invalidateLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextFire = time.Time{}
}

func (s *Synchronizer) alignLocked() {
	if s.anchor.IsZero() || len(s.lines) == 0 {
		s.current = -1
		return
	}
	s.current = LineAt(s.lines, s.anchor.At(s.clock.Now()))
	s.armLocked()
}

// armLocked schedules the advance to the line after current. Lines whose
// fire instant has already passed are taken synchronously. Nothing is armed
// while no line is active.
func (s *Synchronizer) armLocked() {
	if s.current < 0 {
		return
	}
	now := s.clock.Now()
	for {
		next := s.current + 1
		if next >= len(s.lines) {
			return
		}
		target := s.anchor.WallFor(s.lines[next].Timestamp).Add(-s.margin)
		delay := target.Sub(now)
		if delay <= 0 {
			s.current = next
			continue
		}

		gen := s.gen
		s.nextFire = target
		s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
		return
	}
}

func (s *Synchronizer) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.nextFire = time.Time{}
	if s.current+1 < len(s.lines) {
		s.current++
	}
	s.armLocked()
	u := s.updateLocked()
	s.mu.Unlock()

	s.bus.Publish(u)
}

func (s *Synchronizer) lineLocked(i int) *models.LyricLine {
	if i < 0 || i >= len(s.lines) {
		return nil
	}
	l := s.lines[i]
	return &l
}

func (s *Synchronizer) updateLocked() Update {
	s.seq++
	u := Update{
		Seq:      s.seq,
		Index:    s.current,
		Line:     s.lineLocked(s.current),
		Anchor:   s.anchor,
		NextFire: s.nextFire,
	}
	if !s.anchor.IsZero() {
		u.PlaybackTime = s.anchor.At(s.clock.Now())
	}
	return u
}
