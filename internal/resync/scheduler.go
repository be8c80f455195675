// Package resync periodically re-identifies the playing song and corrects
// the lyric timeline when the match agrees with the initial one.
package resync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/events"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/internal/timeline"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

const DefaultInterval = 20 * time.Second

type Outcome int

const (
	Skipped   Outcome = iota // the original match is not a studio recording
	Committed                // the timeline was rebased
	Rejected                 // the resync run finished without an agreeing match
	Failed                   // the resync run errored
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes one resync cycle.
type Result struct {
	Outcome Outcome
	Initial models.MatchResult
	Resync  session.State
	Anchor  timeline.Anchor // set when Committed
	Err     error
}

// Source exposes the state of the initial identification.
type Source interface {
	State() session.State
}

// Resyncer runs the resync session. *session.Session satisfies it.
type Resyncer interface {
	Run(ctx context.Context) (session.State, error)
	Reset()
}

// Rebaser receives corrected anchors. Commit applies the anchor and
// returns the notification to run once the scheduler's locks are released.
// *timeline.Synchronizer satisfies it.
type Rebaser interface {
	Commit(a timeline.Anchor) func()
}

type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithLogger(log logger.Leveled) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

type Scheduler struct {
	mu       sync.Mutex
	commitMu sync.Mutex
	initial  Source
	resync   Resyncer
	target   Rebaser
	clock    clockwork.Clock
	log      logger.Leveled
	interval time.Duration
	enabled  bool
	gen      uint64
	cancel   context.CancelFunc
	active   session.Kind
	wg       sync.WaitGroup
	bus      events.Bus[Result]
}

func New(initial Source, resync Resyncer, target Rebaser, opts ...Option) *Scheduler {
	s := &Scheduler{
		initial:  initial,
		resync:   resync,
		target:   target,
		interval: DefaultInterval,
		active:   session.Initial,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = logger.GetLogger().Named("resync")
	}
	return s
}

// Subscribe registers fn for the result of every cycle.
func (s *Scheduler) Subscribe(fn func(Result)) func() {
	return s.bus.Subscribe(fn)
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// ActiveSource reports which session currently drives the elapsed time.
func (s *Scheduler) ActiveSource() session.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetEnabled starts or stops the repeating cycle. Enabling runs one cycle
// straight away. Disabling abandons the in-flight cycle; once it returns no
// cycle started earlier can rebase the timeline.
func (s *Scheduler) SetEnabled(on bool) {
	if on {
		s.enable()
		return
	}
	s.disable()
}

func (s *Scheduler) enable() {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = true
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Infof("auto-sync on, every %s", s.interval)
	go s.loop(ctx, gen)
}

func (s *Scheduler) disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	// Wait out a commit that passed its generation check before the bump.
	s.commitMu.Lock()
	s.commitMu.Unlock()

	s.resync.Reset()
	s.log.Infof("auto-sync off")
}

// Stop disables the scheduler and waits for its loop to exit. It must not
// be called from a listener running on the loop; use SetEnabled(false).
func (s *Scheduler) Stop() {
	s.disable()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.cycle(ctx, gen)
		}
	}
}

// RunOnce runs a single cycle outside the repeating loop.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.cycle(ctx, gen)
}

func (s *Scheduler) cycle(ctx context.Context, gen uint64) Result {
	initial := s.initial.State()
	res := Result{Initial: initial.Match}

	if initial.Phase != session.MatchedMusic || initial.Match.Kind != models.KindMusic {
		res.Outcome = Skipped
		s.log.Debugf("skipping resync, initial match is %s", initial.Phase)
		return s.report(gen, res)
	}

	s.resync.Reset()
	st, err := s.resync.Run(ctx)
	res.Resync = st
	if err != nil {
		res.Outcome = Failed
		res.Err = err
		if errors.Is(err, session.ErrAbandoned) || ctx.Err() != nil {
			return res
		}
		s.log.Warnf("resync run failed: %v", err)
		return s.report(gen, res)
	}

	anchor, ok := st.Anchor()
	if st.Phase != session.MatchedMusic || !ok {
		res.Outcome = Rejected
		s.log.Infof("resync ended %s, keeping current timeline", st.Phase)
		return s.report(gen, res)
	}
	if !SameTrack(initial.Match, st.Match) {
		res.Outcome = Rejected
		s.log.Warnf("resync matched %q, expected %q; ignoring", st.Match.Title, initial.Match.Title)
		return s.report(gen, res)
	}

	s.commitMu.Lock()
	s.mu.Lock()
	stale := s.gen != gen
	if !stale {
		s.active = session.Resync
	}
	s.mu.Unlock()
	if stale {
		s.commitMu.Unlock()
		return res
	}
	notify := s.target.Commit(anchor)
	s.commitMu.Unlock()
	notify()

	res.Outcome = Committed
	res.Anchor = anchor
	s.log.Infof("resynced to %.2fs", anchor.PlaybackTime)
	return s.report(gen, res)
}

func (s *Scheduler) report(gen uint64, res Result) Result {
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if !stale {
		s.bus.Publish(res)
	}
	return res
}

// SameTrack reports whether two matches name the same song: titles must
// agree ignoring case and surrounding space, and artists too when both
// sides report one.
func SameTrack(a, b models.MatchResult) bool {
	if !sameText(a.Title, b.Title) || strings.TrimSpace(a.Title) == "" {
		return false
	}
	aa, ba := strings.TrimSpace(a.Artist), strings.TrimSpace(b.Artist)
	if aa != "" && ba != "" {
		return strings.EqualFold(aa, ba)
	}
	return true
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
