// Package session runs one record, submit and poll cycle against the
// recognition provider and turns a match into a playback position.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/capture"
	"github.com/scannsing/scannsing/internal/events"
	"github.com/scannsing/scannsing/internal/recognition"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

// ErrAbandoned is returned by Run when Reset or a newer Run superseded it.
var ErrAbandoned = errors.New("session: run abandoned")

// Capturer records audio. *capture.Controller satisfies it.
type Capturer interface {
	StartRecording(ctx context.Context, d time.Duration) (time.Time, error)
	AudioBytes() []byte
}

// Recognizer identifies recorded audio. *recognition.Client satisfies it.
type Recognizer interface {
	Submit(ctx context.Context, audio []byte) (string, error)
	Poll(ctx context.Context, jobID string) (models.MatchResult, error)
}

type Option func(*Session)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

func WithLogger(log logger.Leveled) Option {
	return func(s *Session) {
		s.log = log
	}
}

// Session owns its State; only Run and Reset change it.
type Session struct {
	mu         sync.Mutex
	cfg        Config
	capturer   Capturer
	recognizer Recognizer
	clock      clockwork.Clock
	log        logger.Leveled
	state      State
	gen        uint64
	cancel     context.CancelFunc
	bus        events.Bus[State]
}

func New(cfg Config, c Capturer, r Recognizer, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg.normalized(),
		capturer:   c,
		recognizer: r,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = logger.GetLogger().Named("session").Named(cfg.Kind.String())
	}
	s.state = State{Kind: s.cfg.Kind}
	return s
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every state change.
func (s *Session) Subscribe(fn func(State)) func() {
	return s.bus.Subscribe(fn)
}

// Reset returns the session to Idle and abandons any run in progress. Late
// results of the abandoned run are dropped.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = State{Kind: s.cfg.Kind}
	st := s.state
	s.mu.Unlock()

	s.bus.Publish(st)
}

// Run performs one full cycle. Timing out while the job is still pending
// is not an error; the returned State has phase TimedOut.
func (s *Session) Run(ctx context.Context) (State, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = State{Kind: s.cfg.Kind}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	return s.run(runCtx, gen)
}

func (s *Session) run(ctx context.Context, gen uint64) (State, error) {
	start, err := s.captureAudio(ctx, gen)
	if err != nil {
		return s.finish(ctx, gen, err)
	}

	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return s.finish(ctx, gen, err)
	}

	if !s.update(gen, func(st *State) { st.Phase = Submitting }) {
		return s.State(), ErrAbandoned
	}
	jobID, err := s.recognizer.Submit(ctx, s.capturer.AudioBytes())
	if err != nil {
		return s.finish(ctx, gen, fmt.Errorf("submit: %w", err))
	}

	if !s.update(gen, func(st *State) {
		st.Phase = Polling
		st.JobID = jobID
	}) {
		return s.State(), ErrAbandoned
	}

	out, err := s.poll(ctx, gen, jobID)
	if err != nil {
		return s.finish(ctx, gen, err)
	}

	return s.resolve(gen, start, out.result, out.err)
}

func (s *Session) captureAudio(ctx context.Context, gen uint64) (time.Time, error) {
	for attempt := 0; ; attempt++ {
		if !s.update(gen, func(st *State) { st.Phase = Capturing }) {
			return time.Time{}, ErrAbandoned
		}

		start, err := s.capturer.StartRecording(ctx, s.cfg.RecordDuration)
		if err == nil {
			s.update(gen, func(st *State) { st.CaptureStart = start })
			return start, nil
		}
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		if errors.Is(err, capture.ErrCaptureFailed) && attempt < s.cfg.CaptureRetries {
			s.log.Warnf("capture failed, retrying: %v", err)
			continue
		}
		return time.Time{}, fmt.Errorf("capture: %w", err)
	}
}

type pollOutcome struct {
	result models.MatchResult
	err    error // from the poll that produced result
}

// poll polls up to MaxPollAttempts times. The returned error is only set
// when the run was cancelled or abandoned.
func (s *Session) poll(ctx context.Context, gen uint64, jobID string) (pollOutcome, error) {
	out := pollOutcome{result: models.MatchResult{Status: models.StatusPending}}

	for attempt := 1; attempt <= s.cfg.MaxPollAttempts; attempt++ {
		res, err := s.recognizer.Poll(ctx, jobID)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if err != nil {
			if errors.Is(err, recognition.ErrTransport) {
				s.log.Warnf("poll %d/%d: %v", attempt, s.cfg.MaxPollAttempts, err)
			} else {
				s.log.Errorf("poll %d/%d: %v", attempt, s.cfg.MaxPollAttempts, err)
			}
		}

		out = pollOutcome{result: res, err: err}
		if !s.update(gen, func(st *State) {
			st.Attempts = attempt
			st.Match = res
		}) {
			return out, ErrAbandoned
		}

		if res.Status.Terminal() {
			return out, nil
		}
		if attempt < s.cfg.MaxPollAttempts {
			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (s *Session) resolve(gen uint64, start time.Time, res models.MatchResult, pollErr error) (State, error) {
	now := s.clock.Now()

	var phase Phase
	switch res.Status {
	case models.StatusFound:
		phase = MatchedMusic
		if res.Kind == models.KindCover {
			phase = MatchedCover
		}
	case models.StatusNotFound:
		phase = NotFound
		s.log.Infof("no match found")
	case models.StatusError:
		phase = NotFound
		s.log.Warnf("provider could not identify the recording: %v", pollErr)
	default:
		phase = TimedOut
		pollErr = nil
		s.log.Warnf("job still pending after %d polls, giving up", s.cfg.MaxPollAttempts)
	}

	ok := s.update(gen, func(st *State) {
		st.Phase = phase
		st.Match = res
		st.ResolvedAt = now
		st.Err = pollErr
		if phase == MatchedMusic {
			offset, _ := res.Offset()
			st.Elapsed = now.Sub(start).Seconds() + offset + s.cfg.SkewCorrection.Seconds()
			st.HasElapsed = true
		}
	})
	if !ok {
		return s.State(), ErrAbandoned
	}

	st := s.State()
	if phase.Matched() {
		s.log.Infof("matched %q by %s (%s), elapsed %.2fs", res.Title, res.Artist, res.Kind, st.Elapsed)
	}
	return st, nil
}

// finish records a failed run, unless the run was abandoned.
func (s *Session) finish(ctx context.Context, gen uint64, err error) (State, error) {
	if errors.Is(err, ErrAbandoned) {
		return s.State(), ErrAbandoned
	}
	s.mu.Lock()
	abandoned := s.gen != gen
	s.mu.Unlock()
	if abandoned {
		return s.State(), ErrAbandoned
	}

	now := s.clock.Now()
	s.update(gen, func(st *State) {
		st.Phase = Failed
		st.Err = err
		st.ResolvedAt = now
	})
	if ctx.Err() == nil {
		s.log.Errorf("%v", err)
	}
	return s.State(), err
}

// update applies fn if gen is still current and publishes the result.
func (s *Session) update(gen uint64, fn func(*State)) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	st := s.state
	s.mu.Unlock()

	s.bus.Publish(st)
	return true
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
