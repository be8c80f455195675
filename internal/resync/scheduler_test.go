package resync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/internal/timeline"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

type fixedSource struct{ st session.State }

func (f fixedSource) State() session.State { return f.st }

type fakeResyncer struct {
	mu      sync.Mutex
	state   session.State
	err     error
	release chan struct{}
	started chan struct{}
	runs    int
	resets  int
}

func (r *fakeResyncer) Run(ctx context.Context) (session.State, error) {
	r.mu.Lock()
	r.runs++
	release, started := r.release, r.started
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return r.state, r.err
}

func (r *fakeResyncer) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

func (r *fakeResyncer) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type recordingRebaser struct {
	mu      sync.Mutex
	anchors []timeline.Anchor
}

func (r *recordingRebaser) Commit(a timeline.Anchor) func() {
	r.mu.Lock()
	r.anchors = append(r.anchors, a)
	r.mu.Unlock()
	return func() {}
}

func (r *recordingRebaser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.anchors)
}

func musicState(kind session.Kind, title, artist string, elapsed float64) session.State {
	offset := 1000.0
	return session.State{
		Kind:  kind,
		Phase: session.MatchedMusic,
		Match: models.MatchResult{
			Status:       models.StatusFound,
			Title:        title,
			Artist:       artist,
			PlayOffsetMs: &offset,
			Kind:         models.KindMusic,
		},
		ResolvedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Elapsed:    elapsed,
		HasElapsed: true,
	}
}

func newTestScheduler(initial session.State, r *fakeResyncer, target Rebaser, opts ...Option) *Scheduler {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(fixedSource{initial}, r, target, opts...)
}

func TestCommitOnAgreeingMatch(t *testing.T) {
	initial := musicState(session.Initial, "Yellow and Blue", "Artist", 20)
	r := &fakeResyncer{state: musicState(session.Resync, "  yellow AND blue ", "ARTIST", 42.5)}
	target := &recordingRebaser{}
	s := newTestScheduler(initial, r, target)

	res := s.RunOnce(context.Background())

	if res.Outcome != Committed {
		t.Fatalf("Expected committed, got %s", res.Outcome)
	}
	if target.count() != 1 || target.anchors[0].PlaybackTime != 42.5 {
		t.Errorf("Expected one rebase to 42.5s, got %+v", target.anchors)
	}
	if s.ActiveSource() != session.Resync {
		t.Errorf("Expected resync to drive elapsed time, got %s", s.ActiveSource())
	}
}

func TestMismatchNeverRebases(t *testing.T) {
	tests := []struct {
		name   string
		resync session.State
	}{
		{"other title", musicState(session.Resync, "Something Else", "Artist", 42)},
		{"other artist", musicState(session.Resync, "Yellow and Blue", "Impostor", 42)},
		{"cover", session.State{Phase: session.MatchedCover, Match: models.MatchResult{Status: models.StatusFound, Title: "Yellow and Blue", Kind: models.KindCover}}},
		{"not found", session.State{Phase: session.NotFound}},
		{"timed out", session.State{Phase: session.TimedOut}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recordingRebaser{}
			s := newTestScheduler(musicState(session.Initial, "Yellow and Blue", "Artist", 20), &fakeResyncer{state: tt.resync}, target)

			res := s.RunOnce(context.Background())

			if res.Outcome != Rejected {
				t.Errorf("Expected rejected, got %s", res.Outcome)
			}
			if target.count() != 0 {
				t.Errorf("Expected anchor untouched, got %d rebases", target.count())
			}
			if s.ActiveSource() != session.Initial {
				t.Errorf("Expected initial source to stay active, got %s", s.ActiveSource())
			}
		})
	}
}

func TestMismatchKeepsSynchronizerAnchor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	syncer := timeline.New([]models.LyricLine{{ID: "a", Timestamp: 0}, {ID: "b", Timestamp: 30}},
		timeline.WithClock(clock), timeline.WithLogger(logger.Discard()))
	defer syncer.Stop()
	anchor := timeline.Anchor{PlaybackTime: 12, Wall: clock.Now()}
	syncer.Rebase(anchor)

	r := &fakeResyncer{state: musicState(session.Resync, "Wrong Song", "", 99)}
	s := newTestScheduler(musicState(session.Initial, "Right Song", "", 12), r, syncer)
	s.RunOnce(context.Background())

	if syncer.Anchor() != anchor {
		t.Errorf("Expected anchor %+v, got %+v", anchor, syncer.Anchor())
	}
}

func TestSkipWhenInitialIsCover(t *testing.T) {
	initial := session.State{
		Phase: session.MatchedCover,
		Match: models.MatchResult{Status: models.StatusFound, Title: "Cover", Kind: models.KindCover},
	}
	r := &fakeResyncer{}
	s := newTestScheduler(initial, r, &recordingRebaser{})

	if res := s.RunOnce(context.Background()); res.Outcome != Skipped {
		t.Errorf("Expected skipped, got %s", res.Outcome)
	}
	if r.runCount() != 0 {
		t.Errorf("Expected no resync run, got %d", r.runCount())
	}
}

func TestRunFailure(t *testing.T) {
	r := &fakeResyncer{err: errors.New("submit failed"), state: session.State{Phase: session.Failed}}
	s := newTestScheduler(musicState(session.Initial, "X", "", 1), r, &recordingRebaser{})

	res := s.RunOnce(context.Background())
	if res.Outcome != Failed || res.Err == nil {
		t.Errorf("Expected failed with error, got %s (%v)", res.Outcome, res.Err)
	}
}

func TestEnableFiresImmediatelyThenEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := &fakeResyncer{state: musicState(session.Resync, "Song", "", 5)}
	s := newTestScheduler(musicState(session.Initial, "Song", "", 1), r, &recordingRebaser{}, WithClock(clock))
	defer s.Stop()

	results := make(chan Result, 8)
	s.Subscribe(func(res Result) { results <- res })

	wait := func() Result {
		t.Helper()
		select {
		case res := <-results:
			return res
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for a resync cycle")
		}
		return Result{}
	}

	s.SetEnabled(true)
	s.SetEnabled(true)
	if res := wait(); res.Outcome != Committed {
		t.Errorf("Expected first cycle to commit, got %s", res.Outcome)
	}
	if !s.Enabled() {
		t.Error("Expected scheduler to be enabled")
	}

	clock.Advance(DefaultInterval)
	wait()

	if n := r.runCount(); n != 2 {
		t.Errorf("Expected 2 runs, got %d", n)
	}
}

func TestDisableDropsInFlightCycle(t *testing.T) {
	r := &fakeResyncer{
		state:   musicState(session.Resync, "Song", "", 5),
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	target := &recordingRebaser{}
	s := newTestScheduler(musicState(session.Initial, "Song", "", 1), r, target)

	var published int
	var mu sync.Mutex
	s.Subscribe(func(Result) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	s.SetEnabled(true)
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the cycle to start")
	}

	s.SetEnabled(false)
	close(r.release)
	s.Stop()

	if target.count() != 0 {
		t.Errorf("Expected no rebase after disabling, got %d", target.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if published != 0 {
		t.Errorf("Expected stale cycle to publish nothing, got %d", published)
	}
	if s.Enabled() {
		t.Error("Expected scheduler to be disabled")
	}
}

func TestListenerMayDisableDuringCommit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	syncer := timeline.New([]models.LyricLine{{ID: "a", Timestamp: 0}, {ID: "b", Timestamp: 30}},
		timeline.WithClock(clock), timeline.WithLogger(logger.Discard()))
	defer syncer.Stop()
	syncer.Seek(1)

	r := &fakeResyncer{state: musicState(session.Resync, "Song", "", 12)}
	s := newTestScheduler(musicState(session.Initial, "Song", "", 1), r, syncer, WithClock(clock))

	disabled := make(chan struct{})
	var once sync.Once
	syncer.Subscribe(func(u timeline.Update) {
		if u.Anchor.PlaybackTime == 12 {
			s.SetEnabled(false)
			once.Do(func() { close(disabled) })
		}
	})
	results := make(chan Result, 4)
	s.Subscribe(func(res Result) { results <- res })

	s.SetEnabled(true)
	select {
	case <-disabled:
	case <-time.After(2 * time.Second):
		t.Fatal("Disabling from a line listener during a commit never returned")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned")
	}
	if s.Enabled() {
		t.Error("Expected scheduler to be disabled")
	}
	if syncer.Anchor().PlaybackTime != 12 {
		t.Errorf("Expected the committed anchor, got %+v", syncer.Anchor())
	}
}

func TestListenerMayDisableOnResult(t *testing.T) {
	r := &fakeResyncer{state: musicState(session.Resync, "Song", "", 5)}
	s := newTestScheduler(musicState(session.Initial, "Song", "", 1), r, &recordingRebaser{})

	handled := make(chan struct{})
	var once sync.Once
	s.Subscribe(func(Result) {
		s.SetEnabled(false)
		once.Do(func() { close(handled) })
	})

	s.SetEnabled(true)
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("Disabling from a result listener never returned")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop never exited after disabling from its own listener")
	}
}

func TestSameTrack(t *testing.T) {
	tests := []struct {
		a, b models.MatchResult
		want bool
	}{
		{models.MatchResult{Title: "Song"}, models.MatchResult{Title: " song "}, true},
		{models.MatchResult{Title: "Song", Artist: "A"}, models.MatchResult{Title: "Song"}, true},
		{models.MatchResult{Title: "Song", Artist: "A"}, models.MatchResult{Title: "Song", Artist: "a"}, true},
		{models.MatchResult{Title: "Song", Artist: "A"}, models.MatchResult{Title: "Song", Artist: "B"}, false},
		{models.MatchResult{Title: "Song"}, models.MatchResult{Title: "Songs"}, false},
		{models.MatchResult{}, models.MatchResult{}, false},
	}
	for i, tt := range tests {
		if got := SameTrack(tt.a, tt.b); got != tt.want {
			t.Errorf("Case %d: expected %v, got %v", i, tt.want, got)
		}
	}
}
