package scannsing

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

type fakeDevice struct{}

func (fakeDevice) Start() error            { return nil }
func (fakeDevice) Stop() error             { return nil }
func (fakeDevice) Samples() ([]int, error) { return []int{0, 120, -120, 64}, nil }
func (fakeDevice) Format() AudioFormat {
	return AudioFormat{SampleRate: 8000, Channels: 1, BitDepth: 16}
}

type fakeRecognizer struct {
	mu     sync.Mutex
	result models.MatchResult
	polls  int
}

func (r *fakeRecognizer) Submit(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("empty audio")
	}
	return "job-1", nil
}

func (r *fakeRecognizer) Poll(ctx context.Context, jobID string) (models.MatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	return r.result, nil
}

// countingStorage counts title lookups that reach the store.
type countingStorage struct {
	Storage
	mu    sync.Mutex
	finds int
}

func (s *countingStorage) FindTrackByName(title string) (*models.Track, error) {
	s.mu.Lock()
	s.finds++
	s.mu.Unlock()
	return s.Storage.FindTrackByName(title)
}

func (s *countingStorage) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

func fastSession(kind session.Kind) SessionConfig {
	cfg := session.InitialConfig()
	if kind == session.Resync {
		cfg = session.ResyncConfig()
	}
	cfg.RecordDuration = 5 * time.Millisecond
	cfg.SettleDelay = 0
	cfg.PollInterval = time.Millisecond
	cfg.MaxPollAttempts = 2
	cfg.SkewCorrection = 0
	return cfg
}

func music(title string, offsetMs float64) models.MatchResult {
	return models.MatchResult{
		Status:       models.StatusFound,
		Title:        title,
		Artist:       "Anon",
		PlayOffsetMs: &offsetMs,
		Kind:         models.KindMusic,
	}
}

// setupTestEngine creates an engine over a temporary database.
func setupTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	dir := t.TempDir()
	base := []Option{
		WithDBPath(filepath.Join(dir, "test_engine.sqlite3")),
		WithTempDir(dir),
		WithLogger(logger.Discard()),
		WithDevice(fakeDevice{}),
		WithInitialConfig(fastSession(session.Initial)),
		WithResyncConfig(fastSession(session.Resync)),
		WithResyncInterval(time.Hour),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create test engine: %v", err)
	}
	t.Cleanup(func() {
		e.Close()
	})
	return e
}

func anthemLines() []models.LyricLine {
	return []models.LyricLine{
		{Timestamp: 0, Text: "[Instrumental]"},
		{Timestamp: 5, Text: "first verse"},
		{Timestamp: 10, Text: "second verse"},
		{Timestamp: 100, Text: "outro"},
	}
}

func TestIdentifyAndOpenMusic(t *testing.T) {
	rec := &fakeRecognizer{result: music("Yellow and Blue", 6000)}
	e := setupTestEngine(t, WithRecognizer(rec))

	if _, err := e.CreateTrack("The Yellow and Blue", anthemLines()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	got, err := e.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if !got.Matched || got.Phase != "matched_music" {
		t.Fatalf("Expected matched_music, got %s", got.Phase)
	}
	if !got.HasElapsed || got.Elapsed < 6 {
		t.Errorf("Expected elapsed of at least 6s, got %v (ok=%v)", got.Elapsed, got.HasElapsed)
	}

	track, err := e.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if track.Name != "The Yellow and Blue" {
		t.Errorf("Expected The Yellow and Blue, got %s", track.Name)
	}
	if !e.AutoSync() {
		t.Error("Expected auto-sync on for a studio recording")
	}

	line := e.CurrentLine()
	if line == nil || line.Text != "first verse" {
		t.Fatalf("Expected first verse to be active, got %+v", line)
	}

	snap := e.Snapshot()
	if snap.Track == nil || snap.Track.ID != track.ID {
		t.Errorf("Expected snapshot of track %s, got %+v", track.ID, snap.Track)
	}
	if !snap.Anchored || snap.Index != 1 {
		t.Errorf("Expected anchored at index 1, got index %d (anchored=%v)", snap.Index, snap.Anchored)
	}
}

func TestOpenCoverStartsAtZero(t *testing.T) {
	rec := &fakeRecognizer{result: models.MatchResult{
		Status: models.StatusFound,
		Title:  "yellow and blue",
		Kind:   models.KindCover,
	}}
	e := setupTestEngine(t, WithRecognizer(rec))
	if _, err := e.CreateTrack("The Yellow and Blue", anthemLines()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if _, err := e.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if e.AutoSync() {
		t.Error("Expected auto-sync off for a cover")
	}
	snap := e.Snapshot()
	if !snap.Anchored || snap.PlaybackTime > 1 {
		t.Errorf("Expected playback near 0, got %v (anchored=%v)", snap.PlaybackTime, snap.Anchored)
	}
	if line := e.CurrentLine(); line == nil || line.Text != "[Instrumental]" {
		t.Errorf("Expected the first line active, got %+v", line)
	}
}

func TestOpenWithoutMatch(t *testing.T) {
	rec := &fakeRecognizer{result: models.MatchResult{Status: models.StatusNotFound}}
	e := setupTestEngine(t, WithRecognizer(rec))

	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	_, err := e.Open(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("Expected ErrNoMatch, got %v", err)
	}
}

func TestOpenUnknownTrack(t *testing.T) {
	rec := &fakeRecognizer{result: music("Never Stored", 1000)}
	e := setupTestEngine(t, WithRecognizer(rec))

	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	_, err := e.Open(context.Background())
	if !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound, got %v", err)
	}
}

func TestIdentifyWithoutProvider(t *testing.T) {
	e := setupTestEngine(t)

	if _, err := e.Identify(context.Background()); !errors.Is(err, ErrNoRecognizer) {
		t.Errorf("Expected ErrNoRecognizer, got %v", err)
	}
}

func TestSelectLineDisablesAutoSync(t *testing.T) {
	rec := &fakeRecognizer{result: music("Yellow and Blue", 6000)}
	e := setupTestEngine(t, WithRecognizer(rec))
	if _, err := e.CreateTrack("The Yellow and Blue", anthemLines()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if _, err := e.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := e.SelectLine("missing"); !errors.Is(err, ErrLineNotFound) {
		t.Errorf("Expected ErrLineNotFound, got %v", err)
	}
	if !e.AutoSync() {
		t.Error("Expected a failed selection to leave auto-sync on")
	}

	target := e.Lines()[2]
	if err := e.SelectLine(target.ID); err != nil {
		t.Fatalf("SelectLine failed: %v", err)
	}
	if e.AutoSync() {
		t.Error("Expected auto-sync off after selecting a line")
	}
	if line := e.CurrentLine(); line == nil || line.ID != target.ID {
		t.Errorf("Expected %s active, got %+v", target.ID, line)
	}
}

func TestOpenTrackAndSeek(t *testing.T) {
	e := setupTestEngine(t)
	track, err := e.CreateTrack("Anthem", anthemLines())
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	if err := e.Seek(3); !errors.Is(err, ErrNoTrack) {
		t.Errorf("Expected ErrNoTrack before opening, got %v", err)
	}

	if _, err := e.OpenTrack(track.ID); err != nil {
		t.Fatalf("OpenTrack failed: %v", err)
	}
	if e.CurrentLine() != nil {
		t.Error("Expected no active line before seeking")
	}
	if err := e.SetAutoSync(true); !errors.Is(err, ErrNoRecognizer) {
		t.Errorf("Expected ErrNoRecognizer, got %v", err)
	}

	if err := e.Seek(50); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if line := e.CurrentLine(); line == nil || line.Text != "second verse" {
		t.Errorf("Expected second verse at 50s, got %+v", line)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	rec := &fakeRecognizer{result: music("Anthem", 0)}
	e := setupTestEngine(t, WithRecognizer(rec))

	var mu sync.Mutex
	seen := make(map[EventType]int)
	unsub := e.Subscribe(func(ev Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
	})
	defer unsub()

	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[EventCapture] == 0 {
		t.Error("Expected capture events")
	}
	if seen[EventRecognition] == 0 {
		t.Error("Expected recognition events")
	}
}

func TestImportAndExportLRC(t *testing.T) {
	e := setupTestEngine(t)

	track, err := e.ImportLRC("", "[ti:Morning Song]\n[00:01.00]rise\n[00:02.50]shine\n")
	if err != nil {
		t.Fatalf("ImportLRC failed: %v", err)
	}
	if track.Name != "Morning Song" {
		t.Errorf("Expected name from title tag, got %q", track.Name)
	}
	if len(track.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(track.Lines))
	}

	out, err := e.ExportLRC(track.ID)
	if err != nil {
		t.Fatalf("ExportLRC failed: %v", err)
	}
	if !strings.Contains(out, "[00:02.50]shine") {
		t.Errorf("Expected exported LRC to contain the second line, got:\n%s", out)
	}

	if _, err := e.ImportLRC("Empty", "just words"); !errors.Is(err, ErrInvalidTrack) {
		t.Errorf("Expected ErrInvalidTrack for untimed text, got %v", err)
	}
}

func TestCreateTrackRequiresName(t *testing.T) {
	e := setupTestEngine(t)

	if _, err := e.CreateTrack("  ", nil); !errors.Is(err, ErrInvalidTrack) {
		t.Errorf("Expected ErrInvalidTrack, got %v", err)
	}
}

func TestSeedSampleTracksOnce(t *testing.T) {
	e := setupTestEngine(t)

	added, err := e.SeedSampleTracks()
	if err != nil {
		t.Fatalf("SeedSampleTracks failed: %v", err)
	}
	if added == 0 {
		t.Fatal("Expected sample tracks to be added")
	}

	again, err := e.SeedSampleTracks()
	if err != nil {
		t.Fatalf("SeedSampleTracks failed: %v", err)
	}
	if again != 0 {
		t.Errorf("Expected no tracks on the second seed, got %d", again)
	}

	tracks, err := e.ListTracks()
	if err != nil {
		t.Fatalf("ListTracks failed: %v", err)
	}
	if len(tracks) != added {
		t.Errorf("Expected %d tracks, got %d", added, len(tracks))
	}
}

func TestFindTrackIsCached(t *testing.T) {
	dir := t.TempDir()
	db, err := NewSQLiteStorage(filepath.Join(dir, "test_cache.sqlite3"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	stor := &countingStorage{Storage: db}
	e := setupTestEngine(t, WithStorage(stor))

	if _, err := e.CreateTrack("Anthem", anthemLines()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := e.FindTrack("ANTHEM"); err != nil {
			t.Fatalf("FindTrack failed: %v", err)
		}
	}
	if n := stor.findCount(); n != 1 {
		t.Errorf("Expected 1 store lookup, got %d", n)
	}

	if _, err := e.CreateTrack("Anthem Reprise", nil); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if _, err := e.FindTrack("anthem"); err != nil {
		t.Fatalf("FindTrack failed: %v", err)
	}
	if n := stor.findCount(); n != 2 {
		t.Errorf("Expected the cache to be dropped after a write, got %d lookups", n)
	}
}

func TestUpdateOpenTrack(t *testing.T) {
	e := setupTestEngine(t)
	track, err := e.CreateTrack("Anthem", anthemLines())
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if _, err := e.OpenTrack(track.ID); err != nil {
		t.Fatalf("OpenTrack failed: %v", err)
	}

	lines := []models.LyricLine{{Timestamp: 1, Text: "only line"}}
	if _, err := e.UpdateTrack(track.ID, "Anthem (short)", lines); err != nil {
		t.Fatalf("UpdateTrack failed: %v", err)
	}

	got := e.Lines()
	if len(got) != 1 || got[0].Text != "only line" {
		t.Errorf("Expected the open track to pick up new lines, got %+v", got)
	}
	if snap := e.Snapshot(); snap.Track == nil || snap.Track.Name != "Anthem (short)" {
		t.Errorf("Expected renamed track in snapshot, got %+v", snap.Track)
	}
}

func TestDeleteOpenTrack(t *testing.T) {
	e := setupTestEngine(t)
	track, err := e.CreateTrack("Anthem", anthemLines())
	if err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if _, err := e.OpenTrack(track.ID); err != nil {
		t.Fatalf("OpenTrack failed: %v", err)
	}

	if err := e.DeleteTrack(track.ID); err != nil {
		t.Fatalf("DeleteTrack failed: %v", err)
	}
	if snap := e.Snapshot(); snap.Track != nil {
		t.Errorf("Expected no open track after delete, got %+v", snap.Track)
	}
	if _, err := e.GetTrack(track.ID); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound, got %v", err)
	}
}

func TestOpenBlankTitle(t *testing.T) {
	rec := &fakeRecognizer{result: music("   ", 1000)}
	e := setupTestEngine(t, WithRecognizer(rec))
	if _, err := e.CreateTrack("Anything", anthemLines()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}

	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if _, err := e.Open(context.Background()); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound for a blank title, got %v", err)
	}
	if _, err := e.FindTrack(""); !errors.Is(err, ErrTrackNotFound) {
		t.Errorf("Expected ErrTrackNotFound from FindTrack, got %v", err)
	}
}

func TestCloseTrackFromResyncListener(t *testing.T) {
	rec := &fakeRecognizer{result: music("Yellow and Blue", 6000)}
	e := setupTestEngine(t, WithRecognizer(rec))
	if _, err := e.CreateTrack("The Yellow and Blue", anthemLines()); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	if _, err := e.Identify(context.Background()); err != nil {
		t.Fatalf("Identify failed: %v", err)
	}

	closed := make(chan struct{})
	var once sync.Once
	e.Subscribe(func(ev Event) {
		if ev.Type != EventResync {
			return
		}
		once.Do(func() {
			e.CloseTrack()
			close(closed)
		})
	})

	if _, err := e.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("CloseTrack from a resync listener never returned")
	}
	if snap := e.Snapshot(); snap.Track != nil {
		t.Errorf("Expected no open track, got %s", snap.Track.Name)
	}
	if e.AutoSync() {
		t.Error("Expected auto-sync off after closing")
	}
}

func TestStaleLineUpdatesDropped(t *testing.T) {
	var o openTrack
	if !o.advance(2) {
		t.Fatal("Expected first update to pass")
	}
	if o.advance(1) || o.advance(2) {
		t.Error("Expected older updates to be dropped")
	}
	if !o.advance(3) {
		t.Error("Expected newer update to pass")
	}
}
