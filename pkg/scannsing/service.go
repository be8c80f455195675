package scannsing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/capture"
	"github.com/scannsing/scannsing/internal/events"
	"github.com/scannsing/scannsing/internal/lyrics"
	"github.com/scannsing/scannsing/internal/recognition"
	"github.com/scannsing/scannsing/internal/resync"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/internal/timeline"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
)

var (
	ErrNoRecognizer = errors.New("scannsing: recognition provider not configured")
	ErrNoMatch      = errors.New("scannsing: no song identified")
	ErrNoTrack      = errors.New("scannsing: no track open")
	ErrLineNotFound = errors.New("scannsing: lyric line not found")
	ErrInvalidTrack = errors.New("scannsing: invalid track")
)

// Engine ties recording, identification and lyric timing together for one
// listener.
type Engine struct {
	cfg     *Config
	log     Logger
	storage Storage
	clock   clockwork.Clock
	capture *capture.Controller
	initial *session.Session
	resync  *session.Session
	cache   *lru.Cache[string, *models.Track]
	bus     events.Bus[Event]
	unsubs  []func()

	mu       sync.Mutex
	open     *openTrack
	autoSync bool
	closed   bool
}

// openTrack is the track currently being sung along to.
type openTrack struct {
	track  *models.Track
	syncer *timeline.Synchronizer
	sched  *resync.Scheduler
	unsubs []func()
	seq    atomic.Uint64 // last published line update
}

func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.GetLogger().Named("engine")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	stor := cfg.Storage
	if stor == nil {
		var err error
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, *models.Track](size)
	if err != nil {
		if cfg.Storage == nil {
			stor.Close()
		}
		return nil, fmt.Errorf("failed to create track cache: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		storage: stor,
		clock:   clock,
		cache:   cache,
	}

	capOpts := []capture.Option{capture.WithClock(clock), capture.WithTempDir(cfg.TempDir)}
	if cfg.Player != nil {
		capOpts = append(capOpts, capture.WithPlayer(cfg.Player))
	}
	if cfg.Logger != nil {
		capOpts = append(capOpts, capture.WithLogger(cfg.Logger))
	}
	e.capture = capture.NewController(cfg.Device, capOpts...)
	e.unsubs = append(e.unsubs, e.capture.Subscribe(func(s capture.State) {
		e.bus.Publish(Event{Type: EventCapture, Capture: s.String()})
	}))

	rec := cfg.Recognizer
	if rec == nil && cfg.ContainerID != "" {
		var recOpts []recognition.Option
		if cfg.Logger != nil {
			recOpts = append(recOpts, recognition.WithLogger(cfg.Logger))
		}
		rec = recognition.NewClient(recognition.ContainerURL(cfg.ProviderHost, cfg.ContainerID), cfg.Token, recOpts...)
	}
	if rec != nil {
		initCfg, resyncCfg := cfg.Initial, cfg.Resync
		initCfg.Kind = session.Initial
		resyncCfg.Kind = session.Resync
		e.initial = session.New(initCfg, e.capture, rec, e.sessionOpts()...)
		e.resync = session.New(resyncCfg, e.capture, rec, e.sessionOpts()...)
		e.unsubs = append(e.unsubs, e.initial.Subscribe(func(st session.State) {
			e.bus.Publish(Event{Type: EventRecognition, Recognition: toRecognition(st), Err: st.Err})
		}))
	} else {
		log.Warnf("no recognition provider configured, identification disabled")
	}

	return e, nil
}

func (e *Engine) sessionOpts() []session.Option {
	opts := []session.Option{session.WithClock(e.clock)}
	if e.cfg.Logger != nil {
		opts = append(opts, session.WithLogger(e.cfg.Logger))
	}
	return opts
}

// Subscribe registers fn for every engine Event and returns a function that
// removes it.
func (e *Engine) Subscribe(fn func(Event)) func() {
	return e.bus.Subscribe(fn)
}

// Identify records a sample and asks the provider which song is playing.
// Any open track is closed first.
func (e *Engine) Identify(ctx context.Context) (Recognition, error) {
	if e.initial == nil {
		return Recognition{}, ErrNoRecognizer
	}
	e.swap(nil)

	e.capture.PrepareRecording()
	e.initial.Reset()
	st, err := e.initial.Run(ctx)
	rec := toRecognition(st)
	if err != nil {
		return rec, fmt.Errorf("identify: %w", err)
	}
	if st.Phase.Matched() {
		e.log.Infof("identified %q by %s (%s)", st.Match.Title, st.Match.Artist, st.Match.Kind)
	} else {
		e.log.Infof("identification ended %s", st.Phase)
	}
	return rec, nil
}

// Open loads the stored track named after the last identified song and
// starts following it. Studio recordings are anchored at the reported
// position and kept in sync automatically; covers start from the top.
func (e *Engine) Open(ctx context.Context) (*models.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.initial == nil {
		return nil, ErrNoRecognizer
	}

	st := e.initial.State()
	if !st.Phase.Matched() {
		return nil, fmt.Errorf("%w: recognition is %s", ErrNoMatch, st.Phase)
	}
	track, err := e.FindTrack(st.Match.Title)
	if err != nil {
		return nil, err
	}

	anchor, ok := st.Anchor()
	if !ok {
		anchor = timeline.Anchor{PlaybackTime: 0, Wall: e.clock.Now()}
	}
	e.load(track, &anchor, st.Match.Kind == models.KindMusic)
	return track, nil
}

// OpenTrack loads a stored track without identifying anything. Nothing is
// active until Seek or SelectLine.
func (e *Engine) OpenTrack(id string) (*models.Track, error) {
	track, err := e.storage.GetTrack(id)
	if err != nil {
		return nil, err
	}
	e.load(track, nil, false)
	return track, nil
}

func (e *Engine) load(track *models.Track, anchor *timeline.Anchor, autoSync bool) {
	tlOpts := []timeline.Option{timeline.WithClock(e.clock)}
	if e.cfg.Logger != nil {
		tlOpts = append(tlOpts, timeline.WithLogger(e.cfg.Logger))
	}
	next := &openTrack{
		track:  track,
		syncer: timeline.New(track.Lines, tlOpts...),
	}
	next.unsubs = append(next.unsubs, next.syncer.Subscribe(func(u timeline.Update) {
		if !next.advance(u.Seq) {
			return
		}
		e.bus.Publish(lineEvent(u))
	}))

	if e.resync != nil {
		schedOpts := []resync.Option{
			resync.WithClock(e.clock),
			resync.WithInterval(e.cfg.ResyncInterval),
		}
		if e.cfg.Logger != nil {
			schedOpts = append(schedOpts, resync.WithLogger(e.cfg.Logger))
		}
		next.sched = resync.New(e.initial, e.resync, next.syncer, schedOpts...)
		next.unsubs = append(next.unsubs, next.sched.Subscribe(func(r resync.Result) {
			e.bus.Publish(resyncEvent(r))
		}))
	}
	autoSync = autoSync && next.sched != nil

	e.swap(next)

	e.mu.Lock()
	e.autoSync = autoSync
	e.mu.Unlock()

	if anchor != nil {
		next.syncer.Rebase(*anchor)
	}
	if autoSync {
		next.sched.SetEnabled(true)
	}
	e.log.Infof("opened %q (%d lines, auto-sync %v)", track.Name, len(track.Lines), autoSync)
}

// advance records seq as the latest line update and reports whether it is
// newer than every update seen before.
func (o *openTrack) advance(seq uint64) bool {
	for {
		last := o.seq.Load()
		if seq <= last {
			return false
		}
		if o.seq.CompareAndSwap(last, seq) {
			return true
		}
	}
}

// swap installs next as the open track and shuts the previous one down
// without waiting for its resync loop, so it is safe from any listener.
// The previous track is returned.
func (e *Engine) swap(next *openTrack) *openTrack {
	e.mu.Lock()
	prev := e.open
	e.open = next
	e.autoSync = false
	e.mu.Unlock()

	if prev == nil {
		return nil
	}
	for _, unsub := range prev.unsubs {
		unsub()
	}
	if prev.sched != nil {
		prev.sched.SetEnabled(false)
		// While a track is open only its resync cycle records.
		if e.capture.State() == capture.Recording {
			e.capture.Done()
		}
	}
	prev.syncer.Stop()
	return prev
}

func (e *Engine) current() *openTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// CloseTrack stops following the open track, if any.
func (e *Engine) CloseTrack() {
	e.swap(nil)
}

// Seek moves playback of the open track to t seconds.
func (e *Engine) Seek(t float64) error {
	o := e.current()
	if o == nil {
		return ErrNoTrack
	}
	o.syncer.Seek(t)
	return nil
}

// SelectLine starts playback at the given line, as when the singer taps it.
// Auto-sync is turned off so the choice sticks.
func (e *Engine) SelectLine(id string) error {
	o := e.current()
	if o == nil {
		return ErrNoTrack
	}
	found := false
	for _, l := range o.syncer.Lines() {
		if l.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrLineNotFound, id)
	}

	if err := e.SetAutoSync(false); err != nil {
		return err
	}
	if !o.syncer.SelectLine(id) {
		return fmt.Errorf("%w: %s", ErrLineNotFound, id)
	}
	return nil
}

// SetAutoSync turns periodic re-identification of the open track on or off.
func (e *Engine) SetAutoSync(on bool) error {
	e.mu.Lock()
	o := e.open
	if o == nil {
		e.mu.Unlock()
		return ErrNoTrack
	}
	if o.sched == nil {
		e.mu.Unlock()
		if on {
			return ErrNoRecognizer
		}
		return nil
	}
	e.autoSync = on
	e.mu.Unlock()

	o.sched.SetEnabled(on)
	return nil
}

func (e *Engine) AutoSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoSync
}

// CurrentLine returns the active line of the open track, or nil.
func (e *Engine) CurrentLine() *models.LyricLine {
	o := e.current()
	if o == nil {
		return nil
	}
	return o.syncer.CurrentLine()
}

// Lines returns the open track's lines sorted by timestamp.
func (e *Engine) Lines() []models.LyricLine {
	o := e.current()
	if o == nil {
		return nil
	}
	return o.syncer.Lines()
}

func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Capture: e.capture.State().String(),
		Source:  session.Initial.String(),
		Index:   -1,
	}
	if e.initial != nil {
		snap.Recognition = toRecognition(e.initial.State())
	}

	e.mu.Lock()
	o := e.open
	snap.AutoSync = e.autoSync
	if o != nil {
		snap.Track = o.track
	}
	e.mu.Unlock()

	if o != nil {
		snap.Index = o.syncer.CurrentIndex()
		snap.Line = o.syncer.CurrentLine()
		snap.PlaybackTime, snap.Anchored = o.syncer.PlaybackTime()
		if o.sched != nil {
			snap.Source = o.sched.ActiveSource().String()
		}
	}
	return snap
}

// StopCapture ends a recording early or stops sample playback.
func (e *Engine) StopCapture() {
	e.capture.Stop()
}

// PlaySample plays back the last recording, or toggles pause.
func (e *Engine) PlaySample() error {
	return e.capture.Play()
}

// Sample returns the last recording as WAV bytes.
func (e *Engine) Sample() []byte {
	return e.capture.AudioBytes()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if prev := e.swap(nil); prev != nil && prev.sched != nil {
		prev.sched.Stop()
	}
	if e.initial != nil {
		e.initial.Reset()
		e.resync.Reset()
	}
	e.capture.Done()
	for _, unsub := range e.unsubs {
		unsub()
	}
	return e.storage.Close()
}

// FindTrack returns the stored track whose name contains title, ignoring
// case. Lookups are cached until the store changes.
func (e *Engine) FindTrack(title string) (*models.Track, error) {
	key := strings.ToLower(strings.TrimSpace(title))
	if key == "" {
		return nil, fmt.Errorf("%w: blank title", ErrTrackNotFound)
	}
	if track, ok := e.cache.Get(key); ok {
		return track, nil
	}

	track, err := e.storage.FindTrackByName(title)
	if err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			return nil, fmt.Errorf("%w: no lyrics for %q", ErrTrackNotFound, title)
		}
		return nil, err
	}
	e.cache.Add(key, track)
	return track, nil
}

func (e *Engine) CreateTrack(name string, lines []models.LyricLine) (*models.Track, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTrack)
	}
	track, err := e.storage.CreateTrack(name, lines)
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	e.cache.Purge()
	e.log.Infof("created track %q with %d lines", track.Name, len(track.Lines))
	return track, nil
}

// ImportLRC creates a track from lyric text. An empty name falls back to the
// text's title tag.
func (e *Engine) ImportLRC(name, text string) (*models.Track, error) {
	doc, err := lyrics.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrack, err)
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("%w: no timed lines", ErrInvalidTrack)
	}
	if strings.TrimSpace(name) == "" {
		name = doc.Title
	}
	return e.CreateTrack(name, doc.Lines)
}

// ExportLRC renders a stored track as LRC text.
func (e *Engine) ExportLRC(id string) (string, error) {
	track, err := e.storage.GetTrack(id)
	if err != nil {
		return "", err
	}
	return lyrics.FormatLRC(track.Name, track.SortedLines()), nil
}

func (e *Engine) GetTrack(id string) (*models.Track, error) {
	return e.storage.GetTrack(id)
}

func (e *Engine) ListTracks() ([]models.Track, error) {
	return e.storage.ListTracks()
}

// UpdateTrack replaces a track's name and lines. An open copy of the track
// picks up the new lines straight away.
func (e *Engine) UpdateTrack(id, name string, lines []models.LyricLine) (*models.Track, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTrack)
	}
	track, err := e.storage.UpdateTrack(id, name, lines)
	if err != nil {
		return nil, err
	}
	e.cache.Purge()

	e.mu.Lock()
	o := e.open
	if o != nil && o.track.ID == id {
		o.track = track
	} else {
		o = nil
	}
	e.mu.Unlock()
	if o != nil {
		o.syncer.SetLines(track.Lines)
	}
	return track, nil
}

// DeleteTrack removes a track, closing it first when it is open.
func (e *Engine) DeleteTrack(id string) error {
	e.mu.Lock()
	open := e.open != nil && e.open.track.ID == id
	e.mu.Unlock()
	if open {
		e.swap(nil)
	}
	if err := e.storage.DeleteTrack(id); err != nil {
		return err
	}
	e.cache.Purge()
	return nil
}

// SeedSampleTracks stores the bundled demo songs that are not stored yet and
// returns how many were added.
func (e *Engine) SeedSampleTracks() (int, error) {
	existing, err := e.storage.ListTracks()
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[strings.ToLower(t.Name)] = true
	}

	added := 0
	for _, s := range lyrics.SampleTracks() {
		if have[strings.ToLower(s.Name)] {
			continue
		}
		if _, err := e.CreateTrack(s.Name, s.Lines); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
