// Package capture owns the microphone recording and playback state machine.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/events"
	"github.com/scannsing/scannsing/pkg/logger"
)

var (
	ErrAlreadyRecording = errors.New("capture: already recording")
	ErrInvalidState     = errors.New("capture: invalid state for request")
	ErrCaptureFailed    = errors.New("capture: device failure")
)

const DefaultFileName = "sample.wav"

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func WithLogger(log logger.Leveled) Option {
	return func(c *Controller) {
		c.log = log
	}
}

func WithPlayer(p Player) Option {
	return func(c *Controller) {
		c.player = p
	}
}

// WithTempDir sets the directory the encoded recording is written to.
func WithTempDir(dir string) Option {
	return func(c *Controller) {
		c.tempDir = dir
	}
}

// Controller serializes recording and playback on a single device.
type Controller struct {
	mu      sync.Mutex
	state   State
	audio   []byte
	stopCh  chan struct{}
	device  Device
	player  Player
	clock   clockwork.Clock
	log     logger.Leveled
	tempDir string
	bus     events.Bus[State]
}

func NewController(device Device, opts ...Option) *Controller {
	c := &Controller{
		device:  device,
		tempDir: "/tmp",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = logger.GetLogger().Named("capture")
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state change.
func (c *Controller) Subscribe(fn func(State)) func() {
	return c.bus.Subscribe(fn)
}

// AudioBytes returns the WAV payload of the last completed recording, or the
// audio handed to LoadAudio.
func (c *Controller) AudioBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

// WAVPath is where recordings are encoded.
func (c *Controller) WAVPath() string {
	return filepath.Join(c.tempDir, DefaultFileName)
}

// fire applies e under the lock and reports the new state and whether it
// changed. Callers publish after unlocking.
func (c *Controller) fire(e Event) (State, bool) {
	prev := c.state
	c.state = Transition(prev, e)
	if c.state != prev {
		c.log.Debugf("%s: %s -> %s", e, prev, c.state)
	}
	return c.state, c.state != prev
}

func (c *Controller) publish(s State, changed bool) {
	if changed {
		c.bus.Publish(s)
	}
}

// PrepareRecording discards held audio and waits for a record request.
func (c *Controller) PrepareRecording() {
	c.mu.Lock()
	if c.state == Recording {
		c.mu.Unlock()
		return
	}
	c.stopPlayerLocked()
	prev := c.state
	c.state = AwaitingRecordStart
	c.audio = nil
	c.mu.Unlock()
	c.publish(AwaitingRecordStart, prev != AwaitingRecordStart)
}

// StartRecording records for d, or until Stop, Done or ctx cancellation,
// and returns the instant recording began.
func (c *Controller) StartRecording(ctx context.Context, d time.Duration) (time.Time, error) {
	c.mu.Lock()
	if c.state == Recording {
		c.mu.Unlock()
		return time.Time{}, ErrAlreadyRecording
	}
	if Transition(c.state, RecordRequested) != Recording {
		s := c.state
		c.mu.Unlock()
		return time.Time{}, fmt.Errorf("%w: cannot record from %s", ErrInvalidState, s)
	}
	if c.device == nil {
		c.mu.Unlock()
		return time.Time{}, fmt.Errorf("%w: no input device", ErrCaptureFailed)
	}

	c.stopPlayerLocked()
	if err := c.device.Start(); err != nil {
		c.state = Recording
		s, _ := c.fire(CaptureFailed)
		c.mu.Unlock()
		c.log.Errorf("starting input device: %v", err)
		c.publish(s, true)
		return time.Time{}, fmt.Errorf("%w: start: %v", ErrCaptureFailed, err)
	}

	s, changed := c.fire(RecordRequested)
	c.audio = nil
	stop := make(chan struct{})
	c.stopCh = stop
	started := c.clock.Now()
	c.mu.Unlock()
	c.publish(s, changed)

	c.log.Infof("recording for %s", d)

	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	var waitErr error
	select {
	case <-timer.Chan():
	case <-stop:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := c.finishRecording(stop); err != nil {
		return started, err
	}
	return started, waitErr
}

func (c *Controller) finishRecording(stop chan struct{}) error {
	stopErr := c.device.Stop()
	var (
		samples []int
		data    []byte
		err     error
	)
	if stopErr != nil {
		err = fmt.Errorf("stop: %w", stopErr)
	} else if samples, err = c.device.Samples(); err != nil {
		err = fmt.Errorf("read: %w", err)
	} else if data, err = encodeWAV(c.WAVPath(), samples, c.device.Format()); err != nil {
		err = fmt.Errorf("encode: %w", err)
	}

	c.mu.Lock()
	if c.stopCh == stop {
		c.stopCh = nil
	}
	if c.state != Recording {
		// Done already moved us on; keep whatever audio we got.
		if err == nil {
			c.audio = data
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		return nil
	}

	if err != nil {
		s, changed := c.fire(CaptureFailed)
		c.mu.Unlock()
		c.log.Errorf("recording failed: %v", err)
		c.publish(s, changed)
		return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	c.audio = data
	s, changed := c.fire(StopRequested)
	c.mu.Unlock()
	c.log.Debugf("captured %d samples (%d bytes)", len(samples), len(data))
	c.publish(s, changed)
	return nil
}

// Stop ends a recording early or stops playback. Extra calls are no-ops.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case Recording:
		if c.stopCh != nil {
			close(c.stopCh)
			c.stopCh = nil
		}
		c.mu.Unlock()
		return
	case Playing, Paused:
		var s State
		var changed bool
		if c.player == nil {
			s, changed = c.fire(StopRequested)
		} else if err := c.player.Stop(); err != nil {
			c.log.Errorf("stopping playback: %v", err)
			s, changed = c.fire(CaptureFailed)
		} else {
			s, changed = c.fire(StopRequested)
		}
		c.mu.Unlock()
		c.publish(s, changed)
		return
	}
	c.mu.Unlock()
}

// Done abandons whatever is in progress and returns to Idle.
func (c *Controller) Done() {
	c.mu.Lock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.stopPlayerLocked()
	s, changed := c.fire(DoneRequested)
	c.mu.Unlock()
	c.publish(s, changed)
}

// LoadAudio hands a WAV payload to the player and waits for a play request.
func (c *Controller) LoadAudio(wav []byte) error {
	c.mu.Lock()
	if c.state == Recording {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	if c.player != nil {
		if err := c.player.Load(wav); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: load: %v", ErrCaptureFailed, err)
		}
	}
	prev := c.state
	c.state = AwaitingPlayStart
	c.audio = wav
	c.mu.Unlock()
	c.publish(AwaitingPlayStart, prev != AwaitingPlayStart)
	return nil
}

// Play starts playback of the held audio, or toggles between playing and
// paused.
func (c *Controller) Play() error {
	c.mu.Lock()
	next := Transition(c.state, PlayRequested)
	if next == c.state || c.state == Recording {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot play from %s", ErrInvalidState, s)
	}
	if c.player == nil || len(c.audio) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing to play", ErrInvalidState)
	}

	var err error
	if next == Paused {
		err = c.player.Pause()
	} else {
		if c.state == Idle {
			err = c.player.Load(c.audio)
		}
		if err == nil {
			err = c.player.Play()
		}
	}
	if err != nil {
		prev := c.state
		c.state = next
		s, _ := c.fire(CaptureFailed)
		c.mu.Unlock()
		c.log.Errorf("playback failed: %v", err)
		c.publish(s, s != prev)
		return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	s, changed := c.fire(PlayRequested)
	c.mu.Unlock()
	c.publish(s, changed)
	return nil
}

// Pause pauses playback. Only valid while playing.
func (c *Controller) Pause() error {
	if c.State() != Playing {
		return fmt.Errorf("%w: not playing", ErrInvalidState)
	}
	return c.Play()
}

func (c *Controller) stopPlayerLocked() {
	if c.player == nil {
		return
	}
	if c.state == Playing || c.state == Paused {
		if err := c.player.Stop(); err != nil {
			c.log.Warnf("stopping playback: %v", err)
		}
	}
}
