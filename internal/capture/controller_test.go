package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/scannsing/scannsing/pkg/logger"
)

type fakeDevice struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	samples  []int
	starts   int
	stops    int
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	return d.startErr
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return d.stopErr
}

func (d *fakeDevice) Samples() ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samples, nil
}

func (d *fakeDevice) Format() Format {
	return Format{SampleRate: 8000, Channels: 1, BitDepth: 16}
}

type fakePlayer struct {
	calls   []string
	playErr error
}

func (p *fakePlayer) Load([]byte) error { p.calls = append(p.calls, "load"); return nil }
func (p *fakePlayer) Play() error      { p.calls = append(p.calls, "play"); return p.playErr }
func (p *fakePlayer) Pause() error     { p.calls = append(p.calls, "pause"); return nil }
func (p *fakePlayer) Stop() error      { p.calls = append(p.calls, "stop"); return nil }

func testSamples(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i % 200) - 100
	}
	return out
}

func newTestController(t *testing.T, dev Device, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithTempDir(t.TempDir()), WithLogger(logger.Discard())}, opts...)
	return NewController(dev, opts...)
}

// waitForState subscribes before the action and returns a channel closed once
// the controller reports want.
func waitForState(c *Controller, want State) <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	c.Subscribe(func(s State) {
		if s == want {
			once.Do(func() { close(ch) })
		}
	})
	return ch
}

func TestStartRecordingProducesWAV(t *testing.T) {
	dev := &fakeDevice{samples: testSamples(800)}
	c := newTestController(t, dev)

	before := time.Now()
	started, err := c.StartRecording(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if started.Before(before) {
		t.Errorf("Expected start instant after %v, got %v", before, started)
	}
	if c.State() != Idle {
		t.Errorf("Expected idle after recording, got %s", c.State())
	}

	data := c.AudioBytes()
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("Expected RIFF header, got %q", data[:min(4, len(data))])
	}
	buf, f, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("decodeWAV failed: %v", err)
	}
	if f.SampleRate != 8000 || f.Channels != 1 {
		t.Errorf("Expected 8000 Hz mono, got %d Hz %d ch", f.SampleRate, f.Channels)
	}
	if len(buf.Data) != 800 {
		t.Errorf("Expected 800 samples, got %d", len(buf.Data))
	}
	if _, err := os.Stat(c.WAVPath()); err != nil {
		t.Errorf("Expected wav file at %s: %v", c.WAVPath(), err)
	}
	if dev.starts != 1 || dev.stops != 1 {
		t.Errorf("Expected one start and one stop, got %d/%d", dev.starts, dev.stops)
	}
}

func TestStartRecordingTwiceFailsFast(t *testing.T) {
	c := newTestController(t, &fakeDevice{samples: testSamples(100)})
	recording := waitForState(c, Recording)

	done := make(chan error, 1)
	go func() {
		_, err := c.StartRecording(context.Background(), 10*time.Second)
		done <- err
	}()

	select {
	case <-recording:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for recording to start")
	}

	if _, err := c.StartRecording(context.Background(), time.Second); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}

	c.Stop()
	c.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected first recording to finish cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not end the recording")
	}
	if c.State() != Idle {
		t.Errorf("Expected idle, got %s", c.State())
	}
}

func TestDeviceStartFailure(t *testing.T) {
	c := newTestController(t, &fakeDevice{startErr: errors.New("no mic")})

	_, err := c.StartRecording(context.Background(), time.Millisecond)
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("Expected ErrCaptureFailed, got %v", err)
	}
	if c.State() != AwaitingRecordStart {
		t.Errorf("Expected awaiting_record_start, got %s", c.State())
	}
}

func TestEmptyCaptureFails(t *testing.T) {
	c := newTestController(t, &fakeDevice{})

	_, err := c.StartRecording(context.Background(), time.Millisecond)
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("Expected ErrCaptureFailed, got %v", err)
	}
	if c.State() != AwaitingRecordStart {
		t.Errorf("Expected awaiting_record_start, got %s", c.State())
	}
	if c.AudioBytes() != nil {
		t.Error("Expected no audio after failed capture")
	}

	// The controller can record again after a failure.
	c.device = &fakeDevice{samples: testSamples(10)}
	if _, err := c.StartRecording(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
}

func TestRecordingCancelledByContext(t *testing.T) {
	c := newTestController(t, &fakeDevice{samples: testSamples(100)})
	ctx, cancel := context.WithCancel(context.Background())
	recording := waitForState(c, Recording)

	go func() {
		<-recording
		cancel()
	}()

	_, err := c.StartRecording(ctx, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(c.AudioBytes()) == 0 {
		t.Error("Expected partial audio to be kept")
	}
}

func TestRecordRejectedWhileAwaitingPlay(t *testing.T) {
	c := newTestController(t, &fakeDevice{samples: testSamples(10)}, WithPlayer(&fakePlayer{}))
	if err := c.LoadAudio([]byte("RIFF")); err != nil {
		t.Fatalf("LoadAudio failed: %v", err)
	}

	_, err := c.StartRecording(context.Background(), time.Millisecond)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestPlayPauseStop(t *testing.T) {
	player := &fakePlayer{}
	c := newTestController(t, &fakeDevice{samples: testSamples(10)}, WithPlayer(player))

	var seen []State
	c.Subscribe(func(s State) { seen = append(seen, s) })

	if _, err := c.StartRecording(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := c.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if c.State() != Paused {
		t.Errorf("Expected paused, got %s", c.State())
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState when pausing twice, got %v", err)
	}
	c.Stop()

	want := []State{Recording, Idle, Playing, Paused, Idle}
	if len(seen) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("State %d: expected %s, got %s", i, want[i], seen[i])
		}
	}

	wantCalls := []string{"load", "play", "pause", "stop"}
	if len(player.calls) != len(wantCalls) {
		t.Fatalf("Expected player calls %v, got %v", wantCalls, player.calls)
	}
	for i := range wantCalls {
		if player.calls[i] != wantCalls[i] {
			t.Errorf("Call %d: expected %s, got %s", i, wantCalls[i], player.calls[i])
		}
	}
}

func TestPlaybackFailure(t *testing.T) {
	player := &fakePlayer{playErr: errors.New("speaker unplugged")}
	c := newTestController(t, &fakeDevice{}, WithPlayer(player))
	if err := c.LoadAudio([]byte("RIFF")); err != nil {
		t.Fatalf("LoadAudio failed: %v", err)
	}

	if err := c.Play(); !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("Expected ErrCaptureFailed, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected idle after playback failure, got %s", c.State())
	}
}

func TestDoneResetsToIdle(t *testing.T) {
	c := newTestController(t, &fakeDevice{})
	c.PrepareRecording()
	if c.State() != AwaitingRecordStart {
		t.Fatalf("Expected awaiting_record_start, got %s", c.State())
	}
	c.Done()
	if c.State() != Idle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	c.Stop()
	if c.State() != Idle {
		t.Errorf("Expected Stop on idle to be a no-op, got %s", c.State())
	}
}
