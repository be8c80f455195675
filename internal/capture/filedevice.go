package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FileDevice emulates a microphone that hears a WAV file playing on a
// nearby speaker. Playback is taken to have been at Offset seconds when the
// device was created and to advance in real time from there.
type FileDevice struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	data    []int
	format  Format
	origin  time.Time
	offset  float64
	start   time.Time
	stop    time.Time
	running bool
}

// NewFileDevice loads the WAV file at path.
func NewFileDevice(path string, offset float64, clock clockwork.Clock) (*FileDevice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return NewFileDeviceFromBytes(raw, offset, clock)
}

// NewFileDeviceFromBytes builds a FileDevice from an in-memory WAV payload.
func NewFileDeviceFromBytes(raw []byte, offset float64, clock clockwork.Clock) (*FileDevice, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	buf, f, err := decodeWAV(raw)
	if err != nil {
		return nil, err
	}
	if f.Channels <= 0 || f.SampleRate <= 0 {
		return nil, fmt.Errorf("unsupported wav format: %d channels at %d Hz", f.Channels, f.SampleRate)
	}
	return &FileDevice{
		clock:  clock,
		data:   buf.Data,
		format: f,
		origin: clock.Now(),
		offset: offset,
	}, nil
}

func (d *FileDevice) Format() Format {
	return d.format
}

// Duration is the length of the underlying file in seconds.
func (d *FileDevice) Duration() float64 {
	frames := len(d.data) / d.format.Channels
	return float64(frames) / float64(d.format.SampleRate)
}

// Position returns the emulated playback position at t.
func (d *FileDevice) Position(t time.Time) float64 {
	return d.offset + t.Sub(d.origin).Seconds()
}

func (d *FileDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("file device already started")
	}
	d.running = true
	d.start = d.clock.Now()
	d.stop = time.Time{}
	return nil
}

func (d *FileDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return errors.New("file device not started")
	}
	d.running = false
	d.stop = d.clock.Now()
	return nil
}

func (d *FileDevice) Samples() ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.start.IsZero() {
		return nil, errors.New("file device never started")
	}
	end := d.stop
	if d.running {
		end = d.clock.Now()
	}

	ch := d.format.Channels
	frames := len(d.data) / ch
	from := d.frameAt(d.start, frames)
	to := d.frameAt(end, frames)
	if to <= from {
		return nil, nil
	}

	out := make([]int, (to-from)*ch)
	copy(out, d.data[from*ch:to*ch])
	return out, nil
}

func (d *FileDevice) frameAt(t time.Time, frames int) int {
	f := int(d.Position(t) * float64(d.format.SampleRate))
	if f < 0 {
		return 0
	}
	if f > frames {
		return frames
	}
	return f
}
