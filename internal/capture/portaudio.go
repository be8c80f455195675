//go:build portaudio

package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// InitPortAudio must be called once before any PortAudio device is used.
func InitPortAudio() error {
	return portaudio.Initialize()
}

func TerminatePortAudio() error {
	return portaudio.Terminate()
}

// PortAudioDevice records 16-bit mono audio from the default input device.
type PortAudioDevice struct {
	mu         sync.Mutex
	sampleRate int
	stream     *portaudio.Stream
	buf        []int16
	samples    []int
	readErr    error
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewPortAudioDevice(sampleRate int) *PortAudioDevice {
	return &PortAudioDevice{sampleRate: sampleRate}
}

func (d *PortAudioDevice) Format() Format {
	return Format{SampleRate: d.sampleRate, Channels: 1, BitDepth: 16}
}

func (d *PortAudioDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return errors.New("input stream already open")
	}

	d.buf = make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.sampleRate), len(d.buf), d.buf)
	if err != nil {
		return fmt.Errorf("opening input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("starting input stream: %w", err)
	}

	d.stream = stream
	d.samples = nil
	d.readErr = nil
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.readLoop(stream, d.done)
	return nil
}

func (d *PortAudioDevice) readLoop(stream *portaudio.Stream, done chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			d.mu.Lock()
			d.readErr = err
			d.mu.Unlock()
			return
		}
		d.mu.Lock()
		for _, s := range d.buf {
			d.samples = append(d.samples, int(s))
		}
		d.mu.Unlock()
	}
}

func (d *PortAudioDevice) Stop() error {
	d.mu.Lock()
	stream, done := d.stream, d.done
	d.stream, d.done = nil, nil
	d.mu.Unlock()
	if stream == nil {
		return errors.New("input stream not open")
	}

	close(done)
	d.wg.Wait()

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("stopping input stream: %w", err)
	}
	return stream.Close()
}

func (d *PortAudioDevice) Samples() ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, fmt.Errorf("reading input stream: %w", d.readErr)
	}
	out := make([]int, len(d.samples))
	copy(out, d.samples)
	return out, nil
}

// PortAudioPlayer plays a WAV payload on the default output device.
type PortAudioPlayer struct {
	mu       sync.Mutex
	data     []int16
	pos      int
	format   Format
	stream   *portaudio.Stream
	out      []int16
	done     chan struct{}
	wg       sync.WaitGroup
	finished func()
}

// NewPortAudioPlayer returns a player. finished, when set, runs after the
// payload has played to the end.
func NewPortAudioPlayer(finished func()) *PortAudioPlayer {
	return &PortAudioPlayer{finished: finished}
}

func (p *PortAudioPlayer) Load(wav []byte) error {
	buf, f, err := decodeWAV(wav)
	if err != nil {
		return err
	}
	if err := p.Stop(); err != nil {
		return err
	}

	shift := f.BitDepth - 16
	data := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}
		data[i] = int16(s)
	}

	p.mu.Lock()
	p.data = data
	p.pos = 0
	p.format = f
	p.mu.Unlock()
	return nil
}

func (p *PortAudioPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return nil
	}
	if len(p.data) == 0 {
		return errors.New("nothing loaded")
	}

	if p.stream == nil {
		p.out = make([]int16, framesPerBuffer*p.format.Channels)
		stream, err := portaudio.OpenDefaultStream(0, p.format.Channels, float64(p.format.SampleRate), framesPerBuffer, p.out)
		if err != nil {
			return fmt.Errorf("opening output stream: %w", err)
		}
		p.stream = stream
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("starting output stream: %w", err)
	}

	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.writeLoop(p.stream, p.done)
	return nil
}

func (p *PortAudioPlayer) writeLoop(stream *portaudio.Stream, done chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		p.mu.Lock()
		n := copy(p.out, p.data[p.pos:])
		for i := n; i < len(p.out); i++ {
			p.out[i] = 0
		}
		p.pos += n
		end := p.pos >= len(p.data)
		p.mu.Unlock()

		if err := stream.Write(); err != nil {
			return
		}
		if end {
			if p.finished != nil {
				go p.finished()
			}
			return
		}
	}
}

// halt ends the write loop and stops the output stream, keeping the position.
func (p *PortAudioPlayer) halt() error {
	p.mu.Lock()
	done, stream := p.done, p.stream
	p.done = nil
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	close(done)
	p.wg.Wait()
	return stream.Stop()
}

func (p *PortAudioPlayer) Pause() error {
	return p.halt()
}

func (p *PortAudioPlayer) Stop() error {
	err := p.halt()

	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.pos = 0
	p.mu.Unlock()

	if stream != nil {
		if cerr := stream.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
