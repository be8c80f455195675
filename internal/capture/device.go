package capture

// Format describes PCM samples produced by a Device.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Device is an audio input. Start begins capturing, Stop ends it and
// Samples returns the interleaved PCM captured between the two.
type Device interface {
	Start() error
	Stop() error
	Samples() ([]int, error)
	Format() Format
}

// Player plays back a WAV-encoded recording.
type Player interface {
	Load(wav []byte) error
	Play() error
	Pause() error
	Stop() error
}
