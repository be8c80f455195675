package session

import "time"

// Config tunes one kind of session.
type Config struct {
	Kind            Kind
	RecordDuration  time.Duration
	SettleDelay     time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
	// SkewCorrection is added to the computed elapsed time to cover the
	// provider's processing lag and the settle delay.
	SkewCorrection time.Duration
	// CaptureRetries is how many extra recordings are tried after a device
	// failure.
	CaptureRetries int
}

// InitialConfig is used to identify a song from scratch.
func InitialConfig() Config {
	return Config{
		Kind:            Initial,
		RecordDuration:  13 * time.Second,
		SettleDelay:     time.Second,
		PollInterval:    time.Second,
		MaxPollAttempts: 5,
		SkewCorrection:  2 * time.Second,
		CaptureRetries:  1,
	}
}

// ResyncConfig records less: the provider only matches on the first ~11s of
// audio it already knows.
func ResyncConfig() Config {
	cfg := InitialConfig()
	cfg.Kind = Resync
	cfg.RecordDuration = 11 * time.Second
	cfg.SkewCorrection = 1500 * time.Millisecond
	return cfg
}

func (c Config) normalized() Config {
	if c.MaxPollAttempts < 1 {
		c.MaxPollAttempts = 1
	}
	if c.CaptureRetries < 0 {
		c.CaptureRetries = 0
	}
	return c
}
