package scannsing

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/resync"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/internal/storage"
)

type Config struct {
	DBPath         string
	TempDir        string
	Logger         Logger
	Storage        Storage
	Device         Device
	Player         Player
	Recognizer     Recognizer
	ProviderHost   string
	ContainerID    string
	Token          string
	Clock          clockwork.Clock
	ResyncInterval time.Duration
	Initial        SessionConfig
	Resync         SessionConfig
	CacheSize      int
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

// WithDevice sets the audio input used for recording.
func WithDevice(d Device) Option {
	return func(c *Config) {
		c.Device = d
	}
}

func WithPlayer(p Player) Option {
	return func(c *Config) {
		c.Player = p
	}
}

// WithRecognizer replaces the HTTP recognition client.
func WithRecognizer(r Recognizer) Option {
	return func(c *Config) {
		c.Recognizer = r
	}
}

// WithProvider points the recognition client at a file-scanning container.
// An empty host means the default provider host.
func WithProvider(host, containerID, token string) Option {
	return func(c *Config) {
		c.ProviderHost = host
		c.ContainerID = containerID
		c.Token = token
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithResyncInterval(d time.Duration) Option {
	return func(c *Config) {
		c.ResyncInterval = d
	}
}

func WithInitialConfig(cfg SessionConfig) Option {
	return func(c *Config) {
		c.Initial = cfg
	}
}

func WithResyncConfig(cfg SessionConfig) Option {
	return func(c *Config) {
		c.Resync = cfg
	}
}

// WithCacheSize bounds the number of title lookups kept in memory.
func WithCacheSize(n int) Option {
	return func(c *Config) {
		c.CacheSize = n
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:         storage.DefaultDBFile,
		TempDir:        "/tmp",
		ResyncInterval: resync.DefaultInterval,
		Initial:        session.InitialConfig(),
		Resync:         session.ResyncConfig(),
		CacheSize:      64,
	}
}
