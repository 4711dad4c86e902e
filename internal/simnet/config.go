package simnet

import (
	"time"

	"go.uber.org/zap"

	"p2p-simnet/internal/trace"
	"p2p-simnet/internal/vclock"
)

const (
	DefaultMaxMessageSize = 1 << 20
	DefaultDiscoveryDelay = 50 * time.Millisecond
)

// Config holds the per-System simulation knobs.
type Config struct {
	MaxMessageSize   int           // payloads above this are rejected; <= 0 disables the check
	DiscoveryDelay   time.Duration // virtual time spent by each Discover
	EnforceBandwidth bool          // add LinkInfo.Bandwidth serialization delay to latency

	Clock    vclock.Clock // shared by every System of one simulation
	Logger   *zap.Logger
	Recorder trace.Recorder
}

// DefaultConfig returns the defaults with a fresh Stepping clock.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: DefaultMaxMessageSize,
		DiscoveryDelay: DefaultDiscoveryDelay,
		Clock:          vclock.NewStepping(),
		Logger:         zap.NewNop(),
		Recorder:       trace.Nop{},
	}
}

type Option func(*Config)

// WithConfig replaces the whole config; nil fields fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

// WithClock sets the clock. Systems that share a graph should share a clock.
func WithClock(clk vclock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

func WithMaxMessageSize(n int) Option {
	return func(c *Config) { c.MaxMessageSize = n }
}

func WithDiscoveryDelay(d time.Duration) Option {
	return func(c *Config) { c.DiscoveryDelay = d }
}

func WithBandwidth(enforce bool) Option {
	return func(c *Config) { c.EnforceBandwidth = enforce }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithRecorder(r trace.Recorder) Option {
	return func(c *Config) { c.Recorder = r }
}

func (c *Config) fillDefaults() {
	if c.Clock == nil {
		c.Clock = vclock.NewStepping()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Recorder == nil {
		c.Recorder = trace.Nop{}
	}
}
