package tracer

import "go.uber.org/zap"

// Config collects every tunable Start accepts, populated by the
// functional options below.
type Config struct {
	SampleRate    float64
	MaxStackDepth int
	TrackGC       bool
	MaxEvents     int
	BatchSize     int
	BufferSize    int
	Logger        *zap.SugaredLogger
}

func defaultConfig() Config {
	return Config{
		SampleRate:    1,
		MaxStackDepth: 10,
		TrackGC:       true,
		MaxEvents:     0, // 0 means pipeline.DefaultMaxEvents
		BatchSize:     0, // 0 means pipeline.DefaultBatchLimit
		BufferSize:    0, // 0 means pipeline.DefaultBufferSize
	}
}

// Option configures a Tracer at Start time.
type Option func(*Config)

// WithSampleRate sets the fraction of allocations retained, in (0,1].
// Deallocations and GC events are never sampled away regardless of this
// setting.
func WithSampleRate(rate float64) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// WithMaxStackDepth bounds how many innermost frames of each call site are
// kept.
func WithMaxStackDepth(depth int) Option {
	return func(c *Config) { c.MaxStackDepth = depth }
}

// WithTrackGC toggles whether garbage-collection cycles are recorded.
func WithTrackGC(track bool) Option {
	return func(c *Config) { c.TrackGC = track }
}

// WithMaxEvents sets the ring buffer's capacity.
func WithMaxEvents(n int) Option {
	return func(c *Config) { c.MaxEvents = n }
}

// WithBatchSize sets how many events the writer worker drains per
// iteration.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

// WithBufferSize sets the scratch buffer's flush threshold, in bytes.
func WithBufferSize(n int) Option {
	return func(c *Config) { c.BufferSize = n }
}

// WithLogger overrides the zap logger used for worker diagnostics. Nil (the
// default) is a no-op logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Config) { c.Logger = logger }
}
