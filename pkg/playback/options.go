package playback

import (
	"time"

	"github.com/framepump/framepump/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Flags are playback policies enabled for an engine.
type Flags uint

const FlagNone Flags = 0

const (
	// FlagSeeking lets the decoder jump ahead when it falls far behind.
	FlagSeeking Flags = 1 << iota
	// FlagDropFrames lets the decoder skip single frames when it is late.
	FlagDropFrames
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

const (
	DefaultMaxQueuedFrames = 8
	DefaultSeekThreshold   = 5 * time.Second
)

// Clock is the time source for the playback schedule.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Options struct {
	Log             *logger.Logger
	Registerer      prometheus.Registerer
	Clock           Clock
	MaxQueuedFrames int
	SeekThreshold   time.Duration
	// Width and Height of output frames, zero keeps the source size.
	Width, Height int
}

type Option func(*Options)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func defaultOptions() Options {
	return Options{
		Log:             logger.Nop(),
		Clock:           systemClock{},
		MaxQueuedFrames: DefaultMaxQueuedFrames,
		SeekThreshold:   DefaultSeekThreshold,
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Log = log
		}
	}
}

// WithRegisterer enables metrics of the engine.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = reg }
}

func WithClock(c Clock) Option {
	return func(o *Options) {
		if c != nil {
			o.Clock = c
		}
	}
}

// WithMaxQueuedFrames sets the queue depth when the decoder pauses.
func WithMaxQueuedFrames(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxQueuedFrames = n
		}
	}
}

// WithSeekThreshold sets how late the decoder may be before it seeks.
func WithSeekThreshold(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.SeekThreshold = d
		}
	}
}

func WithOutputSize(w, h int) Option {
	return func(o *Options) { o.Width, o.Height = w, h }
}
