// Package playback pumps decoded video frames to a renderer in time.
//
// A producer goroutine decodes and converts frames into a bounded queue,
// the renderer polls GetCurrentFrame which picks the frame to show now
// and recycles the frames it has missed.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framepump/framepump/pkg/logger"
	"github.com/framepump/framepump/pkg/ring"
	"github.com/framepump/framepump/pkg/source"
	"github.com/framepump/framepump/pkg/thread"
	"github.com/framepump/framepump/pkg/video"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrNilSource        = errors.New("playback: nil source")
	ErrNilPool          = errors.New("playback: nil thread pool")
	ErrClosed           = errors.New("playback: engine closed")
	ErrInvalidFrameRate = errors.New("playback: invalid frame rate")
	ErrEndOfStream      = source.ErrEndOfStream
)

type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// pollInterval bounds a wait for the other side of the queue.
const pollInterval = time.Millisecond

// queued is a frame waiting for display, seq tells apart
// different pictures drawn into the same reused buffer.
type queued struct {
	frame *video.Frame
	pts   time.Duration
	seq   uint64
}

type Engine struct {
	id     string
	log    *logger.Logger
	opts   Options
	flags  Flags
	format video.PixFmt
	stream int

	src      source.Source
	ownsSrc  bool
	it       source.Iterator
	pool     *thread.Pool
	metrics  *metrics
	frameDur time.Duration

	// guards both queues and the fields below
	mu        sync.Mutex
	images    ring.Queue[queued]
	free      ring.Queue[*video.Frame]
	updateTS  time.Duration
	seq       uint64
	allocated int

	// consumer side
	startOnce   sync.Once
	start       time.Time
	displayTime time.Duration
	lastSeq     uint64

	state    atomic.Int32
	running  atomic.Bool
	closed   atomic.Bool
	dropping atomic.Bool
	err      error

	decoded atomic.Int64
	skipped atomic.Int64
	seeks   atomic.Int64
	retired atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	space     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open opens the video file and prepares its stream for playback.
// Frames are converted into the format on the pool.
// Decoding starts with the first GetCurrentFrame call.
func Open(path string, pool *thread.Pool, stream int, format video.PixFmt, flags Flags, opts ...Option) (*Engine, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	e, err := New(src, pool, stream, format, flags, opts...)
	if err != nil {
		return nil, multierror.Append(err, src.Close()).ErrorOrNil()
	}
	e.ownsSrc = true
	return e, nil
}

// New creates an engine for an opened source.
// The source stays owned by the caller.
func New(src source.Source, pool *thread.Pool, stream int, format video.PixFmt, flags Flags, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if pool == nil {
		return nil, ErrNilPool
	}
	if !format.Valid() {
		return nil, fmt.Errorf("%w: output %v", video.ErrIncompatible, format)
	}

	o := defaultOptions()
	o.override(opts...)

	st, err := src.StreamType(stream)
	if err != nil {
		return nil, err
	}
	frameDur := st.FrameRate.FrameTime()
	if frameDur <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrameRate, st.FrameRate)
	}
	it, err := src.Iterator(source.Video, stream)
	if err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV4()).String()
	e := &Engine{
		id:       id,
		opts:     o,
		flags:    flags,
		format:   format,
		stream:   stream,
		src:      src,
		it:       it,
		pool:     pool,
		metrics:  newMetrics(o.Registerer, id),
		frameDur: frameDur,
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	e.log = o.Log.Extend(o.Log.With().Str("engine", id).Int("stream", stream))
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.dropping.Store(flags.Has(FlagDropFrames))
	_ = e.free.Reserve(o.MaxQueuedFrames + 2)
	_ = e.images.Reserve(o.MaxQueuedFrames + 2)

	e.log.Debug().
		Str("res", st.Resolution.String()).
		Str("fps", st.FrameRate.String()).
		Str("format", format.String()).
		Bool("seeking", flags.Has(FlagSeeking)).
		Bool("drop", flags.Has(FlagDropFrames)).
		Msg("Playback engine created")
	return e, nil
}

func (e *Engine) ID() string { return e.id }

// FrameTime returns the display duration of one frame.
func (e *Engine) FrameTime() time.Duration { return e.frameDur }

func (e *Engine) State() State { return State(e.state.Load()) }

// Start begins decoding, it is called by the first GetCurrentFrame.
func (e *Engine) Start() error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.startOnce.Do(func() {
		e.start = e.opts.Clock.Now()
		e.displayTime = 0
		e.mu.Lock()
		e.updateTS = 0
		e.mu.Unlock()
		e.running.Store(true)
		e.state.Store(int32(Running))
		e.log.Info().Msg("Playback started")
		go e.run()
	})
	return nil
}

// Close stops decoding and releases every frame and the iterator.
// The source is closed only when the engine has opened it.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.running.Store(false)
		e.cancel()
		if e.State() != Idle {
			<-e.done
		}

		e.mu.Lock()
		e.images.Clear()
		e.free.Clear()
		e.allocated = 0
		e.mu.Unlock()
		e.metrics.queues(0, 0)

		var result *multierror.Error
		result = multierror.Append(result, e.it.Close())
		if e.ownsSrc {
			result = multierror.Append(result, e.src.Close())
		}
		e.closeErr = result.ErrorOrNil()
		e.log.Info().Err(e.closeErr).Msg("Playback closed")
	})
	return e.closeErr
}

// result returns the reason the producer has stopped.
func (e *Engine) result() error {
	if e.err != nil {
		return e.err
	}
	return ErrEndOfStream
}

type Stats struct {
	State     State
	Queued    int
	Free      int
	Allocated int
	Decoded   int64
	Skipped   int64
	Seeks     int64
	Retired   int64
	// Dropping is true while frame drops are allowed and pay off.
	Dropping bool
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:     e.State(),
		Queued:    e.images.Len(),
		Free:      e.free.Len(),
		Allocated: e.allocated,
		Decoded:   e.decoded.Load(),
		Skipped:   e.skipped.Load(),
		Seeks:     e.seeks.Load(),
		Retired:   e.retired.Load(),
		Dropping:  e.dropping.Load(),
	}
}

func (e *Engine) String() string { return fmt.Sprintf("playback::%v", e.id) }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
