package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/framepump/framepump/pkg/source"
	"github.com/framepump/framepump/pkg/thread"
	"github.com/framepump/framepump/pkg/video"
	"github.com/prometheus/client_golang/prometheus"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to d after the epoch.
func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	c.t = epoch.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeSource produces 4x4 I420 frames with the luma set to the frame index.
type fakeSource struct {
	frames   int // < 0 is endless
	rate     source.Rational
	failAt   int // < 0 never fails
	failErr  error
	clock    *fakeClock
	skipCost time.Duration
	block    chan struct{}

	mu       sync.Mutex
	seeks    []time.Duration
	itClosed bool
	closed   bool
}

func newSource(frames int) *fakeSource {
	return &fakeSource{frames: frames, rate: source.Rational{Num: 10, Den: 1}, failAt: -1}
}

func (s *fakeSource) Streams() int { return 1 }

func (s *fakeSource) Resolution(stream int) (source.Resolution, error) {
	st, err := s.StreamType(stream)
	return st.Resolution, err
}

func (s *fakeSource) StreamType(stream int) (source.StreamType, error) {
	if stream != 0 {
		return source.StreamType{}, source.ErrIndexOutOfBounds
	}
	return source.StreamType{Media: source.Video, FrameRate: s.rate, Format: video.I420, Resolution: source.Resolution{W: 4, H: 4}}, nil
}

func (s *fakeSource) Iterator(media source.MediaType, stream int) (source.Iterator, error) {
	if _, err := s.StreamType(stream); err != nil {
		return nil, err
	}
	return &fakeIterator{src: s, frame: video.NewFrame()}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) seekTargets() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration{}, s.seeks...)
}

type fakeIterator struct {
	src   *fakeSource
	n     int
	frame *video.Frame
}

func (it *fakeIterator) Next() (*video.Frame, source.Metadata, error) {
	if it.src.block != nil {
		<-it.src.block
	}
	if it.src.failAt >= 0 && it.n == it.src.failAt {
		return nil, source.Metadata{}, it.src.failErr
	}
	if it.src.frames >= 0 && it.n >= it.src.frames {
		return nil, source.Metadata{}, source.ErrEndOfStream
	}
	if err := it.frame.Allocate(4, 4, video.I420); err != nil {
		return nil, source.Metadata{}, err
	}
	for i := 0; i < 16; i++ {
		it.frame.Pix[i] = byte(it.n)
	}
	md := source.Metadata{Index: int64(it.n), PTS: it.src.rate.Nth(int64(it.n))}
	it.frame.PTS = md.PTS
	it.n++
	return it.frame, md, nil
}

func (it *fakeIterator) SkipFrame() error {
	if it.src.clock != nil {
		it.src.clock.Add(it.src.skipCost)
	}
	it.n++
	return nil
}

func (it *fakeIterator) SeekTo(t time.Duration) error {
	it.src.mu.Lock()
	it.src.seeks = append(it.src.seeks, t)
	it.src.mu.Unlock()
	ft := it.src.rate.FrameTime()
	it.n = int((t + ft - 1) / ft)
	return nil
}

func (it *fakeIterator) Close() error {
	it.src.mu.Lock()
	defer it.src.mu.Unlock()
	it.src.itClosed = true
	return nil
}

func newEngine(t *testing.T, src *fakeSource, clock *fakeClock, flags Flags, opts ...Option) *Engine {
	t.Helper()
	src.clock = clock
	e, err := New(src, thread.NewPool(2), 0, video.RGBA, flags, append([]Option{WithClock(clock)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %v", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type poll struct {
	at    time.Duration
	pts   time.Duration
	isNew bool
	err   error
}

func check(t *testing.T, e *Engine, clock *fakeClock, p poll) *video.Frame {
	t.Helper()
	clock.Set(p.at)
	f, isNew, err := e.GetCurrentFrame(context.Background())
	if !errors.Is(err, p.err) {
		t.Fatalf("at %v: expected error %v, got %v", p.at, p.err, err)
	}
	if f == nil {
		t.Fatalf("at %v: no frame", p.at)
	}
	if f.PTS != p.pts || isNew != p.isNew {
		t.Errorf("at %v: got frame %v new=%v, expected %v new=%v", p.at, f.PTS, isNew, p.pts, p.isNew)
	}
	return f
}

func TestNewErrors(t *testing.T) {
	pool := thread.NewPool(1)
	broken := newSource(1)
	broken.rate = source.Rational{}

	tests := []struct {
		name   string
		src    source.Source
		pool   *thread.Pool
		stream int
		format video.PixFmt
		err    error
	}{
		{name: "nil source", pool: pool, format: video.RGBA, err: ErrNilSource},
		{name: "nil pool", src: newSource(1), format: video.RGBA, err: ErrNilPool},
		{name: "stream", src: newSource(1), pool: pool, stream: 3, format: video.RGBA, err: source.ErrIndexOutOfBounds},
		{name: "format", src: newSource(1), pool: pool, format: video.None, err: video.ErrIncompatible},
		{name: "frame rate", src: broken, pool: pool, format: video.RGBA, err: ErrInvalidFrameRate},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.src, test.pool, test.stream, test.format, FlagNone); !errors.Is(err, test.err) {
				t.Errorf("expected %v, got %v", test.err, err)
			}
		})
	}
}

func TestPlaybackCatchUp(t *testing.T) {
	clock := newClock()
	src := newSource(10)
	e := newEngine(t, src, clock, FlagNone)

	if e.State() != Idle || e.Stats().Allocated != 0 {
		t.Fatalf("decoding started before the first frame request")
	}
	first := check(t, e, clock, poll{at: 0, pts: 0, isNew: true})
	if first.Format != video.RGBA || first.W != 4 {
		t.Errorf("wrong output frame %v", first)
	}

	waitFor(t, "full queue", func() bool { return e.Stats().Queued == DefaultMaxQueuedFrames+1 })
	f := check(t, e, clock, poll{at: 350 * time.Millisecond, pts: 400 * time.Millisecond, isNew: true})
	if e.Stats().Retired != 4 {
		t.Errorf("retired %v frames, expected 4", e.Stats().Retired)
	}
	again := check(t, e, clock, poll{at: 351 * time.Millisecond, pts: 400 * time.Millisecond, isNew: false})
	if f != again {
		t.Errorf("a different frame buffer was returned")
	}

	waitFor(t, "end of stream", func() bool { return e.State() == Stopped })
	st := e.Stats()
	if st.Allocated != st.Queued+st.Free {
		t.Errorf("leaked frames: %+v", st)
	}
	if st.Decoded != 10 {
		t.Errorf("decoded %v frames", st.Decoded)
	}

	check(t, e, clock, poll{at: 950 * time.Millisecond, pts: 900 * time.Millisecond, isNew: true})
	check(t, e, clock, poll{at: time.Second, pts: 900 * time.Millisecond, isNew: false, err: ErrEndOfStream})

	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.GetCurrentFrame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed engine, got %v", err)
	}
	if !src.itClosed || src.closed {
		t.Errorf("iterator closed %v, source closed %v", src.itClosed, src.closed)
	}
}

func TestPlaybackDecodeError(t *testing.T) {
	boom := errors.New("boom")
	clock := newClock()
	src := newSource(10)
	src.failAt, src.failErr = 5, boom
	e := newEngine(t, src, clock, FlagNone)

	check(t, e, clock, poll{at: 0, pts: 0, isNew: true})
	waitFor(t, "failure", func() bool { return e.State() == Stopped })

	for i := 1; i < 5; i++ {
		d := time.Duration(i) * 100 * time.Millisecond
		check(t, e, clock, poll{at: d, pts: d, isNew: true})
	}
	check(t, e, clock, poll{at: 500 * time.Millisecond, pts: 400 * time.Millisecond, isNew: false, err: boom})
	if st := e.Stats(); st.Decoded != 5 || st.Allocated != st.Queued+st.Free {
		t.Errorf("wrong stats %+v", st)
	}
}

func TestPlaybackEmptyStream(t *testing.T) {
	e := newEngine(t, newSource(0), newClock(), FlagNone)
	f, _, err := e.GetCurrentFrame(context.Background())
	if f != nil || !errors.Is(err, ErrEndOfStream) {
		t.Errorf("got %v, %v", f, err)
	}
}

func TestPlaybackBackpressure(t *testing.T) {
	tests := []struct {
		opts []Option
		max  int
	}{
		{max: DefaultMaxQueuedFrames},
		{opts: []Option{WithMaxQueuedFrames(3)}, max: 3},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("max %v", test.max), func(t *testing.T) {
			e := newEngine(t, newSource(-1), newClock(), FlagNone, test.opts...)
			if err := e.Start(); err != nil {
				t.Fatal(err)
			}
			waitFor(t, "full queue", func() bool { return e.Stats().Queued == test.max+1 })
			for i := 0; i < 20; i++ {
				if st := e.Stats(); st.Queued > test.max+1 {
					t.Fatalf("queue grew to %v", st.Queued)
				}
				time.Sleep(time.Millisecond)
			}
			if st := e.Stats(); st.Allocated != test.max+1 || st.Decoded != int64(test.max+1) {
				t.Errorf("wrong stats %+v", st)
			}
		})
	}
}

func TestPlaybackSeek(t *testing.T) {
	clock := newClock()
	src := newSource(-1)
	e := newEngine(t, src, clock, FlagSeeking|FlagDropFrames)

	check(t, e, clock, poll{at: 0, pts: 0, isNew: true})
	waitFor(t, "full queue", func() bool { return e.Stats().Queued == DefaultMaxQueuedFrames+1 })

	check(t, e, clock, poll{at: 10 * time.Second, pts: 800 * time.Millisecond, isNew: true})
	waitFor(t, "seek", func() bool { return e.Stats().Decoded > DefaultMaxQueuedFrames+1 })

	seeks := src.seekTargets()
	if len(seeks) != 1 || seeks[0] != 15*time.Second {
		t.Fatalf("seeks %v, expected one to 15s", seeks)
	}
	if st := e.Stats(); st.Seeks != 1 || st.Skipped != 0 {
		t.Errorf("wrong stats %+v", st)
	}
	f, _, err := e.GetCurrentFrame(context.Background())
	if err != nil || f.PTS < 15*time.Second {
		t.Errorf("got %v, %v after the seek", f, err)
	}
}

func TestPlaybackDrop(t *testing.T) {
	tests := []struct {
		name     string
		flags    Flags
		cost     time.Duration
		skipped  int64
		dropping bool
	}{
		{name: "cheap skip", flags: FlagDropFrames, cost: 0, skipped: 1, dropping: true},
		{name: "slow skip", flags: FlagDropFrames, cost: 200 * time.Millisecond, skipped: 1, dropping: false},
		{name: "disabled", flags: FlagNone, skipped: 0, dropping: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clock := newClock()
			src := newSource(-1)
			src.skipCost = test.cost
			e := newEngine(t, src, clock, test.flags)

			check(t, e, clock, poll{at: 0, pts: 0, isNew: true})
			waitFor(t, "full queue", func() bool { return e.Stats().Queued == DefaultMaxQueuedFrames+1 })

			// 100ms late for the next frame
			check(t, e, clock, poll{at: time.Second, pts: 800 * time.Millisecond, isNew: true})
			waitFor(t, "refill", func() bool { return e.Stats().Queued == DefaultMaxQueuedFrames+1 })

			st := e.Stats()
			if st.Skipped != test.skipped || st.Dropping != test.dropping || st.Seeks != 0 {
				t.Errorf("wrong stats %+v", st)
			}
			if len(src.seekTargets()) != 0 {
				t.Errorf("unexpected seeks")
			}
		})
	}
}

func TestPlaybackCancel(t *testing.T) {
	src := newSource(-1)
	src.block = make(chan struct{})
	e := newEngine(t, src, newClock(), FlagNone)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := e.GetCurrentFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline, got %v", err)
	}
	close(src.block)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if st := e.Stats(); st.Queued != 0 || st.Free != 0 || st.State != Stopped {
		t.Errorf("not released %+v", st)
	}
}

func TestPlaybackMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEngine(t, newSource(3), newClock(), FlagNone, WithRegisterer(reg))
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "end of stream", func() bool { return e.State() == Stopped })

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "framepump_frames_decoded_total" {
			continue
		}
		m := mf.GetMetric()[0]
		found = true
		if v := m.GetCounter().GetValue(); v != 3 {
			t.Errorf("decoded counter is %v", v)
		}
		if l := m.GetLabel(); len(l) != 1 || l[0].GetValue() != e.ID() {
			t.Errorf("wrong labels %v", l)
		}
	}
	if !found {
		t.Errorf("no decoded frames metric")
	}
}

func TestOpenY4M(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("YUV4MPEG2 W4 H4 F25:1 C420jpeg\n")
	for i := 0; i < 3; i++ {
		buf.WriteString("FRAME\n")
		buf.Write(bytes.Repeat([]byte{128}, 24))
	}
	path := filepath.Join(t.TempDir(), "clip.y4m")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := Open(path, thread.NewPool(2), 0, video.BGRA, FlagDropFrames, WithOutputSize(8, 6))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = e.Close() }()
	if e.FrameTime() != 40*time.Millisecond {
		t.Errorf("frame time %v", e.FrameTime())
	}
	f, isNew, err := e.GetCurrentFrame(context.Background())
	if err != nil && !errors.Is(err, ErrEndOfStream) {
		t.Fatal(err)
	}
	if !isNew || f.Format != video.BGRA || f.W != 8 || f.H != 6 {
		t.Errorf("wrong frame %v", f)
	}

	if _, err := Open(path, thread.NewPool(1), 1, video.BGRA, FlagNone); !errors.Is(err, source.ErrIndexOutOfBounds) {
		t.Errorf("expected bad stream error, got %v", err)
	}
}

func TestFlags(t *testing.T) {
	f := FlagSeeking | FlagDropFrames
	if !f.Has(FlagSeeking) || !f.Has(FlagDropFrames) || FlagNone.Has(FlagSeeking) || FlagSeeking.Has(FlagDropFrames) {
		t.Errorf("flags are not independent")
	}
}
