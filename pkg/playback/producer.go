package playback

import (
	"errors"
	"time"

	"github.com/framepump/framepump/pkg/video"
)

func (e *Engine) run() {
	defer close(e.done)
	err := e.produce()
	if e.ctx.Err() != nil {
		err = nil
	}
	switch {
	case err == nil:
		e.log.Debug().Msg("Playback producer stopped")
	case errors.Is(err, ErrEndOfStream):
		e.log.Info().Int64("frames", e.decoded.Load()).Msg("End of stream")
	default:
		e.err = err
		e.log.Error().Err(err).Msg("Playback producer failed")
	}
	e.running.Store(false)
	e.state.Store(int32(Stopped))
	signal(e.ready)
}

// produce decodes frames until the end of the stream, an error, or Close.
func (e *Engine) produce() error {
	// the pts of the last decoded frame
	var last time.Duration

	for e.running.Load() {
		e.mu.Lock()
		if e.images.Len() > e.opts.MaxQueuedFrames {
			e.mu.Unlock()
			if !e.waitSpace() {
				return nil
			}
			continue
		}
		buf, err := e.free.PopFront()
		if err != nil {
			buf = video.NewFrame()
			e.allocated++
		}
		e.mu.Unlock()

		if err := e.catchUp(last); err != nil {
			e.recycle(buf)
			return err
		}

		raw, md, err := e.it.Next()
		if err != nil {
			e.recycle(buf)
			return err
		}
		last = md.PTS

		t := time.Now()
		if err := e.convert(raw, buf); err != nil {
			e.recycle(buf)
			return err
		}
		buf.PTS = md.PTS

		e.mu.Lock()
		e.seq++
		err = e.images.PushBack(queued{frame: buf, pts: md.PTS, seq: e.seq})
		if err == nil {
			e.updateTS = md.PTS
		}
		nq, nf := e.images.Len(), e.free.Len()
		e.mu.Unlock()
		if err != nil {
			e.recycle(buf)
			return err
		}

		e.decoded.Add(1)
		e.metrics.frameDecoded(time.Since(t))
		e.metrics.queues(nq, nf)
		signal(e.ready)
	}
	return nil
}

// catchUp seeks or skips a frame when decoding lags behind the display.
// The time a skip takes is measured, and dropping is turned off
// for good once a single skip costs more than a frame lasts.
func (e *Engine) catchUp(last time.Duration) error {
	elapsed := e.opts.Clock.Now().Sub(e.start)
	behind := elapsed - (last + e.frameDur)
	if behind <= 0 {
		return nil
	}

	if behind > e.opts.SeekThreshold && e.flags.Has(FlagSeeking) {
		to := elapsed + e.opts.SeekThreshold
		if err := e.it.SeekTo(to); err != nil {
			return err
		}
		e.seeks.Add(1)
		e.metrics.seek()
		e.log.Debug().Dur("behind", behind).Dur("to", to).Msg("Seek")
		return nil
	}

	if !e.dropping.Load() {
		return nil
	}
	before := e.opts.Clock.Now()
	if err := e.it.SkipFrame(); err != nil {
		return err
	}
	e.skipped.Add(1)
	e.metrics.frameSkipped()
	if took := e.opts.Clock.Now().Sub(before); took > e.frameDur {
		e.dropping.Store(false)
		e.log.Info().Dur("took", took).Dur("frame", e.frameDur).Msg("Frame dropping is disabled, skips are too slow")
	}
	return nil
}

func (e *Engine) convert(raw, dst *video.Frame) error {
	w, h := raw.W, raw.H
	if e.opts.Width > 0 && e.opts.Height > 0 {
		w, h = e.opts.Width, e.opts.Height
	}
	if err := dst.Allocate(w, h, e.format); err != nil {
		return err
	}
	return video.Transform(e.ctx, raw, dst, e.pool)
}

// recycle keeps an unused buffer for later.
func (e *Engine) recycle(f *video.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.free.PushBack(f); err != nil {
		e.allocated--
	}
}

// waitSpace blocks until the consumer frees some queue space
// or for a poll interval. It returns false when the engine stops.
func (e *Engine) waitSpace() bool {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-e.space:
	case <-t.C:
	case <-e.ctx.Done():
		return false
	}
	return e.running.Load()
}
