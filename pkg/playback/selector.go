package playback

import (
	"context"
	"time"

	"github.com/framepump/framepump/pkg/video"
)

// GetCurrentFrame returns the frame to display now, isNew tells whether it
// differs from the frame of the previous call. It blocks until the first
// frame is decoded. Frames which display time has passed are recycled.
//
// The frame stays valid until the next call. After the stream ends,
// or the decoder fails, the last frame is returned along with
// ErrEndOfStream or the decoder error once its display time is over.
//
// It must be called from one goroutine at a time.
func (e *Engine) GetCurrentFrame(ctx context.Context) (*video.Frame, bool, error) {
	if err := e.Start(); err != nil {
		return nil, false, err
	}

	for {
		if e.closed.Load() {
			return nil, false, ErrClosed
		}
		// the queue never grows after the producer stops
		stopped := e.State() == Stopped

		e.mu.Lock()
		if e.images.Len() == 0 {
			e.mu.Unlock()
			if stopped {
				return nil, false, e.result()
			}
			if err := e.waitFrame(ctx); err != nil {
				return nil, false, err
			}
			continue
		}

		elapsed := e.opts.Clock.Now().Sub(e.start)
		cur, last, n := e.pick(elapsed)
		isNew := cur.seq != e.lastSeq
		e.lastSeq = cur.seq
		nq, nf := e.images.Len(), e.free.Len()
		e.mu.Unlock()

		if n > 0 {
			e.retired.Add(int64(n))
			e.metrics.framesRetired(n)
			e.metrics.queues(nq, nf)
			signal(e.space)
		}

		if stopped && last && elapsed >= cur.pts+e.frameDur {
			return cur.frame, isNew, e.result()
		}
		return cur.frame, isNew, nil
	}
}

// pick walks the queue from the front moving frames with passed display
// windows to the free queue. It returns the frame to show, whether it is
// the last queued one, and the number of recycled frames.
// The queue must be locked and not empty.
func (e *Engine) pick(elapsed time.Duration) (cur queued, last bool, n int) {
	for e.images.Len() > 1 {
		front, _ := e.images.PeekFront()
		if elapsed <= e.displayTime {
			return front, false, n
		}
		e.displayTime += e.frameDur
		_, _ = e.images.PopFront()
		if err := e.free.PushBack(front.frame); err != nil {
			e.allocated--
		}
		n++
	}
	cur, _ = e.images.PeekFront()
	e.displayTime = e.updateTS
	return cur, true, n
}

// waitFrame blocks until the producer queues a frame or stops,
// or for a poll interval.
func (e *Engine) waitFrame(ctx context.Context) error {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-e.ready:
	case <-e.done:
	case <-t.C:
	case <-e.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
