//go:build astiav

package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/framepump/framepump/pkg/video"
)

// With the astiav build tag every container ffmpeg can demux is
// opened through libav as the fallback for unknown extensions.
func init() {
	astiav.SetLogLevel(astiav.LogLevelQuiet)
	Register("", OpenAV)
}

type AV struct {
	path    string
	streams []StreamType
}

// OpenAV probes the file with libavformat.
func OpenAV(path string) (Source, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("%w: format context", ErrInternal)
	}
	defer fc.Free()
	if err := fc.OpenInput(path, nil, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	defer fc.CloseInput()
	if err := fc.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	av := AV{path: path}
	for _, s := range fc.Streams() {
		cp := s.CodecParameters()
		st := StreamType{Media: Audio}
		if cp.MediaType() == astiav.MediaTypeVideo {
			fr := s.AvgFrameRate()
			st = StreamType{
				Media:      Video,
				FrameRate:  Rational{Num: fr.Num(), Den: fr.Den()},
				Format:     video.I420,
				Resolution: Resolution{W: cp.Width(), H: cp.Height()},
			}
		}
		av.streams = append(av.streams, st)
	}
	return &av, nil
}

func (a *AV) Streams() int { return len(a.streams) }

func (a *AV) Resolution(stream int) (Resolution, error) {
	st, err := a.StreamType(stream)
	return st.Resolution, err
}

func (a *AV) StreamType(stream int) (StreamType, error) {
	if err := checkStream(stream, a.Streams()); err != nil {
		return StreamType{}, err
	}
	return a.streams[stream], nil
}

func (a *AV) Iterator(media MediaType, stream int) (Iterator, error) {
	st, err := a.StreamType(stream)
	if err != nil {
		return nil, err
	}
	if media != Video || st.Media != Video {
		return nil, fmt.Errorf("%w: %v stream %v", ErrUnsupportedMedia, media, stream)
	}

	it := &avIterator{
		stream: stream,
		rate:   st.FrameRate,
		fc:     astiav.AllocFormatContext(),
		pkt:    astiav.AllocPacket(),
		raw:    astiav.AllocFrame(),
		frame:  video.NewFrame(),
	}
	if err := it.open(a.path); err != nil {
		it.Close()
		return nil, err
	}
	return it, nil
}

func (a *AV) Close() error { return nil }

type avIterator struct {
	stream int
	rate   Rational
	tb     astiav.Rational
	fc     *astiav.FormatContext
	cc     *astiav.CodecContext
	pkt    *astiav.Packet
	raw    *astiav.Frame
	frame  *video.Frame
	n      int64
	eof    bool
	// skipUntil drops decoded frames before the seek target
	skipUntil time.Duration
	opened    bool
}

func (it *avIterator) open(path string) error {
	if err := it.fc.OpenInput(path, nil, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	it.opened = true
	if err := it.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	s := it.fc.Streams()[it.stream]
	it.tb = s.TimeBase()
	codec := astiav.FindDecoder(s.CodecParameters().CodecID())
	if codec == nil {
		return fmt.Errorf("%w: no decoder for %v", ErrUnsupportedMedia, s.CodecParameters().CodecID())
	}
	it.cc = astiav.AllocCodecContext(codec)
	if err := s.CodecParameters().ToCodecContext(it.cc); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if err := it.cc.Open(codec, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return nil
}

func (it *avIterator) pts(ts int64) time.Duration {
	return time.Duration(ts * int64(time.Second) * int64(it.tb.Num()) / int64(it.tb.Den()))
}

// decode returns with the next picture in it.raw.
func (it *avIterator) decode() error {
	for {
		it.raw.Unref()
		err := it.cc.ReceiveFrame(it.raw)
		switch {
		case err == nil:
			if pts := it.pts(it.raw.Pts()); pts < it.skipUntil {
				continue
			}
			it.skipUntil = 0
			return nil
		case errors.Is(err, astiav.ErrEof):
			return ErrEndOfStream
		case !errors.Is(err, astiav.ErrEagain):
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
		if err := it.feed(); err != nil {
			return err
		}
	}
}

// feed sends the next packet of the stream to the decoder.
func (it *avIterator) feed() error {
	if it.eof {
		return ErrEndOfStream
	}
	for {
		it.pkt.Unref()
		if err := it.fc.ReadFrame(it.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				it.eof = true
				// drain
				if err := it.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
					return fmt.Errorf("%w: %w", ErrInternal, err)
				}
				return nil
			}
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
		if it.pkt.StreamIndex() != it.stream {
			continue
		}
		if err := it.cc.SendPacket(it.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
		return nil
	}
}

func (it *avIterator) Next() (*video.Frame, Metadata, error) {
	if err := it.decode(); err != nil {
		return nil, Metadata{}, err
	}
	img, err := it.raw.Data().GuessImageFormat()
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %w", ErrUnsupportedMedia, err)
	}
	if err := it.raw.Data().ToImage(img); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if err := fill(it.frame, img); err != nil {
		return nil, Metadata{}, err
	}
	md := Metadata{Index: it.n, PTS: it.pts(it.raw.Pts()), Duration: it.rate.FrameTime()}
	it.frame.PTS = md.PTS
	it.n++
	return it.frame, md, nil
}

func (it *avIterator) SkipFrame() error {
	if err := it.decode(); err != nil {
		return err
	}
	it.n++
	return nil
}

func (it *avIterator) SeekTo(t time.Duration) error {
	ts := int64(t) * int64(it.tb.Den()) / (int64(it.tb.Num()) * int64(time.Second))
	flags := astiav.NewSeekFlags(astiav.SeekFlagBackward)
	if err := it.fc.SeekFrame(it.stream, ts, flags); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	it.cc.FlushBuffers()
	it.eof = false
	// seeking lands on a key frame before t
	it.skipUntil = t
	return nil
}

func (it *avIterator) Close() error {
	if it.cc != nil {
		it.cc.Free()
	}
	if it.opened {
		it.fc.CloseInput()
	}
	it.fc.Free()
	it.pkt.Free()
	it.raw.Free()
	return nil
}
