// Package source opens video containers and iterates over decoded frames.
package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/framepump/framepump/pkg/video"
)

var (
	ErrInvalidParameter = errors.New("source: invalid parameter")
	ErrInternal         = errors.New("source: internal error")
	ErrIndexOutOfBounds = errors.New("source: stream index out of bounds")
	ErrUnsupportedMedia = errors.New("source: unsupported media")
	ErrEndOfStream      = errors.New("source: end of stream")
)

type MediaType uint8

const (
	Video MediaType = iota
	Audio
)

func (m MediaType) String() string {
	switch m {
	case Video:
		return "video"
	case Audio:
		return "audio"
	}
	return "unknown"
}

type Resolution struct {
	W, H int
}

func (r Resolution) String() string { return fmt.Sprintf("%vx%v", r.W, r.H) }

// Rational is a frame rate of Num frames per Den seconds.
type Rational struct {
	Num, Den int
}

func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

// FrameTime returns the display duration of one frame.
func (r Rational) FrameTime() time.Duration {
	if !r.Valid() {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(r.Den) / int64(r.Num))
}

// Nth returns the presentation time of the frame number n.
func (r Rational) Nth(n int64) time.Duration {
	if !r.Valid() {
		return 0
	}
	return time.Duration(n * int64(time.Second) * int64(r.Den) / int64(r.Num))
}

func (r Rational) String() string { return fmt.Sprintf("%v/%v", r.Num, r.Den) }

// StreamType describes a stream of a container.
type StreamType struct {
	Media      MediaType
	FrameRate  Rational
	Format     video.PixFmt
	Resolution Resolution
}

// Metadata goes along with every decoded frame.
type Metadata struct {
	// Index is the number of the frame in the stream.
	Index int64
	// PTS is the presentation time relative to the stream start.
	PTS      time.Duration
	Duration time.Duration
}

// Source is an opened container.
type Source interface {
	// Streams returns the number of streams.
	Streams() int
	Resolution(stream int) (Resolution, error)
	StreamType(stream int) (StreamType, error)
	// Iterator starts decoding of the stream from its beginning.
	Iterator(media MediaType, stream int) (Iterator, error)
	Close() error
}

// Iterator decodes frames of one stream in presentation order.
type Iterator interface {
	// Next returns the next decoded frame.
	// The frame is owned by the iterator and stays valid until the next call.
	// It returns ErrEndOfStream after the last frame.
	Next() (*video.Frame, Metadata, error)
	// SeekTo moves the iterator so the next frame is the first frame
	// presented at or after the t time.
	SeekTo(t time.Duration) error
	// SkipFrame decodes and discards one frame.
	SkipFrame() error
	Close() error
}

// OpenFunc opens a container file.
type OpenFunc func(path string) (Source, error)

var (
	mu       sync.RWMutex
	registry = map[string]OpenFunc{}
)

// Register adds a container opener for the file extension (with the dot).
// The empty extension registers a fallback for unknown files.
func Register(ext string, fn OpenFunc) {
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(ext)] = fn
}

// Formats returns the registered extensions.
func Formats() (exts []string) {
	mu.RLock()
	defer mu.RUnlock()
	for k := range registry {
		if k != "" {
			exts = append(exts, k)
		}
	}
	return
}

// Open opens the container choosing the reader by the file extension.
func Open(path string) (Source, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidParameter)
	}
	mu.RLock()
	fn, ok := registry[strings.ToLower(filepath.Ext(path))]
	if !ok {
		fn, ok = registry[""]
	}
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, filepath.Ext(path))
	}
	return fn(path)
}

func checkStream(stream, n int) error {
	if stream < 0 || stream >= n {
		return fmt.Errorf("%w: %v of %v", ErrIndexOutOfBounds, stream, n)
	}
	return nil
}
