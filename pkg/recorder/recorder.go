// Package recorder saves displayed video frames as a sequence of images
// along with an ffmpeg concat demuxer script which turns them back into a video.
package recorder

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/framepump/framepump/pkg/logger"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrNotRecording = errors.New("recorder: not recording")
	ErrBusy         = errors.New("recorder: folder is used by another recording")
)

const lockFile = ".lock"

type Recording struct {
	sync.Mutex

	enabled bool
	stream  *imageStream
	lock    *flock.Flock
	frames  int
	saved   int

	dir     string
	saveDir string
	format  imaging.Format
	opts    Options
	log     *logger.Logger
}

// Frame is a displayed picture, it's copied on write.
type Frame struct {
	Image    image.Image
	PTS      time.Duration
	Duration time.Duration
}

// naming regexp
var (
	reDate = regexp.MustCompile(`%date:(.*?)%`)
	reRand = regexp.MustCompile(`%rand:(\d+)%`)
)

// NewRecording creates a recorder writing into the options Dir.
//
// Example of conversion:
//
//	ffmpeg -f concat -i ./snapshots/20210101-120000/input.txt -pix_fmt yuv420p out.mp4
func NewRecording(options ...Option) (*Recording, error) {
	opts := defaultOptions()
	opts.override(options...)
	if opts.Every < 1 {
		opts.Every = 1
	}
	opts.Ext = strings.TrimPrefix(opts.Ext, ".")
	format, err := imaging.FormatFromExtension(opts.Ext)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}

	savePath, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(savePath, 0755); err != nil {
		return nil, err
	}
	return &Recording{dir: savePath, format: format, opts: opts, log: opts.Log}, nil
}

// Start opens a new recording folder.
func (r *Recording) Start() error {
	r.Lock()
	defer r.Unlock()
	if r.enabled {
		return nil
	}

	r.saveDir = parseName(r.opts.Name)
	path := filepath.Join(r.dir, r.saveDir)
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(path, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("%w: %v", ErrBusy, path)
	}
	stream, err := newImageStream(path, r.format, r.opts)
	if err != nil {
		return multierror.Append(err, lock.Unlock())
	}
	r.stream = stream
	r.lock = lock
	r.frames, r.saved = 0, 0
	r.enabled = true
	r.log.Info().Str("path", path).Msg("Recording started")

	go r.stream.Start()
	return nil
}

// Stop waits until all queued images are saved.
func (r *Recording) Stop() error {
	r.Lock()
	defer r.Unlock()
	if !r.enabled {
		return nil
	}
	r.enabled = false
	var result *multierror.Error
	result = multierror.Append(result, r.stream.Stop())
	result = multierror.Append(result, r.lock.Unlock())
	result = multierror.Append(result, os.Remove(r.lock.Path()))
	r.stream, r.lock = nil, nil
	err := result.ErrorOrNil()
	r.log.Info().Int("images", r.saved).Err(err).Msg("Recording stopped")
	return err
}

func (r *Recording) Set(enable bool) error {
	if enable {
		return r.Start()
	}
	return r.Stop()
}

func (r *Recording) Enabled() bool {
	r.Lock()
	defer r.Unlock()
	return r.enabled
}

// Dir returns the folder of the current or the last recording.
func (r *Recording) Dir() string {
	r.Lock()
	defer r.Unlock()
	return filepath.Join(r.dir, r.saveDir)
}

// Write queues each n-th frame for saving.
// The image is copied so the caller may reuse it right away.
func (r *Recording) Write(frame Frame) error {
	r.Lock()
	defer r.Unlock()
	if !r.enabled {
		return ErrNotRecording
	}
	r.frames++
	if (r.frames-1)%r.opts.Every != 0 {
		return nil
	}
	r.saved++
	r.stream.Write(Frame{
		Image:    imaging.Clone(frame.Image),
		PTS:      frame.PTS,
		Duration: frame.Duration * time.Duration(r.opts.Every),
	})
	return nil
}

func parseName(name string) (out string) {
	if d := reDate.FindStringSubmatch(name); d != nil {
		out = reDate.ReplaceAllString(name, time.Now().Format(d[1]))
	} else {
		out = name
	}
	if rnd := reRand.FindStringSubmatch(out); rnd != nil {
		out = reRand.ReplaceAllString(out, random(rnd[1]))
	}
	return
}

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func random(num string) string {
	n, err := strconv.Atoi(num)
	if err != nil {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Int63()%int64(len(letterBytes))]
	}
	return string(b)
}
