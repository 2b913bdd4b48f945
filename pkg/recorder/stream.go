package recorder

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/framepump/framepump/pkg/logger"
	"github.com/hashicorp/go-multierror"
)

type imageStream struct {
	demux *os.File
	w     *bufio.Writer

	buf      chan Frame
	done     chan struct{}
	dir      string
	ext      string
	format   imaging.Format
	opts     Options
	sequence uint32
	errs     *multierror.Error
	log      *logger.Logger
}

const (
	demuxFile = "input.txt"
	imageFile = "f%05d.%v"
)

func newImageStream(dir string, format imaging.Format, opts Options) (*imageStream, error) {
	demux, err := os.OpenFile(filepath.Join(dir, demuxFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(demux)
	// ffmpeg concat demuxer, see: https://ffmpeg.org/ffmpeg-formats.html#concat
	if _, err = fmt.Fprintf(w, "ffconcat version 1.0\n# d: %v, f: %v\n\n", time.Now().Format("20060102"), format); err != nil {
		return nil, multierror.Append(err, demux.Close())
	}
	return &imageStream{
		demux:  demux,
		w:      w,
		buf:    make(chan Frame, 1),
		done:   make(chan struct{}),
		dir:    dir,
		ext:    opts.Ext,
		format: format,
		opts:   opts,
		log:    opts.Log,
	}, nil
}

func (s *imageStream) Start() {
	defer close(s.done)
	for frame := range s.buf {
		if err := s.save(frame); err != nil {
			s.errs = multierror.Append(s.errs, err)
			s.log.Error().Err(err).Msg("Image write failed")
		}
	}
}

func (s *imageStream) Stop() error {
	close(s.buf)
	<-s.done
	result := s.errs
	result = multierror.Append(result, s.w.Flush())
	result = multierror.Append(result, s.demux.Close())
	return result.ErrorOrNil()
}

func (s *imageStream) Write(frame Frame) { s.buf <- frame }

func (s *imageStream) save(frame Frame) error {
	var img image.Image = frame.Image
	if s.opts.MaxWidth > 0 && s.opts.MaxHeight > 0 {
		img = imaging.Fit(img, s.opts.MaxWidth, s.opts.MaxHeight, imaging.Lanczos)
	}
	if s.opts.Stamp {
		rgba := clone(img)
		AddLabel(rgba, 0, rgba.Bounds().Dy()-labelHeight, TimeFormat(frame.PTS))
		img = rgba
	}

	name := fmt.Sprintf(imageFile, s.nextSeq(), s.ext)
	if err := imaging.Save(img, filepath.Join(s.dir, name), imaging.JPEGQuality(s.opts.Quality)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.w, "file %v\nduration %v\n", name, frame.Duration.Seconds())
	return err
}

func (s *imageStream) nextSeq() uint32 { return atomic.AddUint32(&s.sequence, 1) }
