package recorder

import "github.com/framepump/framepump/pkg/logger"

type Options struct {
	// Dir is the root folder for the recordings.
	Dir string
	// Name of a recording folder, supports %date:layout% and %rand:n% tags.
	Name string
	// Every keeps each n-th written frame.
	Every int
	// Ext is an image file extension supported by imaging (png, jpg, bmp...).
	Ext string
	// Quality of JPEG images.
	Quality int
	// MaxWidth and MaxHeight make images fit into the box when set.
	MaxWidth  int
	MaxHeight int
	// Stamp draws the frame time over the image.
	Stamp bool
	Log   *logger.Logger
}

type Option func(*Options)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func defaultOptions() Options {
	return Options{
		Dir:     "snapshots",
		Name:    "%date:20060102-150405%",
		Every:   1,
		Ext:     "png",
		Quality: 90,
		Log:     logger.Nop(),
	}
}

func WithDir(dir string) Option { return func(o *Options) { o.Dir = dir } }
func WithName(name string) Option { return func(o *Options) { o.Name = name } }
func WithEvery(n int) Option { return func(o *Options) { o.Every = n } }
func WithExt(ext string) Option { return func(o *Options) { o.Ext = ext } }
func WithQuality(q int) Option { return func(o *Options) { o.Quality = q } }
func WithStamp(stamp bool) Option { return func(o *Options) { o.Stamp = stamp } }
func WithLogger(l *logger.Logger) Option { return func(o *Options) { o.Log = l } }

func WithMaxSize(w, h int) Option {
	return func(o *Options) { o.MaxWidth, o.MaxHeight = w, h }
}
