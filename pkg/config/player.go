package config

import (
	"io"
	"time"

	"github.com/spf13/pflag"
)

type PlayerConfig struct {
	Player struct {
		// Input is a video file path.
		Input  string
		Stream int
		// Format of the output frames: rgba, bgra, i420.
		Format string `default:"rgba"`
		// Fps is the rate of the render loop, not of the video.
		Fps     float64 `default:"60"`
		Width   int
		Height  int
		Threads int
		// Duration stops the playback early when set.
		Duration time.Duration
	}
	Playback   Playback
	Snapshot   Snapshot
	Log        Log
	Monitoring Monitoring
}

type Playback struct {
	Seek          bool
	Drop          bool
	MaxQueued     int           `default:"8"`
	SeekThreshold time.Duration `default:"5s"`
}

type Snapshot struct {
	Enabled   bool
	Dir       string `default:"snapshots"`
	Name      string `default:"%date:20060102-150405%"`
	Every     int    `default:"1"`
	Ext       string `default:"png"`
	Quality   int    `default:"90"`
	MaxWidth  int
	MaxHeight int
	Stamp     bool
}

type Log struct {
	Debug   bool
	Json    bool
	NoColor bool
	Tag     string `default:"player"`
}

type Monitoring struct {
	Host             string
	Port             int
	URLPrefix        string
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

// NewConfig loads the config file and applies command line flags over it.
// A config folder is set with the -c flag.
func NewConfig(args []string) (*PlayerConfig, error) {
	path := configPath(args)
	var conf PlayerConfig
	if err := LoadConfig(&conf, path); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("player", pflag.ContinueOnError)
	fs.StringP("conf", "c", path, "Set custom configuration file path")
	conf.WithFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if conf.Player.Input == "" {
		conf.Player.Input = fs.Arg(0)
	}
	return &conf, nil
}

func (c *PlayerConfig) WithFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Player.Input, "input", "i", c.Player.Input, "Video file to play")
	fs.IntVar(&c.Player.Stream, "stream", c.Player.Stream, "Video stream index")
	fs.StringVarP(&c.Player.Format, "format", "f", c.Player.Format, "Output pixel format [rgba, bgra, i420]")
	fs.Float64Var(&c.Player.Fps, "fps", c.Player.Fps, "Render loop rate")
	fs.IntVar(&c.Player.Width, "width", c.Player.Width, "Output width, 0 keeps the video size")
	fs.IntVar(&c.Player.Height, "height", c.Player.Height, "Output height, 0 keeps the video size")
	fs.IntVar(&c.Player.Threads, "threads", c.Player.Threads, "Conversion threads, 0 for all CPUs")
	fs.DurationVar(&c.Player.Duration, "duration", c.Player.Duration, "Stop after the time")
	fs.BoolVar(&c.Playback.Seek, "seek", c.Playback.Seek, "Seek forward when far behind")
	fs.BoolVar(&c.Playback.Drop, "drop", c.Playback.Drop, "Drop frames when behind")
	fs.IntVar(&c.Playback.MaxQueued, "queue", c.Playback.MaxQueued, "Max number of frames queued ahead")
	fs.DurationVar(&c.Playback.SeekThreshold, "seekThreshold", c.Playback.SeekThreshold, "Lag which triggers a seek")
	fs.BoolVar(&c.Snapshot.Enabled, "snapshot", c.Snapshot.Enabled, "Save displayed frames")
	fs.StringVar(&c.Snapshot.Dir, "snapshot.dir", c.Snapshot.Dir, "Snapshot folder")
	fs.IntVar(&c.Snapshot.Every, "snapshot.every", c.Snapshot.Every, "Save each n-th displayed frame")
	fs.BoolVarP(&c.Log.Debug, "debug", "d", c.Log.Debug, "Debug logs")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
}

// configPath looks up the config folder flag ignoring the rest.
func configPath(args []string) string {
	var path string
	fs := pflag.NewFlagSet("conf", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.StringVarP(&path, "conf", "c", "", "")
	_ = fs.Parse(args)
	return path
}
