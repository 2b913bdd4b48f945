package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framepump/framepump/pkg/config"
	"github.com/framepump/framepump/pkg/logger"
	"github.com/framepump/framepump/pkg/monitoring"
	"github.com/framepump/framepump/pkg/playback"
	"github.com/framepump/framepump/pkg/recorder"
	"github.com/framepump/framepump/pkg/service"
	"github.com/framepump/framepump/pkg/thread"
	"github.com/framepump/framepump/pkg/video"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "player: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	conf, err := config.NewConfig(args)
	if err != nil {
		return err
	}

	log := newLogger(conf.Log)
	log.Info().Msgf("version %s", Version)
	log.Debug().Msgf("conf: %+v", conf)

	if conf.Player.Input == "" {
		return errors.New("no input file")
	}
	format, err := video.ParsePixFmt(conf.Player.Format)
	if err != nil {
		return err
	}
	flags := playback.FlagNone
	if conf.Playback.Seek {
		flags |= playback.FlagSeeking
	}
	if conf.Playback.Drop {
		flags |= playback.FlagDropFrames
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pool := thread.NewPool(conf.Player.Threads)
	engine, err := playback.Open(conf.Player.Input, pool, conf.Player.Stream, format, flags,
		playback.WithLogger(log),
		playback.WithRegisterer(reg),
		playback.WithMaxQueuedFrames(conf.Playback.MaxQueued),
		playback.WithSeekThreshold(conf.Playback.SeekThreshold),
		playback.WithOutputSize(conf.Player.Width, conf.Player.Height),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("Engine close")
		}
	}()

	var services service.Group
	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, reg, log)
		if err != nil {
			return err
		}
		services.Add(mon)
	}
	services.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := services.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Shutdown")
		}
	}()

	var rec *recorder.Recording
	if conf.Snapshot.Enabled {
		s := conf.Snapshot
		rec, err = recorder.NewRecording(
			recorder.WithDir(s.Dir),
			recorder.WithName(s.Name),
			recorder.WithEvery(s.Every),
			recorder.WithExt(s.Ext),
			recorder.WithQuality(s.Quality),
			recorder.WithMaxSize(s.MaxWidth, s.MaxHeight),
			recorder.WithStamp(s.Stamp),
			recorder.WithLogger(log),
		)
		if err != nil {
			return err
		}
		if err = rec.Start(); err != nil {
			return err
		}
		defer func() {
			if err := rec.Stop(); err != nil {
				log.Error().Err(err).Msg("Snapshots")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if conf.Player.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, conf.Player.Duration)
		defer cancel()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			log.Info().Msgf("Shutting down [os:%v]", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	err = play(ctx, engine, rec, conf.Player.Fps, log)
	st := engine.Stats()
	log.Info().
		Int64("decoded", st.Decoded).
		Int64("skipped", st.Skipped).
		Int64("seeks", st.Seeks).
		Int64("retired", st.Retired).
		Msg("Playback stats")
	return err
}

// play polls the engine at the render rate until the stream ends.
func play(ctx context.Context, e *playback.Engine, rec *recorder.Recording, fps float64, log *logger.Logger) error {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	shown := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("shown", shown).Msg("Stopped")
			return nil
		case <-ticker.C:
		}

		frame, isNew, err := e.GetCurrentFrame(ctx)
		if frame != nil && isNew {
			shown++
			log.Debug().Dur("pts", frame.PTS).Msg("Frame")
			if rec != nil {
				if err := rec.Write(recorder.Frame{Image: frame.Image(), PTS: frame.PTS, Duration: e.FrameTime()}); err != nil {
					log.Warn().Err(err).Msg("Snapshot skipped")
				}
			}
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, playback.ErrEndOfStream):
				log.Info().Int("shown", shown).Msg("End of playback")
				return nil
			}
			return err
		}
	}
}

func newLogger(conf config.Log) *logger.Logger {
	if conf.Json {
		return logger.New(os.Stderr, conf.Debug)
	}
	return logger.NewConsole(conf.Debug, conf.Tag, conf.NoColor)
}
