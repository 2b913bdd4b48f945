// Package monitoring serves Prometheus metrics and pprof profiles.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/framepump/framepump/pkg/config"
	"github.com/framepump/framepump/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Monitoring struct {
	conf     config.Monitoring
	server   *http.Server
	listener net.Listener
	log      *logger.Logger
}

// New creates new monitoring service listening on the configured port.
// Metrics are gathered from the gatherer or the default registry when nil.
func New(conf config.Monitoring, gatherer prometheus.Gatherer, log *logger.Logger) (*Monitoring, error) {
	if log == nil {
		log = logger.Nop()
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%v:%d", conf.Host, conf.Port))
	if err != nil {
		return nil, err
	}
	addr := listener.Addr().String()

	h := http.NewServeMux()
	if conf.ProfilingEnabled {
		prefix := conf.URLPrefix + "/debug/pprof"
		log.Info().Msgf("Profiling is enabled at %v", addr+prefix)
		h.HandleFunc(prefix+"/", pprof.Index)
		h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
		h.HandleFunc(prefix+"/profile", pprof.Profile)
		h.HandleFunc(prefix+"/symbol", pprof.Symbol)
		h.HandleFunc(prefix+"/trace", pprof.Trace)
		// custom pprof paths render only the index page without explicit handlers
		for _, p := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			h.Handle(prefix+"/"+p, pprof.Handler(p))
		}
	}
	if conf.MetricEnabled {
		metricPath := conf.URLPrefix + "/metrics"
		log.Info().Msgf("Prometheus metric is enabled at %v", addr+metricPath)
		handler := promhttp.Handler()
		if gatherer != nil {
			handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		}
		h.Handle(metricPath, handler)
	}

	return &Monitoring{
		conf: conf,
		server: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		listener: listener,
		log:      log,
	}, nil
}

// Addr returns the actual listen address.
func (m *Monitoring) Addr() string { return m.listener.Addr().String() }

func (m *Monitoring) Run() {
	m.log.Info().Msgf("Starting monitoring server at %v", m.Addr())
	go func() {
		if err := m.server.Serve(m.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("Monitoring server failed")
		}
	}()
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
