package playback

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics of one engine, a nil value records nothing.
type metrics struct {
	decoded prometheus.Counter
	skipped prometheus.Counter
	seeks   prometheus.Counter
	retired prometheus.Counter
	queued  prometheus.Gauge
	free    prometheus.Gauge
	convert prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, id string) *metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"engine": id}, reg))
	return &metrics{
		decoded: f.NewCounter(prometheus.CounterOpts{
			Name: "framepump_frames_decoded_total",
			Help: "Total number of frames decoded and queued",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "framepump_frames_skipped_total",
			Help: "Total number of frames dropped by the decoder to catch up",
		}),
		seeks: f.NewCounter(prometheus.CounterOpts{
			Name: "framepump_seeks_total",
			Help: "Total number of seeks made to catch up",
		}),
		retired: f.NewCounter(prometheus.CounterOpts{
			Name: "framepump_frames_retired_total",
			Help: "Total number of queued frames which display time has passed",
		}),
		queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "framepump_queued_frames",
			Help: "Number of frames waiting for display",
		}),
		free: f.NewGauge(prometheus.GaugeOpts{
			Name: "framepump_free_frames",
			Help: "Number of frame buffers ready for reuse",
		}),
		convert: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "framepump_convert_duration_seconds",
			Help:    "Pixel format conversion duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *metrics) frameDecoded(d time.Duration) {
	if m == nil {
		return
	}
	m.decoded.Inc()
	m.convert.Observe(d.Seconds())
}

func (m *metrics) frameSkipped() {
	if m != nil {
		m.skipped.Inc()
	}
}

func (m *metrics) seek() {
	if m != nil {
		m.seeks.Inc()
	}
}

func (m *metrics) framesRetired(n int) {
	if m != nil && n > 0 {
		m.retired.Add(float64(n))
	}
}

func (m *metrics) queues(queued, free int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(queued))
	m.free.Set(float64(free))
}
