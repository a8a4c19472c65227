package sink

import (
	"context"
	"time"

	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsReporter exports frame results as Prometheus metrics
type MetricsReporter struct {
	frames     prometheus.Counter
	newObjects prometheus.Counter
	reappeared prometheus.Counter
	evicted    prometheus.Counter
	warnings   *prometheus.CounterVec
	fps        prometheus.Gauge
	objects    prometheus.Gauge
	missing    prometheus.Gauge
}

// NewMetricsReporter registers metrics in reg. Nil reg means prometheus.DefaultRegisterer
func NewMetricsReporter(reg prometheus.Registerer) *MetricsReporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsReporter{
		frames: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_frames_total",
			Help: "Total number of processed frames",
		}),
		newObjects: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_new_objects_total",
			Help: "Total number of identities observed for the first time",
		}),
		reappeared: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_reappeared_objects_total",
			Help: "Total number of known identities observed again after absence",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_evicted_records_total",
			Help: "Total number of records removed by retention policy",
		}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_warnings_total",
			Help: "Recovered per-detection problems",
		}, []string{"kind"}),
		fps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_fps",
			Help: "Current frame rate estimate",
		}),
		objects: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_objects",
			Help: "Number of identities observed on the last frame",
		}),
		missing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_missing_objects",
			Help: "Number of known identities not observed on the last frame",
		}),
	}
}

// Report implements Reporter
func (m *MetricsReporter) Report(_ context.Context, result *presence.FrameResult) error {
	m.frames.Inc()
	m.newObjects.Add(float64(len(result.New)))
	m.reappeared.Add(float64(len(result.Reappeared)))
	m.evicted.Add(float64(len(result.Evicted)))
	m.fps.Set(result.FPS)
	m.objects.Set(float64(len(result.Current)))
	m.missing.Set(float64(len(result.Missing)))
	for _, warning := range result.Warnings {
		m.warnings.WithLabelValues(warningKind(warning)).Inc()
	}
	return nil
}

// Archive implements Archiver
func (m *MetricsReporter) Archive(_ context.Context, summaries []presence.Summary, _ time.Time) error {
	m.evicted.Add(float64(len(summaries)))
	return nil
}

func warningKind(err error) string {
	switch {
	case errors.Is(err, presence.ErrInvalidClassIndex):
		return "invalid_class"
	case errors.Is(err, presence.ErrMalformedDetection):
		return "malformed"
	default:
		return "other"
	}
}
