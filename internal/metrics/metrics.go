// Package metrics instruments the swim engine with Prometheus collectors:
// one collector per engine concern, registered once at construction.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orbitmesh/swim"
)

// Recorder is a swim.MetricsRecorder backed by Prometheus collectors scoped
// to a single member's engine. Construct one per swim.Context.
type Recorder struct {
	tick        *prometheus.CounterVec
	glitches    prometheus.Counter
	glitchDelay prometheus.Histogram
	bootstraps  prometheus.Counter
	suspects    prometheus.Counter
	deaths      prometheus.Counter
	piggyback   prometheus.Histogram
	queueDepth  *prometheus.GaugeVec
}

// New registers a Recorder's collectors against reg, namespaced "swim".
// Passing prometheus.DefaultRegisterer exposes them process-wide.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		tick: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "tick_total",
			Help:      "Progress loop iterations, by state-machine phase.",
		}, []string{"state"}),
		glitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "glitches_total",
			Help:      "Number of times Progress detected it was re-entered late.",
		}),
		glitchDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swim",
			Name:      "glitch_delay_seconds",
			Help:      "Size of detected host-scheduling glitches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		bootstraps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "bootstraps_total",
			Help:      "Members that completed INACTIVE to ALIVE bootstrap.",
		}),
		suspects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "suspects_total",
			Help:      "Members placed under suspicion.",
		}),
		deaths: f.NewCounter(prometheus.CounterOpts{
			Namespace: "swim",
			Name:      "deaths_total",
			Help:      "Members marked DEAD.",
		}),
		piggyback: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swim",
			Name:      "piggyback_entries",
			Help:      "Number of update entries packed per outbound message.",
			Buckets:   prometheus.LinearBuckets(0, 1, swim.PiggybackEntries+4),
		}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swim",
			Name:      "queue_depth",
			Help:      "In-core queue sizes after each Progress iteration.",
		}, []string{"queue"}),
	}
}

func (r *Recorder) ObserveTick(state string) { r.tick.WithLabelValues(state).Inc() }

func (r *Recorder) ObserveGlitch(d time.Duration) {
	r.glitches.Inc()
	r.glitchDelay.Observe(d.Seconds())
}

func (r *Recorder) ObserveBootstrap(swim.MemberID) { r.bootstraps.Inc() }
func (r *Recorder) ObserveSuspect(swim.MemberID)   { r.suspects.Inc() }
func (r *Recorder) ObserveDead(swim.MemberID)      { r.deaths.Inc() }

func (r *Recorder) ObservePiggyback(n int) { r.piggyback.Observe(float64(n)) }

func (r *Recorder) ObserveQueueDepth(updates, suspects, ipings int) {
	r.queueDepth.WithLabelValues("updates").Set(float64(updates))
	r.queueDepth.WithLabelValues("suspects").Set(float64(suspects))
	r.queueDepth.WithLabelValues("ipings").Set(float64(ipings))
}

var _ swim.MetricsRecorder = (*Recorder)(nil)
