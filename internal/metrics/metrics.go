// Package metrics holds the Prometheus counters of the publishing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bilgisen/chanpost/internal/models"
)

const namespace = "chanpost"

// Cycle outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	PostsPublished     *prometheus.CounterVec
	PostsSkipped       *prometheus.CounterVec
	RewriteFallbacks   *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	CollectionFailures *prometheus.CounterVec
	Cycles             *prometheus.CounterVec
}

// New creates and registers the counters on reg. A nil reg means the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	bySource := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"source"})
	}

	cycles := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Publishing cycles by outcome",
	}, []string{"outcome"})

	return &Metrics{
		PostsPublished:     bySource("posts_published_total", "Posts sent to the channel and recorded"),
		PostsSkipped:       bySource("posts_skipped_total", "Items skipped because they were already published"),
		RewriteFallbacks:   bySource("rewrite_fallbacks_total", "Posts built from item fields after a failed rewrite"),
		PublishFailures:    bySource("publish_failures_total", "Sends rejected by the channel or failed in transport"),
		CollectionFailures: bySource("collection_failures_total", "Collector runs that failed"),
		Cycles:             cycles,
	}
}

func (m *Metrics) Published(source models.SourceTag) {
	if m == nil {
		return
	}
	m.PostsPublished.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) Skipped(source models.SourceTag) {
	if m == nil {
		return
	}
	m.PostsSkipped.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) Fallback(source models.SourceTag) {
	if m == nil {
		return
	}
	m.RewriteFallbacks.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) PublishFailed(source models.SourceTag) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) CollectionFailed(source models.SourceTag) {
	if m == nil {
		return
	}
	m.CollectionFailures.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) Cycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}
