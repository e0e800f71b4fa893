package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rss_relay"

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     prometheus.Counter
	runDuration   prometheus.Histogram
	lastRun       prometheus.Gauge
	fetchTotal    *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	fetchSkipped  prometheus.Counter
	itemsTotal    prometheus.Counter
	postsTotal    *prometheus.CounterVec
	seenKeys      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of completed relay runs",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Relay run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last relay run finished",
		}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Total number of completed feed fetches by outcome",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Feed fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "skipped_total",
			Help:      "Total number of fetches abandoned because the fetch budget ran out",
		}),
		itemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_parsed_total",
			Help:      "Total number of feed items parsed",
		}),
		postsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "posts_total",
			Help:      "Total number of webhook posts by status",
		}, []string{"status"}),
		seenKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_keys",
			Help:      "Number of keys in the seen store after the last run",
		}),
	}

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.lastRun,
		m.fetchTotal, m.fetchDuration, m.fetchSkipped,
		m.itemsTotal, m.postsTotal, m.seenKeys,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration, items int) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(d.Seconds())
	m.itemsTotal.Add(float64(items))
}

func (m *Metrics) ObserveSkipped(n int) {
	if m == nil {
		return
	}
	m.fetchSkipped.Add(float64(n))
}

func (m *Metrics) ObservePost(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	m.postsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRun(d time.Duration, seenKeys int) {
	if m == nil {
		return
	}
	m.runsTotal.Inc()
	m.runDuration.Observe(d.Seconds())
	m.lastRun.SetToCurrentTime()
	m.seenKeys.Set(float64(seenKeys))
}
