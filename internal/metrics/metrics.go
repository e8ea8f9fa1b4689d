package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blog_migrator"

// Metrics собирает счётчики конвейера на отдельном реестре.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions   *prometheus.CounterVec
	Extracted     prometheus.Counter
	Duplicates    prometheus.Counter
	Skipped       prometheus.Counter
	BatchDuration *prometheus.HistogramVec
	DuePosts      prometheus.Gauge
}

// New создаёт метрики и регистрирует их вместе с go/process коллекторами.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Post transitions by stage and outcome (status or error kind)",
		}, []string{"stage", "outcome"}),
		Extracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_extracted_total",
			Help:      "New posts created by extraction",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_duplicate_total",
			Help:      "Extracted articles dropped because the source URL already exists",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_skipped_total",
			Help:      "Malformed articles skipped during extraction",
		}),
		BatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one orchestrator batch",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		DuePosts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_posts",
			Help:      "Scheduled posts found due by the last poll",
		}),
	}
}

// Handler отдаёт /metrics для реестра.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
