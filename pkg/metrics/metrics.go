package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics holds the Prometheus collectors of the live backend. A nil *Metrics records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	activeProducers   prometheus.Gauge
	envelopesDropped  prometheus.Counter
	wsSessions        prometheus.Gauge
	commentsPosted    prometheus.Counter
	schedulerTicks    prometheus.Counter
	ingestionOutcomes *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_http_errors_total",
			Help: "Total number of HTTP responses with status >= 400",
		}),
		activeProducers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_stream_producers_active",
			Help: "Number of stream producers with a running ingestion task",
		}),
		envelopesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_envelopes_dropped_total",
			Help: "Envelopes dropped because a subscriber or session queue was full",
		}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_websocket_sessions",
			Help: "Open websocket sessions",
		}),
		commentsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_comments_posted_total",
			Help: "Comments accepted into broadcast chat buffers",
		}),
		schedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_discovery_ticks_total",
			Help: "Completed discovery scheduler ticks",
		}),
		ingestionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "live_ingestion_jobs_total",
			Help: "Finished ingestion jobs by outcome",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.activeProducers,
		m.envelopesDropped,
		m.wsSessions,
		m.commentsPosted,
		m.schedulerTicks,
		m.ingestionOutcomes,
	)
	return m
}

func (m *Metrics) SetActiveProducers(n int) {
	if m == nil {
		return
	}
	m.activeProducers.Set(float64(n))
}

func (m *Metrics) IncEnvelopesDropped() {
	if m == nil {
		return
	}
	m.envelopesDropped.Inc()
}

func (m *Metrics) AddWSSessions(delta int) {
	if m == nil {
		return
	}
	m.wsSessions.Add(float64(delta))
}

func (m *Metrics) IncCommentsPosted() {
	if m == nil {
		return
	}
	m.commentsPosted.Inc()
}

func (m *Metrics) IncSchedulerTicks() {
	if m == nil {
		return
	}
	m.schedulerTicks.Inc()
}

func (m *Metrics) IncIngestion(outcome string) {
	if m == nil {
		return
	}
	m.ingestionOutcomes.WithLabelValues(outcome).Inc()
}

// Handler serves the registry. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// RequestMiddleware counts requests and error responses.
func RequestMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		m.requestsTotal.Inc()
		if c.Writer.Status() >= 400 {
			m.errorsTotal.Inc()
		}
	}
}
