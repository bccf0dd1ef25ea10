package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/helixchat/helix/internal/common/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry   *prometheus.Registry
	namespace  string
	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec
	streamCnt  *prometheus.CounterVec
	streamDur  *prometheus.HistogramVec
	streamInfl prometheus.Gauge
	retryCnt   prometheus.Counter
	cacheCnt   *prometheus.CounterVec
	admitCnt   *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	streamCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "relay_streams_total"}, []string{"outcome"})
	streamDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "relay_stream_duration_seconds", Buckets: cfg.Buckets}, []string{"outcome"})
	streamInfl := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "relay_streams_inflight"})
	retryCnt := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "relay_upstream_retries_total"})
	r.MustRegister(streamCnt, streamDur, streamInfl, retryCnt)

	cacheCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "cache_requests_total"}, []string{"result"})
	admitCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ratelimit_decisions_total"}, []string{"decision"})
	r.MustRegister(cacheCnt, admitCnt)

	return &Metrics{
		registry:   r,
		namespace:  ns,
		httpReqCnt: httpReqCnt,
		httpDur:    httpDur,
		httpInfl:   httpInfl,
		streamCnt:  streamCnt,
		streamDur:  streamDur,
		streamInfl: streamInfl,
		retryCnt:   retryCnt,
		cacheCnt:   cacheCnt,
		admitCnt:   admitCnt,
	}
}

// StreamStart marks a relay stream as in flight.
func (m *Metrics) StreamStart() {
	m.streamInfl.Inc()
}

// StreamDone records a finished relay stream. Outcome is one of
// "done", "error", "cancelled".
func (m *Metrics) StreamDone(outcome string, since time.Time) {
	m.streamCnt.WithLabelValues(outcome).Inc()
	m.streamDur.WithLabelValues(outcome).Observe(time.Since(since).Seconds())
	m.streamInfl.Dec()
}

// UpstreamRetry records one retried upstream attempt.
func (m *Metrics) UpstreamRetry() {
	m.retryCnt.Inc()
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() { m.cacheCnt.WithLabelValues("hit").Inc() }

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() { m.cacheCnt.WithLabelValues("miss").Inc() }

// Admitted records a rate limiter decision.
func (m *Metrics) Admitted(allowed bool) {
	if allowed {
		m.admitCnt.WithLabelValues("allowed").Inc()
	} else {
		m.admitCnt.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
