package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Transitions *prometheus.CounterVec // status label
	Rejections  *prometheus.CounterVec // reason label: invalid|past|driver_busy|route_taken|duplicate_key|bus_in_use

	SweepRuns     prometheus.Counter
	SweepExpired  prometheus.Counter
	SweepFailed   prometheus.Counter
	SweepDuration prometheus.Histogram

	PositionReports *prometheus.CounterVec // route label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec // method, path, code
	HTTPDuration *prometheus.HistogramVec

	StartLeadMinutes  prometheus.Gauge
	StartGraceMinutes prometheus.Gauge
	SweepInterval     prometheus.Gauge // seconds, 0 when periodic sweeps are off
}

func NewCollector(lead, grace, sweepInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_assignment_transitions_total",
			Help: "Assignment status changes, by resulting status.",
		}, []string{"status"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_assignment_rejections_total",
			Help: "Assignment creations refused, by reason.",
		}, []string{"reason"}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_expiry_sweeps_total",
			Help: "Completed expiry sweeps.",
		}),
		SweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_expiry_sweep_expired_total",
			Help: "Assignments expired by sweeps.",
		}),
		SweepFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_expiry_sweep_failed_total",
			Help: "Assignments a sweep failed to expire.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_expiry_sweep_duration_seconds",
			Help:    "Duration of an expiry sweep.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PositionReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_position_reports_total",
			Help: "Live position samples received, by route.",
		}, []string{"route"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shuttle_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shuttle_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shuttle_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "path", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shuttle_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		StartLeadMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_start_lead_minutes",
			Help: "Minutes before departure a route may be started.",
		}),
		StartGraceMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_start_grace_minutes",
			Help: "Minutes after departure a route may still be started.",
		}),
		SweepInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_sweep_interval_seconds",
			Help: "Periodic expiry sweep interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Transitions, c.Rejections,
		c.SweepRuns, c.SweepExpired, c.SweepFailed, c.SweepDuration,
		c.PositionReports,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests, c.HTTPDuration,
		c.StartLeadMinutes, c.StartGraceMinutes, c.SweepInterval,
	)

	c.StartLeadMinutes.Set(lead.Minutes())
	c.StartGraceMinutes.Set(grace.Minutes())
	c.SweepInterval.Set(sweepInterval.Seconds())

	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("metrics listening", "addr", addr)
	return srv
}
