package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"unimap-shuttle/internal/config"
	"unimap-shuttle/internal/correlator"
	"unimap-shuttle/internal/db"
	"unimap-shuttle/internal/handler"
	"unimap-shuttle/internal/lifecycle"
	"unimap-shuttle/internal/logging"
	"unimap-shuttle/internal/metrics"
	"unimap-shuttle/internal/middleware"
	"unimap-shuttle/internal/profiling"
	"unimap-shuttle/internal/publisher"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
	"unimap-shuttle/internal/tracing"
	"unimap-shuttle/internal/tracking"
	"unimap-shuttle/internal/window"
)

func main() {
	log := logging.InitLogging()

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.InitTracing(ctx, "shuttled", cfg.OTLPEndpoint, cfg.OTLPProtocol)
	if err != nil {
		log.Error("tracing error", "err", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	stopProfiling, _ := profiling.InitProfiling("shuttled")
	defer stopProfiling()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("shuttled stopped", "err", err)
		cancel()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	policy := window.Policy{Lead: cfg.StartLead, Grace: cfg.StartGrace}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.StartLead, cfg.StartGrace, cfg.SweepInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Store and publisher share one NATS connection.
	var (
		st       store.Store
		notifier lifecycle.Notifier
		display  correlator.Publisher
	)
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, nothing survives a restart")
		st = store.NewMemory()
	default:
		nc, err := publisher.Connect(cfg.NATSURL, "shuttled", wrapPublisherMetrics(mcol), log)
		if err != nil {
			return err
		}
		defer nc.Close()
		kv, err := store.OpenKV(ctx, nc, cfg.KVBucket, log)
		if err != nil {
			return err
		}
		st = kv
		pub := publisher.NewNATSPublisher(nc, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), log)
		defer pub.Close()
		notifier, display = pub, pub
		log.Info("connected to NATS", "url", redactNATS(nc), "bucket", cfg.KVBucket)
	}
	defer st.Close()

	// Driver directory
	var dir *db.Directory
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			return err
		}
		dir = db.NewDirectory(sqlDB)
		if err := dir.EnsureSchema(ctx); err != nil {
			return err
		}
		safe, _ := db.Redact(cfg.DatabaseURL)
		log.Info("driver directory ready", "dsn", safe)
	} else {
		log.Warn("DATABASE_URL not set, assignments must carry a driver name")
	}

	opts := []lifecycle.Option{
		lifecycle.WithPolicy(policy),
		lifecycle.WithLocation(cfg.Location),
		lifecycle.WithLogger(log),
	}
	if dir != nil {
		opts = append(opts, lifecycle.WithDirectory(dir))
	}
	if notifier != nil {
		opts = append(opts, lifecycle.WithNotifier(notifier))
	}
	if mcol != nil {
		opts = append(opts, lifecycle.WithMetrics(&lifecycleMetrics{c: mcol}))
	}
	lc := lifecycle.New(st, opts...)

	// Expire what was missed while we were down, then keep sweeping if asked.
	if _, err := lc.ExpirySweep(ctx, lc.Now()); err != nil {
		log.Error("startup expiry sweep failed", "err", err)
	}

	var wg sync.WaitGroup
	if cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lc.RunSweeper(ctx, cfg.SweepInterval)
		}()
	}

	corr := correlator.New(st, st, display, cfg.Location, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := corr.Run(ctx); err != nil {
			log.Error("correlator stopped", "err", err)
		}
	}()

	deps := handler.Deps{
		Lifecycle: lc,
		Tracker:   tracking.NewRegistry(lc, st, log),
		Positions: st,
		Display:   corr,
		Log:       log,
	}
	var rec middleware.Recorder
	if dir != nil {
		deps.Directory = dir
	}
	if mcol != nil {
		deps.Counter = &positionCounter{c: mcol}
		rec = &httpMetrics{c: mcol}
	}
	engine := handler.NewEngine(handler.New(deps), log, rec, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(engine, "shuttled"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until context cancelled or the server fails
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return serveErr
}

func redactNATS(nc *nats.Conn) string {
	if u := nc.ConnectedUrlRedacted(); u != "" {
		return u
	}
	return "unknown"
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

type lifecycleMetrics struct{ c *metrics.Collector }

func (l *lifecycleMetrics) TransitionInc(to shuttle.Status) {
	l.c.Transitions.WithLabelValues(string(to)).Inc()
}

func (l *lifecycleMetrics) RejectInc(reason string) { l.c.Rejections.WithLabelValues(reason).Inc() }

func (l *lifecycleMetrics) SweepObserve(r lifecycle.SweepReport, d time.Duration) {
	l.c.SweepRuns.Inc()
	l.c.SweepExpired.Add(float64(r.Expired))
	l.c.SweepFailed.Add(float64(r.Failed))
	l.c.SweepDuration.Observe(d.Seconds())
}

type httpMetrics struct{ c *metrics.Collector }

func (h *httpMetrics) ObserveRequest(method, route, code string, d time.Duration) {
	h.c.HTTPRequests.WithLabelValues(method, route, code).Inc()
	h.c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

type positionCounter struct{ c *metrics.Collector }

func (p *positionCounter) PositionReported(r shuttle.Route) {
	p.c.PositionReports.WithLabelValues(r.Token()).Inc()
}
