// Package application provides dependency injection and lifecycle for the
// leadline services.
package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/leadline/internal/adapters/remote"
	"github.com/jbctechsolutions/leadline/internal/adapters/storage/badger"
	"github.com/jbctechsolutions/leadline/internal/adapters/storage/sqlite"
	"github.com/jbctechsolutions/leadline/internal/adapters/telephony"
	"github.com/jbctechsolutions/leadline/internal/application/callsession"
	"github.com/jbctechsolutions/leadline/internal/application/data"
	"github.com/jbctechsolutions/leadline/internal/application/duplicate"
	"github.com/jbctechsolutions/leadline/internal/application/ports"
	"github.com/jbctechsolutions/leadline/internal/application/syncer"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/config"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/connectivity"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/tracing"
)

// feedRetryDelay is the pause before reconnecting a dropped change feed.
const feedRetryDelay = 5 * time.Second

// Container holds all application dependencies and manages their lifecycle.
// Services are built in NewContainer; background loops run between Start
// and Close.
type Container struct {
	config  *config.Config
	verbose bool

	// Observability
	logger  *logging.Logger
	tracer  *tracing.Tracer
	metrics *metrics.Metrics

	// Storage
	dbConn *sqlite.Connection
	cache  ports.CacheStore
	queue  ports.PendingQueue

	// Remote
	remote ports.RemoteStore
	feed   ports.ChangeFeed
	demo   *remote.Memory

	// Services
	monitor  *connectivity.Monitor
	prober   *connectivity.Prober
	data     *data.Service
	syncer   *syncer.Coordinator
	detector *duplicate.Detector
	sessions *callsession.Coordinator
	calls    telephony.Source

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	group      *errgroup.Group
	metricsSrv *http.Server
}

// NewContainer builds every service from cfg. Nothing runs until Start.
func NewContainer(cfg *config.Config, verbose bool) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
	}

	if err := c.initObservability(); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initStorage(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := c.initRemote(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize remote: %w", err)
	}

	if err := c.initServices(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return c, nil
}

func (c *Container) initObservability() error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(c.config.Logging.Level)
	if c.config.Logging.Format == string(logging.FormatJSON) {
		logCfg.Format = logging.FormatJSON
	}
	if c.verbose {
		logCfg.Level = logging.LevelDebug
	}
	c.logger = logging.New(logCfg)

	tc := c.config.Observability.Tracing
	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = tc.Enabled
	tracingCfg.ExporterType = tracing.ExporterType(tc.ExporterType)
	tracingCfg.OTLPEndpoint = tc.OTLPEndpoint
	tracingCfg.SampleRate = tc.SampleRate
	if tc.ServiceName != "" {
		tracingCfg.ServiceName = tc.ServiceName
	}
	tracer, err := tracing.New(context.Background(), tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	c.tracer = tracer

	c.metrics = metrics.New()
	return nil
}

func (c *Container) initStorage() error {
	conn, err := sqlite.NewConnection(c.config.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := conn.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.dbConn = conn
	c.queue = sqlite.NewPendingQueue(conn)

	switch c.config.Storage.CacheBackend {
	case "badger":
		dir := c.config.Storage.BadgerDir
		if dir == "" {
			dir = filepath.Join(xdg.DataHome, "leadline", "cache")
		}
		store, err := badger.Open(dir)
		if err != nil {
			return err
		}
		c.cache = store
	default:
		c.cache = sqlite.NewCacheStore(conn)
	}
	return nil
}

func (c *Container) initRemote() error {
	rc := c.config.Remote
	if rc.Demo() {
		c.logger.Info("no remote configured, running in demo mode")
		c.demo = remote.NewMemory()
		c.remote = c.demo
		return nil
	}

	c.remote = remote.NewHTTPStore(rc.URL, rc.APIKey,
		remote.WithTimeout(rc.Timeout),
		remote.WithTracer(c.tracer),
	)
	if rc.Realtime {
		feed, err := remote.NewRealtime(rc.URL, rc.APIKey)
		if err != nil {
			return err
		}
		c.feed = feed
	}
	return nil
}

func (c *Container) initServices() error {
	cfg := c.config

	c.monitor = connectivity.NewMonitor(false, c.metrics)
	c.prober = connectivity.NewProber(c.monitor, c.remote,
		cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, c.logger)

	c.data = data.NewService(c.remote, c.cache, c.queue, c.monitor,
		data.WithLogger(c.logger),
		data.WithMetrics(c.metrics),
	)

	c.syncer = syncer.NewCoordinator(c.queue, c.remote, c.monitor,
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithLogger(c.logger),
		syncer.WithTracer(c.tracer),
		syncer.WithMetrics(c.metrics),
		syncer.OnDrain(func(r syncer.DrainResult) {
			c.logger.Info(fmt.Sprintf("synced %d offline actions", r.Synced), "trigger", r.Trigger)
		}),
	)

	c.detector = duplicate.NewDetector(c.data.SearchByPhone,
		duplicate.WithQuietPeriod(cfg.Duplicate.QuietPeriod),
		duplicate.WithLogger(c.logger),
		duplicate.WithMetrics(c.metrics),
	)

	c.sessions = callsession.NewCoordinator(c.data, c.detector,
		callsession.WithLogger(c.logger),
		callsession.WithMetrics(c.metrics),
		callsession.WithAgentID(cfg.Agent.ID),
		callsession.WithAutoQualify(cfg.Session.AutoQualify),
	)

	if cfg.Telephony.Enabled {
		src, err := telephony.NewSpoolSource(telephony.SpoolConfig{Path: cfg.Telephony.SpoolPath}, c.logger)
		if err != nil {
			return fmt.Errorf("failed to create telephony source: %w", err)
		}
		c.calls = src
	} else {
		c.calls = telephony.NewNopSource()
	}
	return nil
}

// Start probes connectivity, loads the cache, and launches the background
// loops: reachability probing, queue draining, call event dispatch, the
// change feed, and the metrics endpoint when enabled.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = g
	c.started = true

	if c.prober.Probe(gctx) {
		n := c.data.Refresh(gctx, record.Collections...)
		c.logger.Debug("cache loaded", "records", n)
	}
	g.Go(func() error {
		c.prober.Run(gctx)
		return nil
	})

	c.syncer.Start(gctx)

	if src, ok := c.calls.(*telephony.SpoolSource); ok {
		if err := src.Start(); err != nil {
			return fmt.Errorf("failed to start telephony source: %w", err)
		}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err, ok := <-src.Errors():
					if !ok {
						return nil
					}
					c.logger.Warn("telephony source error", "error", err.Error())
				}
			}
		})
	}
	g.Go(func() error {
		c.sessions.Run(gctx, c.calls.Events())
		return nil
	})

	if c.feed != nil {
		g.Go(func() error {
			c.runFeed(gctx)
			return nil
		})
	}

	if mc := c.config.Observability.Metrics; mc.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.metrics.Handler())
		c.metricsSrv = &http.Server{Addr: mc.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		srv := c.metricsSrv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics server failed", "addr", mc.Addr, "error", err.Error())
			}
			return nil
		})
	}

	return nil
}

// runFeed keeps the change feed connected while ctx is live.
func (c *Container) runFeed(ctx context.Context) {
	for {
		if c.monitor.IsOnline() {
			err := c.feed.Subscribe(ctx, record.Collections, func(ch ports.Change) {
				c.data.ApplyChange(ctx, ch)
			})
			if err != nil {
				c.logger.Debug("change feed disconnected", "error", err.Error())
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(feedRetryDelay):
		}
	}
}

// Close stops background work and releases resources in reverse order of
// construction. It is safe to call on a partially built container.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}
	if c.syncer != nil {
		c.syncer.Stop()
	}
	if c.detector != nil {
		c.detector.Close()
	}
	if c.calls != nil {
		if err := c.calls.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.feed != nil {
		if err := c.feed.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if c.group != nil {
		_ = c.group.Wait()
		c.group = nil
	}
	if c.sessions != nil {
		c.sessions.Close()
	}
	if c.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, err)
		}
		c.cache = nil
	}
	if c.dbConn != nil {
		if err := c.dbConn.Close(); err != nil {
			errs = append(errs, err)
		}
		c.dbConn = nil
	}

	c.started = false
	c.cancel = nil
	return errors.Join(errs...)
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config { return c.config }

// Logger returns the structured logger.
func (c *Container) Logger() *logging.Logger { return c.logger }

// Tracer returns the tracer.
func (c *Container) Tracer() *tracing.Tracer { return c.tracer }

// Metrics returns the metrics registry.
func (c *Container) Metrics() *metrics.Metrics { return c.metrics }

// Monitor returns the connectivity monitor.
func (c *Container) Monitor() *connectivity.Monitor { return c.monitor }

// Prober returns the reachability prober.
func (c *Container) Prober() *connectivity.Prober { return c.prober }

// Data returns the data-access service.
func (c *Container) Data() *data.Service { return c.data }

// Syncer returns the sync coordinator.
func (c *Container) Syncer() *syncer.Coordinator { return c.syncer }

// Sessions returns the call session coordinator.
func (c *Container) Sessions() *callsession.Coordinator { return c.sessions }

// Queue returns the pending action queue.
func (c *Container) Queue() ports.PendingQueue { return c.queue }

// Cache returns the local cache store.
func (c *Container) Cache() ports.CacheStore { return c.cache }

// Demo returns the in-memory remote in demo mode, nil otherwise.
func (c *Container) Demo() *remote.Memory { return c.demo }

// DatabasePath returns the SQLite file backing the queue.
func (c *Container) DatabasePath() string {
	if c.dbConn == nil {
		return ""
	}
	return c.dbConn.Path()
}
