package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vidscribe/internal/api"
	"vidscribe/internal/config"
	"vidscribe/internal/deps"
	"vidscribe/internal/logging"
	"vidscribe/internal/notify"
	"vidscribe/internal/pipeline"
	"vidscribe/internal/preflight"
	"vidscribe/internal/progress"
	"vidscribe/internal/registry"
	"vidscribe/internal/task"
)

const shutdownTimeout = 10 * time.Second

// ErrInvalidSource rejects submissions whose URL is not http(s).
var ErrInvalidSource = errors.New("invalid source url")

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	stages  *stages
	logPath string
	now     func() time.Time
}

type stages struct {
	fetcher     pipeline.Fetcher
	converter   pipeline.Converter
	transcriber pipeline.Transcriber
}

// WithStages replaces the exec-backed pipeline stages.
func WithStages(f pipeline.Fetcher, c pipeline.Converter, t pipeline.Transcriber) Option {
	return func(o *options) {
		o.stages = &stages{fetcher: f, converter: c, transcriber: t}
	}
}

// WithLogPath records the daemon log file for status output.
func WithLogPath(path string) Option {
	return func(o *options) {
		o.logPath = path
	}
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Daemon coordinates the task registry, notifications, and pipeline and
// enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *registry.Registry
	hub       *notify.Hub
	publisher *progress.Publisher
	driver    *pipeline.Driver
	server    *apiServer

	logPath  string
	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	janitor   sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	reg := registry.New(registry.Options{
		Retention:     cfg.RegistryRetention(),
		SweepInterval: cfg.SweepInterval(),
		MaxTasks:      cfg.Registry.MaxTasks,
		Logger:        logger,
		Now:           o.now,
	})
	hub := notify.NewHub(notify.Options{
		Buffer:      cfg.Notify.Buffer,
		MaxWait:     cfg.NotifyMaxWait(),
		IdleTimeout: cfg.NotifyIdleTimeout(),
		Logger:      logger,
	})
	pub := progress.New(reg, hub, progress.Options{Logger: logger})

	var (
		driver *pipeline.Driver
		err    error
	)
	if o.stages != nil {
		driver, err = pipeline.New(pub, pipeline.Options{
			Workers:     cfg.Pipeline.Workers,
			QueueDepth:  cfg.Pipeline.QueueDepth,
			WorkDir:     cfg.Paths.WorkDir,
			TaskTimeout: cfg.TaskTimeout(),
			Fetcher:     o.stages.fetcher,
			Converter:   o.stages.converter,
			Transcriber: o.stages.transcriber,
			Logger:      logger,
		})
	} else {
		driver, err = pipeline.NewFromConfig(cfg, pub, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		registry:  reg,
		hub:       hub,
		publisher: pub,
		driver:    driver,
		logPath:   o.logPath,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the retention janitor, and begins
// serving the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidscribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.janitor.Add(1)
	go func() {
		defer d.janitor.Done()
		d.registry.Run(runCtx)
	}()

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("vidscribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.addr()),
		logging.Int("workers", d.cfg.Pipeline.Workers),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop cancels running tasks, releases every observer, closes the API, and
// drops the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.janitor.Wait()
	if err := d.driver.Close(shutdownTimeout); err != nil {
		d.logger.Warn("pipeline did not stop cleanly", logging.Error(err))
	}
	d.hub.Shutdown()
	d.server.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vidscribe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Submit registers a task for sourceURL and queues it for the pipeline.
func (d *Daemon) Submit(ctx context.Context, sourceURL, id string) (string, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if err := validateSource(sourceURL); err != nil {
		return "", err
	}
	taskID, err := d.publisher.Submit(ctx, id, sourceURL)
	if err != nil {
		return "", err
	}
	if err := d.driver.Enqueue(ctx, taskID, sourceURL); err != nil {
		_ = d.publisher.Fail(ctx, taskID, err)
		return taskID, err
	}
	return taskID, nil
}

// Snapshot returns the current snapshot of id.
func (d *Daemon) Snapshot(id string) (task.Snapshot, error) {
	return d.publisher.Snapshot(id)
}

// List returns every retained task.
func (d *Daemon) List() []task.Snapshot {
	return d.publisher.List()
}

// Hub exposes the notification hub observers read from.
func (d *Daemon) Hub() *notify.Hub {
	return d.hub
}

// Addr is the bound API address once started.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	stats := d.driver.Stats()
	status := api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		LockFilePath:  d.lockPath,
		LogPath:       d.logPath,
		Tasks:         api.CountByStatus(d.publisher.List()),
		Topics:        d.hub.Topics(),
		ActiveStreams: d.hub.ActiveStreams(),
		Pipeline:      api.PipelineStatus{Workers: stats.Workers, Waiting: stats.Waiting, Free: stats.Free},
		Dependencies:  api.FromDependencies(deps.CheckBinaries(deps.PipelineRequirements(d.cfg))),
		Preflight:     api.FromPreflight(preflight.RunAll(d.cfg)),
	}
	d.mu.Lock()
	status.StartedAt = api.FormatTime(d.startedAt)
	d.mu.Unlock()
	return status
}

func validateSource(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidSource)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidSource, raw)
	}
	return nil
}
