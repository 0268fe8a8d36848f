package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"vidscribe/internal/config"
	"vidscribe/internal/logging"
	"vidscribe/internal/services"
	"vidscribe/internal/task"
)

const (
	defaultWorkers        = 2
	defaultTranscribeTick = 10 * time.Second
	queueFullMessage      = "pipeline queue full"
	wavName               = "audio.wav"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("pipeline closed")

// Options configures a Driver.
type Options struct {
	Workers int
	// QueueDepth is how many tasks may wait for a free worker before new
	// submissions are failed. Zero leaves the wait queue unbounded.
	QueueDepth  int
	WorkDir     string
	TaskTimeout time.Duration
	// TranscribeTick is how often progress advances while the model runs.
	TranscribeTick time.Duration

	Fetcher     Fetcher
	Converter   Converter
	Transcriber Transcriber
	Logger      *slog.Logger
}

// Stats describes worker pool occupancy. Live counts worker goroutines,
// idle or busy; Waiting counts tasks blocked on a free worker.
type Stats struct {
	Workers int `json:"workers"`
	Live    int `json:"live"`
	Waiting int `json:"waiting"`
	Free    int `json:"free"`
}

// Driver runs tasks on a bounded worker pool.
type Driver struct {
	reporter    Reporter
	fetcher     Fetcher
	converter   Converter
	transcriber Transcriber
	logger      *slog.Logger

	pool        *ants.Pool
	workDir     string
	taskTimeout time.Duration
	tick        time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
	closed  atomic.Bool
}

// New builds a driver reporting to reporter.
func New(reporter Reporter, opts Options) (*Driver, error) {
	if reporter == nil {
		return nil, errors.New("pipeline: reporter required")
	}
	if opts.Fetcher == nil || opts.Converter == nil || opts.Transcriber == nil {
		return nil, errors.New("pipeline: fetcher, converter and transcriber required")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("pipeline: work dir required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	tick := opts.TranscribeTick
	if tick <= 0 {
		tick = defaultTranscribeTick
	}

	logger := logging.NewComponentLogger(opts.Logger, "pipeline")
	pool, err := ants.NewPool(
		workers,
		ants.WithOptions(ants.Options{
			PreAlloc:         true,
			MaxBlockingTasks: opts.QueueDepth,
			Nonblocking:      false,
			PanicHandler: func(v any) {
				logger.Error("pipeline worker panic",
					logging.String("panic", fmt.Sprint(v)),
					logging.Alert("worker_panic"),
					logging.String(logging.FieldEventType, "worker_panic"),
				)
			},
			Logger: poolLogger{logger: logger},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		reporter:    reporter,
		fetcher:     opts.Fetcher,
		converter:   opts.Converter,
		transcriber: opts.Transcriber,
		logger:      logger,
		pool:        pool,
		workDir:     opts.WorkDir,
		taskTimeout: opts.TaskTimeout,
		tick:        tick,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// NewFromConfig wires the exec-backed stages described by cfg.
func NewFromConfig(cfg *config.Config, reporter Reporter, logger *slog.Logger) (*Driver, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config required")
	}
	return New(reporter, Options{
		Workers:     cfg.Pipeline.Workers,
		QueueDepth:  cfg.Pipeline.QueueDepth,
		WorkDir:     cfg.Paths.WorkDir,
		TaskTimeout: cfg.TaskTimeout(),
		Fetcher:     NewYTDLP(cfg.Pipeline.YTDLPBinary),
		Converter:   NewFFmpeg(cfg.Pipeline.FFmpegBinary),
		Transcriber: NewWhisper(cfg.Pipeline.WhisperBinary, cfg.Pipeline.WhisperModel, cfg.Pipeline.Language),
		Logger:      logger,
	})
}

// Enqueue schedules the task. It returns immediately; a task that cannot be
// queued is failed through the reporter.
func (d *Driver) Enqueue(ctx context.Context, id, sourceURL string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	logger := logging.WithContext(services.WithTaskID(ctx, id), d.logger)

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		err := d.pool.Submit(func() { d.run(id, sourceURL) })
		if err == nil {
			return
		}
		d.reject(id, err)
	}()

	logger.Debug("task enqueued",
		logging.String(logging.FieldTaskID, id),
		logging.Int("waiting", d.pool.Waiting()),
		logging.String(logging.FieldEventType, "task_enqueued"),
	)
	return nil
}

// Stats reports the worker pool occupancy.
func (d *Driver) Stats() Stats {
	return Stats{
		Workers: d.pool.Cap(),
		Live:    d.pool.Running(),
		Waiting: d.pool.Waiting(),
		Free:    d.pool.Free(),
	}
}

// Close cancels running tasks and waits up to timeout for workers to exit.
func (d *Driver) Close(timeout time.Duration) error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	err := d.pool.ReleaseTimeout(timeout)
	d.pending.Wait()
	if err != nil {
		return fmt.Errorf("pipeline: release workers: %w", err)
	}
	return nil
}

func (d *Driver) reject(id string, err error) {
	ctx := services.WithTaskID(context.Background(), id)
	message := queueFullMessage
	marker := services.ErrCapacity
	if errors.Is(err, ants.ErrPoolClosed) {
		message = services.FailureMessage("pipeline", context.Canceled)
		marker = context.Canceled
	}
	detail := services.Wrap(marker, "queued", "worker pool", "task not scheduled", err)
	logging.WarnWithContext(logging.WithContext(ctx, d.logger), "task rejected by worker pool", "task_rejected",
		logging.String(logging.FieldTaskID, id),
		logging.Error(err),
		logging.Int("waiting", d.pool.Waiting()),
		logging.String(logging.FieldErrorHint, "raise pipeline.queue_depth or pipeline.workers"),
		logging.String(logging.FieldImpact, "task failed without running"),
	)
	d.report(ctx, id, task.Update{Status: task.StatusError, Message: message, Detail: detail.Error()})
}

func (d *Driver) run(id, sourceURL string) {
	ctx := services.WithTaskID(d.ctx, id)
	var cancel context.CancelFunc
	if d.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger := logging.WithContext(ctx, d.logger)
	started := time.Now()
	stage := stageDownloading
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "pipeline task panicked", "task_panic",
				logging.String(logging.FieldTaskID, id),
				logging.String("panic", fmt.Sprint(r)),
				logging.Alert("task_panic"),
				logging.String(logging.FieldErrorHint, "report the panic with the task source url"),
			)
			d.fail(ctx, id, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	workDir, err := os.MkdirTemp(d.workDir, "task-*")
	if err != nil {
		d.fail(ctx, id, stage, services.Wrap(services.ErrConfiguration, stage, "work dir", d.workDir, err))
		return
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Debug("work dir cleanup failed", logging.String("path", workDir), logging.Error(err))
		}
	}()

	logger.Info("task started",
		logging.String(logging.FieldTaskID, id),
		logging.String("source_url", sourceURL),
		logging.String(logging.FieldEventType, "task_started"),
	)

	transcript, failedStage, err := d.process(ctx, id, sourceURL, workDir, &stage)
	if err != nil {
		d.fail(ctx, id, failedStage, err)
		return
	}
	if !d.report(ctx, id, task.Update{
		Progress:      completeAt,
		Status:        task.StatusCompleted,
		Message:       "Transcription complete",
		Transcription: transcript,
	}) {
		return
	}
	logger.Info("task finished",
		logging.String(logging.FieldTaskID, id),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int("transcription_chars", len(transcript)),
		logging.String(logging.FieldEventType, "task_finished"),
	)
}

// process walks the stages and returns the transcript, or the stage that
// failed and its error.
func (d *Driver) process(ctx context.Context, id, sourceURL, workDir string, stage *string) (string, string, error) {
	*stage = stageDownloading
	stageCtx := services.WithStage(ctx, *stage)
	if !d.report(stageCtx, id, task.Update{Progress: downloadStart, Status: task.StatusDownloading, Message: "Downloading media"}) {
		return "", *stage, errReportRejected
	}
	last := downloadStart
	var fetched float64
	media, err := d.fetcher.Fetch(stageCtx, sourceURL, workDir, func(percent float64) {
		fetched = percent
		checkpoint := downloadCheckpoint(percent)
		if checkpoint <= last {
			return
		}
		last = checkpoint
		d.report(stageCtx, id, task.Update{
			Progress: checkpoint,
			Status:   task.StatusDownloading,
			Message:  fmt.Sprintf("Downloaded %.0f%%", percent),
		})
	})
	if err != nil {
		return "", *stage, err
	}
	logging.WithContext(stageCtx, d.logger).Debug("media fetched",
		logging.String("path", media),
		logging.Float64("download_percent", fetched),
	)

	*stage = stageConverting
	stageCtx = services.WithStage(ctx, *stage)
	if !d.report(stageCtx, id, task.Update{Progress: convertStart, Status: task.StatusConverting, Message: "Converting audio to 16 kHz mono WAV"}) {
		return "", *stage, errReportRejected
	}
	wav := filepath.Join(workDir, wavName)
	if err := d.converter.Convert(stageCtx, media, wav); err != nil {
		return "", *stage, err
	}
	if err := ValidateWAV(wav); err != nil {
		return "", *stage, err
	}

	*stage = stageTranscribing
	stageCtx = services.WithStage(ctx, *stage)
	if !d.report(stageCtx, id, task.Update{Progress: transcribeStart, Status: task.StatusTranscribing, Message: "Transcribing audio"}) {
		return "", *stage, errReportRejected
	}
	transcript, err := d.transcribe(stageCtx, id, wav, workDir)
	if err != nil {
		return "", *stage, err
	}
	return transcript, *stage, nil
}

var errReportRejected = errors.New("progress report rejected")

// transcribe runs the transcriber while nudging progress from 50 toward 85
// so observers can tell the task is alive.
func (d *Driver) transcribe(ctx context.Context, id, wav, workDir string) (string, error) {
	tickCtx, stop := context.WithCancel(ctx)
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		progress := transcribeStart
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if progress+transcribeStep > transcribeCap {
					continue
				}
				progress += transcribeStep
				d.report(tickCtx, id, task.Update{Progress: progress, Status: task.StatusTranscribing, Message: "Transcribing audio"})
			}
		}
	}()

	text, err := d.transcriber.Transcribe(ctx, wav, workDir)
	stop()
	<-ticked
	return text, err
}

func (d *Driver) fail(ctx context.Context, id, stage string, err error) {
	if errors.Is(err, errReportRejected) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithContext(services.WithStage(ctx, stage), d.logger)
	logging.ErrorWithContext(logger, "task stage failed", "stage_failed",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldStage, stage),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the tool output in error_detail"),
	)
	d.report(ctx, id, task.Update{
		Status:  task.StatusError,
		Message: services.FailureMessage(stage, err),
		Detail:  err.Error(),
	})
}

// report forwards u and reports whether it was accepted. Rejections are
// logged by the publisher.
func (d *Driver) report(ctx context.Context, id string, u task.Update) bool {
	if err := d.reporter.Report(ctx, id, u); err != nil {
		logging.WithContext(ctx, d.logger).Debug("progress report not accepted",
			logging.String(logging.FieldTaskID, id),
			logging.String("status", string(u.Status)),
			logging.Error(err),
		)
		return false
	}
	return true
}

// poolLogger routes ants diagnostics into slog.
type poolLogger struct {
	logger *slog.Logger
}

func (l poolLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), logging.String(logging.FieldEventType, "worker_pool"))
}
