package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"shelf/internal/config"
	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/notifications"
	"shelf/internal/queue"
	"shelf/internal/worker"
)

// Daemon coordinates the enrichment services and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	records *library.Store
	jobs    *queue.Store
	worker  *worker.Manager
	hub     *notifications.Hub
	events  *eventLog
	logPath string

	lockPath string
	lock     *flock.Flock

	running           atomic.Bool
	ctx               context.Context
	cancel            context.CancelFunc
	unsubscribeEvents func()
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	LastError     string
	LibraryDBPath string
	QueueDBPath   string
	LockFilePath  string
	Records       int
	Queue         queue.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, records *library.Store, jobs *queue.Store, wk *worker.Manager, hub *notifications.Hub, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || records == nil || jobs == nil || wk == nil || hub == nil {
		return nil, errors.New("daemon requires config, stores, worker, and hub")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		records:  records,
		jobs:     jobs,
		worker:   wk,
		hub:      hub,
		events:   newEventLog(eventLogCapacity),
		logPath:  filepath.Join(cfg.Paths.LogDir, "shelfd.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, begins recording progress events and
// launches the worker.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shelf daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	events, unsubscribe := d.hub.Subscribe()
	d.unsubscribeEvents = unsubscribe
	go d.recordEvents(events)

	if err := d.worker.Start(d.ctx); err != nil {
		unsubscribe()
		d.unsubscribeEvents = nil
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start worker: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("shelf daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.worker.Stop()
	if d.unsubscribeEvents != nil {
		d.unsubscribeEvents()
		d.unsubscribeEvents = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("shelf daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var firstErr error
	if d.jobs != nil {
		firstErr = d.jobs.Close()
	}
	if d.records != nil {
		if err := d.records.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Daemon) recordEvents(events <-chan notifications.Event) {
	for event := range events {
		d.events.Append(event)
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		LibraryDBPath: d.records.Path(),
		QueueDBPath:   d.jobs.Path(),
		LockFilePath:  d.lockPath,
	}
	if err := d.worker.LastError(); err != nil {
		status.LastError = err.Error()
	}
	if count, err := d.records.Count(ctx); err == nil {
		status.Records = count
	}
	if health, err := d.jobs.Health(ctx); err == nil {
		status.Queue = health
	}
	return status
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	pusher := notifications.NewPusher(d.cfg)
	if err := pusher.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// ProgressSince returns recorded progress events after cursor. A zero
// cursor returns the full retained history.
func (d *Daemon) ProgressSince(cursor int64) ([]ProgressEntry, int64) {
	return d.events.Since(cursor)
}

// LogPath returns the daemon log file location.
func (d *Daemon) LogPath() string {
	return d.logPath
}
