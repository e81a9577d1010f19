package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shelf/internal/catalog"
	"shelf/internal/config"
	"shelf/internal/enrichment"
	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/notifications"
	"shelf/internal/queue"
)

// Manager drives the enrichment pipeline: it dequeues due jobs one at a
// time and runs each record through search, scoring, deduplication and
// merge.
type Manager struct {
	cfg      *config.Config
	records  *library.Store
	jobs     *queue.Store
	searcher catalog.Searcher
	detector *enrichment.Detector
	hub      *notifications.Hub
	pusher   notifications.Pusher
	logger   *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error

	// startedBatches tracks which batches have announced their first job,
	// so batch-start events fire exactly once per daemon lifetime.
	startedBatches map[string]time.Time
}

// NewManager constructs a worker manager over the given stores and
// provider client.
func NewManager(
	cfg *config.Config,
	records *library.Store,
	jobs *queue.Store,
	searcher catalog.Searcher,
	hub *notifications.Hub,
	pusher notifications.Pusher,
	logger *slog.Logger,
) *Manager {
	if pusher == nil {
		pusher = notifications.NewPusher(cfg)
	}
	workerLogger := logging.NewComponentLogger(logger, "worker")
	return &Manager{
		cfg:                cfg,
		records:            records,
		jobs:               jobs,
		searcher:           searcher,
		detector:           enrichment.NewDetector(records, logger, cfg.Enrichment.FuzzyThreshold),
		hub:                hub,
		pusher:             pusher,
		logger:             workerLogger,
		pollInterval:       time.Duration(cfg.Worker.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Worker.ErrorRetryInterval) * time.Second,
		startedBatches:     make(map[string]time.Time),
	}
}

// Running reports whether the worker loop is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent loop-level failure, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
