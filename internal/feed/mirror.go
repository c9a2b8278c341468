package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/activitycal/backend/internal/calendar"
	"github.com/activitycal/backend/internal/metrics"
)

// ObjectStorage persists rendered documents.
type ObjectStorage interface {
	Save(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// MirrorConfig controls the concurrency characteristics of the mirror.
type MirrorConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Mirror asynchronously uploads rendered documents to object storage. Only the
// latest document per token is kept; uploads overwrite.
type Mirror struct {
	storage ObjectStorage
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan mirrorJob
	wg     sync.WaitGroup
}

type mirrorJob struct {
	token string
	body  string
}

var (
	errMirrorClosed    = errors.New("feed mirror closed")
	errMirrorQueueFull = errors.New("feed mirror queue full")
)

// NewMirror starts a pool of upload workers.
func NewMirror(storage ObjectStorage, cfg MirrorConfig, logger *slog.Logger) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mirror{
		storage: storage,
		timeout: cfg.Timeout,
		logger:  logger,
		jobs:    make(chan mirrorJob, cfg.QueueSize),
	}

	m.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go m.worker()
	}

	return m
}

// ObjectKey returns the storage key for a token's document.
func ObjectKey(token string) string {
	return path.Join("calendars", token+".ics")
}

// Enqueue schedules an upload without waiting for queue space; a full queue
// drops the document since the next request renders a newer one anyway.
func (m *Mirror) Enqueue(ctx context.Context, token, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errMirrorClosed
	}

	select {
	case m.jobs <- mirrorJob{token: token, body: body}:
		return nil
	default:
		metrics.RecordMirror("dropped")
		return errMirrorQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued uploads to drain.
func (m *Mirror) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()

	for job := range m.jobs {
		m.handleJob(job)
	}
}

func (m *Mirror) handleJob(job mirrorJob) {
	if m.storage == nil {
		m.logger.Error("feed mirror missing storage")
		metrics.RecordMirror("error")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	_, err := m.storage.Save(ctx, ObjectKey(job.token), calendar.ContentType, strings.NewReader(job.body))
	if err != nil {
		m.logger.Error("feed mirror upload failed", "error", err)
		metrics.RecordMirror("error")
		return
	}

	metrics.RecordMirror("ok")
	m.logger.Debug("feed mirrored", "bytes", len(job.body))
}
