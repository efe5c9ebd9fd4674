// Package audit records security-relevant events without blocking the
// request path. Events are queued on a bounded channel and persisted by a
// single background worker; when the queue is full the event is dropped and
// a warning is logged.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/audit"
	"github.com/google/uuid"
)

// Recorder is what services depend on.
type Recorder interface {
	Record(ctx context.Context, action, actor, target, result, detail string)
}

const insertTimeout = 5 * time.Second

// Writer is the asynchronous Recorder backed by an audit repository.
type Writer struct {
	repo   audit.Repository
	logger logging.Logger
	clock  clock.Clock

	mu     sync.RWMutex
	closed bool
	queue  chan models.AuditEvent
	wg     sync.WaitGroup
}

func NewWriter(repo audit.Repository, logger logging.Logger, clk clock.Clock, size int) *Writer {
	if size <= 0 {
		size = 256
	}
	return &Writer{
		repo:   repo,
		logger: logger.With("module", "audit"),
		clock:  clk,
		queue:  make(chan models.AuditEvent, size),
	}
}

// Start launches the worker. Call Close to drain and stop it.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := w.repo.Insert(ctx, &e); err != nil {
			w.logger.Error(ctx, "audit insert failed", "action", e.Action, "target", e.Target, "error", err)
		}
		cancel()
	}
}

// Record enqueues an event. It never blocks.
func (w *Writer) Record(ctx context.Context, action, actor, target, result, detail string) {
	e := models.AuditEvent{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Target:    target,
		Result:    result,
		Detail:    detail,
		Timestamp: w.clock.Now(),
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn(ctx, "audit writer closed, event dropped", "action", action, "target", target)
		return
	}

	select {
	case w.queue <- e:
		w.logger.Debug(ctx, "audit", "action", action, "actor", actor, "target", target, "result", result)
	default:
		w.logger.Warn(ctx, "audit queue full, event dropped", "action", action, "target", target)
	}
}

// Close stops accepting events and waits for queued ones to be written.
// Events recorded after Close are dropped with a warning.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
