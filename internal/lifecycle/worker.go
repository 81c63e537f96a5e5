package lifecycle

import (
	"context"
	"sync"
	"time"

	"waroom/internal/models"
)

// task is one unit of serialized work for a session.
type task func(ctx context.Context)

// worker serializes all work for one session id. Events, commands, and scan
// timeouts all flow through the same queue, so nothing interrupts an
// in-progress transition out of band.
type worker struct {
	sessionID string
	queue     chan task

	quitOnce sync.Once
	quit     chan struct{}

	// scanTimer is armed when the session enters awaiting_scan and fires a
	// timeout task through the queue. Only touched from the worker goroutine
	// and rearmScanTimer calls made by it.
	scanTimer *time.Timer
	timerMu   sync.Mutex
}

func newWorker(sessionID string, queueSize int) *worker {
	return &worker{
		sessionID: sessionID,
		queue:     make(chan task, queueSize),
		quit:      make(chan struct{}),
	}
}

// enqueue submits a task, blocking while the queue is full. Returns false if
// the worker has stopped, which callers treat as session-not-found.
func (w *worker) enqueue(ctx context.Context, t task) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.queue <- t:
		return true
	case <-w.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// tryEnqueue submits without a caller context. Used for internally generated
// tasks where dropping on shutdown is acceptable.
func (w *worker) tryEnqueue(t task) bool {
	select {
	case w.queue <- t:
		return true
	case <-w.quit:
		return false
	}
}

func (w *worker) stop() {
	w.quitOnce.Do(func() {
		close(w.quit)
	})
	w.stopScanTimer()
}

func (w *worker) loop(ctx context.Context) {
	for {
		select {
		case t := <-w.queue:
			t(ctx)
		case <-w.quit:
			w.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain runs tasks that were queued before stop. They see the session gone
// from the store and no-op, but synchronous callers still get their reply.
func (w *worker) drain(ctx context.Context) {
	for {
		select {
		case t := <-w.queue:
			t(ctx)
		default:
			return
		}
	}
}

// rearmScanTimer resets the scan-timeout timer after a transition. Entering
// awaiting_scan (including a QR refresh) arms it; any other state disarms.
func (w *worker) rearmScanTimer(c *Controller, session *models.Session) {
	w.stopScanTimer()
	if session.Status != models.SessionStatusAwaitingScan || c.opts.ScanTimeout <= 0 {
		return
	}

	issuedAt := session.QRCodeTimestamp
	sessionID := session.ID

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	w.scanTimer = time.AfterFunc(c.opts.ScanTimeout, func() {
		w.tryEnqueue(func(ctx context.Context) {
			c.handleScanTimeout(sessionID, issuedAt)
		})
	})
}

func (w *worker) stopScanTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.scanTimer != nil {
		w.scanTimer.Stop()
		w.scanTimer = nil
	}
}
