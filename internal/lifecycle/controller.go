// Package lifecycle owns the session state machine. It is the only writer of
// the connection-state store: raw events from the external client and
// operator commands are serialized through one worker per session id, so a
// session's transitions always apply in arrival order while different
// sessions proceed concurrently.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waroom/internal/errors"
	"waroom/internal/logging"
	"waroom/internal/metrics"
	"waroom/internal/models"
	"waroom/internal/store"
	"waroom/pkg/waclient"

	"github.com/sirupsen/logrus"
)

// EventSink receives the normalized domain events produced by transitions.
// The room broadcaster implements this.
type EventSink interface {
	SessionCreated(sessionID string, at time.Time)
	SessionRemoved(sessionID string, at time.Time)
	SessionStatusChanged(session *models.Session)
	MessageNew(payload models.MessageNewPayload)
}

// Registrar persists the durable `{sessionId, displayName}` registry rows.
// Connection state is never persisted.
type Registrar interface {
	Save(ctx context.Context, sessionID, displayName string) error
	Delete(ctx context.Context, sessionID string) error
}

// Options configures lifecycle policy.
type Options struct {
	// ScanTimeout bounds how long a session may sit in awaiting_scan with
	// the same QR payload before it transitions to error.
	ScanTimeout time.Duration
	// IdleThreshold is how long a session may stay disconnected or errored
	// before the sweeper removes it. Zero disables the sweeper.
	IdleThreshold time.Duration
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration
	// QueueSize is the per-session event queue capacity.
	QueueSize int
}

// Controller validates transitions, mutates the store, and emits domain
// events. All store writes happen inside per-session workers.
type Controller struct {
	store     *store.Store
	client    waclient.Client
	sink      EventSink
	registrar Registrar
	logger    *logrus.Logger
	opts      Options

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController creates a controller. registrar may be nil when durable
// registration is not wanted (tests, ephemeral deployments).
func NewController(st *store.Store, client waclient.Client, sink EventSink, registrar Registrar, opts Options, logger *logrus.Logger) *Controller {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:     st,
		client:    client,
		sink:      sink,
		registrar: registrar,
		logger:    logger,
		opts:      opts,
		workers:   make(map[string]*worker),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Start launches the idle-cleanup sweeper. Safe to skip for tests.
func (c *Controller) Start() {
	if c.opts.IdleThreshold <= 0 {
		return
	}
	c.wg.Add(1)
	go c.sweepLoop()
}

// Shutdown stops all workers and the sweeper. In-flight tasks finish first.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	workers := make([]*worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	c.cancel()
	c.wg.Wait()
}

// Create registers a new session in connecting state and schedules the
// external handshake. Fails with a duplicate-session error if the id is
// already active.
func (c *Controller) Create(ctx context.Context, sessionID, displayName string) (*models.Session, error) {
	now := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrCodeInternalError, "controller is shut down")
	}
	if _, exists := c.workers[sessionID]; exists {
		c.mu.Unlock()
		return nil, errors.NewDuplicateSessionError(sessionID)
	}

	session := &models.Session{
		ID:               sessionID,
		DisplayName:      displayName,
		Status:           models.SessionStatusConnecting,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	c.store.Put(sessionID, session)

	w := newWorker(sessionID, c.opts.QueueSize)
	c.workers[sessionID] = w
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		w.loop(c.baseCtx)
	}()
	c.mu.Unlock()

	if c.registrar != nil {
		if err := c.registrar.Save(ctx, sessionID, displayName); err != nil {
			c.logger.WithError(err).WithField(logging.FieldSession, sessionID).
				Warn("Failed to persist session registration")
		}
	}

	c.sink.SessionCreated(sessionID, now)
	c.sink.SessionStatusChanged(session.Clone())
	c.updateStateGauges()

	// Handshake start goes through the queue so a racing event or command
	// cannot overtake it.
	w.tryEnqueue(func(taskCtx context.Context) {
		if err := c.client.StartSession(taskCtx, sessionID); err != nil {
			c.logger.WithError(err).WithField(logging.FieldSession, sessionID).
				Error("External client failed to start handshake")
			c.applyFault(sessionID, fmt.Sprintf("handshake start failed: %v", err))
		}
	})

	c.logger.WithField(logging.FieldSession, sessionID).Info("Session created")
	return session.Clone(), nil
}

// HandleExternalEvent routes a raw external-client event to its session
// worker. Unknown session ids fail with a not-found error; the caller logs
// and drops the event, never retries. Illegal transitions are dropped inside
// the worker and never surface as errors.
func (c *Controller) HandleExternalEvent(ctx context.Context, event *models.RawEvent) error {
	w, ok := c.getWorker(event.SessionID)
	if !ok {
		metrics.IncrementCounter("external_events_dropped_total", map[string]string{
			"reason": "unknown_session",
		}, "External events dropped")
		return errors.NewUnknownSessionError(event.SessionID)
	}

	metrics.IncrementCounter("external_events_total", map[string]string{
		"type": string(event.Type),
	}, "External client events received")

	ev := *event
	if !w.enqueue(ctx, func(taskCtx context.Context) {
		start := time.Now()
		c.applyRawEvent(&ev)
		metrics.RecordTimer("event_apply_duration", time.Since(start), nil, "Raw event handling latency")
	}) {
		return errors.NewUnknownSessionError(event.SessionID)
	}
	return nil
}

// Restart re-runs create semantics for an existing id, preserving the id so
// dependent data keyed by it stays valid. Only legal from disconnected or
// error.
func (c *Controller) Restart(ctx context.Context, sessionID string) error {
	w, ok := c.getWorker(sessionID)
	if !ok {
		return errors.NewUnknownSessionError(sessionID)
	}

	errCh := make(chan error, 1)
	if !w.enqueue(ctx, func(taskCtx context.Context) {
		errCh <- c.doRestart(taskCtx, sessionID)
	}) {
		return errors.NewUnknownSessionError(sessionID)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove tears down a session from any state. Removing an unknown id is a
// no-op success.
func (c *Controller) Remove(ctx context.Context, sessionID string) error {
	w, ok := c.getWorker(sessionID)
	if !ok {
		return nil
	}

	errCh := make(chan error, 1)
	if !w.enqueue(ctx, func(taskCtx context.Context) {
		c.doRemove(taskCtx, sessionID, w)
		errCh <- nil
	}) {
		// Worker already stopped: the session was removed concurrently.
		return nil
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentState returns the authoritative snapshot for a session id. This is
// the pull half of reconnect reconciliation.
func (c *Controller) CurrentState(sessionID string) (*models.Session, error) {
	session, ok := c.store.Get(sessionID)
	if !ok {
		return nil, errors.NewUnknownSessionError(sessionID)
	}
	return session, nil
}

// List returns snapshots of all sessions.
func (c *Controller) List() []*models.Session {
	return c.store.List()
}

func (c *Controller) getWorker(sessionID string) (*worker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.workers[sessionID]
	return w, ok
}

// applyRawEvent runs inside the session worker.
func (c *Controller) applyRawEvent(event *models.RawEvent) {
	session, ok := c.store.Get(event.SessionID)
	if !ok {
		// Removed while the event sat in the queue.
		return
	}

	if event.Type == models.RawEventMessage {
		c.relayMessage(session, event)
		return
	}

	next, legal := nextStatus(session.Status, event.Type)
	if !legal {
		c.logger.WithFields(logrus.Fields{
			logging.FieldSession: event.SessionID,
			logging.FieldStatus:  session.Status,
			"event_type":         event.Type,
		}).Warn("Dropping illegal transition event")
		metrics.IncrementCounter("illegal_transitions_total", map[string]string{
			"from": string(session.Status),
			"type": string(event.Type),
		}, "External events dropped as illegal transitions")
		return
	}

	c.transition(session, next, event)
}

// transition builds the replacement record, stores it, and emits exactly one
// domain event. Runs inside the session worker.
func (c *Controller) transition(session *models.Session, next models.SessionStatus, event *models.RawEvent) {
	now := time.Now()
	if now.Before(session.LastTransitionAt) {
		now = session.LastTransitionAt
	}

	updated := &models.Session{
		ID:               session.ID,
		DisplayName:      session.DisplayName,
		Status:           next,
		CreatedAt:        session.CreatedAt,
		LastTransitionAt: now,
	}

	switch next {
	case models.SessionStatusAwaitingScan:
		updated.QRCode = event.Payload
		updated.QRCodeTimestamp = now
	case models.SessionStatusConnected:
		if event != nil && event.Client != nil {
			info := *event.Client
			updated.ClientInfo = &info
		} else if session.ClientInfo != nil {
			info := *session.ClientInfo
			updated.ClientInfo = &info
		}
	case models.SessionStatusError:
		updated.LastError = errorMessage(event)
	}

	c.store.Put(session.ID, updated)
	c.sink.SessionStatusChanged(updated.Clone())
	c.updateStateGauges()

	c.logger.WithFields(logrus.Fields{
		logging.FieldSession: session.ID,
		"from":               session.Status,
		logging.FieldStatus:  next,
	}).Info("Session transitioned")

	w, ok := c.getWorker(session.ID)
	if ok {
		w.rearmScanTimer(c, updated)
	}
}

// applyFault forces a transition to error from any state. Used for
// unrecoverable external-client faults; observers learn about it through the
// normal event channel, never as an exception.
func (c *Controller) applyFault(sessionID, message string) {
	session, ok := c.store.Get(sessionID)
	if !ok {
		return
	}
	c.transition(session, models.SessionStatusError, &models.RawEvent{
		Type:      models.RawEventAuthFailure,
		SessionID: sessionID,
		Payload:   message,
	})
}

func (c *Controller) relayMessage(session *models.Session, event *models.RawEvent) {
	msg := event.Message
	c.sink.MessageNew(models.MessageNewPayload{
		SessionID: session.ID,
		TicketID:  msg.TicketID,
		MessageID: msg.MessageID,
		ContactID: msg.ContactID,
		Content:   msg.Content,
		Direction: msg.Direction,
		IsFromBot: msg.IsFromBot,
		Timestamp: time.Now(),
	})
	metrics.IncrementCounter("messages_relayed_total", map[string]string{
		logging.FieldSession: session.ID,
	}, "Messages relayed to ticket rooms")
}

// doRestart runs inside the session worker.
func (c *Controller) doRestart(ctx context.Context, sessionID string) error {
	session, ok := c.store.Get(sessionID)
	if !ok {
		return errors.NewUnknownSessionError(sessionID)
	}
	if !session.Status.IsTerminal() {
		return errors.NewInvalidStateError(sessionID, "restart", string(session.Status))
	}

	if err := c.client.StopSession(ctx, sessionID); err != nil {
		// Engine-side teardown is best effort; a fresh start supersedes it.
		c.logger.WithError(err).WithField(logging.FieldSession, sessionID).
			Warn("Failed to stop external session before restart")
	}

	now := time.Now()
	if now.Before(session.LastTransitionAt) {
		now = session.LastTransitionAt
	}
	updated := &models.Session{
		ID:               sessionID,
		DisplayName:      session.DisplayName,
		Status:           models.SessionStatusConnecting,
		CreatedAt:        session.CreatedAt,
		LastTransitionAt: now,
	}
	c.store.Put(sessionID, updated)
	c.sink.SessionStatusChanged(updated.Clone())
	c.updateStateGauges()

	c.logger.WithField(logging.FieldSession, sessionID).Info("Session restarting")

	if err := c.client.StartSession(ctx, sessionID); err != nil {
		c.logger.WithError(err).WithField(logging.FieldSession, sessionID).
			Error("External client failed to start handshake")
		c.applyFault(sessionID, fmt.Sprintf("handshake start failed: %v", err))
	}
	return nil
}

// doRemove runs inside the session worker.
func (c *Controller) doRemove(ctx context.Context, sessionID string, w *worker) {
	if err := c.client.DeleteSession(ctx, sessionID); err != nil {
		c.logger.WithError(err).WithField(logging.FieldSession, sessionID).
			Warn("Failed to delete external session resources")
	}

	c.store.Delete(sessionID)

	if c.registrar != nil {
		if err := c.registrar.Delete(ctx, sessionID); err != nil {
			c.logger.WithError(err).WithField(logging.FieldSession, sessionID).
				Warn("Failed to delete session registration")
		}
	}

	c.mu.Lock()
	delete(c.workers, sessionID)
	c.mu.Unlock()
	w.stop()

	c.sink.SessionRemoved(sessionID, time.Now())
	c.updateStateGauges()
	c.logger.WithField(logging.FieldSession, sessionID).Info("Session removed")
}

// handleScanTimeout runs inside the session worker when a scan timer fires.
// The issuing timestamp guards against firing for a QR that was refreshed
// after the timer was armed.
func (c *Controller) handleScanTimeout(sessionID string, issuedAt time.Time) {
	session, ok := c.store.Get(sessionID)
	if !ok {
		return
	}
	if session.Status != models.SessionStatusAwaitingScan || !session.QRCodeTimestamp.Equal(issuedAt) {
		return
	}
	c.logger.WithField(logging.FieldSession, sessionID).Warn("QR scan timed out")
	c.transition(session, models.SessionStatusError, &models.RawEvent{
		Type:      models.RawEventAuthFailure,
		SessionID: sessionID,
		Payload:   fmt.Sprintf("scan timed out after %s", c.opts.ScanTimeout),
	})
}

func (c *Controller) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.baseCtx.Done():
			return
		case <-ticker.C:
			c.sweepIdle()
		}
	}
}

// sweepIdle removes sessions parked in disconnected or error beyond the idle
// threshold.
func (c *Controller) sweepIdle() {
	cutoff := time.Now().Add(-c.opts.IdleThreshold)
	for _, state := range []models.SessionStatus{models.SessionStatusDisconnected, models.SessionStatusError} {
		for _, session := range c.store.ListByState(state) {
			if session.LastTransitionAt.After(cutoff) {
				continue
			}
			c.logger.WithFields(logrus.Fields{
				logging.FieldSession: session.ID,
				logging.FieldStatus:  session.Status,
			}).Info("Removing idle session")
			if err := c.Remove(c.baseCtx, session.ID); err != nil {
				c.logger.WithError(err).WithField(logging.FieldSession, session.ID).
					Warn("Idle cleanup failed")
			}
		}
	}
}

func (c *Controller) updateStateGauges() {
	for _, state := range []models.SessionStatus{
		models.SessionStatusConnecting,
		models.SessionStatusAwaitingScan,
		models.SessionStatusConnected,
		models.SessionStatusDisconnected,
		models.SessionStatusError,
	} {
		metrics.SetGauge("sessions_by_state", float64(len(c.store.ListByState(state))), map[string]string{
			"state": string(state),
		}, "Sessions per lifecycle state")
	}
}

// nextStatus is the transition table. The bool result reports legality;
// illegal events are dropped by the caller.
func nextStatus(current models.SessionStatus, event models.RawEventType) (models.SessionStatus, bool) {
	switch event {
	case models.RawEventQR:
		// connecting -> awaiting_scan, plus in-place QR refresh.
		if current == models.SessionStatusConnecting || current == models.SessionStatusAwaitingScan {
			return models.SessionStatusAwaitingScan, true
		}
	case models.RawEventAuthenticated, models.RawEventReady:
		// Direct auth from connecting, or scan+auth from awaiting_scan.
		if current == models.SessionStatusConnecting || current == models.SessionStatusAwaitingScan {
			return models.SessionStatusConnected, true
		}
	case models.RawEventDisconnected:
		if current == models.SessionStatusConnected {
			return models.SessionStatusDisconnected, true
		}
	case models.RawEventAuthFailure:
		// Unrecoverable faults reach error from any state.
		return models.SessionStatusError, true
	}
	return current, false
}

func errorMessage(event *models.RawEvent) string {
	if event != nil && event.Payload != "" {
		return event.Payload
	}
	return "external client fault"
}
