package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"waroom/internal/errors"
	"waroom/internal/models"
	"waroom/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	deleted  []string
	startErr error
}

func (f *fakeEngine) StartSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
	return f.startErr
}

func (f *fakeEngine) StopSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func (f *fakeEngine) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeEngine) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

type sinkEvent struct {
	name    string
	session *models.Session
	message *models.MessageNewPayload
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) SessionCreated(sessionID string, at time.Time) {
	r.record(sinkEvent{name: models.EventSessionCreated})
}

func (r *recordingSink) SessionRemoved(sessionID string, at time.Time) {
	r.record(sinkEvent{name: models.EventSessionRemoved})
}

func (r *recordingSink) SessionStatusChanged(session *models.Session) {
	r.record(sinkEvent{name: models.EventSessionStatusChanged, session: session})
}

func (r *recordingSink) MessageNew(payload models.MessageNewPayload) {
	r.record(sinkEvent{name: models.EventMessageNew, message: &payload})
}

func (r *recordingSink) record(e sinkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) snapshot() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sinkEvent, len(r.events))
	copy(out, r.events)
	return out
}

// statusHistory returns the status of every status-changed event in order.
func (r *recordingSink) statusHistory() []models.SessionStatus {
	var out []models.SessionStatus
	for _, e := range r.snapshot() {
		if e.name == models.EventSessionStatusChanged {
			out = append(out, e.session.Status)
		}
	}
	return out
}

func newTestController(t *testing.T, engine *fakeEngine, opts Options) (*Controller, *recordingSink) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	sink := &recordingSink{}
	c := NewController(store.New(), engine, sink, nil, opts, logger)
	t.Cleanup(c.Shutdown)
	return c, sink
}

func waitForStatus(t *testing.T, c *Controller, sessionID string, want models.SessionStatus) *models.Session {
	t.Helper()
	var got *models.Session
	require.Eventually(t, func() bool {
		session, err := c.CurrentState(sessionID)
		if err != nil {
			return false
		}
		got = session
		return session.Status == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", sessionID, want)
	return got
}

func TestCreateStartsHandshake(t *testing.T) {
	engine := &fakeEngine{}
	c, sink := newTestController(t, engine, Options{})

	session, err := c.Create(context.Background(), "work", "Work Line")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusConnecting, session.Status)
	assert.Equal(t, "Work Line", session.DisplayName)
	assert.Empty(t, session.QRCode)
	assert.Nil(t, session.ClientInfo)

	require.Eventually(t, func() bool { return engine.startCalls() == 1 }, time.Second, 5*time.Millisecond)

	events := sink.snapshot()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, models.EventSessionCreated, events[0].name)
	assert.Equal(t, models.EventSessionStatusChanged, events[1].name)
	assert.Equal(t, models.SessionStatusConnecting, events[1].session.Status)
}

func TestCreateDuplicateFails(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{})

	_, err := c.Create(context.Background(), "work", "")
	require.NoError(t, err)

	_, err = c.Create(context.Background(), "work", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionExists, errors.GetCode(err))
}

func TestCreateHandshakeFailureBecomesError(t *testing.T) {
	engine := &fakeEngine{startErr: fmt.Errorf("engine unreachable")}
	c, _ := newTestController(t, engine, Options{})

	_, err := c.Create(context.Background(), "work", "")
	require.NoError(t, err, "handshake faults surface as state, not as create errors")

	session := waitForStatus(t, c, "work", models.SessionStatusError)
	assert.Contains(t, session.LastError, "handshake start failed")
}

func TestQRFlowToConnected(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventQR, SessionID: "work", Payload: "qr-1",
	}))
	session := waitForStatus(t, c, "work", models.SessionStatusAwaitingScan)
	assert.Equal(t, "qr-1", session.QRCode)
	assert.False(t, session.QRCodeTimestamp.IsZero())
	assert.Nil(t, session.ClientInfo)

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventAuthenticated, SessionID: "work",
		Client: &models.ClientInfo{Number: "15551234567", Platform: "android"},
	}))
	session = waitForStatus(t, c, "work", models.SessionStatusConnected)
	assert.Empty(t, session.QRCode, "QR must be cleared outside awaiting_scan")
	assert.True(t, session.QRCodeTimestamp.IsZero())
	require.NotNil(t, session.ClientInfo)
	assert.Equal(t, "15551234567", session.ClientInfo.Number)
}

func TestQRRefreshKeepsLatestPayload(t *testing.T) {
	c, sink := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventQR, SessionID: "work", Payload: "qr-A",
	}))
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventQR, SessionID: "work", Payload: "qr-B",
	}))

	require.Eventually(t, func() bool {
		session, err := c.CurrentState("work")
		return err == nil && session.QRCode == "qr-B"
	}, 2*time.Second, 5*time.Millisecond)

	// Both refreshes must have been observable, in arrival order.
	var qrs []string
	for _, e := range sink.snapshot() {
		if e.name == models.EventSessionStatusChanged && e.session.Status == models.SessionStatusAwaitingScan {
			qrs = append(qrs, e.session.QRCode)
		}
	}
	assert.Equal(t, []string{"qr-A", "qr-B"}, qrs)
}

func TestIllegalTransitionDropped(t *testing.T) {
	c, sink := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)

	// disconnected is only legal from connected.
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventDisconnected, SessionID: "work",
	}))
	// A legal event afterwards proves the worker kept running.
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventQR, SessionID: "work", Payload: "qr-1",
	}))

	waitForStatus(t, c, "work", models.SessionStatusAwaitingScan)
	assert.NotContains(t, sink.statusHistory(), models.SessionStatusDisconnected)
}

func TestUnknownSessionEventRejected(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{})

	err := c.HandleExternalEvent(context.Background(), &models.RawEvent{
		Type: models.RawEventQR, SessionID: "ghost", Payload: "qr",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionNotFound, errors.GetCode(err))
}

func TestDisconnectFromConnected(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventReady, SessionID: "work",
	}))
	waitForStatus(t, c, "work", models.SessionStatusConnected)

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventDisconnected, SessionID: "work",
	}))
	session := waitForStatus(t, c, "work", models.SessionStatusDisconnected)
	assert.Nil(t, session.ClientInfo)
}

func TestRestartOnlyFromTerminalStates(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)

	// connecting is not terminal.
	err = c.Restart(ctx, "work")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.GetCode(err))

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventAuthFailure, SessionID: "work", Payload: "auth rejected",
	}))
	waitForStatus(t, c, "work", models.SessionStatusError)

	require.NoError(t, c.Restart(ctx, "work"))
	session := waitForStatus(t, c, "work", models.SessionStatusConnecting)
	assert.Empty(t, session.LastError, "restart resets the error")
	require.Eventually(t, func() bool {
		return engine.startCalls() == 2 // restart re-runs the handshake
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRestartUnknownSession(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{})
	err := c.Restart(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionNotFound, errors.GetCode(err))
}

func TestRemoveIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	c, sink := newTestController(t, engine, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, "work"))
	_, err = c.CurrentState("work")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionNotFound, errors.GetCode(err))

	// Second remove of the same id succeeds as a no-op.
	require.NoError(t, c.Remove(ctx, "work"))

	removed := 0
	for _, e := range sink.snapshot() {
		if e.name == models.EventSessionRemoved {
			removed++
		}
	}
	assert.Equal(t, 1, removed)
}

func TestRemoveFreesIDForRecreation(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, "work"))

	_, err = c.Create(ctx, "work", "")
	require.NoError(t, err)
}

func TestMessageEventRelaysWithoutTransition(t *testing.T) {
	c, sink := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventReady, SessionID: "work",
	}))
	waitForStatus(t, c, "work", models.SessionStatusConnected)

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type:      models.RawEventMessage,
		SessionID: "work",
		Message: &models.RawMessage{
			MessageID: "m1", TicketID: "t42", ContactID: "c7",
			Content: "hello", Direction: "inbound",
		},
	}))

	require.Eventually(t, func() bool {
		for _, e := range sink.snapshot() {
			if e.name == models.EventMessageNew {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	session, err := c.CurrentState("work")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusConnected, session.Status)

	for _, e := range sink.snapshot() {
		if e.name == models.EventMessageNew {
			assert.Equal(t, "t42", e.message.TicketID)
			assert.Equal(t, "work", e.message.SessionID)
			assert.Equal(t, "hello", e.message.Content)
		}
	}
}

func TestScanTimeoutMovesToError(t *testing.T) {
	c, _ := newTestController(t, &fakeEngine{}, Options{ScanTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventQR, SessionID: "work", Payload: "qr-1",
	}))
	waitForStatus(t, c, "work", models.SessionStatusAwaitingScan)

	session := waitForStatus(t, c, "work", models.SessionStatusError)
	assert.Contains(t, session.LastError, "scan timed out")
}

func TestScanTimeoutCancelledByConnect(t *testing.T) {
	c, sink := newTestController(t, &fakeEngine{}, Options{ScanTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventQR, SessionID: "work", Payload: "qr-1",
	}))
	waitForStatus(t, c, "work", models.SessionStatusAwaitingScan)

	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventAuthenticated, SessionID: "work",
	}))
	waitForStatus(t, c, "work", models.SessionStatusConnected)

	time.Sleep(200 * time.Millisecond)
	session, err := c.CurrentState("work")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusConnected, session.Status)
	assert.NotContains(t, sink.statusHistory(), models.SessionStatusError)
}

func TestIdleSweeperRemovesParkedSessions(t *testing.T) {
	c, sink := newTestController(t, &fakeEngine{}, Options{
		IdleThreshold: 50 * time.Millisecond,
		SweepInterval: 25 * time.Millisecond,
	})
	c.Start()
	ctx := context.Background()

	_, err := c.Create(ctx, "stale", "")
	require.NoError(t, err)
	require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
		Type: models.RawEventAuthFailure, SessionID: "stale", Payload: "auth rejected",
	}))
	waitForStatus(t, c, "stale", models.SessionStatusError)

	require.Eventually(t, func() bool {
		_, err := c.CurrentState("stale")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "idle session never swept")

	removed := false
	for _, e := range sink.snapshot() {
		if e.name == models.EventSessionRemoved {
			removed = true
		}
	}
	assert.True(t, removed)
}

func TestLastTransitionMonotonic(t *testing.T) {
	c, sink := newTestController(t, &fakeEngine{}, Options{})
	ctx := context.Background()

	_, err := c.Create(ctx, "work", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.HandleExternalEvent(ctx, &models.RawEvent{
			Type: models.RawEventQR, SessionID: "work", Payload: fmt.Sprintf("qr-%d", i),
		}))
	}
	require.Eventually(t, func() bool {
		session, err := c.CurrentState("work")
		return err == nil && session.QRCode == "qr-4"
	}, 2*time.Second, 5*time.Millisecond)

	var prev time.Time
	for _, e := range sink.snapshot() {
		if e.name != models.EventSessionStatusChanged {
			continue
		}
		assert.False(t, e.session.LastTransitionAt.Before(prev))
		prev = e.session.LastTransitionAt
	}
}

func TestNextStatusTable(t *testing.T) {
	tests := []struct {
		name    string
		current models.SessionStatus
		event   models.RawEventType
		want    models.SessionStatus
		legal   bool
	}{
		{"qr from connecting", models.SessionStatusConnecting, models.RawEventQR, models.SessionStatusAwaitingScan, true},
		{"qr refresh", models.SessionStatusAwaitingScan, models.RawEventQR, models.SessionStatusAwaitingScan, true},
		{"qr from connected", models.SessionStatusConnected, models.RawEventQR, models.SessionStatusConnected, false},
		{"auth from awaiting_scan", models.SessionStatusAwaitingScan, models.RawEventAuthenticated, models.SessionStatusConnected, true},
		{"ready from connecting", models.SessionStatusConnecting, models.RawEventReady, models.SessionStatusConnected, true},
		{"ready from disconnected", models.SessionStatusDisconnected, models.RawEventReady, models.SessionStatusDisconnected, false},
		{"disconnect from connected", models.SessionStatusConnected, models.RawEventDisconnected, models.SessionStatusDisconnected, true},
		{"disconnect from connecting", models.SessionStatusConnecting, models.RawEventDisconnected, models.SessionStatusConnecting, false},
		{"auth_failure from connecting", models.SessionStatusConnecting, models.RawEventAuthFailure, models.SessionStatusError, true},
		{"auth_failure from connected", models.SessionStatusConnected, models.RawEventAuthFailure, models.SessionStatusError, true},
		{"auth_failure from error", models.SessionStatusError, models.RawEventAuthFailure, models.SessionStatusError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, legal := nextStatus(tt.current, tt.event)
			assert.Equal(t, tt.legal, legal)
			if tt.legal {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
