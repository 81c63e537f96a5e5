package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"waroom/internal/gateway"
	"waroom/internal/lifecycle"
	"waroom/internal/models"
	"waroom/internal/retry"
	"waroom/internal/rooms"
	"waroom/internal/store"
	"waroom/pkg/bridge"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeEngine stands in for the external messaging engine. It records every
// session-control call so scenarios can assert teardown ordering.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEngine) record(op, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, op+":"+sessionID)
}

func (e *fakeEngine) StartSession(ctx context.Context, sessionID string) error {
	e.record("start", sessionID)
	return nil
}

func (e *fakeEngine) StopSession(ctx context.Context, sessionID string) error {
	e.record("stop", sessionID)
	return nil
}

func (e *fakeEngine) DeleteSession(ctx context.Context, sessionID string) error {
	e.record("delete", sessionID)
	return nil
}

func (e *fakeEngine) callsSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// TestEnvironment runs the full server stack — store, lifecycle controller,
// broadcaster and WebSocket gateway — on an httptest listener.
type TestEnvironment struct {
	Engine     *fakeEngine
	Store      *store.Store
	Controller *lifecycle.Controller
	Server     *httptest.Server
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	engine := &fakeEngine{}
	st := store.New()
	broadcaster := rooms.NewBroadcaster(logger)
	controller := lifecycle.NewController(st, engine, broadcaster, nil, lifecycle.Options{}, logger)

	gw := gateway.NewGateway(broadcaster, controller, logger, gateway.Options{})
	server := httptest.NewServer(http.HandlerFunc(gw.HandleWS))

	t.Cleanup(func() {
		server.Close()
		controller.Shutdown()
	})

	return &TestEnvironment{
		Engine:     engine,
		Store:      st,
		Controller: controller,
		Server:     server,
	}
}

// WSURL is the ws:// address of the gateway.
func (env *TestEnvironment) WSURL() string {
	return "ws" + strings.TrimPrefix(env.Server.URL, "http")
}

// NewBridgeClient starts a bridge client against the environment's gateway
// and waits for the link to come up.
func (env *TestEnvironment) NewBridgeClient(t *testing.T, opts bridge.Options) *bridge.Client {
	t.Helper()

	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = retry.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  20,
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := bridge.NewClient(env.WSURL(), logger, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("bridge client did not stop")
		}
	})

	require.Eventually(t, client.Connected, 3*time.Second, 10*time.Millisecond)
	return client
}

// Deliver routes a raw engine event through the controller, the same entry
// point the webhook handler uses.
func (env *TestEnvironment) Deliver(t *testing.T, event models.RawEvent) {
	t.Helper()
	require.NoError(t, env.Controller.HandleExternalEvent(context.Background(), &event))
}

// WaitForStatus blocks until the stored session reaches the wanted status.
func (env *TestEnvironment) WaitForStatus(t *testing.T, sessionID string, want models.SessionStatus) *models.Session {
	t.Helper()
	var session *models.Session
	require.Eventually(t, func() bool {
		s, err := env.Controller.CurrentState(sessionID)
		if err != nil {
			return false
		}
		session = s
		return s.Status == want
	}, 3*time.Second, 10*time.Millisecond, "session %s never reached %s", sessionID, want)
	return session
}
