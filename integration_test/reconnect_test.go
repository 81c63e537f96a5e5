package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"waroom/internal/models"
	"waroom/pkg/bridge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeSeesLiveStatusChanges(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	_, err := env.Controller.Create(ctx, "s1", "")
	require.NoError(t, err)

	client := env.NewBridgeClient(t, bridge.Options{})
	client.ObserveSession(ctx, "s1")

	env.Deliver(t, qrEvent("s1", "QR-LIVE"))

	require.Eventually(t, func() bool {
		view, ok := client.SessionView("s1")
		return ok && view.Status == models.SessionStatusAwaitingScan && view.QRCode == "QR-LIVE"
	}, 3*time.Second, 10*time.Millisecond)
}

// A transition that happens while the client is offline must be recovered by
// the reconnect pull, not waited out for the next push.
func TestReconnectReconcilesMissedTransition(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	_, err := env.Controller.Create(ctx, "s1", "")
	require.NoError(t, err)
	env.Deliver(t, qrEvent("s1", "QR-OLD"))

	client := env.NewBridgeClient(t, bridge.Options{})
	client.ObserveSession(ctx, "s1")
	require.Eventually(t, func() bool {
		view, ok := client.SessionView("s1")
		return ok && view.Status == models.SessionStatusAwaitingScan
	}, 3*time.Second, 10*time.Millisecond)

	// Sever every live connection, then advance the session while the
	// client is down.
	env.Server.CloseClientConnections()
	env.Deliver(t, readyEvent("s1"))
	env.WaitForStatus(t, "s1", models.SessionStatusConnected)

	require.Eventually(t, func() bool {
		view, ok := client.SessionView("s1")
		return ok && view.Status == models.SessionStatusConnected
	}, 5*time.Second, 10*time.Millisecond, "view must reconcile to connected after reconnect")

	view, _ := client.SessionView("s1")
	assert.Empty(t, view.QRCode, "stale QR must not survive reconciliation")
}

func TestTwoObserversConvergeOnSameState(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	_, err := env.Controller.Create(ctx, "s3", "")
	require.NoError(t, err)

	first := env.NewBridgeClient(t, bridge.Options{})
	second := env.NewBridgeClient(t, bridge.Options{})
	first.ObserveSession(ctx, "s3")
	second.ObserveSession(ctx, "s3")

	env.Deliver(t, qrEvent("s3", "QR-BOTH"))

	for _, client := range []*bridge.Client{first, second} {
		require.Eventually(t, func() bool {
			view, ok := client.SessionView("s3")
			return ok && view.Status == models.SessionStatusAwaitingScan
		}, 3*time.Second, 10*time.Millisecond)
	}

	viewA, _ := first.SessionView("s3")
	viewB, _ := second.SessionView("s3")
	assert.Equal(t, viewA, viewB)
}

// A connection joined to both the session room and the matching ticket room
// must receive each message exactly once.
func TestMessageDeliveredOncePerConnection(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	_, err := env.Controller.Create(ctx, "s1", "")
	require.NoError(t, err)
	env.Deliver(t, readyEvent("s1"))
	env.WaitForStatus(t, "s1", models.SessionStatusConnected)

	var mu sync.Mutex
	var received []models.MessageNewPayload
	client := env.NewBridgeClient(t, bridge.Options{
		OnMessage: func(p models.MessageNewPayload) {
			mu.Lock()
			received = append(received, p)
			mu.Unlock()
		},
	})
	// The gateway works through one connection's commands in order, so once
	// the session snapshot lands the ticket join sent before it is in effect.
	client.ObserveTicket(ctx, "t9")
	client.ObserveSession(ctx, "s1")
	require.Eventually(t, func() bool {
		_, ok := client.SessionView("s1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	env.Deliver(t, messageEvent("s1", "t9", "m1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	// allow a duplicate, if any, to arrive before asserting
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "m1", received[0].MessageID)
	assert.Equal(t, "t9", received[0].TicketID)
}
