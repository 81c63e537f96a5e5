package rooms

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"waroom/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (c *captureSender) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, data)
	return true
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *captureSender) events(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, frame := range c.frames {
		var msg models.ServerMessage
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg.Event)
	}
	return out
}

func newTestBroadcaster() *Broadcaster {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewBroadcaster(logger)
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	b := newTestBroadcaster()
	sender := &captureSender{}
	b.Register("c1", sender)

	room := models.SessionRoom("work")
	b.JoinRoom("c1", room)
	b.JoinRoom("c1", room)
	b.JoinRoom("c1", room)

	b.BroadcastToRoom(room, "ping", nil)
	assert.Equal(t, 1, sender.count(), "repeat joins must not duplicate delivery")
	assert.Equal(t, 1, b.MemberCount(room))
}

func TestJoinRequiresRegistration(t *testing.T) {
	b := newTestBroadcaster()
	b.JoinRoom("ghost", models.SessionRoom("work"))
	assert.Equal(t, 0, b.MemberCount(models.SessionRoom("work")))
}

func TestLeaveRoom(t *testing.T) {
	b := newTestBroadcaster()
	sender := &captureSender{}
	b.Register("c1", sender)

	room := models.SessionRoom("work")
	b.JoinRoom("c1", room)
	b.LeaveRoom("c1", room)
	// Leaving twice is a no-op.
	b.LeaveRoom("c1", room)

	b.BroadcastToRoom(room, "ping", nil)
	assert.Equal(t, 0, sender.count())
}

func TestBroadcastToRoomScopesDelivery(t *testing.T) {
	b := newTestBroadcaster()
	member := &captureSender{}
	outsider := &captureSender{}
	b.Register("member", member)
	b.Register("outsider", outsider)

	room := models.TicketRoom("t42")
	b.JoinRoom("member", room)

	b.BroadcastToRoom(room, "ping", nil)
	assert.Equal(t, 1, member.count())
	assert.Equal(t, 0, outsider.count())
}

func TestBroadcastGlobalReachesEveryConnection(t *testing.T) {
	b := newTestBroadcaster()
	a := &captureSender{}
	c := &captureSender{}
	b.Register("a", a)
	b.Register("c", c)
	b.JoinRoom("a", models.SessionRoom("work"))

	b.BroadcastGlobal("ping", nil)
	assert.Equal(t, 1, a.count(), "room members receive global frames exactly once")
	assert.Equal(t, 1, c.count())
}

func TestDropConnectionCleansMemberships(t *testing.T) {
	b := newTestBroadcaster()
	sender := &captureSender{}
	b.Register("c1", sender)
	b.JoinRoom("c1", models.SessionRoom("work"))
	b.JoinRoom("c1", models.TicketRoom("t42"))

	b.DropConnection("c1")

	assert.Equal(t, 0, b.MemberCount(models.SessionRoom("work")))
	assert.Equal(t, 0, b.MemberCount(models.TicketRoom("t42")))
	b.BroadcastGlobal("ping", nil)
	assert.Equal(t, 0, sender.count())
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	b := newTestBroadcaster()
	slow := &captureSender{full: true}
	fast := &captureSender{}
	b.Register("slow", slow)
	b.Register("fast", fast)

	b.BroadcastGlobal("ping", nil)
	assert.Equal(t, 0, slow.count())
	assert.Equal(t, 1, fast.count())
}

func TestMessageNewDedupesAcrossRooms(t *testing.T) {
	b := newTestBroadcaster()
	both := &captureSender{}
	ticketOnly := &captureSender{}
	b.Register("both", both)
	b.Register("ticketOnly", ticketOnly)

	b.JoinRoom("both", models.TicketRoom("t42"))
	b.JoinRoom("both", models.SessionRoom("work"))
	b.JoinRoom("ticketOnly", models.TicketRoom("t42"))

	b.MessageNew(models.MessageNewPayload{
		SessionID: "work",
		TicketID:  "t42",
		MessageID: "m1",
		Content:   "hello",
		Timestamp: time.Now(),
	})

	assert.Equal(t, 1, both.count(), "member of both rooms receives the frame once")
	assert.Equal(t, 1, ticketOnly.count())
	assert.Equal(t, []string{models.EventMessageNew}, ticketOnly.events(t))
}

func TestSessionStatusChangedPayload(t *testing.T) {
	b := newTestBroadcaster()
	sender := &captureSender{}
	b.Register("c1", sender)

	now := time.Now()
	b.SessionStatusChanged(&models.Session{
		ID:               "work",
		Status:           models.SessionStatusAwaitingScan,
		QRCode:           "qr-1",
		QRCodeTimestamp:  now,
		LastTransitionAt: now,
	})

	require.Equal(t, 1, sender.count())
	var msg models.ServerMessage
	require.NoError(t, json.Unmarshal(sender.frames[0], &msg))
	assert.Equal(t, models.EventSessionStatusChanged, msg.Event)

	var payload models.SessionStatusPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "work", payload.SessionID)
	assert.Equal(t, models.SessionStatusAwaitingScan, payload.Status)
	assert.Equal(t, "qr-1", payload.QRCode)
	require.NotNil(t, payload.QRCodeTimestamp)
}

func TestSessionLifecycleEventsAreGlobal(t *testing.T) {
	b := newTestBroadcaster()
	sender := &captureSender{}
	b.Register("c1", sender)

	b.SessionCreated("work", time.Now())
	b.SessionRemoved("work", time.Now())

	assert.Equal(t, []string{models.EventSessionCreated, models.EventSessionRemoved}, sender.events(t))
}
