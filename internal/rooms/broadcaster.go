// Package rooms maps domain events to targeted transport emissions. It owns
// the room-membership model: one implicit room per session id and one per
// ticket id, with idempotent join/leave and automatic cleanup when a
// transport connection drops. The broadcaster is transport-agnostic; the
// WebSocket gateway plugs in via the Sender interface.
package rooms

import (
	"sync"
	"time"

	"waroom/internal/logging"
	"waroom/internal/metrics"
	"waroom/internal/models"

	"github.com/sirupsen/logrus"
)

// Sender delivers one encoded frame to a single transport connection.
// Implementations must not block; a slow consumer reports false and the
// frame is dropped for that connection only.
type Sender interface {
	Send(data []byte) bool
}

// Broadcaster tracks registered connections and their room memberships.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[string]Sender              // connID -> sender (the global listener set)
	rooms map[string]map[string]struct{} // roomKey -> set of connIDs

	logger *logrus.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		conns:  make(map[string]Sender),
		rooms:  make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Register adds an authenticated transport connection. Every registered
// connection receives global broadcasts until it is dropped.
func (b *Broadcaster) Register(connID string, sender Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[connID] = sender
	metrics.SetGauge("ws_connections", float64(len(b.conns)), nil, "Connected transport clients")
}

// JoinRoom subscribes a connection to a room. Idempotent: joining twice is a
// no-op, so UIs can re-join after a blip without tracking membership.
func (b *Broadcaster) JoinRoom(connID, roomKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, registered := b.conns[connID]; !registered {
		return
	}
	members, ok := b.rooms[roomKey]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[roomKey] = members
	}
	if _, already := members[connID]; already {
		return
	}
	members[connID] = struct{}{}
	b.logger.WithFields(logrus.Fields{
		logging.FieldConnID: connID,
		logging.FieldRoom:   roomKey,
	}).Debug("Joined room")
	metrics.SetGauge("rooms_active", float64(len(b.rooms)), nil, "Rooms with at least one member")
}

// LeaveRoom unsubscribes a connection from a room. Leaving a room not joined
// is a no-op.
func (b *Broadcaster) LeaveRoom(connID, roomKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeMembership(connID, roomKey)
}

// DropConnection removes the connection and all its memberships. Called by
// the gateway on transport disconnect; no explicit per-room cleanup is
// required of clients.
func (b *Broadcaster) DropConnection(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.conns, connID)
	for roomKey := range b.rooms {
		b.removeMembership(connID, roomKey)
	}
	metrics.SetGauge("ws_connections", float64(len(b.conns)), nil, "Connected transport clients")
}

// removeMembership must be called with the lock held.
func (b *Broadcaster) removeMembership(connID, roomKey string) {
	members, ok := b.rooms[roomKey]
	if !ok {
		return
	}
	if _, member := members[connID]; !member {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(b.rooms, roomKey)
	}
	metrics.SetGauge("rooms_active", float64(len(b.rooms)), nil, "Rooms with at least one member")
}

// BroadcastToRoom delivers an event to all current members of a room.
// Members joining after the call do not receive it; there is no buffering or
// replay here (reconnect reconciliation covers that gap with a pull).
func (b *Broadcaster) BroadcastToRoom(roomKey, event string, payload interface{}) {
	data, err := models.EncodeServerMessage(event, payload)
	if err != nil {
		b.logger.WithError(err).WithField(logging.FieldEvent, event).Error("Failed to encode broadcast")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for connID := range b.rooms[roomKey] {
		b.deliver(connID, event, data)
	}
}

// BroadcastGlobal delivers an event to every registered connection. Used
// sparingly for cross-cutting events.
func (b *Broadcaster) BroadcastGlobal(event string, payload interface{}) {
	data, err := models.EncodeServerMessage(event, payload)
	if err != nil {
		b.logger.WithError(err).WithField(logging.FieldEvent, event).Error("Failed to encode broadcast")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for connID := range b.conns {
		b.deliver(connID, event, data)
	}
}

// SendTo delivers an event to one connection only. Used for command replies
// and fetch-state responses.
func (b *Broadcaster) SendTo(connID, event string, payload interface{}) {
	data, err := models.EncodeServerMessage(event, payload)
	if err != nil {
		b.logger.WithError(err).WithField(logging.FieldEvent, event).Error("Failed to encode message")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	b.deliver(connID, event, data)
}

// deliver must be called with at least a read lock held.
func (b *Broadcaster) deliver(connID, event string, data []byte) {
	sender, ok := b.conns[connID]
	if !ok {
		return
	}
	if !sender.Send(data) {
		b.logger.WithFields(logrus.Fields{
			logging.FieldConnID: connID,
			logging.FieldEvent:  event,
		}).Warn("Send buffer full, dropping frame")
		metrics.IncrementCounter("broadcast_frames_dropped_total", nil, "Frames dropped for slow consumers")
		return
	}
	metrics.IncrementCounter("broadcast_frames_total", map[string]string{
		logging.FieldEvent: event,
	}, "Frames delivered to transport clients")
}

// MemberCount returns the number of members in a room.
func (b *Broadcaster) MemberCount(roomKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomKey])
}

// IsMember reports whether a connection has joined a room.
func (b *Broadcaster) IsMember(connID, roomKey string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.rooms[roomKey][connID]
	return ok
}

// EventSink implementation: translation from domain events to emissions.

// SessionCreated broadcasts session_created globally.
func (b *Broadcaster) SessionCreated(sessionID string, at time.Time) {
	b.BroadcastGlobal(models.EventSessionCreated, models.SessionEventPayload{
		SessionID: sessionID,
		Timestamp: at,
	})
}

// SessionRemoved broadcasts session_removed globally.
func (b *Broadcaster) SessionRemoved(sessionID string, at time.Time) {
	b.BroadcastGlobal(models.EventSessionRemoved, models.SessionEventPayload{
		SessionID: sessionID,
		Timestamp: at,
	})
}

// SessionStatusChanged delivers the status payload to every listener.
// Session-room members and unscoped listeners form one set here, so each
// connection receives the frame exactly once.
func (b *Broadcaster) SessionStatusChanged(session *models.Session) {
	b.BroadcastGlobal(models.EventSessionStatusChanged, models.StatusPayloadFromSession(session))
}

// MessageNew delivers to the ticket room and the session room. Connections
// in both receive the frame once.
func (b *Broadcaster) MessageNew(payload models.MessageNewPayload) {
	data, err := models.EncodeServerMessage(models.EventMessageNew, payload)
	if err != nil {
		b.logger.WithError(err).Error("Failed to encode message_new")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, roomKey := range []string{models.TicketRoom(payload.TicketID), models.SessionRoom(payload.SessionID)} {
		for connID := range b.rooms[roomKey] {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			b.deliver(connID, models.EventMessageNew, data)
		}
	}
}
