// Package bridge is the client-side companion to the WebSocket gateway. It
// keeps a set of observation intents (which session and ticket rooms the
// caller wants), maintains a live view of each observed session, and owns
// reconnection: when the link comes back after being down, it re-joins every
// intent and pulls authoritative state before trusting the stream again.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"waroom/internal/models"
	"waroom/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Options configures a bridge client.
type Options struct {
	// Backoff drives the delay schedule between reconnection attempts. The
	// attempt counter resets after every successful connect.
	Backoff retry.BackoffConfig
	// OnStatus is invoked for every session_status_changed or session_state
	// frame, after the local view has been updated. Optional.
	OnStatus func(models.SessionStatusPayload)
	// OnMessage is invoked for every message_new frame. Optional.
	OnMessage func(models.MessageNewPayload)
	// OnCommandError is invoked when the server rejects a command. Optional.
	OnCommandError func(models.CommandErrorPayload)
	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
	// Token is sent as a bearer token on connect when the gateway requires
	// authentication.
	Token string
}

// Client maintains one logical connection to the gateway across any number
// of physical reconnects.
type Client struct {
	url    string
	logger *logrus.Logger
	opts   Options

	mu      sync.RWMutex
	conn    *websocket.Conn
	up      bool
	wasDown bool
	intents map[string]struct{}                    // room keys to (re)join
	views   map[string]models.SessionStatusPayload // sessionID -> last known state

	writeMu sync.Mutex
}

// NewClient creates a bridge client for the given WebSocket URL
// (e.g. "ws://host:8082/ws"). Run starts the connection.
func NewClient(url string, logger *logrus.Logger, opts Options) *Client {
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = retry.DefaultBackoffConfig()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Client{
		url:     url,
		logger:  logger,
		opts:    opts,
		intents: make(map[string]struct{}),
		views:   make(map[string]models.SessionStatusPayload),
	}
}

// Run connects and keeps the connection alive until ctx is cancelled. It
// only returns the context error; individual connection failures are
// handled internally with backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := retry.NewBackoff(c.opts.Backoff)
	attempt := 1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.Dial(ctx, c.url, c.dialOptions())
		if err != nil {
			delay := backoff.GetNextDelay(attempt)
			if attempt < c.opts.Backoff.MaxAttempts {
				attempt++
			}
			c.logger.WithError(err).WithField("delay", delay.String()).Warn("Gateway dial failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 1

		c.handleConnected(ctx, conn)
		c.readPump(ctx, conn)
		c.handleDisconnected()
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *Client) dialOptions() *websocket.DialOptions {
	if c.opts.Token == "" {
		return nil
	}
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+c.opts.Token)
	return &websocket.DialOptions{HTTPHeader: header}
}

// handleConnected marks the link up. The first connect is not a reconnect;
// reconciliation runs only on a false-to-true connectivity edge.
func (c *Client) handleConnected(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.up = true
	reconnected := c.wasDown
	c.wasDown = false
	intents := make([]string, 0, len(c.intents))
	for room := range c.intents {
		intents = append(intents, room)
	}
	c.mu.Unlock()

	c.logger.WithField("reconnected", reconnected).Info("Gateway link up")

	// Join first, then pull. Frames arriving between the join and the
	// fetch_state reply are applied on top of the authoritative snapshot
	// because the server serializes per-session emissions.
	for _, room := range intents {
		c.sendCommand(ctx, models.ClientCommand{Action: models.ActionJoin, Room: room})
	}
	if reconnected {
		for _, sessionID := range c.observedSessions() {
			c.sendCommand(ctx, models.ClientCommand{Action: models.ActionFetchState, SessionID: sessionID})
		}
	}
}

func (c *Client) handleDisconnected() {
	c.mu.Lock()
	c.conn = nil
	c.up = false
	c.wasDown = true
	c.mu.Unlock()
	c.logger.Warn("Gateway link down")
}

// Connected reports whether the link is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.up
}

// ObserveSession registers interest in a session. The room is joined
// immediately when the link is up, and re-joined after every reconnect.
func (c *Client) ObserveSession(ctx context.Context, sessionID string) {
	c.observe(ctx, models.SessionRoom(sessionID))
	c.sendCommand(ctx, models.ClientCommand{Action: models.ActionFetchState, SessionID: sessionID})
}

// UnobserveSession drops interest in a session and discards its view.
func (c *Client) UnobserveSession(ctx context.Context, sessionID string) {
	c.unobserve(ctx, models.SessionRoom(sessionID))
	c.mu.Lock()
	delete(c.views, sessionID)
	c.mu.Unlock()
}

// ObserveTicket registers interest in a ticket conversation.
func (c *Client) ObserveTicket(ctx context.Context, ticketID string) {
	c.observe(ctx, models.TicketRoom(ticketID))
}

// UnobserveTicket drops interest in a ticket conversation.
func (c *Client) UnobserveTicket(ctx context.Context, ticketID string) {
	c.unobserve(ctx, models.TicketRoom(ticketID))
}

func (c *Client) observe(ctx context.Context, room string) {
	c.mu.Lock()
	if _, exists := c.intents[room]; exists {
		c.mu.Unlock()
		return
	}
	c.intents[room] = struct{}{}
	up := c.up
	c.mu.Unlock()

	if up {
		c.sendCommand(ctx, models.ClientCommand{Action: models.ActionJoin, Room: room})
	}
}

func (c *Client) unobserve(ctx context.Context, room string) {
	c.mu.Lock()
	if _, exists := c.intents[room]; !exists {
		c.mu.Unlock()
		return
	}
	delete(c.intents, room)
	up := c.up
	c.mu.Unlock()

	if up {
		c.sendCommand(ctx, models.ClientCommand{Action: models.ActionLeave, Room: room})
	}
}

// observedSessions extracts session ids from the current intent set.
func (c *Client) observedSessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for room := range c.intents {
		if len(room) > len(models.SessionRoomPrefix) && room[:len(models.SessionRoomPrefix)] == models.SessionRoomPrefix {
			ids = append(ids, room[len(models.SessionRoomPrefix):])
		}
	}
	return ids
}

// SessionView returns the last known state of an observed session. The
// second return is false until a session_state or status frame arrives.
func (c *Client) SessionView(sessionID string) (models.SessionStatusPayload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	view, ok := c.views[sessionID]
	return view, ok
}

// RestartSession asks the server to restart a session.
func (c *Client) RestartSession(ctx context.Context, sessionID string) error {
	return c.sendCommand(ctx, models.ClientCommand{Action: models.ActionRestart, SessionID: sessionID})
}

// RemoveSession asks the server to remove a session.
func (c *Client) RemoveSession(ctx context.Context, sessionID string) error {
	return c.sendCommand(ctx, models.ClientCommand{Action: models.ActionRemove, SessionID: sessionID})
}

// FetchState asks the server for the authoritative state of a session. The
// reply lands in the view and the OnStatus callback.
func (c *Client) FetchState(ctx context.Context, sessionID string) error {
	return c.sendCommand(ctx, models.ClientCommand{Action: models.ActionFetchState, SessionID: sessionID})
}

func (c *Client) sendCommand(ctx context.Context, cmd models.ClientCommand) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("gateway link is down")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s command: %w", cmd.Action, err)
	}
	return nil
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.WithError(err).Debug("Gateway read failed")
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame applies one server frame. State frames replace the local view
// wholesale; stale fields never survive a newer snapshot.
func (c *Client) handleFrame(data []byte) {
	var msg models.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.WithError(err).Warn("Malformed server frame")
		return
	}

	switch msg.Event {
	case models.EventSessionState, models.EventSessionStatusChanged:
		var payload models.SessionStatusPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.logger.WithError(err).Warn("Malformed status payload")
			return
		}
		c.mu.Lock()
		c.views[payload.SessionID] = payload
		c.mu.Unlock()
		if c.opts.OnStatus != nil {
			c.opts.OnStatus(payload)
		}

	case models.EventSessionRemoved:
		var payload models.SessionEventPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.logger.WithError(err).Warn("Malformed session payload")
			return
		}
		c.mu.Lock()
		delete(c.views, payload.SessionID)
		c.mu.Unlock()

	case models.EventMessageNew:
		var payload models.MessageNewPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.logger.WithError(err).Warn("Malformed message payload")
			return
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(payload)
		}

	case models.EventCommandError:
		var payload models.CommandErrorPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.logger.WithError(err).Warn("Malformed error payload")
			return
		}
		c.logger.WithFields(logrus.Fields{
			"action": payload.Action,
			"code":   payload.Code,
		}).Warn("Command rejected by server")
		if c.opts.OnCommandError != nil {
			c.opts.OnCommandError(payload)
		}

	case models.EventSessionCreated:
		// Membership is intent-driven; creation frames carry no state to cache.

	default:
		c.logger.WithField("event", msg.Event).Debug("Unhandled server event")
	}
}
