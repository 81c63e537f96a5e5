// Package gateway is the WebSocket edge of the server. It upgrades HTTP
// requests, registers each connection with the room broadcaster, and
// dispatches client commands to the lifecycle controller. One goroutine
// reads, one writes; the write side is fed by a buffered channel so
// broadcasts never block on a slow client.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"waroom/internal/errors"
	"waroom/internal/lifecycle"
	"waroom/internal/logging"
	"waroom/internal/models"
	"waroom/internal/rooms"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options tunes per-connection behavior.
type Options struct {
	// WriteBufferSize is the per-connection send queue length. Frames are
	// dropped for the connection once the queue is full.
	WriteBufferSize int
	// PingInterval is the keepalive cadence on the write side.
	PingInterval time.Duration
	// WriteDeadline bounds each frame write.
	WriteDeadline time.Duration
}

// Gateway accepts WebSocket connections and bridges them to the broadcaster
// and lifecycle controller.
type Gateway struct {
	broadcaster *rooms.Broadcaster
	controller  *lifecycle.Controller
	logger      *logrus.Logger
	opts        Options
}

// NewGateway creates a gateway. Zero option fields fall back to sane values.
func NewGateway(broadcaster *rooms.Broadcaster, controller *lifecycle.Controller, logger *logrus.Logger, opts Options) *Gateway {
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	return &Gateway{
		broadcaster: broadcaster,
		controller:  controller,
		logger:      logger,
		opts:        opts,
	}
}

// conn is one client connection. Send implements rooms.Sender.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Send queues a frame without blocking. Returns false when the queue is full
// or the connection is shutting down.
func (c *conn) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// HandleWS upgrades the request and runs the connection until the client
// disconnects or the server shuts down.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		g.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &conn{
		id:     uuid.New().String(),
		ws:     ws,
		send:   make(chan []byte, g.opts.WriteBufferSize),
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connLog := g.logger.WithFields(logrus.Fields{
		logging.FieldConnID:   c.id,
		logging.FieldRemoteIP: r.RemoteAddr,
	})
	connLog.Info("WebSocket client connected")

	g.broadcaster.Register(c.id, c)
	defer func() {
		g.broadcaster.DropConnection(c.id)
		c.shutdown()
		ws.Close(websocket.StatusNormalClosure, "")
		connLog.Info("WebSocket client disconnected")
	}()

	go g.writeLoop(ctx, c, connLog)
	g.readLoop(ctx, c, connLog)
}

func (g *Gateway) writeLoop(ctx context.Context, c *conn, connLog *logrus.Entry) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := g.writeFrame(ctx, c, data); err != nil {
				connLog.WithError(err).Debug("Write failed, closing connection")
				c.shutdown()
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.opts.WriteDeadline)
			err := c.ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				connLog.WithError(err).Debug("Ping failed, closing connection")
				c.shutdown()
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) writeFrame(ctx context.Context, c *conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, g.opts.WriteDeadline)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

func (g *Gateway) readLoop(ctx context.Context, c *conn, connLog *logrus.Entry) {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		_, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				connLog.WithError(err).Debug("Read failed")
			}
			return
		}
		g.dispatch(ctx, c, data, connLog)
	}
}

// dispatch handles one client frame. Command failures never close the
// connection; the client gets a command_error frame instead.
func (g *Gateway) dispatch(ctx context.Context, c *conn, data []byte, connLog *logrus.Entry) {
	var cmd models.ClientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		g.sendCommandError(c, models.ClientCommand{}, errors.NewValidationError("command", "", "malformed command frame"))
		return
	}

	connLog.WithFields(logrus.Fields{
		logging.FieldAction:  cmd.Action,
		logging.FieldRoom:    cmd.Room,
		logging.FieldSession: cmd.SessionID,
	}).Debug("Client command")

	switch cmd.Action {
	case models.ActionJoin:
		if !models.ValidRoomKey(cmd.Room) {
			g.sendCommandError(c, cmd, errors.NewValidationError("room", cmd.Room, "room key must be session:<id> or ticket:<id>"))
			return
		}
		g.broadcaster.JoinRoom(c.id, cmd.Room)

	case models.ActionLeave:
		g.broadcaster.LeaveRoom(c.id, cmd.Room)

	case models.ActionFetchState:
		session, err := g.controller.CurrentState(cmd.SessionID)
		if err != nil {
			g.sendCommandError(c, cmd, err)
			return
		}
		g.broadcaster.SendTo(c.id, models.EventSessionState, models.StatusPayloadFromSession(session))

	case models.ActionRestart:
		if err := g.controller.Restart(ctx, cmd.SessionID); err != nil {
			g.sendCommandError(c, cmd, err)
		}

	case models.ActionRemove:
		if err := g.controller.Remove(ctx, cmd.SessionID); err != nil {
			g.sendCommandError(c, cmd, err)
		}

	default:
		g.sendCommandError(c, cmd, errors.NewValidationError("action", cmd.Action, "unknown action"))
	}
}

func (g *Gateway) sendCommandError(c *conn, cmd models.ClientCommand, err error) {
	g.broadcaster.SendTo(c.id, models.EventCommandError, models.CommandErrorPayload{
		Action:    cmd.Action,
		SessionID: cmd.SessionID,
		Code:      string(errors.GetCode(err)),
		Message:   errors.GetUserMessage(err),
	})
}
