package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Domain event names carried over the wire to UI clients.
const (
	EventSessionCreated       = "session_created"
	EventSessionStatusChanged = "session_status_changed"
	EventSessionRemoved       = "session_removed"
	EventMessageNew           = "message_new"
	EventSessionState         = "session_state"
	EventCommandError         = "command_error"
)

// Room key prefixes. Every session and ticket has an implicit room.
const (
	SessionRoomPrefix = "session:"
	TicketRoomPrefix  = "ticket:"
)

// SessionRoom returns the room key for a session id.
func SessionRoom(sessionID string) string {
	return SessionRoomPrefix + sessionID
}

// TicketRoom returns the room key for a ticket id.
func TicketRoom(ticketID string) string {
	return TicketRoomPrefix + ticketID
}

// ValidRoomKey reports whether key names a session or ticket room.
func ValidRoomKey(key string) bool {
	switch {
	case strings.HasPrefix(key, SessionRoomPrefix):
		return len(key) > len(SessionRoomPrefix)
	case strings.HasPrefix(key, TicketRoomPrefix):
		return len(key) > len(TicketRoomPrefix)
	default:
		return false
	}
}

// SessionStatusPayload is the wire payload for session_status_changed and
// session_state events. QRCode and QRCodeTimestamp are present if and only
// if the status is awaiting_scan; the fields are omitted entirely otherwise
// so clients can distinguish "no QR because connected" from "not yet issued".
type SessionStatusPayload struct {
	SessionID       string        `json:"sessionId"`
	Status          SessionStatus `json:"status"`
	QRCode          string        `json:"qrCode,omitempty"`
	QRCodeTimestamp *time.Time    `json:"qrCodeTimestamp,omitempty"`
	ClientInfo      *ClientInfo   `json:"clientInfo,omitempty"`
	Error           string        `json:"error,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// StatusPayloadFromSession builds the wire payload from a session snapshot.
func StatusPayloadFromSession(s *Session) SessionStatusPayload {
	p := SessionStatusPayload{
		SessionID:  s.ID,
		Status:     s.Status,
		ClientInfo: s.ClientInfo,
		Error:      s.LastError,
		Timestamp:  s.LastTransitionAt,
	}
	if s.Status == SessionStatusAwaitingScan {
		p.QRCode = s.QRCode
		ts := s.QRCodeTimestamp
		p.QRCodeTimestamp = &ts
	}
	return p
}

// SessionEventPayload is the wire payload for session_created and
// session_removed events.
type SessionEventPayload struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageNewPayload is the wire payload for message_new events.
type MessageNewPayload struct {
	SessionID string    `json:"sessionId"`
	TicketID  string    `json:"ticketId"`
	MessageID string    `json:"messageId"`
	ContactID string    `json:"contactId"`
	Content   string    `json:"content"`
	Direction string    `json:"direction"`
	IsFromBot bool      `json:"isFromBot"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerMessage is the envelope for every server-to-client frame.
type ServerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeServerMessage marshals an event name and payload into one frame.
func EncodeServerMessage(event string, payload interface{}) ([]byte, error) {
	msg := ServerMessage{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// Client-to-server command actions.
const (
	ActionJoin       = "join"
	ActionLeave      = "leave"
	ActionFetchState = "fetch_state"
	ActionRestart    = "restart"
	ActionRemove     = "remove"
)

// ClientCommand is the shape of every client-to-server frame.
type ClientCommand struct {
	Action    string `json:"action"`
	Room      string `json:"room,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// CommandErrorPayload is sent to the issuing connection when a command fails.
type CommandErrorPayload struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
