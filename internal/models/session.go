package models

import "time"

// SessionStatus represents the current lifecycle state of a WhatsApp session
type SessionStatus string

const (
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusAwaitingScan SessionStatus = "awaiting_scan"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusError        SessionStatus = "error"
)

// IsTerminal reports whether the status allows no further external-client
// transitions without an explicit operator command.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusDisconnected || s == SessionStatusError
}

// ClientInfo carries the account metadata reported by the external client
// once a session is authenticated.
type ClientInfo struct {
	Number      string `json:"number"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
}

// Session represents one logical WhatsApp connection.
//
// Invariants maintained by the lifecycle controller:
//   - QRCode is non-empty if and only if Status is awaiting_scan.
//   - ClientInfo is non-nil only when Status is connected.
//   - LastTransitionAt never decreases.
type Session struct {
	ID               string        `json:"sessionId"`
	DisplayName      string        `json:"displayName,omitempty"`
	Status           SessionStatus `json:"status"`
	QRCode           string        `json:"qrCode,omitempty"`
	QRCodeTimestamp  time.Time     `json:"qrCodeTimestamp,omitzero"`
	ClientInfo       *ClientInfo   `json:"clientInfo,omitempty"`
	LastError        string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastTransitionAt time.Time     `json:"lastTransitionAt"`
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without sharing mutable state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ClientInfo != nil {
		info := *s.ClientInfo
		c.ClientInfo = &info
	}
	return &c
}

// RawEventType identifies an event reported by the external messaging client.
type RawEventType string

const (
	RawEventQR            RawEventType = "qr"
	RawEventAuthenticated RawEventType = "authenticated"
	RawEventReady         RawEventType = "ready"
	RawEventDisconnected  RawEventType = "disconnected"
	RawEventAuthFailure   RawEventType = "auth_failure"
	RawEventMessage       RawEventType = "message"
)

// RawEvent is the normalized shape of an event received from the external
// messaging client, before any transition validation.
type RawEvent struct {
	Type      RawEventType `json:"type"`
	SessionID string       `json:"sessionId"`
	Payload   string       `json:"payload,omitempty"`
	Client    *ClientInfo  `json:"client,omitempty"`
	Message   *RawMessage  `json:"message,omitempty"`
}

// RawMessage is the message portion of a "message" raw event.
type RawMessage struct {
	MessageID string `json:"messageId"`
	TicketID  string `json:"ticketId"`
	ContactID string `json:"contactId"`
	Content   string `json:"content"`
	Direction string `json:"direction"`
	IsFromBot bool   `json:"isFromBot"`
}

// RegisteredSession is the durable registry row for a session. Connection
// state is never persisted; only enough to re-initiate handshakes after a
// process restart.
type RegisteredSession struct {
	ID          string    `json:"sessionId"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}
