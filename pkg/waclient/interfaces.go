// Package waclient is the boundary to the external WhatsApp messaging
// client. The actual protocol work (pairing, encryption, message transport)
// happens in an external engine reached over HTTP; this package only starts
// and stops handshakes and parses the engine's webhook events into the
// normalized raw-event shape the lifecycle controller consumes.
package waclient

import (
	"context"
)

// Client controls per-session resources held by the external engine.
type Client interface {
	// StartSession asks the engine to begin (or resume) the handshake for a
	// session id. The engine reports progress asynchronously via webhooks.
	StartSession(ctx context.Context, sessionID string) error

	// StopSession tears down the engine's live connection for a session id
	// without discarding its pairing credentials.
	StopSession(ctx context.Context, sessionID string) error

	// DeleteSession tears down the connection and discards all engine-side
	// state for the session id. Deleting an unknown id is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}
