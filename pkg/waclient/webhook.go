package waclient

import (
	"encoding/json"
	"fmt"

	"waroom/internal/models"
)

var knownEventTypes = map[models.RawEventType]struct{}{
	models.RawEventQR:            {},
	models.RawEventAuthenticated: {},
	models.RawEventReady:         {},
	models.RawEventDisconnected:  {},
	models.RawEventAuthFailure:   {},
	models.RawEventMessage:       {},
}

// ParseWebhook decodes an engine webhook body into a raw event.
// The body is the raw-event JSON itself: {type, sessionId, payload?, ...}.
func ParseWebhook(body []byte) (*models.RawEvent, error) {
	var event models.RawEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook body: %w", err)
	}

	if event.SessionID == "" {
		return nil, fmt.Errorf("webhook event missing sessionId")
	}
	if _, ok := knownEventTypes[event.Type]; !ok {
		return nil, fmt.Errorf("unknown webhook event type: %s", event.Type)
	}
	if event.Type == models.RawEventQR && event.Payload == "" {
		return nil, fmt.Errorf("qr event missing payload")
	}
	if event.Type == models.RawEventMessage && event.Message == nil {
		return nil, fmt.Errorf("message event missing message body")
	}

	return &event, nil
}
