package integration_test

import "waroom/internal/models"

func qrEvent(sessionID, payload string) models.RawEvent {
	return models.RawEvent{Type: models.RawEventQR, SessionID: sessionID, Payload: payload}
}

func readyEvent(sessionID string) models.RawEvent {
	return models.RawEvent{
		Type:      models.RawEventReady,
		SessionID: sessionID,
		Client:    &models.ClientInfo{Number: "+15550001111", DisplayName: "Support", Platform: "android"},
	}
}

func disconnectedEvent(sessionID string) models.RawEvent {
	return models.RawEvent{Type: models.RawEventDisconnected, SessionID: sessionID}
}

func authFailureEvent(sessionID, reason string) models.RawEvent {
	return models.RawEvent{Type: models.RawEventAuthFailure, SessionID: sessionID, Payload: reason}
}

func messageEvent(sessionID, ticketID, messageID string) models.RawEvent {
	return models.RawEvent{
		Type:      models.RawEventMessage,
		SessionID: sessionID,
		Message: &models.RawMessage{
			MessageID: messageID,
			TicketID:  ticketID,
			ContactID: "+15552220000",
			Content:   "hello there",
			Direction: "inbound",
		},
	}
}
