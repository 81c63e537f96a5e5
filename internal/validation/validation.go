package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"waroom/internal/constants"
	"waroom/internal/errors"
	"waroom/internal/models"
)

// ValidateSessionID validates session id format and length
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "session id cannot be empty")
	}

	if len(sessionID) > constants.DefaultSessionIDMaxLen {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("session id too long (max %d characters)", constants.DefaultSessionIDMaxLen))
	}

	// Session ids should be alphanumeric with underscores and dashes
	for _, char := range sessionID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.New(errors.ErrCodeInvalidInput,
				"session id must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateDisplayName validates the human-readable session label
func ValidateDisplayName(displayName string) error {
	if len(displayName) > constants.MaxDisplayNameLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("display name too long (max %d characters)", constants.MaxDisplayNameLength))
	}

	// Check for control characters that could cause issues
	for _, char := range displayName {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "display name contains invalid characters")
		}
	}

	return nil
}

// ValidateRoomKey validates a client-supplied room key and the id it scopes
func ValidateRoomKey(roomKey string) error {
	if !models.ValidRoomKey(roomKey) {
		return errors.New(errors.ErrCodeInvalidInput,
			"room key must be session:<id> or ticket:<id>")
	}

	if strings.HasPrefix(roomKey, models.SessionRoomPrefix) {
		return ValidateSessionID(strings.TrimPrefix(roomKey, models.SessionRoomPrefix))
	}
	return ValidateTicketID(strings.TrimPrefix(roomKey, models.TicketRoomPrefix))
}

// ValidateTicketID validates ticket id format and length
func ValidateTicketID(ticketID string) error {
	if ticketID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "ticket id cannot be empty")
	}

	if len(ticketID) > constants.MaxTicketIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("ticket id too long (max %d characters)", constants.MaxTicketIDLength))
	}

	for _, char := range ticketID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "ticket id contains invalid characters")
		}
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 { // Max 1 hour
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
