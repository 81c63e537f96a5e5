package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewUnknownSessionError creates the canonical not-found error for a session id
func NewUnknownSessionError(sessionID string) *AppError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session %s not found", sessionID)).
		WithContext("session_id", sessionID).
		WithUserMessage("Session not found")
}

// NewDuplicateSessionError creates the error returned when create is called
// for a session id that is already active
func NewDuplicateSessionError(sessionID string) *AppError {
	return New(ErrCodeSessionExists, fmt.Sprintf("session %s already exists", sessionID)).
		WithContext("session_id", sessionID).
		WithUserMessage("Session already exists")
}

// NewInvalidStateError creates the error returned when a command is illegal
// from the session's current state
func NewInvalidStateError(sessionID, command, currentState string) *AppError {
	return New(ErrCodeInvalidState, fmt.Sprintf("%s is not legal from state %s", command, currentState)).
		WithContext("session_id", sessionID).
		WithContext("command", command).
		WithContext("current_state", currentState).
		WithUserMessage(fmt.Sprintf("Cannot %s a session in state %s", command, currentState))
}

// NewExternalClientError wraps a fault reported by the messaging client
func NewExternalClientError(sessionID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeExternalClient, "external client fault").
		WithContext("session_id", sessionID).
		WithUserMessage("Messaging client error")
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewRegistryError creates a session-registry error with operation context
func NewRegistryError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeRegistryQuery, fmt.Sprintf("registry %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Registry operation failed")
}

// NewAuthError creates an authentication/authorization error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// statusByCode maps error codes to their HTTP status. EXTERNAL_CLIENT is
// handled separately since retryability decides between 502 and 500.
var statusByCode = map[ErrorCode]int{
	ErrCodeValidationFailed: http.StatusBadRequest,
	ErrCodeInvalidInput:     http.StatusBadRequest,
	ErrCodeInvalidConfig:    http.StatusBadRequest,
	ErrCodeAuthentication:   http.StatusUnauthorized,
	ErrCodeAuthorization:    http.StatusForbidden,
	ErrCodeSessionNotFound:  http.StatusNotFound,
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeSessionExists:    http.StatusConflict,
	ErrCodeInvalidState:     http.StatusConflict,
	ErrCodeTimeout:          http.StatusRequestTimeout,
	ErrCodeRegistryQuery:    http.StatusServiceUnavailable,
}

// HTTPStatusCode maps an error to the status its transport should answer
// with.
func HTTPStatusCode(err error) int {
	code := GetCode(err)
	if code == ErrCodeExternalClient {
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPErrorResponse is the JSON error envelope returned by the admin API.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse builds the error envelope. Error context crosses the trust
// boundary here, so credential-shaped keys are stripped.
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}
	response.Error.Code = GetCode(err)
	response.Error.Message = GetUserMessage(err)

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if ctx := publicContext(appErr.Context); len(ctx) > 0 {
			response.Error.Context = ctx
		}
	}
	return response
}

func publicContext(ctx map[string]interface{}) map[string]interface{} {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		switch k {
		case "password", "token", "secret":
		default:
			out[k] = v
		}
	}
	return out
}
