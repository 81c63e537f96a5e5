// Package logging defines standard structured-log field names so the same
// identifiers appear consistently across every component.
package logging

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	FieldSession  = "session"
	FieldRoom     = "room"
	FieldConnID   = "conn_id"
	FieldTicketID = "ticket_id"

	// Service and operation fields
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldMethod    = "method"

	// Event fields
	FieldEvent  = "event"
	FieldStatus = "status"
	FieldAction = "action"

	// Performance
	FieldDuration = "duration_ms"
	FieldCount    = "count"

	// Network
	FieldService    = "service"
	FieldSize       = "size_bytes"
	FieldURL        = "url"
	FieldEndpoint   = "endpoint"
	FieldStatusCode = "status_code"
	FieldRemoteIP   = "remote_ip"
	FieldUserAgent  = "user_agent"

	// Tracing
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"

	// Error and debugging
	FieldErrorCode = "error_code"
	FieldAttempt   = "attempt"
)
