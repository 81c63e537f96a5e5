package constants

// Default server configuration values
const (
	DefaultServerPort           = 8082
	DefaultServerReadTimeoutSec = 15
	DefaultServerWriteTimeout   = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
	DefaultWebhookMaxSkewSec    = 300
	ServerErrorChannelSize      = 1
)

// Default session lifecycle values
const (
	DefaultScanTimeoutSec    = 120
	DefaultIdleThresholdSec  = 3600
	DefaultSweepIntervalSec  = 60
	DefaultSessionQueueSize  = 64
	DefaultSessionIDMaxLen   = 64
	DefaultShutdownDrainSec  = 5
	MaxDisplayNameLength     = 128
	MaxTicketIDLength        = 64
)

// Request size limits
const (
	MaxWebhookBodyBytes = 1 << 20 // 1 MiB
	MaxAPIBodyBytes     = 64 << 10
)

// Default WebSocket gateway values
const (
	DefaultWriteBufferSize   = 256
	DefaultGlobalBufferSize  = 64
	DefaultPingIntervalSec   = 30
	DefaultWriteDeadlineSec  = 10
)

// Default external client values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultClientRetryCount      = 3
	DefaultRegistryRetryAttempts = 3
	DefaultBusyTimeoutMs         = 5000
)

// Default retry/backoff values
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)
