package models

import "time"

// Config holds the application configuration
type Config struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Server   ServerConfig   `json:"server"`
	Session  SessionConfig  `json:"session"`
	Registry RegistryConfig `json:"registry"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// WhatsAppConfig holds the external messaging client configuration
type WhatsAppConfig struct {
	APIBaseURL    string        `json:"api_base_url"`
	Timeout       time.Duration `json:"timeout_ms"`
	RetryCount    int           `json:"retry_count"`
	WebhookSecret string        `json:"webhook_secret"`
}

// ServerConfig holds HTTP/WebSocket server configurations
type ServerConfig struct {
	Port              int    `json:"port"`
	APITokenHash      string `json:"api_token_hash"`
	WebhookMaxSkewSec int    `json:"webhookMaxSkewSec"`
	WriteBufferSize   int    `json:"writeBufferSize"`
}

// SessionConfig holds lifecycle policy configuration
type SessionConfig struct {
	ScanTimeoutSec   int `json:"scanTimeoutSec"`
	IdleThresholdSec int `json:"idleThresholdSec"`
	SweepIntervalSec int `json:"sweepIntervalSec"`
	QueueSize        int `json:"queueSize"`
}

// RegistryConfig holds the durable session registry configuration
type RegistryConfig struct {
	Path string `json:"path"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
