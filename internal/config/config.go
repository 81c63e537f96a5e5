package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"waroom/internal/constants"
	"waroom/internal/models"
	"waroom/internal/security"
)

var (
	ErrMissingWhatsAppURL  = models.ConfigError{Message: "missing WhatsApp API URL"}
	ErrMissingRegistryPath = models.ConfigError{Message: "missing registry database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingWhatsAppURL
	}
	if c.Registry.Path == "" {
		return ErrMissingRegistryPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.WebhookMaxSkewSec <= 0 {
		c.Server.WebhookMaxSkewSec = constants.DefaultWebhookMaxSkewSec
	}
	if c.Server.WriteBufferSize <= 0 {
		c.Server.WriteBufferSize = constants.DefaultWriteBufferSize
	}

	if c.Session.ScanTimeoutSec <= 0 {
		c.Session.ScanTimeoutSec = constants.DefaultScanTimeoutSec
	}
	if c.Session.IdleThresholdSec <= 0 {
		c.Session.IdleThresholdSec = constants.DefaultIdleThresholdSec
	}
	if c.Session.SweepIntervalSec <= 0 {
		c.Session.SweepIntervalSec = constants.DefaultSweepIntervalSec
	}
	if c.Session.QueueSize <= 0 {
		c.Session.QueueSize = constants.DefaultSessionQueueSize
	}

	if c.WhatsApp.RetryCount <= 0 {
		c.WhatsApp.RetryCount = constants.DefaultClientRetryCount
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		c.WhatsApp.APIBaseURL = url
	}

	// SECURITY: secrets should be set via environment variables
	if secret := os.Getenv("WAROOM_WEBHOOK_SECRET"); secret != "" {
		c.WhatsApp.WebhookSecret = secret
	}
	if hash := os.Getenv("WAROOM_API_TOKEN_HASH"); hash != "" {
		c.Server.APITokenHash = hash
	}

	if path := os.Getenv("REGISTRY_PATH"); path != "" {
		c.Registry.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	// Check if we're in production mode
	isProduction := os.Getenv("WAROOM_ENV") == "production"

	if isProduction {
		// In production, webhook secrets and API tokens are mandatory
		if c.WhatsApp.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set WAROOM_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.WhatsApp.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}
		if c.Server.APITokenHash == "" {
			return models.ConfigError{Message: "API token hash is required in production (set WAROOM_API_TOKEN_HASH environment variable)"}
		}

		// Warn about debug logging in production
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		// In development, warn if secrets are missing
		if c.WhatsApp.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set WAROOM_WEBHOOK_SECRET environment variable for security.\n")
		}
	}

	return nil
}
