// Package config provides environment helpers for go-idmcam commands.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults used when the environment does not say otherwise.
const (
	DefaultDeviceName = "IDM"
	DefaultSource     = "test"
	DefaultHTTPAddr   = ":8080"
	DefaultLogLevel   = "info"
)

// DeviceName returns the BLE advertised-name filter from IDM_NAME.
func DeviceName() string {
	return envOr("IDM_NAME", DefaultDeviceName)
}

// Source returns the frame driver name from IDMCAM_SOURCE.
func Source() string {
	return envOr("IDMCAM_SOURCE", DefaultSource)
}

// Input returns the media URL for pipeline drivers from IDMCAM_INPUT.
func Input() string {
	return os.Getenv("IDMCAM_INPUT")
}

// HTTPAddr returns the listen address for the still-image server.
func HTTPAddr() string {
	return envOr("IDMCAM_HTTP_ADDR", DefaultHTTPAddr)
}

// LogLevel returns the log level from LOG_LEVEL.
func LogLevel() string {
	return envOr("LOG_LEVEL", DefaultLogLevel)
}

// BotToken returns the Telegram bot token from TELEGRAM_BOT_TOKEN.
func BotToken() (string, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required")
	}
	return token, nil
}

// BotOwnerID returns the owner chat id from TELEGRAM_OWNER_ID.
func BotOwnerID() (int64, error) {
	raw := os.Getenv("TELEGRAM_OWNER_ID")
	if raw == "" {
		return 0, fmt.Errorf("TELEGRAM_OWNER_ID environment variable is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("TELEGRAM_OWNER_ID: %w", err)
	}
	return id, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
