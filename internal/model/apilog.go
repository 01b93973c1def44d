package model

import (
	"time"
)

// Log levels for provider API log entries
const (
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
)

// APILog is a per-config diagnostic entry recorded around token refreshes and
// send attempts, surfaced to operators through the admin API.
type APILog struct {
	ID        int64     `json:"id"`
	ConfigID  string    `json:"configId"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
