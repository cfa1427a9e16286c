package models

import "time"

// AuditEntry records a single request event.
type AuditEntry struct {
	ID             int64
	RequestID      string
	Timestamp      time.Time
	TokenHash      string
	Operation      string
	Path           string
	Status         string
	ResponseCode   int
	ResponseTimeMs int64
	ClientIP       string
	Metadata       map[string]any
}
