package models

import "time"

// ProbeRecord captures the outcome of a single status refresh.
type ProbeRecord struct {
	ID         string            `json:"id"`
	CheckedAt  time.Time         `json:"checked_at"`
	State      ConnectivityState `json:"state"`
	StatusCode *int              `json:"status_code,omitempty"`
	LatencyMS  *float64          `json:"latency_ms,omitempty"`
	Error      string            `json:"error,omitempty"`
}
