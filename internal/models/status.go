package models

import (
	"fmt"
	"time"
)

// ConnectivityState describes whether the backend answered the last probe.
type ConnectivityState int

const (
	StateChecking ConnectivityState = iota
	StateReachable
	StateUnreachable
)

func (s ConnectivityState) String() string {
	switch s {
	case StateReachable:
		return "online"
	case StateUnreachable:
		return "offline"
	default:
		return "checking"
	}
}

// Label is the human readable form shown on the dashboard.
func (s ConnectivityState) Label() string {
	switch s {
	case StateReachable:
		return "Online"
	case StateUnreachable:
		return "Offline"
	default:
		return "Checking..."
	}
}

func (s ConnectivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectivityState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "checking", "":
		*s = StateChecking
	case "online":
		*s = StateReachable
	case "offline":
		*s = StateUnreachable
	default:
		return fmt.Errorf("unknown connectivity state %q", string(text))
	}
	return nil
}

// StatusPayload is the extended status document served by /api/status.
type StatusPayload struct {
	ServiceIndicator string `json:"api_status"`
	RuntimeVersion   string `json:"python_version"`
	PlatformName     string `json:"platform"`
	EnvironmentName  string `json:"environment"`
}

// Links are the outbound documentation references of the backend.
type Links struct {
	Docs  string `json:"docs"`
	Redoc string `json:"redoc"`
}

// Snapshot is a point-in-time copy of the monitor state.
type Snapshot struct {
	State       ConnectivityState `json:"state"`
	StateLabel  string            `json:"state_label"`
	Status      *StatusPayload    `json:"status,omitempty"`
	TestMessage *string           `json:"test_message,omitempty"`
	CheckedAt   *time.Time        `json:"checked_at,omitempty"`
	APIBaseURL  string            `json:"api_base_url"`
	Links       Links             `json:"links"`
}
