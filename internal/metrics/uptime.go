package metrics

import (
	"math"
	"time"

	"stackstatus/internal/models"
)

// Uptime summarises backend reachability over a probe history.
type Uptime struct {
	UptimePercent float64 `json:"uptime_percent"`
	TotalChecks   int     `json:"total_checks"`
	Reachable     int     `json:"reachable"`
	Unreachable   int     `json:"unreachable"`
	LastState     string  `json:"last_state,omitempty"`
	LastChecked   string  `json:"last_checked,omitempty"`
}

// ComputeUptime aggregates reachability statistics from probe records.
func ComputeUptime(records []models.ProbeRecord) Uptime {
	var (
		result   Uptime
		lastTime time.Time
	)
	for _, rec := range records {
		switch rec.State {
		case models.StateReachable:
			result.Reachable++
		case models.StateUnreachable:
			result.Unreachable++
		default:
			continue
		}
		if !rec.CheckedAt.Before(lastTime) {
			lastTime = rec.CheckedAt
			result.LastState = rec.State.String()
		}
	}

	result.TotalChecks = result.Reachable + result.Unreachable
	if result.TotalChecks > 0 {
		result.UptimePercent = round2(float64(result.Reachable) / float64(result.TotalChecks) * 100)
	}
	if !lastTime.IsZero() {
		result.LastChecked = lastTime.UTC().Format(time.RFC3339)
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
