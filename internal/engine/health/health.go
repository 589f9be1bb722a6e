// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// InstanceHealth contains health data for one configured instance.
type InstanceHealth struct {
	Instance            string             `json:"instance"`
	Status              SystemStatus       `json:"status"`
	State               domain.PollerState `json:"state"`
	Cycles              uint64             `json:"cycles"`
	LastCycleAt         time.Time          `json:"last_cycle_at"`
	LastError           string             `json:"last_error,omitempty"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	AuthFailures        int                `json:"auth_failures"`
	PendingClaims       int                `json:"pending_claims"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Instances    map[string]InstanceHealth `json:"instances"`
}
