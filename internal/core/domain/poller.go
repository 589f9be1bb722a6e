package domain

import "time"

// PollerState is the lifecycle state of one instance's poll loop.
type PollerState string

const (
	PollerStateIdle       PollerState = "idle"
	PollerStateQuerying   PollerState = "querying"
	PollerStateProcessing PollerState = "processing"
	PollerStateSleeping   PollerState = "sleeping"
	PollerStateStopped    PollerState = "stopped"
	PollerStateHalted     PollerState = "halted"
)

// PollerStatus is a snapshot of a poller for health reporting.
type PollerStatus struct {
	Instance            string      `json:"instance"`
	State               PollerState `json:"state"`
	Cycles              uint64      `json:"cycles"`
	LastCycleAt         time.Time   `json:"last_cycle_at"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	AuthFailures        int         `json:"auth_failures"`
}
