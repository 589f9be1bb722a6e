package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/pollmark/internal/core/claim"
	"github.com/vietddude/pollmark/internal/core/domain"
)

// cacheFor bounds how often the ledger is scanned.
const cacheFor = 2 * time.Second

// StatusSource reports a poller's status.
type StatusSource interface {
	Status() domain.PollerStatus
}

// Monitor aggregates health status from the pollers.
type Monitor struct {
	pollers    []StatusSource
	ledger     claim.Ledger
	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. ledger may be nil.
func NewMonitor(pollers []StatusSource, ledger claim.Ledger) *Monitor {
	return &Monitor{pollers: pollers, ledger: ledger}
}

// CheckHealth builds the report for every poller.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < cacheFor && m.lastReport.Instances != nil {
		return m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Instances:    make(map[string]InstanceHealth, len(m.pollers)),
	}

	for _, p := range m.pollers {
		st := p.Status()
		h := InstanceHealth{
			Instance:            st.Instance,
			Status:              evaluate(st),
			State:               st.State,
			Cycles:              st.Cycles,
			LastCycleAt:         st.LastCycleAt,
			LastError:           st.LastError,
			ConsecutiveFailures: st.ConsecutiveFailures,
			AuthFailures:        st.AuthFailures,
		}

		if m.ledger != nil {
			if ids, err := m.ledger.Pending(ctx, st.Instance); err == nil {
				h.PendingClaims = len(ids)
			} else if h.Status == StatusHealthy {
				h.Status = StatusDegraded
			}
		}

		report.Instances[st.Instance] = h
		report.SystemStatus = worst(report.SystemStatus, h.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func evaluate(st domain.PollerStatus) SystemStatus {
	switch {
	case st.State == domain.PollerStateHalted:
		return StatusCritical
	case st.ConsecutiveFailures > 0 || st.AuthFailures > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
