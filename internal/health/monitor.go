package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
)

// JobLister lists job snapshots.
type JobLister interface {
	List() []domain.JobView
}

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor aggregates health status from the job registry and the optional
// storage dependencies.
type Monitor struct {
	jobs       JobLister
	deps       map[string]Pinger
	now        func() time.Time
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(jobs JobLister, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		jobs:     jobs,
		deps:     make(map[string]Pinger),
		now:      now,
		cacheTTL: 5 * time.Second,
	}
}

// AddDependency registers a dependency checked on every report.
func (m *Monitor) AddDependency(name string, p Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = p
	m.lastReport = nil
}

// CheckHealth builds a report. Reports are cached briefly so probes do not
// hammer the dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Jobs:         make(map[string]JobHealth),
	}

	for _, job := range m.jobs.List() {
		if job.Status == domain.JobCompleted {
			continue
		}
		report.RunningJobs++

		jh := jobHealth(job, now)
		report.Jobs[job.ID] = jh
		report.SystemStatus = worse(report.SystemStatus, jh.Status)
	}

	if len(m.deps) > 0 {
		report.Dependencies = make(map[string]SystemStatus, len(m.deps))
		for name, dep := range m.deps {
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := dep.Health(checkCtx)
			cancel()

			if err != nil {
				slog.Warn("Dependency health check failed", "dependency", name, "error", err)
				report.Dependencies[name] = StatusDegraded
				report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
				continue
			}
			report.Dependencies[name] = StatusHealthy
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}

// jobHealth is critical when no credential can be used right now and
// degraded when some are cooling down or disabled.
func jobHealth(job domain.JobView, now time.Time) JobHealth {
	jh := JobHealth{JobID: job.ID, Credentials: len(job.Credentials)}

	for _, c := range job.Credentials {
		switch {
		case c.Status == domain.CredentialDisabled:
			jh.Disabled++
		case c.CooldownUntil != nil && c.CooldownUntil.After(now):
			jh.CoolingDown++
		default:
			jh.Available++
		}
	}

	switch {
	case jh.Available == 0:
		jh.Status = StatusCritical
	case jh.CoolingDown > 0 || jh.Disabled > 0:
		jh.Status = StatusDegraded
	default:
		jh.Status = StatusHealthy
	}
	return jh
}
