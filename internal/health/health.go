// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// JobHealth summarises the credential pool of one running job.
type JobHealth struct {
	JobID       string       `json:"job_id"`
	Status      SystemStatus `json:"status"`
	Credentials int          `json:"credentials"`
	Available   int          `json:"available"`
	CoolingDown int          `json:"cooling_down"`
	Disabled    int          `json:"disabled"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	RunningJobs  int                     `json:"running_jobs"`
	Jobs         map[string]JobHealth    `json:"jobs"`
	Dependencies map[string]SystemStatus `json:"dependencies,omitempty"`
}

func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
