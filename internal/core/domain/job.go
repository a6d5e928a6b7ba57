package domain

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobStopping  JobStatus = "stopping"
	JobCompleted JobStatus = "completed" // terminal
)

// EndReason records why a job reached JobCompleted.
type EndReason string

const (
	EndStopped       EndReason = "stopped"
	EndPoolExhausted EndReason = "pool_exhausted"
)

// Mention is prefixed onto every posted content item when set.
type Mention struct {
	ID   string `json:"id"   yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// JobSpec is the validated input to create a job.
type JobSpec struct {
	Targets        []string
	Contents       []string
	Credentials    []string // raw secrets, order defines rotation order
	DelaySeconds   int
	DelayValues    []int // optional explicit delays, one picked at random per action
	Mention        *Mention
	CredentialKind CredentialKind
	TargetHint     string
}

// JobView is a point-in-time copy of a job, safe to serialize.
type JobView struct {
	ID                    string           `json:"job_id"`
	Status                JobStatus        `json:"status"`
	Targets               []string         `json:"targets"`
	SuccessCount          int64            `json:"success_count"`
	FailureCount          int64            `json:"failure_count"`
	Cycles                int64            `json:"cycles"`
	CurrentTarget         string           `json:"current_target,omitempty"`
	CurrentCredentialName string           `json:"current_credential_name,omitempty"`
	CurrentContent        string           `json:"current_content,omitempty"`
	DelaySeconds          int              `json:"delay_seconds"`
	StartedAt             time.Time        `json:"started_at"`
	EndedAt               *time.Time       `json:"ended_at,omitempty"`
	EndReason             EndReason        `json:"end_reason,omitempty"`
	Credentials           []CredentialView `json:"credentials"`
}
