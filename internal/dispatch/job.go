package dispatch

import (
	"strings"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dispatch/pool"
)

const contentPreviewLen = 50

// Job is the live state of one dispatch loop. Progress fields are written by
// the loop and read concurrently through View.
type Job struct {
	ID           string
	Targets      []string
	Contents     []string
	DelaySeconds int
	DelayValues  []int
	Mention      *domain.Mention
	Pool         *pool.Pool

	mu              sync.RWMutex
	status          domain.JobStatus
	cancelRequested bool
	successCount    int64
	failureCount    int64
	cycles          int64
	currentTarget   string
	currentCred     string
	currentContent  string
	startedAt       time.Time
	endedAt         *time.Time
	endReason       domain.EndReason
}

// NewJob creates a running job bound to its own credential pool.
func NewJob(id string, spec domain.JobSpec, p *pool.Pool, startedAt time.Time) *Job {
	return &Job{
		ID:           id,
		Targets:      append([]string(nil), spec.Targets...),
		Contents:     append([]string(nil), spec.Contents...),
		DelaySeconds: spec.DelaySeconds,
		DelayValues:  append([]int(nil), spec.DelayValues...),
		Mention:      spec.Mention,
		Pool:         p,
		status:       domain.JobRunning,
		startedAt:    startedAt,
	}
}

// RequestStop marks the job for cancellation. It is idempotent and reports
// whether this call changed the status.
func (j *Job) RequestStop() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cancelRequested = true
	if j.status != domain.JobRunning {
		return false
	}
	j.status = domain.JobStopping
	return true
}

// CancelRequested reports whether a stop was requested.
func (j *Job) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// Status returns the current lifecycle status.
func (j *Job) Status() domain.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// SuccessCount returns the number of successful posts.
func (j *Job) SuccessCount() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.successCount
}

// Cycles returns the number of completed passes over contents × targets.
func (j *Job) Cycles() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cycles
}

// View returns a snapshot of the job.
func (j *Job) View() domain.JobView {
	creds := j.Pool.Snapshot()

	j.mu.RLock()
	defer j.mu.RUnlock()

	v := domain.JobView{
		ID:                    j.ID,
		Status:                j.status,
		Targets:               append([]string(nil), j.Targets...),
		SuccessCount:          j.successCount,
		FailureCount:          j.failureCount,
		Cycles:                j.cycles,
		CurrentTarget:         j.currentTarget,
		CurrentCredentialName: j.currentCred,
		CurrentContent:        j.currentContent,
		DelaySeconds:          j.DelaySeconds,
		StartedAt:             j.startedAt,
		EndReason:             j.endReason,
		Credentials:           make([]domain.CredentialView, 0, len(creds)),
	}
	if j.endedAt != nil {
		t := *j.endedAt
		v.EndedAt = &t
	}
	for i := range creds {
		v.Credentials = append(v.Credentials, creds[i].View())
	}
	return v
}

func (j *Job) setCurrent(target string, cred *domain.Credential, content string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.currentTarget = target
	j.currentCred = cred.Label()
	j.currentContent = preview(content)
}

func (j *Job) recordSuccess() {
	j.mu.Lock()
	j.successCount++
	j.mu.Unlock()
}

func (j *Job) recordFailure() {
	j.mu.Lock()
	j.failureCount++
	j.mu.Unlock()
}

func (j *Job) cycleDone() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles++
	return j.cycles
}

func (j *Job) complete(reason domain.EndReason, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = domain.JobCompleted
	j.endReason = reason
	j.endedAt = &at
}

// FormatContent prefixes the mention tag onto content when one is configured.
func FormatContent(content string, m *domain.Mention) string {
	if m == nil || m.ID == "" {
		return content
	}
	return "@[" + m.ID + ":" + m.Name + "] " + content
}

func preview(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= contentPreviewLen {
		return string(r)
	}
	return string(r[:contentPreviewLen]) + "..."
}
