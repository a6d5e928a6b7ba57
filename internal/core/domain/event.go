package domain

import (
	"fmt"
	"time"
)

// Level is the severity of an event log entry.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Event is one line of the append-only event log.
type Event struct {
	Time    time.Time `json:"time"    db:"created_at"`
	Level   Level     `json:"level"   db:"level"`
	JobID   string    `json:"job_id"  db:"job_id"`
	Message string    `json:"message" db:"message"`
}

// Line renders the event in the human readable log file format.
func (e Event) Line() string {
	job := e.JobID
	if job == "" {
		job = "-"
	}
	return fmt.Sprintf("%s | %-5s | job=%s | %s\n", e.Time.Format(time.RFC3339), e.Level, job, e.Message)
}
