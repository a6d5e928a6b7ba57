// Package dispatch runs the per-job publishing loop: pick a credential from
// the job's pool, publish, classify the outcome, update credential health,
// sleep, repeat until stopped or the pool is exhausted.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dispatch/classify"
	"github.com/vietddude/relay/internal/dispatch/metrics"
	"github.com/vietddude/relay/internal/dispatch/pool"
)

// Poster performs the external publish action with one credential.
type Poster interface {
	Post(ctx context.Context, target, message string, cred domain.Credential) domain.PostResult
}

// EventLogger is the shared append-only event sink. Log must not block for
// long and must never fail back into the caller.
type EventLogger interface {
	Log(level domain.Level, jobID, message string)
}

// Config holds loop timings.
type Config struct {
	MinDelay            time.Duration `yaml:"min_delay"`
	DelayJitter         time.Duration `yaml:"delay_jitter"`
	NoCredentialBackoff time.Duration `yaml:"no_credential_backoff"`
	RateLimitPause      time.Duration `yaml:"rate_limit_pause"`
	CyclePause          time.Duration `yaml:"cycle_pause"`
	ErrorPause          time.Duration `yaml:"error_pause"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	ValidateConcurrency int           `yaml:"validate_concurrency"`
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		MinDelay:            60 * time.Second,
		DelayJitter:         30 * time.Second,
		NoCredentialBackoff: 60 * time.Second,
		RateLimitPause:      120 * time.Second,
		CyclePause:          60 * time.Second,
		ErrorPause:          5 * time.Second,
		PollInterval:        time.Second,
		ValidateConcurrency: 4,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.DelayJitter < 0 {
		c.DelayJitter = 0
	}
	if c.NoCredentialBackoff <= 0 {
		c.NoCredentialBackoff = d.NoCredentialBackoff
	}
	if c.RateLimitPause <= 0 {
		c.RateLimitPause = d.RateLimitPause
	}
	if c.CyclePause <= 0 {
		c.CyclePause = d.CyclePause
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = d.ErrorPause
	}
	if c.PollInterval <= 0 || c.PollInterval > time.Second {
		c.PollInterval = d.PollInterval
	}
	if c.ValidateConcurrency <= 0 {
		c.ValidateConcurrency = d.ValidateConcurrency
	}
	return c
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithRand replaces the random source used for delay jitter. intn must return
// a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(d *Dispatcher) { d.intn = intn }
}

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher runs job loops. One Dispatcher is shared by all jobs; all
// per-job state lives in Job.
type Dispatcher struct {
	cfg    Config
	poster Poster
	events EventLogger
	clock  Clock
	intn   func(n int) int
	log    *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config, poster Poster, events EventLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg.WithDefaults(),
		poster: poster,
		events: events,
		clock:  RealClock(),
		intn:   rand.IntN,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Clock returns the clock the dispatcher sleeps on.
func (d *Dispatcher) Clock() Clock { return d.clock }

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// Run executes the job loop until the context is cancelled, a stop is
// requested on the job, or its pool is exhausted. The job is always left
// completed with EndedAt stamped.
func (d *Dispatcher) Run(ctx context.Context, job *Job) domain.EndReason {
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	d.events.Log(domain.LevelInfo, job.ID, fmt.Sprintf(
		"job started: %d targets, %d contents, %d credentials",
		len(job.Targets), len(job.Contents), job.Pool.Len()))

	reason := d.loop(ctx, job)
	job.complete(reason, d.clock.Now())
	metrics.JobsCompleted.WithLabelValues(string(reason)).Inc()

	switch reason {
	case domain.EndPoolExhausted:
		d.events.Log(domain.LevelError, job.ID, "all credentials disabled, job completed")
	default:
		d.events.Log(domain.LevelInfo, job.ID, "job stopped")
	}
	d.log.Info("Job completed", "job", job.ID, "reason", reason, "success", job.SuccessCount())
	return reason
}

func (d *Dispatcher) loop(ctx context.Context, job *Job) domain.EndReason {
	for job.Status() == domain.JobRunning {
		for _, content := range job.Contents {
			for _, target := range job.Targets {
				if d.cancelled(ctx, job) {
					return domain.EndStopped
				}

				cred, err := job.Pool.NextAvailable()
				if errors.Is(err, pool.ErrPoolExhausted) {
					return domain.EndPoolExhausted
				}
				if err != nil {
					metrics.NoCredentialWaits.Inc()
					d.events.Log(domain.LevelWarn, job.ID, fmt.Sprintf(
						"no credential available, waiting %s", d.cfg.NoCredentialBackoff))
					if !d.sleep(ctx, job, d.cfg.NoCredentialBackoff) {
						return domain.EndStopped
					}
					continue
				}

				job.setCurrent(target, &cred, content)

				res, err := d.post(ctx, target, FormatContent(content, job.Mention), cred)
				if ctx.Err() != nil {
					// Interrupted mid-request; the outcome says nothing about the credential.
					return domain.EndStopped
				}
				if err != nil {
					d.events.Log(domain.LevelError, job.ID, fmt.Sprintf(
						"unexpected error posting to %s: %v", target, err))
					if !d.sleep(ctx, job, d.cfg.ErrorPause) {
						return domain.EndStopped
					}
					continue
				}

				category := d.handleResult(job, target, &cred, res)
				if job.Pool.IsEmpty() {
					return domain.EndPoolExhausted
				}

				if category == classify.RateLimit {
					if !d.sleep(ctx, job, d.cfg.RateLimitPause) {
						return domain.EndStopped
					}
				}
				if !d.sleep(ctx, job, d.nextDelay(job)) {
					return domain.EndStopped
				}
			}
		}

		n := job.cycleDone()
		d.log.Debug("Cycle complete", "job", job.ID, "cycle", n)
		if !d.sleep(ctx, job, d.cfg.CyclePause) {
			return domain.EndStopped
		}
	}
	return domain.EndStopped
}

// handleResult applies the outcome to the pool and job counters. It returns
// the failure category, or "" on success.
func (d *Dispatcher) handleResult(
	job *Job,
	target string,
	cred *domain.Credential,
	res domain.PostResult,
) classify.Category {
	if res.OK {
		metrics.PostsTotal.WithLabelValues("success").Inc()
		if err := job.Pool.ApplySuccess(cred.ID); err != nil {
			d.log.Warn("Success for unknown credential", "job", job.ID, "error", err)
		}
		job.recordSuccess()
		d.events.Log(domain.LevelInfo, job.ID, fmt.Sprintf(
			"posted to %s by %s", target, cred.Label()))
		return ""
	}

	category := classify.NetworkError
	if !res.Transport {
		category = classify.Classify(res.ErrorMessage)
	}

	metrics.PostsTotal.WithLabelValues("failure").Inc()
	metrics.FailuresTotal.WithLabelValues(string(category)).Inc()
	job.recordFailure()

	fr, err := job.Pool.ApplyFailure(cred.ID, category, res.ErrorMessage)
	if err != nil {
		d.log.Warn("Failure for unknown credential", "job", job.ID, "error", err)
		return category
	}

	if fr.Removed {
		metrics.CredentialsDisabled.Inc()
		d.events.Log(domain.LevelError, job.ID, fmt.Sprintf(
			"credential %s disabled (%s): %s", cred.Label(), category, res.ErrorMessage))
		return category
	}

	metrics.CooldownSeconds.WithLabelValues(string(category)).Observe(fr.Cooldown.Seconds())
	d.events.Log(domain.LevelWarn, job.ID, fmt.Sprintf(
		"post to %s by %s failed (%s): %s; cooling down %s",
		target, cred.Label(), category, res.ErrorMessage, fr.Cooldown))
	return category
}

// post calls the poster, turning a panic into an error so one bad action
// cannot take the loop down.
func (d *Dispatcher) post(
	ctx context.Context,
	target, message string,
	cred domain.Credential,
) (res domain.PostResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poster panicked: %v", r)
		}
	}()

	start := time.Now()
	res = d.poster.Post(ctx, target, message, cred)
	metrics.PostLatency.Observe(time.Since(start).Seconds())
	return res, nil
}

func (d *Dispatcher) nextDelay(job *Job) time.Duration {
	if len(job.DelayValues) > 0 {
		return time.Duration(job.DelayValues[d.intn(len(job.DelayValues))]) * time.Second
	}
	base := time.Duration(job.DelaySeconds) * time.Second
	jitter := int(d.cfg.DelayJitter / time.Second)
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(d.intn(jitter+1))*time.Second
}

func (d *Dispatcher) cancelled(ctx context.Context, job *Job) bool {
	return ctx.Err() != nil || job.CancelRequested()
}

// sleep waits for total in steps of at most PollInterval, re-checking for
// cancellation after each step. It returns false if the job was cancelled.
func (d *Dispatcher) sleep(ctx context.Context, job *Job, total time.Duration) bool {
	for remaining := total; remaining > 0; {
		if d.cancelled(ctx, job) {
			return false
		}
		step := min(remaining, d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return false
		case <-d.clock.After(step):
		}
		remaining -= step
	}
	return !d.cancelled(ctx, job)
}
