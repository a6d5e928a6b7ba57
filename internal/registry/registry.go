// Package registry tracks every job in the process, owns their cancellation
// and serves snapshots to the control surface.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dispatch"
	"github.com/vietddude/relay/internal/dispatch/pool"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrEmptyTargets       = errors.New("no targets given")
	ErrEmptyContent       = errors.New("no content items given")
	ErrEmptyCredentials   = errors.New("no credentials given")
	ErrDelayTooShort      = errors.New("delay below configured minimum")
	ErrInvalidKind        = errors.New("unknown credential kind")
	ErrDuplicateJob       = errors.New("a job with the same targets and content is already running")
	ErrNoValidCredentials = errors.New("no credential passed validation")
	ErrShuttingDown       = errors.New("registry is shutting down")
)

// Validator resolves a secret to an identity, or fails if it is unusable.
type Validator interface {
	Validate(
		ctx context.Context,
		secret, targetHint string,
		kind domain.CredentialKind,
	) (domain.Identity, error)
}

type entry struct {
	job    *dispatch.Job
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry is the set of jobs known to the process.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*entry
	closed bool

	dispatcher *dispatch.Dispatcher
	validator  Validator
	events     dispatch.EventLogger
	log        *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an empty registry. Jobs run on d and credentials are admitted
// through v.
func New(d *dispatch.Dispatcher, v Validator, events dispatch.EventLogger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		jobs:       make(map[string]*entry),
		dispatcher: d,
		validator:  v,
		events:     events,
		log:        slog.Default(),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Create validates the job spec and its credentials, then starts the job loop.
// ctx bounds credential validation only; the job outlives it.
func (r *Registry) Create(ctx context.Context, spec domain.JobSpec) (string, error) {
	spec = normalize(spec)
	if err := r.check(spec); err != nil {
		return "", err
	}

	key := identity(spec)
	if r.active(key) {
		return "", ErrDuplicateJob
	}

	creds, err := r.admit(ctx, spec)
	if err != nil {
		return "", err
	}

	clock := r.dispatcher.Clock()
	id := uuid.NewString()
	job := dispatch.NewJob(id, spec, pool.NewWithClock(creds, clock.Now), clock.Now())
	jobCtx, cancel := context.WithCancel(r.baseCtx)
	e := &entry{job: job, key: key, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	if r.activeLocked(key) {
		r.mu.Unlock()
		cancel()
		return "", ErrDuplicateJob
	}
	r.jobs[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(e.done)
		defer cancel()
		r.dispatcher.Run(jobCtx, job)
	}()

	r.log.Info("Job created", "job", id, "targets", len(spec.Targets), "credentials", len(creds))
	return id, nil
}

// RequestStop asks a job to stop. Stopping an already stopping or completed
// job is a no-op.
func (r *Registry) RequestStop(id string) error {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}

	if e.job.RequestStop() {
		r.events.Log(domain.LevelInfo, id, "stop requested")
	}
	e.cancel()
	return nil
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (domain.JobView, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return domain.JobView{}, ErrJobNotFound
	}
	return e.job.View(), nil
}

// Done returns a channel closed once the job's loop has returned.
func (r *Registry) Done(id string) (<-chan struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.done, nil
}

// List returns snapshots of all jobs, oldest first.
func (r *Registry) List() []domain.JobView {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	views := make([]domain.JobView, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.job.View())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].StartedAt.Equal(views[j].StartedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].StartedAt.Before(views[j].StartedAt)
	})
	return views
}

// ClearCompleted drops completed jobs and returns how many were removed.
func (r *Registry) ClearCompleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.jobs {
		if e.job.Status() == domain.JobCompleted {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}

// PruneOlderThan removes completed jobs that ended before cutoff.
func (r *Registry) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.jobs {
		v := e.job.View()
		if v.Status == domain.JobCompleted && v.EndedAt != nil && v.EndedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

// Running returns the number of jobs that have not completed.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.jobs {
		if e.job.Status() != domain.JobCompleted {
			n++
		}
	}
	return n
}

// Shutdown stops every job and waits for the loops to return. Create fails
// with ErrShuttingDown from then on.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, e := range r.jobs {
		e.job.RequestStop()
	}
	r.mu.Unlock()
	r.baseCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

func (r *Registry) check(spec domain.JobSpec) error {
	if len(spec.Targets) == 0 {
		return ErrEmptyTargets
	}
	if len(spec.Contents) == 0 {
		return ErrEmptyContent
	}
	if len(spec.Credentials) == 0 {
		return ErrEmptyCredentials
	}
	if _, ok := domain.ParseKind(string(spec.CredentialKind)); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, spec.CredentialKind)
	}

	floor := r.dispatcher.Config().MinDelay
	if time.Duration(spec.DelaySeconds)*time.Second < floor {
		return fmt.Errorf("%w: %ds < %s", ErrDelayTooShort, spec.DelaySeconds, floor)
	}
	for _, v := range spec.DelayValues {
		if time.Duration(v)*time.Second < floor {
			return fmt.Errorf("%w: %ds < %s", ErrDelayTooShort, v, floor)
		}
	}
	return nil
}

// admit validates secrets concurrently, keeping input order. Rejected secrets
// are logged and skipped.
func (r *Registry) admit(ctx context.Context, spec domain.JobSpec) ([]*domain.Credential, error) {
	idents := make([]*domain.Identity, len(spec.Credentials))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.dispatcher.Config().ValidateConcurrency)
	for i, secret := range spec.Credentials {
		g.Go(func() error {
			ident, err := r.validator.Validate(gctx, secret, spec.TargetHint, spec.CredentialKind)
			if err != nil {
				r.events.Log(domain.LevelWarn, "", fmt.Sprintf(
					"credential %s rejected: %v", domain.MaskSecret(secret), err))
				return nil
			}
			idents[i] = &ident
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("credential validation interrupted: %w", err)
	}

	creds := make([]*domain.Credential, 0, len(idents))
	for i, ident := range idents {
		if ident == nil {
			continue
		}
		if ident.Kind == domain.KindPage {
			if missing := domain.MissingCapabilities(ident.Capabilities); len(missing) > 0 {
				r.events.Log(domain.LevelWarn, "", fmt.Sprintf(
					"credential %s is missing capabilities: %s",
					ident.DisplayName, strings.Join(missing, ", ")))
			}
		}
		creds = append(creds, domain.NewCredential(uuid.NewString(), spec.Credentials[i], *ident))
	}

	if len(creds) == 0 {
		return nil, ErrNoValidCredentials
	}
	return creds, nil
}

func (r *Registry) active(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked(key)
}

func (r *Registry) activeLocked(key string) bool {
	for _, e := range r.jobs {
		if e.key == key && e.job.Status() != domain.JobCompleted {
			return true
		}
	}
	return false
}

// identity is the duplicate-detection key: same targets and same content in
// the same order.
func identity(spec domain.JobSpec) string {
	return strings.Join(spec.Targets, "\x1f") + "\x1e" + strings.Join(spec.Contents, "\x1f")
}

func normalize(spec domain.JobSpec) domain.JobSpec {
	spec.Targets = cleanLines(spec.Targets)
	spec.Contents = cleanLines(spec.Contents)
	spec.Credentials = dedupe(cleanLines(spec.Credentials))
	if spec.CredentialKind == "" {
		spec.CredentialKind = domain.KindAuto
	}
	if spec.DelaySeconds == 0 && len(spec.DelayValues) > 0 {
		spec.DelaySeconds = spec.DelayValues[0]
		for _, v := range spec.DelayValues[1:] {
			spec.DelaySeconds = min(spec.DelaySeconds, v)
		}
	}
	if spec.Mention != nil && strings.TrimSpace(spec.Mention.ID) == "" {
		spec.Mention = nil
	}
	return spec
}

func cleanLines(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
