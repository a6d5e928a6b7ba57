// Package pool implements the per-job credential rotation and health state
// machine.
package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dispatch/classify"
)

var (
	// ErrPoolExhausted is returned once every credential has been removed.
	ErrPoolExhausted = errors.New("credential pool exhausted")
	// ErrNoneAvailable is returned when all remaining credentials are cooling down.
	ErrNoneAvailable = errors.New("no credential available")
	// ErrUnknownCredential is returned for IDs that are not (or no longer) in the pool.
	ErrUnknownCredential = errors.New("credential not in pool")
)

// FailureResult describes what a failure did to a credential.
type FailureResult struct {
	Status        domain.CredentialStatus
	Failures      int
	Cooldown      time.Duration
	CooldownUntil time.Time
	Removed       bool
}

// Pool is an ordered set of credentials rotated round-robin. Insertion order
// is the rotation order. Safe for concurrent use; the dispatch loop is the
// only writer, status queries read snapshots.
type Pool struct {
	mu     sync.RWMutex
	creds  []*domain.Credential
	cursor int
	now    func() time.Time
}

// New creates a pool using the wall clock.
func New(creds []*domain.Credential) *Pool {
	return NewWithClock(creds, time.Now)
}

// NewWithClock creates a pool with an injectable clock (for testing).
func NewWithClock(creds []*domain.Credential, now func() time.Time) *Pool {
	cp := make([]*domain.Credential, len(creds))
	copy(cp, creds)
	return &Pool{
		creds: cp,
		now:   now,
	}
}

// NextAvailable returns the first usable credential starting at the cursor.
// Credentials whose cooldown has elapsed are restored to active on the way.
// The cursor is left on the returned credential; ApplySuccess/ApplyFailure
// move it on.
func (p *Pool) NextAvailable() (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return domain.Credential{}, ErrPoolExhausted
	}

	now := p.now()
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.creds[idx]

		if c.Status == domain.CredentialDisabled {
			continue
		}
		if c.CooldownUntil != nil {
			if now.Before(*c.CooldownUntil) {
				continue
			}
			c.CooldownUntil = nil
			c.ConsecutiveFailures = 0
			c.Status = domain.CredentialActive
		}

		p.cursor = idx
		return c.Clone(), nil
	}

	return domain.Credential{}, ErrNoneAvailable
}

// ApplySuccess records a successful action and advances the cursor.
func (p *Pool) ApplySuccess(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexOf(id)
	if idx < 0 {
		return ErrUnknownCredential
	}

	c := p.creds[idx]
	c.SuccessCount++
	c.ConsecutiveFailures = 0
	c.Status = domain.CredentialActive
	c.CooldownUntil = nil
	c.LastError = ""

	p.advancePast(idx)
	return nil
}

// ApplyFailure records a failed action. InvalidToken disables the credential
// and removes it from the pool; every other category sets a cooldown that
// scales with the consecutive failure count and advances the cursor.
func (p *Pool) ApplyFailure(id string, category classify.Category, message string) (FailureResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.indexOf(id)
	if idx < 0 {
		return FailureResult{}, ErrUnknownCredential
	}

	c := p.creds[idx]
	c.ConsecutiveFailures++
	c.FailureCount++
	c.LastError = message
	c.Status = StatusFor(category)

	res := FailureResult{
		Status:   c.Status,
		Failures: c.ConsecutiveFailures,
	}

	if category.IsPermanent() {
		c.CooldownUntil = nil
		p.removeAt(idx)
		res.Removed = true
		return res, nil
	}

	res.Cooldown = Cooldown(category, c.ConsecutiveFailures)
	res.CooldownUntil = p.now().Add(res.Cooldown)
	until := res.CooldownUntil
	c.CooldownUntil = &until

	p.advancePast(idx)
	return res, nil
}

// IsEmpty reports whether every credential has been removed.
func (p *Pool) IsEmpty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creds) == 0
}

// Len returns the number of credentials still in rotation.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creds)
}

// Snapshot returns copies of all credentials in rotation order.
func (p *Pool) Snapshot() []domain.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Credential, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, c.Clone())
	}
	return out
}

func (p *Pool) indexOf(id string) int {
	for i, c := range p.creds {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (p *Pool) advancePast(idx int) {
	p.cursor = (idx + 1) % len(p.creds)
}

func (p *Pool) removeAt(idx int) {
	p.creds = append(p.creds[:idx], p.creds[idx+1:]...)
	if p.cursor > idx {
		p.cursor--
	}
	if p.cursor >= len(p.creds) {
		p.cursor = 0
	}
}
