package pool

import (
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dispatch/classify"
)

// Cooldown ceilings per category.
const (
	MaxRateLimitCooldown = 60 * time.Minute
	MaxSpamCooldown      = 120 * time.Minute
	PermissionCooldown   = 30 * time.Minute
	MaxTransientCooldown = 30 * time.Minute
	rateLimitStep        = 10 * time.Minute
	spamStep             = 20 * time.Minute
	transientStep        = 5 * time.Minute
)

// Cooldown returns how long a credential sits out after a failure of the given
// category. failures is the consecutive failure count including this one.
// InvalidToken has no cooldown: the credential is disabled instead.
func Cooldown(category classify.Category, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	n := time.Duration(failures)

	switch category {
	case classify.InvalidToken:
		return 0
	case classify.RateLimit:
		return min(n*rateLimitStep, MaxRateLimitCooldown)
	case classify.Spam:
		return min(n*spamStep, MaxSpamCooldown)
	case classify.Permissions:
		return PermissionCooldown
	default:
		return min(n*transientStep, MaxTransientCooldown)
	}
}

// StatusFor maps a failure category to the credential status it produces.
func StatusFor(category classify.Category) domain.CredentialStatus {
	switch category {
	case classify.InvalidToken:
		return domain.CredentialDisabled
	case classify.RateLimit:
		return domain.CredentialRateLimited
	case classify.Spam:
		return domain.CredentialSpamFlagged
	case classify.Permissions:
		return domain.CredentialPermissionError
	default:
		return domain.CredentialTransientError
	}
}
