package domain

import "time"

// CredentialKind is the identity type a secret resolved to during validation.
type CredentialKind string

const (
	KindUser    CredentialKind = "user"
	KindPage    CredentialKind = "page"
	KindUnknown CredentialKind = "unknown"
	KindAuto    CredentialKind = "auto" // validation hint only
)

// ParseKind maps a user supplied hint to a kind. Empty means auto.
func ParseKind(s string) (CredentialKind, bool) {
	switch CredentialKind(s) {
	case "", KindAuto:
		return KindAuto, true
	case KindUser, KindPage:
		return CredentialKind(s), true
	default:
		return KindUnknown, false
	}
}

// CredentialStatus is the health state of a credential inside a pool.
type CredentialStatus string

const (
	CredentialActive          CredentialStatus = "active"
	CredentialRateLimited     CredentialStatus = "rate_limited"
	CredentialSpamFlagged     CredentialStatus = "spam_flagged"
	CredentialPermissionError CredentialStatus = "permission_error"
	CredentialTransientError  CredentialStatus = "transient_error"
	CredentialDisabled        CredentialStatus = "disabled" // terminal
)

// Identity is what a validator learns about a secret.
type Identity struct {
	ID           string
	DisplayName  string
	Kind         CredentialKind
	Capabilities []string
}

// Credential is a validated secret plus its health bookkeeping.
type Credential struct {
	ID                  string
	Secret              string
	DisplayName         string
	Kind                CredentialKind
	Capabilities        []string
	Status              CredentialStatus
	ConsecutiveFailures int
	CooldownUntil       *time.Time
	SuccessCount        int64
	FailureCount        int64
	LastError           string
}

// NewCredential builds an active credential from a validated identity.
func NewCredential(id, secret string, ident Identity) *Credential {
	return &Credential{
		ID:           id,
		Secret:       secret,
		DisplayName:  ident.DisplayName,
		Kind:         ident.Kind,
		Capabilities: append([]string(nil), ident.Capabilities...),
		Status:       CredentialActive,
	}
}

// Label is the human readable form used in logs and job views.
func (c *Credential) Label() string {
	return c.DisplayName + " (" + string(c.Kind) + ")"
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (c *Credential) Clone() Credential {
	cp := *c
	cp.Capabilities = append([]string(nil), c.Capabilities...)
	if c.CooldownUntil != nil {
		t := *c.CooldownUntil
		cp.CooldownUntil = &t
	}
	return cp
}

// MaskSecret keeps the first and last four characters of a secret.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

// CredentialView is the public, secret-free projection of a credential.
type CredentialView struct {
	ID                  string           `json:"id"`
	DisplayName         string           `json:"display_name"`
	Kind                CredentialKind   `json:"kind"`
	Secret              string           `json:"secret"` // masked
	Status              CredentialStatus `json:"status"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	CooldownUntil       *time.Time       `json:"cooldown_until,omitempty"`
	SuccessCount        int64            `json:"success_count"`
	FailureCount        int64            `json:"failure_count"`
	LastError           string           `json:"last_error,omitempty"`
}

// View projects the credential for the control surface.
func (c *Credential) View() CredentialView {
	return CredentialView{
		ID:                  c.ID,
		DisplayName:         c.DisplayName,
		Kind:                c.Kind,
		Secret:              MaskSecret(c.Secret),
		Status:              c.Status,
		ConsecutiveFailures: c.ConsecutiveFailures,
		CooldownUntil:       c.CooldownUntil,
		SuccessCount:        c.SuccessCount,
		FailureCount:        c.FailureCount,
		LastError:           c.LastError,
	}
}

// RequiredCapabilities are the permissions a page credential needs to publish
// and read back engagement. Missing ones are reported, not enforced.
var RequiredCapabilities = []string{"manage-posts", "read-engagement"}

// MissingCapabilities returns the required capabilities absent from granted.
func MissingCapabilities(granted []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		have[g] = struct{}{}
	}
	var missing []string
	for _, r := range RequiredCapabilities {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
