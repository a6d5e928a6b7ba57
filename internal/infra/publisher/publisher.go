// Package publisher is the client for the external publishing API. It
// validates credentials and publishes content items over HTTP or gRPC.
package publisher

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/relay/internal/core/domain"
)

// Config holds publishing API settings.
type Config struct {
	Transport     string        `yaml:"transport"` // http, grpc
	BaseURL       string        `yaml:"base_url"`
	GRPCAddr      string        `yaml:"grpc_addr"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"` // 0 = unlimited
	Burst         int           `yaml:"burst"`
}

// Client is what the rest of the service needs from the publishing API.
type Client interface {
	Validate(ctx context.Context, secret, targetHint string, kind domain.CredentialKind) (domain.Identity, error)
	Post(ctx context.Context, target, message string, cred domain.Credential) domain.PostResult
	Close() error
}

// APIError is an error reported by the publishing API itself.
type APIError struct {
	Message string
	Code    int
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// New builds the client selected by cfg.Transport.
func New(cfg Config) (Client, error) {
	switch cfg.Transport {
	case "", "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("publisher base_url is required for http transport")
		}
		return NewHTTPClient(cfg), nil
	case "grpc":
		return NewGRPCClient(cfg)
	default:
		return nil, fmt.Errorf("unknown publisher transport %q", cfg.Transport)
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
