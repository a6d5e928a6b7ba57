package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable deletes records older than a cutoff and reports how many went.
type Prunable interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes old data based on retention policy.
type Pruner struct {
	name      string
	retention time.Duration
	target    Prunable
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A non-positive retention disables it.
func NewPruner(name string, retention time.Duration, target Prunable) *Pruner {
	return &Pruner{
		name:      name,
		retention: retention,
		target:    target,
		now:       time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)

	n, err := p.target.PruneOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Pruner failed", "target", p.name, "error", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned old records", "target", p.name, "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}
