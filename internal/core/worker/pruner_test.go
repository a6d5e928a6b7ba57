package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingTarget struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (r *recordingTarget) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return 1, r.err
}

func (r *recordingTarget) calls() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.cutoffs...)
}

func TestPruner_Disabled(t *testing.T) {
	target := &recordingTarget{}
	p := NewPruner("events", 0, target)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pruner should return immediately")
	}
	assert.Empty(t, target.calls())
}

func TestPruner_InitialPruneUsesRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := &recordingTarget{}
	p := NewPruner("events", 72*time.Hour, target)
	p.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(target.calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, now.Add(-72*time.Hour), target.calls()[0])
}

func TestPruner_ErrorIsLogged(t *testing.T) {
	target := &recordingTarget{err: errors.New("db down")}
	p := NewPruner("events", time.Hour, target)

	p.prune(context.Background())
	assert.Len(t, target.calls(), 1)
}
