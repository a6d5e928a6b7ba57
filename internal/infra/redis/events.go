package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/relay/internal/core/domain"
)

// EventRepo mirrors event log entries into capped Redis lists: one global
// list and one per job.
type EventRepo struct {
	client *Client
	maxLen int64
}

// NewEventRepo creates a Redis-backed event repository. maxLen <= 0 keeps
// the last 10000 entries.
func NewEventRepo(client *Client, maxLen int64) *EventRepo {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &EventRepo{client: client, maxLen: maxLen}
}

// Append pushes ev onto the lists and trims them to maxLen.
func (r *EventRepo) Append(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	keys := []string{r.client.eventsKey()}
	if ev.JobID != "" {
		keys = append(keys, r.client.jobEventsKey(ev.JobID))
	}

	_, err = r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.RPush(ctx, key, data)
			pipe.LTrim(ctx, key, -r.maxLen, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest events, oldest first. An empty jobID
// reads the global list.
func (r *EventRepo) Recent(ctx context.Context, jobID string, n int64) ([]domain.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	key := r.client.eventsKey()
	if jobID != "" {
		key = r.client.jobEventsKey(jobID)
	}

	raw, err := r.client.rdb.LRange(ctx, key, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var ev domain.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
