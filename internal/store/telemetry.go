package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/telemetry"
)

// telemetryKeyPrefix namespaces the per-vehicle latest-sample keys.
const telemetryKeyPrefix = "v2v:veh:"

// TelemetryStore keeps the last-known sample per vehicle with a per-key TTL.
type TelemetryStore struct {
	rdb *redis.Client
}

// NewTelemetryStore returns a telemetry store over the given client.
func NewTelemetryStore(rdb *redis.Client) *TelemetryStore {
	return &TelemetryStore{rdb: rdb}
}

func telemetryKey(id string) string {
	return telemetryKeyPrefix + id
}

// Put stores the sample under its vehicle id for ttl.
func (t *TelemetryStore) Put(ctx context.Context, id string, s *telemetry.Sample, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample %s: %w", id, err)
	}
	if err := t.rdb.Set(ctx, telemetryKey(id), b, ttl).Err(); err != nil {
		return fmt.Errorf("store sample %s: %w", id, err)
	}
	return nil
}

// MGet fetches the latest samples for the given ids, order preserving.
// Missing or expired keys come back nil; a stored value that fails to decode
// also comes back nil (the neighbor is skipped, not the batch).
func (t *TelemetryStore) MGet(ctx context.Context, ids []string) ([]*telemetry.Sample, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = telemetryKey(id)
	}

	vals, err := t.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("batch fetch telemetry: %w", err)
	}

	out := make([]*telemetry.Sample, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // expired or never written
		}
		var s telemetry.Sample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			monitoring.Debugf("undecodable stored sample for %s: %v", ids[i], err)
			continue
		}
		out[i] = &s
	}
	return out, nil
}
