// Package store holds the shared vehicle state: the Redis-backed geo index
// and telemetry store, and the process-local speed history buffer.
package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// geoKey is the sorted set holding all active vehicle positions.
const geoKey = "v2v:geo"

// MaxRadiusResults caps how many neighbor candidates a radius query returns.
const MaxRadiusResults = 50

// GeoIndex is the spatial index of currently active vehicles. Entries do not
// expire on their own (Redis geo sets are plain sorted sets underneath);
// expiry is enforced by joining against the TTL'd telemetry keys and pruning
// members whose telemetry is gone. See TelemetryStore.MGet callers.
type GeoIndex struct {
	rdb *redis.Client
}

// NewGeoIndex returns a geo index over the given client.
func NewGeoIndex(rdb *redis.Client) *GeoIndex {
	return &GeoIndex{rdb: rdb}
}

// Upsert adds or moves a vehicle in the index.
func (g *GeoIndex) Upsert(ctx context.Context, id string, lat, lon float64) error {
	err := g.rdb.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      id,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("geo upsert %s: %w", id, err)
	}
	return nil
}

// RadiusByMember returns the ids within meters of the given member, including
// the member itself, up to maxCount results. An id that is not in the index
// yields an empty result, not an error.
func (g *GeoIndex) RadiusByMember(ctx context.Context, id string, meters float64, maxCount int) ([]string, error) {
	pos, err := g.rdb.GeoPos(ctx, geoKey, id).Result()
	if err != nil {
		return nil, fmt.Errorf("geo position %s: %w", id, err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return nil, nil
	}

	locs, err := g.rdb.GeoRadiusByMember(ctx, geoKey, id, &redis.GeoRadiusQuery{
		Radius: meters,
		Unit:   "m",
		Count:  maxCount,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius %s: %w", id, err)
	}

	ids := make([]string, 0, len(locs))
	for _, loc := range locs {
		ids = append(ids, loc.Name)
	}
	return ids, nil
}

// Remove drops vehicles from the index. Used to prune members whose telemetry
// has expired so the index converges back to the live set.
func (g *GeoIndex) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := g.rdb.ZRem(ctx, geoKey, members...).Err(); err != nil {
		return fmt.Errorf("geo remove: %w", err)
	}
	return nil
}
