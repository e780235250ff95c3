package threatlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collision.report/internal/telemetry"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "threats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func f(v float64) *float64 { return &v }

func TestRecordAndRecent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := telemetry.Threat{
		Type:    telemetry.ThreatPredictedCollision,
		ID:      "veh-b",
		Lat:     51.5,
		Lng:     -0.12,
		TimeS:   f(3),
		Message: "predicted collision in 3 s",
	}
	second := telemetry.Threat{
		Type:         telemetry.ThreatRearEnd,
		ID:           "veh-c",
		DistanceM:    f(8),
		Deceleration: f(6),
		Message:      "vehicle ahead braking hard",
	}
	require.NoError(t, db.Record(ctx, "veh-a", first))
	require.NoError(t, db.Record(ctx, "veh-a", second))

	entries, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first.
	assert.Equal(t, "rear_end", entries[0].Type)
	assert.Equal(t, "veh-c", entries[0].Counterpart)
	assert.Equal(t, "veh-a", entries[0].Recipient)
	assert.JSONEq(t, `{"distance_m":8,"deceleration":6}`, entries[0].Detail)

	assert.Equal(t, "predicted_collision", entries[1].Type)
	assert.JSONEq(t, `{"time_s":3}`, entries[1].Detail)
	assert.NotEmpty(t, entries[1].Timestamp)
}

func TestRecentHonorsLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Record(ctx, "veh-a", telemetry.Threat{
			Type: telemetry.ThreatOvertake,
			ID:   "veh-b",
		}))
	}

	entries, err := db.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecentEmpty(t *testing.T) {
	db := newTestDB(t)

	entries, err := db.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
