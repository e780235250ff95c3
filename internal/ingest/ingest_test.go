package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/predict"
	"github.com/banshee-data/collision.report/internal/session"
	"github.com/banshee-data/collision.report/internal/store"
	"github.com/banshee-data/collision.report/internal/telemetry"
	"github.com/banshee-data/collision.report/internal/timeutil"
)

type fakeChannel struct {
	mu   sync.Mutex
	sent []interface{}
}

func (f *fakeChannel) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeChannel) messages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.sent))
	copy(out, f.sent)
	return out
}

// lastAck returns the most recent received-ack sent on the channel.
func (f *fakeChannel) lastAck(t *testing.T) telemetry.Ack {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs)
	ack, ok := msgs[len(msgs)-1].(telemetry.Ack)
	require.True(t, ok, "last message is %T, want Ack", msgs[len(msgs)-1])
	return ack
}

type testEnv struct {
	mr       *miniredis.Miniredis
	handler  *Handler
	sessions *session.Registry
	clock    *timeutil.MockClock
	geo      *store.GeoIndex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sessions := session.NewRegistry()
	g := store.NewGeoIndex(rdb)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	h := NewHandler(
		g,
		store.NewTelemetryStore(rdb),
		store.NewHistoryBuffer(),
		sessions,
		&Dispatcher{Sessions: sessions},
		config.Default(),
		clock,
	)
	return &testEnv{mr: mr, handler: h, sessions: sessions, clock: clock, geo: g}
}

func (e *testEnv) send(t *testing.T, ch session.Channel, s telemetry.Sample) {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	e.handler.Handle(context.Background(), raw, ch)
}

func vehicle(id string, lat, lon, speed, heading float64) telemetry.Sample {
	return telemetry.Sample{
		UserID:    id,
		Latitude:  lat,
		Longitude: lon,
		Speed:     speed,
		Heading:   heading,
	}
}

const degPerMeter = 1.0 / 111320

func TestHandleUnparseableFrameDropped(t *testing.T) {
	env := newTestEnv(t)
	ch := &fakeChannel{}

	env.handler.Handle(context.Background(), []byte("{not json"), ch)

	assert.Empty(t, ch.messages(), "no structure to answer to")
}

func TestHandleInvalidSampleGetsErrorAck(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		sample telemetry.Sample
		reason string
	}{
		{"missing user id", vehicle("", 0, 0, 5, 90), telemetry.ReasonMissingUserID},
		{"latitude out of range", vehicle("veh-a", 91, 0, 5, 90), telemetry.ReasonInvalidCoordinates},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := &fakeChannel{}
			env.send(t, ch, tc.sample)

			msgs := ch.messages()
			require.Len(t, msgs, 1)
			errAck, ok := msgs[0].(telemetry.ErrAck)
			require.True(t, ok)
			assert.Equal(t, "error", errAck.Status)
			assert.Equal(t, tc.reason, errAck.Reason)
		})
	}
}

func TestHandleLoneVehicleGetsEmptyAck(t *testing.T) {
	env := newTestEnv(t)
	ch := &fakeChannel{}

	env.send(t, ch, vehicle("veh-a", 51.5, -0.12, 10, 90))

	ack := ch.lastAck(t)
	assert.Equal(t, "received", ack.Status)
	require.NotNil(t, ack.Threats)
	assert.Empty(t, ack.Threats)
	assert.Equal(t, env.clock.Now().UTC().Format(time.RFC3339), ack.Timestamp)
}

func TestHandleHeadOnNotifiesBothVehicles(t *testing.T) {
	env := newTestEnv(t)
	chA := &fakeChannel{}
	chB := &fakeChannel{}

	// Two vehicles 60 m apart, driving straight at each other at 10 m/s.
	env.send(t, chB, vehicle("veh-b", 0, 0.00054, 10, 270))
	env.send(t, chA, vehicle("veh-a", 0, 0, 10, 90))

	ack := chA.lastAck(t)
	require.Len(t, ack.Threats, 1)
	threat := ack.Threats[0]
	assert.Equal(t, telemetry.ThreatPredictedCollision, threat.Type)
	assert.Equal(t, "veh-b", threat.ID, "ack threat names the counterpart")
	assert.Equal(t, "veh-b", threat.Source.UserID)
	require.NotNil(t, threat.TimeS)
	assert.InDelta(t, 3, *threat.TimeS, 1)

	// The counterpart got the mirrored push on its own channel.
	msgs := chB.messages()
	require.Len(t, msgs, 2, "ack from its own send, then the push")
	push, ok := msgs[1].(telemetry.Push)
	require.True(t, ok, "second message is %T, want Push", msgs[1])
	assert.Equal(t, "threat", push.Status)
	assert.Equal(t, telemetry.ThreatPredictedCollision, push.Data.Type)
	assert.Equal(t, "veh-a", push.Data.ID, "push names the originator")
}

func TestHandleWrongDirectionAgainstMajorityFlow(t *testing.T) {
	env := newTestEnv(t)
	chFlow1 := &fakeChannel{}
	chFlow2 := &fakeChannel{}
	chWrong := &fakeChannel{}

	// Two eastbound vehicles define the flow; one westbound vehicle runs
	// against it 20 m away from the sender.
	env.send(t, chFlow2, vehicle("veh-flow2", 20*degPerMeter, 0, 5, 90))
	env.send(t, chWrong, vehicle("veh-wrong", 0, -20*degPerMeter, 8, 270))
	env.send(t, chFlow1, vehicle("veh-flow1", 0, 0, 5, 90))

	ack := chFlow1.lastAck(t)
	require.Len(t, ack.Threats, 1)
	threat := ack.Threats[0]
	assert.Equal(t, telemetry.ThreatWrongDirection, threat.Type)
	assert.Equal(t, "veh-wrong", threat.ID)

	msgs := chWrong.messages()
	require.Len(t, msgs, 2)
	push, ok := msgs[1].(telemetry.Push)
	require.True(t, ok)
	assert.Equal(t, telemetry.ThreatWrongDirection, push.Data.Type)
	assert.Equal(t, "veh-flow1", push.Data.ID)
}

func TestHandleStaleNeighborSkipped(t *testing.T) {
	env := newTestEnv(t)
	chA := &fakeChannel{}
	chB := &fakeChannel{}

	// B's sample carries a client timestamp 6 s behind server time, past the
	// 4 s staleness cutoff, so the head-on geometry produces no threat.
	old := telemetry.Timestamp{Time: env.clock.Now().Add(-6 * time.Second)}
	b := vehicle("veh-b", 0, 0.00054, 10, 270)
	b.Timestamp = &old
	env.send(t, chB, b)
	env.send(t, chA, vehicle("veh-a", 0, 0, 10, 90))

	ack := chA.lastAck(t)
	assert.Empty(t, ack.Threats)
	require.Len(t, chB.messages(), 1, "no push either")
}

func TestHandleExpiredNeighborPruned(t *testing.T) {
	env := newTestEnv(t)
	chA := &fakeChannel{}
	chB := &fakeChannel{}

	env.send(t, chB, vehicle("veh-b", 0, 0.00054, 10, 270))

	// Past the fast-mover TTL: b's telemetry is gone, and the next query
	// prunes the dangling geo entry.
	env.mr.FastForward(15 * time.Second)
	env.send(t, chA, vehicle("veh-a", 0, 0, 10, 90))

	ack := chA.lastAck(t)
	assert.Empty(t, ack.Threats)

	ids, err := env.geo.RadiusByMember(context.Background(), "veh-a", 500, store.MaxRadiusResults)
	require.NoError(t, err)
	assert.NotContains(t, ids, "veh-b", "dead member removed from the index")
}

func TestHandleRebindFollowsLatestChannel(t *testing.T) {
	env := newTestEnv(t)
	first := &fakeChannel{}
	second := &fakeChannel{}

	env.send(t, first, vehicle("veh-a", 0, 0, 5, 90))
	env.send(t, second, vehicle("veh-a", 0, 0.00001, 5, 90))

	got, ok := env.sessions.Lookup("veh-a")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestHandleStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	ch := &fakeChannel{}

	env.mr.Close()
	env.send(t, ch, vehicle("veh-a", 0, 0, 5, 90))

	msgs := ch.messages()
	require.Len(t, msgs, 1)
	errAck, ok := msgs[0].(telemetry.ErrAck)
	require.True(t, ok)
	assert.Equal(t, "internal error", errAck.Reason)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []string // "recipient/type"
}

func (f *fakeRecorder) Record(_ context.Context, recipient string, t telemetry.Threat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, fmt.Sprintf("%s/%s", recipient, t.Type))
	return nil
}

func TestDispatcherRecordsBothPerspectives(t *testing.T) {
	sessions := session.NewRegistry()
	chOther := &fakeChannel{}
	sessions.Bind("veh-b", chOther)

	rec := &fakeRecorder{}
	d := &Dispatcher{Sessions: sessions, Recorder: rec}

	self := vehicle("veh-a", 0, 0, 10, 90)
	other := vehicle("veh-b", 0, 0.0005, 10, 270)
	res := &predict.Result{Type: telemetry.ThreatPredictedCollision, Message: "closing fast"}

	forSelf := d.Dispatch(context.Background(), &self, &other, res)

	assert.Equal(t, "veh-b", forSelf.ID)
	assert.Equal(t, "closing fast", forSelf.Message)
	wantSource := telemetry.SourceVehicle{
		UserID:    "veh-b",
		Latitude:  0,
		Longitude: 0.0005,
		Speed:     10,
		Heading:   270,
	}
	if diff := cmp.Diff(wantSource, forSelf.Source); diff != "" {
		t.Errorf("source vehicle mismatch (-want +got):\n%s", diff)
	}

	msgs := chOther.messages()
	require.Len(t, msgs, 1)
	push, ok := msgs[0].(telemetry.Push)
	require.True(t, ok)
	assert.Equal(t, "veh-a", push.Data.ID)

	assert.ElementsMatch(t, []string{
		"veh-a/predicted_collision",
		"veh-b/predicted_collision",
	}, rec.records)
}

func TestDispatcherWithoutCounterpartSession(t *testing.T) {
	d := &Dispatcher{Sessions: session.NewRegistry()}

	self := vehicle("veh-a", 0, 0, 10, 90)
	other := vehicle("veh-b", 0, 0.0005, 10, 270)
	res := &predict.Result{Type: telemetry.ThreatRearEnd}

	forSelf := d.Dispatch(context.Background(), &self, &other, res)
	assert.Equal(t, telemetry.ThreatRearEnd, forSelf.Type)
}
