package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/ingest"
	"github.com/banshee-data/collision.report/internal/session"
	"github.com/banshee-data/collision.report/internal/store"
	"github.com/banshee-data/collision.report/internal/telemetry"
	"github.com/banshee-data/collision.report/internal/timeutil"
)

func newTestServer(t *testing.T, token string) (*Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sessions := session.NewRegistry()
	handler := ingest.NewHandler(
		store.NewGeoIndex(rdb),
		store.NewTelemetryStore(rdb),
		store.NewHistoryBuffer(),
		sessions,
		&ingest.Dispatcher{Sessions: sessions},
		config.Default(),
		timeutil.RealClock{},
	)
	return NewServer(handler, sessions, rdb, token), mr
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v2v"
}

func TestAuthorized(t *testing.T) {
	srv, _ := newTestServer(t, "hunter2")

	cases := []struct {
		name   string
		header string
		query  string
		want   bool
	}{
		{"bearer header", "Bearer hunter2", "", true},
		{"query parameter", "", "hunter2", true},
		{"wrong token", "Bearer wrong", "", false},
		{"no credentials", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v2v", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if tc.query != "" {
				q := r.URL.Query()
				q.Set("token", tc.query)
				r.URL.RawQuery = q.Encode()
			}
			assert.Equal(t, tc.want, srv.authorized(r))
		})
	}
}

func TestAuthorizedWithoutConfiguredToken(t *testing.T) {
	srv, _ := newTestServer(t, "")
	r := httptest.NewRequest(http.MethodGet, "/v2v", nil)
	assert.True(t, srv.authorized(r))
}

func TestHealthz(t *testing.T) {
	srv, mr := newTestServer(t, "")
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mr.Close()
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebsocketTelemetryRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	sample := telemetry.Sample{
		UserID:    "veh-a",
		Latitude:  51.5,
		Longitude: -0.12,
		Speed:     10,
		Heading:   90,
	}
	require.NoError(t, conn.WriteJSON(sample))

	var ack telemetry.Ack
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "received", ack.Status)
	assert.NotNil(t, ack.Threats)
	assert.Empty(t, ack.Threats)
}

func TestWebsocketInvalidSample(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(telemetry.Sample{Latitude: 1, Longitude: 2}))

	var errAck telemetry.ErrAck
	require.NoError(t, conn.ReadJSON(&errAck))
	assert.Equal(t, "error", errAck.Status)
	assert.Equal(t, telemetry.ReasonMissingUserID, errAck.Reason)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	srv, _ := newTestServer(t, "hunter2")
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?token=hunter2", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestCloseAllSendsGoingAway(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	// One round trip first so the connection is fully registered.
	require.NoError(t, conn.WriteJSON(telemetry.Sample{
		UserID: "veh-a", Latitude: 0, Longitude: 0, Speed: 5, Heading: 0,
	}))
	var ack telemetry.Ack
	require.NoError(t, conn.ReadJSON(&ack))

	srv.CloseAll()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) ||
		websocket.IsUnexpectedCloseError(err), "got %v", err)
}

func TestWebsocketThreatPushBetweenConnections(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	connB, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer connB.Close()
	connA, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer connA.Close()

	// B registers first, then A reports a head-on geometry 60 m away.
	require.NoError(t, connB.WriteJSON(telemetry.Sample{
		UserID: "veh-b", Latitude: 0, Longitude: 0.00054, Speed: 10, Heading: 270,
	}))
	var ackB telemetry.Ack
	require.NoError(t, connB.ReadJSON(&ackB))
	require.Empty(t, ackB.Threats)

	require.NoError(t, connA.WriteJSON(telemetry.Sample{
		UserID: "veh-a", Latitude: 0, Longitude: 0, Speed: 10, Heading: 90,
	}))

	var ackA telemetry.Ack
	require.NoError(t, connA.ReadJSON(&ackA))
	require.Len(t, ackA.Threats, 1)
	assert.Equal(t, telemetry.ThreatPredictedCollision, ackA.Threats[0].Type)
	assert.Equal(t, "veh-b", ackA.Threats[0].ID)

	var push telemetry.Push
	require.NoError(t, connB.ReadJSON(&push))
	assert.Equal(t, "threat", push.Status)
	assert.Equal(t, "veh-a", push.Data.ID)
}
