package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/collision.report/internal/httputil"
	"github.com/banshee-data/collision.report/internal/ingest"
	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/session"
	"github.com/banshee-data/collision.report/internal/version"
)

// writeTimeout bounds a single outbound frame so one dead client cannot wedge
// the pipeline for everyone it shares a threat pair with.
const writeTimeout = 5 * time.Second

// maxFrameBytes bounds an inbound telemetry frame. Samples are a few hundred
// bytes; anything near this limit is garbage.
const maxFrameBytes = 64 << 10

type Server struct {
	handler  *ingest.Handler
	sessions *session.Registry
	rdb      *redis.Client
	token    string

	mu   sync.Mutex
	open map[*wsChannel]struct{}

	upgrader websocket.Upgrader
}

func NewServer(handler *ingest.Handler, sessions *session.Registry, rdb *redis.Client, token string) *Server {
	return &Server{
		handler:  handler,
		sessions: sessions,
		rdb:      rdb,
		token:    token,
		open:     make(map[*wsChannel]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Vehicles connect from app webviews and native clients alike;
			// the bearer token is the access control, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeMux returns the service's HTTP surface.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2v", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// wsChannel adapts one websocket connection to the session.Channel interface.
// Send is safe to call concurrently and after Close: pushes originate from
// other vehicles' message handlers, which race with this connection's own
// lifecycle.
type wsChannel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

var errChannelClosed = errors.New("channel closed")

func (c *wsChannel) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errChannelClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		_ = c.conn.Close()
	}
}

// handleWS upgrades the connection and runs its read loop. Frames from one
// connection are processed strictly in order; concurrency comes from having
// many connections, not from fanning out a single vehicle's stream.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		httputil.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		monitoring.Debugf("websocket upgrade failed: %v", err)
		return
	}

	connID := uuid.NewString()
	monitoring.Debugf("session %s connected from %s", connID, r.RemoteAddr)
	monitoring.SessionsActive.Inc()

	ch := &wsChannel{conn: conn}
	s.mu.Lock()
	s.open[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.open, ch)
		s.mu.Unlock()
		s.sessions.RemoveChannel(ch)
		ch.close()
		monitoring.SessionsActive.Dec()
		monitoring.Debugf("session %s closed", connID)
	}()

	conn.SetReadLimit(maxFrameBytes)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				monitoring.Debugf("session %s read error: %v", connID, err)
			}
			return
		}
		s.handler.Handle(r.Context(), raw, ch)
	}
}

// CloseAll sends a going-away close frame to every live session and closes
// the underlying connections. Called during shutdown so clients reconnect to
// another instance instead of timing out.
func (s *Server) CloseAll() {
	s.mu.Lock()
	channels := make([]*wsChannel, 0, len(s.open))
	for ch := range s.open {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, ch := range channels {
		ch.mu.Lock()
		if !ch.closed {
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ch.conn.WriteMessage(websocket.CloseMessage, frame)
		}
		ch.mu.Unlock()
		ch.close()
	}
}

// authorized checks the optional bearer token. Websocket clients that cannot
// set headers may pass it as a query parameter instead.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, prefix) && h[len(prefix):] == s.token {
		return true
	}
	return r.URL.Query().Get("token") == s.token
}

// handleHealthz reports liveness of the service and its Redis backend.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "redis unreachable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
