// Package threatlog persists every emitted threat notification to a local
// sqlite database so incidents can be reconstructed after the fact.
package threatlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/collision.report/internal/httputil"
	"github.com/banshee-data/collision.report/internal/telemetry"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the threat log at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS threats (
			recipient TEXT NOT NULL,
			counterpart TEXT NOT NULL,
			threat_type TEXT NOT NULL,
			lat DOUBLE,
			lng DOUBLE,
			message TEXT,
			detail TEXT,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS threats_recipient ON threats(recipient, timestamp);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Record writes one recipient-relative threat. The type-specific metric
// fields are folded into a JSON detail column rather than one column per
// predictor.
func (db *DB) Record(ctx context.Context, recipient string, t telemetry.Threat) error {
	detail, err := json.Marshal(struct {
		FutureDistanceM *float64 `json:"future_distance_m,omitempty"`
		TimeS           *float64 `json:"time_s,omitempty"`
		DistanceM       *float64 `json:"distance_m,omitempty"`
		Deceleration    *float64 `json:"deceleration,omitempty"`
		TimeToCPAS      *float64 `json:"timeToCPA_s,omitempty"`
		LateralM        *float64 `json:"lateral_m,omitempty"`
	}{t.FutureDistanceM, t.TimeS, t.DistanceM, t.Deceleration, t.TimeToCPAS, t.LateralM})
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO threats (recipient, counterpart, threat_type, lat, lng, message, detail) VALUES (?, ?, ?, ?, ?, ?, ?)",
		recipient, t.ID, string(t.Type), t.Lat, t.Lng, t.Message, string(detail))
	return err
}

// Entry is one logged threat.
type Entry struct {
	Recipient   string  `json:"recipient"`
	Counterpart string  `json:"counterpart"`
	Type        string  `json:"type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Message     string  `json:"message"`
	Detail      string  `json:"detail"`
	Timestamp   string  `json:"timestamp"`
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s -> %s: %s (%s)", e.Counterpart, e.Recipient, e.Type, e.Message)
}

// Recent returns the newest entries, most recent first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT recipient, counterpart, threat_type, lat, lng, message, detail, timestamp FROM threats ORDER BY timestamp DESC, rowid DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Recipient, &e.Counterpart, &e.Type, &e.Lat, &e.Lng, &e.Message, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// AttachAdminRoutes mounts the debug surface: live SQL access to the threat
// log plus a JSON dump of the most recent entries.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://threats.db", db.DB, &tailsql.DBOptions{
		Label: "Threat log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("threats", "Most recent threat notifications", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries, err := db.Recent(r.Context(), 100)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []Entry{}
		}
		httputil.WriteJSON(w, http.StatusOK, entries)
	}))
	return nil
}
