// Command v2vsim drives two simulated vehicles at each other through a
// running collision-report service and prints every acknowledgment and threat
// push it gets back. Useful for smoke-testing a deployment end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/collision.report/internal/geo"
	"github.com/banshee-data/collision.report/internal/telemetry"
)

var (
	addr     = flag.String("addr", "localhost:8080", "Service host:port")
	token    = flag.String("token", "", "Bearer token, if the service requires one")
	lat      = flag.Float64("lat", 51.5074, "Latitude of the encounter midpoint")
	lon      = flag.Float64("lon", -0.1278, "Longitude of the encounter midpoint")
	gap      = flag.Float64("gap", 300, "Initial separation in meters")
	speed    = flag.Float64("speed", 10, "Speed of both vehicles in m/s")
	interval = flag.Duration("interval", time.Second, "Telemetry reporting interval")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Place the two vehicles half a gap east and west of the midpoint,
	// heading straight at each other.
	eastLat, eastLon := geo.ProjectGeodesic(*lat, *lon, 90, *gap/2)
	westLat, westLon := geo.ProjectGeodesic(*lat, *lon, 270, *gap/2)

	var wg sync.WaitGroup
	for _, v := range []struct {
		id       string
		lat, lon float64
		heading  float64
	}{
		{"sim-west", westLat, westLon, 90},  // west vehicle drives east
		{"sim-east", eastLat, eastLon, 270}, // east vehicle drives west
	} {
		wg.Add(1)
		go func(id string, lat, lon, heading float64) {
			defer wg.Done()
			if err := drive(ctx, id, lat, lon, heading); err != nil && ctx.Err() == nil {
				log.Printf("%s: %v", id, err)
			}
		}(v.id, v.lat, v.lon, v.heading)
	}
	wg.Wait()
}

// drive connects one vehicle and streams its track until the context ends.
func drive(ctx context.Context, id string, lat, lon, heading float64) error {
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/v2v"}
	if *token != "" {
		u.RawQuery = url.Values{"token": {*token}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Reader goroutine: acks for our own samples plus pushes triggered by
	// the counterpart's samples arrive interleaved on the same connection.
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			report(id, raw)
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	step := *speed * interval.Seconds()
	for {
		sample := telemetry.Sample{
			UserID:    id,
			Latitude:  lat,
			Longitude: lon,
			Speed:     *speed,
			Heading:   heading,
			Timestamp: &telemetry.Timestamp{Time: time.Now()},
		}
		if err := conn.WriteJSON(sample); err != nil {
			return err
		}
		lat, lon = geo.ProjectGeodesic(lat, lon, heading, step)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// report prints the interesting parts of a server frame.
func report(id string, raw []byte) {
	var envelope struct {
		Status  string             `json:"status"`
		Reason  string             `json:"reason"`
		Threats []telemetry.Threat `json:"threats"`
		Data    *telemetry.Threat  `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Printf("%s: unreadable frame: %v", id, err)
		return
	}

	switch envelope.Status {
	case "received":
		for _, th := range envelope.Threats {
			log.Printf("%s: ack threat %s from %s: %s", id, th.Type, th.ID, th.Message)
		}
	case "threat":
		if envelope.Data != nil {
			log.Printf("%s: pushed threat %s from %s: %s", id, envelope.Data.Type, envelope.Data.ID, envelope.Data.Message)
		}
	case "error":
		log.Printf("%s: rejected: %s", id, envelope.Reason)
	default:
		log.Printf("%s: %s", id, raw)
	}
}
