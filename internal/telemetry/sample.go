// Package telemetry defines the wire types of the V2V channel: inbound
// kinematic samples, outbound threat notifications, and acknowledgments.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/collision.report/internal/geo"
)

// Vec3 is a raw 3-axis sensor reading.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Timestamp accepts the client's wall time either as an epoch-milliseconds
// number or as an RFC 3339 string. It marshals back to epoch milliseconds so
// stored samples round-trip.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON parses a JSON number (ms since epoch), a numeric string, or an
// RFC 3339 string.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			t.Time = parsed
			return nil
		}
		if ms, err := strconv.ParseFloat(raw, 64); err == nil {
			t.Time = msToTime(ms)
			return nil
		}
		return fmt.Errorf("unrecognized timestamp %q", raw)
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %s", s)
	}
	t.Time = msToTime(ms)
	return nil
}

// MarshalJSON emits epoch milliseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UnixMilli())
}

func msToTime(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// Sample is one telemetry message from a vehicle.
type Sample struct {
	UserID             string     `json:"userId"`
	Latitude           float64    `json:"latitude"`
	Longitude          float64    `json:"longitude"`
	Speed              float64    `json:"speed"`
	Heading            float64    `json:"heading"`
	Accel              *Vec3      `json:"accel,omitempty"`
	Gyro               *Vec3      `json:"gyro,omitempty"`
	HorizontalAccuracy *float64   `json:"horizontalAccuracy,omitempty"`
	Timestamp          *Timestamp `json:"timestamp,omitempty"`
}

// Validation reasons returned to the origin as {status:"error", reason:...}.
const (
	ReasonMissingUserID      = "missing userId"
	ReasonInvalidCoordinates = "invalid coordinates"
)

// Validate returns the rejection reason for an unusable sample, or "" when
// the sample may enter the pipeline.
func (s *Sample) Validate() string {
	if strings.TrimSpace(s.UserID) == "" {
		return ReasonMissingUserID
	}
	if !isFinite(s.Latitude) || !isFinite(s.Longitude) {
		return ReasonInvalidCoordinates
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return ReasonInvalidCoordinates
	}
	return ""
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// State is the normalized kinematic state derived from a Sample.
type State struct {
	Lat           float64
	Lon           float64
	HeadingDeg    float64 // normalized to [0, 360)
	Speed         float64 // m/s, clamped non-negative
	VelEast       float64 // m/s
	VelNorth      float64 // m/s
	YawRateDegS   float64 // degrees per second, signed
	LinearAccelMS float64 // magnitude of the 3-axis accelerometer reading
}

// yawRadiansCutoff: gyro z readings below this magnitude are assumed to be
// radians per second (typical phone APIs) and converted; larger magnitudes
// are taken as degrees per second already.
const yawRadiansCutoff = 0.5

// Derive normalizes the sample into a kinematic state. Non-finite speed is
// coerced to 0 and negative speed clamped; heading is normalized; the gyro z
// component becomes a yaw rate in deg/s regardless of the unit it arrived in.
func (s *Sample) Derive() State {
	speed := s.Speed
	if !isFinite(speed) || speed < 0 {
		speed = 0
	}
	heading := geo.NormalizeHeading(s.Heading)
	ve, vn := geo.VelocityENU(speed, heading)

	var yaw float64
	if s.Gyro != nil && isFinite(s.Gyro.Z) {
		yaw = s.Gyro.Z
		if math.Abs(yaw) < yawRadiansCutoff {
			yaw = yaw * 180 / math.Pi
		}
	}

	var accel float64
	if s.Accel != nil && isFinite(s.Accel.X) && isFinite(s.Accel.Y) && isFinite(s.Accel.Z) {
		accel = math.Sqrt(s.Accel.X*s.Accel.X + s.Accel.Y*s.Accel.Y + s.Accel.Z*s.Accel.Z)
	}

	return State{
		Lat:           s.Latitude,
		Lon:           s.Longitude,
		HeadingDeg:    heading,
		Speed:         speed,
		VelEast:       ve,
		VelNorth:      vn,
		YawRateDegS:   yaw,
		LinearAccelMS: accel,
	}
}

// Telemetry TTLs: fast movers refresh often so their entries expire quickly;
// slow or parked vehicles linger longer.
const (
	fastSpeedCutoffMS = 5
	fastTTL           = 10 * time.Second
	slowTTL           = 30 * time.Second
)

// TTL returns how long the stored copy of this sample stays valid.
func (s *Sample) TTL() time.Duration {
	speed := s.Speed
	if !isFinite(speed) {
		speed = 0
	}
	if speed > fastSpeedCutoffMS {
		return fastTTL
	}
	return slowTTL
}

// Age returns how far behind serverNow the client timestamp is. Samples
// without a timestamp report zero age and are treated as fresh.
func (s *Sample) Age(serverNow time.Time) time.Duration {
	if s.Timestamp == nil || s.Timestamp.IsZero() {
		return 0
	}
	return serverNow.Sub(s.Timestamp.Time)
}
