package telemetry

import "time"

// ThreatType enumerates the predictor bank outputs.
type ThreatType string

const (
	ThreatPredictedCollision    ThreatType = "predicted_collision"
	ThreatRearEnd               ThreatType = "rear_end"
	ThreatWrongDirection        ThreatType = "wrong_direction"
	ThreatIntersectionCollision ThreatType = "intersection_collision"
	ThreatOvertake              ThreatType = "overtake"
)

// SourceVehicle is the counterpart's kinematic summary embedded in a threat,
// always from the receiving vehicle's viewpoint.
type SourceVehicle struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

// Threat is a recipient-relative threat notification. The numeric pointers are
// type-specific: the threat type determines which of them are populated.
type Threat struct {
	Type ThreatType `json:"type"`

	// Counterpart vehicle, from the receiver's viewpoint.
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`

	Source SourceVehicle `json:"sourceVehicle"`

	FutureDistanceM *float64 `json:"future_distance_m,omitempty"`
	TimeS           *float64 `json:"time_s,omitempty"`
	DistanceM       *float64 `json:"distance_m,omitempty"`
	Deceleration    *float64 `json:"deceleration,omitempty"`
	TimeToCPAS      *float64 `json:"timeToCPA_s,omitempty"`
	LateralM        *float64 `json:"lateral_m,omitempty"`

	Message string `json:"message"`
}

// Ack is the per-message success response to the originating vehicle.
type Ack struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Threats   []Threat `json:"threats"`
}

// ReceivedAck builds a success acknowledgment. Threats is always non-nil so
// the JSON carries an explicit empty array.
func ReceivedAck(now time.Time, threats []Threat) Ack {
	if threats == nil {
		threats = []Threat{}
	}
	return Ack{
		Status:    "received",
		Timestamp: now.UTC().Format(time.RFC3339),
		Threats:   threats,
	}
}

// ErrAck is the rejection response for a message that failed validation or
// hit an infrastructure failure.
type ErrAck struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ErrorAck builds a rejection acknowledgment.
func ErrorAck(reason string) ErrAck {
	return ErrAck{Status: "error", Reason: reason}
}

// Push wraps a threat for delivery to the counterpart's channel.
type Push struct {
	Status string `json:"status"`
	Data   Threat `json:"data"`
}

// NewPush builds the counterpart push envelope.
func NewPush(t Threat) Push {
	return Push{Status: "threat", Data: t}
}
