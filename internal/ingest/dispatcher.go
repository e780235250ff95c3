package ingest

import (
	"context"

	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/predict"
	"github.com/banshee-data/collision.report/internal/session"
	"github.com/banshee-data/collision.report/internal/telemetry"
)

// ThreatRecorder persists emitted threats for later inspection. The dispatcher
// treats it as best-effort: a failed write is logged, never surfaced to the
// vehicles involved.
type ThreatRecorder interface {
	Record(ctx context.Context, recipient string, t telemetry.Threat) error
}

// Dispatcher turns a predictor hit into the two recipient-relative
// notifications: one returned inline to the originating vehicle's ack, one
// pushed to the counterpart's open channel if it has one.
type Dispatcher struct {
	Sessions *session.Registry
	Recorder ThreatRecorder // optional
}

// threatFor renders res from recipient's point of view: the embedded vehicle
// is always the counterpart.
func threatFor(counterpart *telemetry.Sample, res *predict.Result) telemetry.Threat {
	return telemetry.Threat{
		Type: res.Type,
		ID:   counterpart.UserID,
		Lat:  counterpart.Latitude,
		Lng:  counterpart.Longitude,
		Source: telemetry.SourceVehicle{
			UserID:    counterpart.UserID,
			Latitude:  counterpart.Latitude,
			Longitude: counterpart.Longitude,
			Speed:     counterpart.Speed,
			Heading:   counterpart.Heading,
		},
		FutureDistanceM: res.FutureDistanceM,
		TimeS:           res.TimeS,
		DistanceM:       res.DistanceM,
		Deceleration:    res.Deceleration,
		TimeToCPAS:      res.TimeToCPAS,
		LateralM:        res.LateralM,
		Message:         res.Message,
	}
}

// Dispatch fans res out to both vehicles of the pair and returns the threat
// destined for the originator's ack. Push failures are swallowed: the
// counterpart's connection may have closed between the neighbor query and now.
func (d *Dispatcher) Dispatch(ctx context.Context, self, other *telemetry.Sample, res *predict.Result) telemetry.Threat {
	monitoring.ThreatsTotal.WithLabelValues(string(res.Type)).Inc()

	forSelf := threatFor(other, res)
	forOther := threatFor(self, res)

	if ch, ok := d.Sessions.Lookup(other.UserID); ok {
		if err := ch.Send(telemetry.NewPush(forOther)); err != nil {
			monitoring.Debugf("push to %s failed: %v", other.UserID, err)
		}
	}

	if d.Recorder != nil {
		if err := d.Recorder.Record(ctx, self.UserID, forSelf); err != nil {
			monitoring.Debugf("threat log write failed: %v", err)
		}
		if err := d.Recorder.Record(ctx, other.UserID, forOther); err != nil {
			monitoring.Debugf("threat log write failed: %v", err)
		}
	}

	return forSelf
}
