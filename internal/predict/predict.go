// Package predict is the bank of kinematic threat detectors. Each detector is
// a pure function of two vehicle states plus derived context; the bank runs
// them in a fixed order and the first hit wins for a given pair.
package predict

import (
	"fmt"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/geo"
	"github.com/banshee-data/collision.report/internal/store"
	"github.com/banshee-data/collision.report/internal/telemetry"
	"github.com/banshee-data/collision.report/internal/units"
)

// Input bundles everything a detector may consult for one (self, other) pair.
type Input struct {
	Self  *telemetry.Sample
	Other *telemetry.Sample

	SelfState  telemetry.State
	OtherState telemetry.State

	// OtherHistory is the counterpart's recent speed window, oldest first.
	OtherHistory []store.SpeedSample

	// MajorityHeading is the neighborhood's dominant direction of travel.
	// HasMajority is false when the neighborhood cancels out.
	MajorityHeading float64
	HasMajority     bool

	Cfg config.Thresholds
}

// Result is a detector hit before it is turned into recipient-relative
// notifications. Only the fields relevant to Type are set.
type Result struct {
	Type    telemetry.ThreatType
	Message string

	FutureDistanceM *float64
	TimeS           *float64
	DistanceM       *float64
	Deceleration    *float64
	TimeToCPAS      *float64
	LateralM        *float64
}

// Detector evaluates one threat hypothesis for a pair of vehicles.
type Detector func(in Input) *Result

// Bank returns the detectors in evaluation order. The order is part of the
// engine contract: the first hit suppresses the rest for that pair.
func Bank() []Detector {
	return []Detector{
		PredictedCollision,
		RearEnd,
		WrongDirection,
		Intersection,
		Overtake,
	}
}

// Run evaluates the bank in order and returns the first hit, or nil.
func Run(in Input) *Result {
	for _, d := range Bank() {
		if r := d(in); r != nil {
			return r
		}
	}
	return nil
}

func ptr(f float64) *float64 { return &f }

// currentDistance is the great-circle separation of the pair right now.
func currentDistance(in Input) float64 {
	return geo.GreatCircleMeters(
		in.SelfState.Lat, in.SelfState.Lon,
		in.OtherState.Lat, in.OtherState.Lon,
	)
}

// enuPair linearizes both positions around self and returns (posSelf,
// velSelf, posOther, velOther) in the local east-north frame.
func enuPair(in Input) (geo.Vec2, geo.Vec2, geo.Vec2, geo.Vec2) {
	e, n := geo.LocalENU(in.SelfState.Lat, in.SelfState.Lon, in.OtherState.Lat, in.OtherState.Lon)
	return geo.Vec2{E: 0, N: 0},
		geo.Vec2{E: in.SelfState.VelEast, N: in.SelfState.VelNorth},
		geo.Vec2{E: e, N: n},
		geo.Vec2{E: in.OtherState.VelEast, N: in.OtherState.VelNorth}
}

// predictedCollisionMinAngleDeg keeps near-parallel courses out of the
// simulation: a vehicle slowly caught up on the same lane is the rear-end and
// overtake detectors' regime, not a head-on style collision.
const predictedCollisionMinAngleDeg = 20

// PredictedCollision simulates both vehicles at constant heading and speed in
// whole-second steps and fires when the projected pair comes within the
// collision radius. The radius is inflated while self is turning sharply,
// since the constant-heading assumption is weakest there.
func PredictedCollision(in Input) *Result {
	// Two parked vehicles never converge; skip the simulation.
	if in.SelfState.Speed < in.Cfg.MinMovingSpeedMS && in.OtherState.Speed < in.Cfg.MinMovingSpeedMS {
		return nil
	}
	if geo.HeadingDiff(in.SelfState.HeadingDeg, in.OtherState.HeadingDeg) < predictedCollisionMinAngleDeg {
		return nil
	}

	radius := in.Cfg.CollisionRadiusM
	if isSuddenTurn(in.SelfState, in.Cfg) {
		radius += in.Cfg.UncertaintyInflationMeters
	}

	for t := in.Cfg.PredictStep; t <= in.Cfg.LookaheadS; t += in.Cfg.PredictStep {
		dt := float64(t)
		selfLat, selfLon := geo.ProjectGeodesic(
			in.SelfState.Lat, in.SelfState.Lon, in.SelfState.HeadingDeg, in.SelfState.Speed*dt)
		otherLat, otherLon := geo.ProjectGeodesic(
			in.OtherState.Lat, in.OtherState.Lon, in.OtherState.HeadingDeg, in.OtherState.Speed*dt)

		d := geo.GreatCircleMeters(selfLat, selfLon, otherLat, otherLon)
		if d <= radius {
			return &Result{
				Type:            telemetry.ThreatPredictedCollision,
				Message:         fmt.Sprintf("predicted collision in %d s (%.1f m apart)", t, d),
				TimeS:           ptr(dt),
				FutureDistanceM: ptr(d),
			}
		}
	}
	return nil
}

// rearEndMinClosingMS is the minimum closing speed for a rear-end hit.
const rearEndMinClosingMS = 0.5

// RearEnd fires when the counterpart directly ahead is braking hard while
// self is closing on it. Deceleration comes from the counterpart's stored
// speed history, so it needs at least two samples.
func RearEnd(in Input) *Result {
	n := len(in.OtherHistory)
	if n < 2 {
		return nil
	}
	prev, last := in.OtherHistory[n-2], in.OtherHistory[n-1]

	dt := float64(last.TimeMS-prev.TimeMS) / 1000
	if dt < 1 {
		dt = 1
	}
	decel := (prev.Speed - last.Speed) / dt
	closing := in.SelfState.Speed - in.OtherState.Speed
	dist := currentDistance(in)

	if decel >= in.Cfg.SuddenDecelMS2 && dist <= in.Cfg.RearEndDistanceM && closing > rearEndMinClosingMS {
		return &Result{
			Type:         telemetry.ThreatRearEnd,
			Message:      fmt.Sprintf("vehicle ahead braking hard (%.1f m/s²) %.0f m away", decel, dist),
			DistanceM:    ptr(dist),
			Deceleration: ptr(decel),
		}
	}
	return nil
}

// wrongDirMaxDistM bounds how far away a wrong-direction vehicle still
// warrants a notification.
const wrongDirMaxDistM = 40

// WrongDirection fires when the counterpart travels against the neighborhood
// majority heading at close range.
func WrongDirection(in Input) *Result {
	if !in.HasMajority {
		return nil
	}
	diff := geo.HeadingDiff(in.OtherState.HeadingDeg, in.MajorityHeading)
	dist := currentDistance(in)

	if diff >= in.Cfg.WrongDirDiffDeg && dist <= wrongDirMaxDistM {
		return &Result{
			Type:      telemetry.ThreatWrongDirection,
			Message:   fmt.Sprintf("oncoming vehicle against traffic flow %.0f m away", dist),
			DistanceM: ptr(dist),
		}
	}
	return nil
}

// Intersection gating constants: both vehicles at urban speed (2.78 m/s is
// 10 km/h), roughly perpendicular paths, and a tight closest approach.
const (
	intersectionMinSpeedMS  = 2.78
	intersectionMinAngleDeg = 60
	intersectionMaxAngleDeg = 120
	intersectionCPACutoffM  = 8
)

// Intersection fires for two moving vehicles on crossing paths whose closest
// point of approach is both near and imminent.
func Intersection(in Input) *Result {
	if in.SelfState.Speed < intersectionMinSpeedMS || in.OtherState.Speed < intersectionMinSpeedMS {
		return nil
	}
	diff := geo.HeadingDiff(in.SelfState.HeadingDeg, in.OtherState.HeadingDeg)
	if diff < intersectionMinAngleDeg || diff > intersectionMaxAngleDeg {
		return nil
	}

	posSelf, velSelf, posOther, velOther := enuPair(in)
	cpa := geo.ComputeCPATTC(posSelf, velSelf, posOther, velOther, in.Cfg.ProjectionTimeSeconds)

	if cpa.DistMeters <= intersectionCPACutoffM && cpa.TStar <= in.Cfg.TTCMaxSeconds {
		return &Result{
			Type:       telemetry.ThreatIntersectionCollision,
			Message:    fmt.Sprintf("crossing traffic, paths meet in %.1f s", cpa.TStar),
			TimeToCPAS: ptr(cpa.TStar),
			DistanceM:  ptr(cpa.DistMeters),
		}
	}
	return nil
}

// Overtake gating constants: near-parallel headings, very close range, a
// clear speed advantage, and CPA confirmation that the pass is happening now.
const (
	overtakeMaxHeadingDiffDeg = 20
	overtakeMaxDistM          = 12
	overtakeMinSpeedAdvMS     = 1.5
	overtakeMinClosingMS      = 0.3
	overtakeMaxTTCS           = 2
)

// Overtake fires when a faster vehicle on a parallel course is passing close
// alongside self.
func Overtake(in Input) *Result {
	if geo.HeadingDiff(in.SelfState.HeadingDeg, in.OtherState.HeadingDeg) > overtakeMaxHeadingDiffDeg {
		return nil
	}
	if currentDistance(in) > overtakeMaxDistM {
		return nil
	}
	if in.OtherState.Speed <= in.SelfState.Speed+overtakeMinSpeedAdvMS {
		return nil
	}

	posSelf, velSelf, posOther, velOther := enuPair(in)

	// Lateral offset: component of the relative position orthogonal to
	// self's direction of travel.
	rel := posOther.Sub(posSelf)
	ve, vn := geo.VelocityENU(1, in.SelfState.HeadingDeg)
	lateral := rel.E*vn - rel.N*ve
	if lateral < 0 {
		lateral = -lateral
	}
	if lateral > in.Cfg.OvertakeSideMaxM {
		return nil
	}

	cpa := geo.ComputeCPATTC(posSelf, velSelf, posOther, velOther, in.Cfg.ProjectionTimeSeconds)
	if cpa.ClosingSpeed <= overtakeMinClosingMS || cpa.TStar > overtakeMaxTTCS {
		return nil
	}

	return &Result{
		Type: telemetry.ThreatOvertake,
		Message: fmt.Sprintf("being overtaken %.1f m to the side at %s",
			lateral, units.FormatKPH(in.OtherState.Speed)),
		LateralM:   ptr(lateral),
		TimeToCPAS: ptr(cpa.TStar),
	}
}

// isSuddenTurn reports whether the vehicle's yaw rate marks a sharp turn.
func isSuddenTurn(st telemetry.State, cfg config.Thresholds) bool {
	yaw := st.YawRateDegS
	if yaw < 0 {
		yaw = -yaw
	}
	return yaw >= cfg.AngularVelHighDegS
}

// IsSuddenTurn is the exported gate used by the ingress handler to widen the
// neighbor radius while a vehicle is turning sharply.
func IsSuddenTurn(st telemetry.State, cfg config.Thresholds) bool {
	return isSuddenTurn(st, cfg)
}
