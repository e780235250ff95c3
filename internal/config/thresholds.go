// Package config holds the tuning thresholds for the collision-prediction
// engine. Every value has a compiled-in default and may be overridden through
// an environment variable of the same name, so a deployment can be retuned
// without a rebuild.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Thresholds is the full set of engine tuning parameters. Distances are in
// meters, speeds in m/s, angles in degrees unless a field name says otherwise.
type Thresholds struct {
	// Neighbor selection
	NearbyRadiusMeters         float64 // base radius for the neighbor query
	BlindSpotRadiusBoostMeters float64 // extra radius while turning sharply
	AngularVelHighDegS         float64 // yaw rate above which a turn counts as sudden
	StaleMS                    int64   // max age of a stored neighbor sample

	// CPA-based predictors
	ProjectionTimeSeconds float64 // horizon for closest-point-of-approach search
	TTCMaxSeconds         float64 // max time-to-CPA for the intersection predictor

	// Predicted-collision simulation
	LookaheadS       int     // simulation horizon in whole seconds
	PredictStep      int     // simulation step in whole seconds
	CollisionRadiusM float64 // projected-pair distance that counts as a collision

	// Rear-end
	RearEndDistanceM float64 // proximity cutoff
	SuddenDecelMS2   float64 // deceleration trigger

	// Wrong direction
	WrongDirDiffDeg float64 // heading delta against the neighborhood majority

	// Overtake
	OvertakeSideMaxM float64 // max lateral offset for an overtaking vehicle

	// General gating
	ThreatDistanceMeters       float64 // baseline proximity threat cutoff (reserved)
	MinMovingSpeedMS           float64 // minimum speed considered "moving"
	UncertaintyInflationMeters float64 // extra collision margin while turning
	ClosingSpeedStrongMS       float64 // reserved gating value
}

// Default returns the compiled-in thresholds.
func Default() Thresholds {
	return Thresholds{
		NearbyRadiusMeters:         75,
		BlindSpotRadiusBoostMeters: 8,
		AngularVelHighDegS:         45,
		StaleMS:                    4000,
		ProjectionTimeSeconds:      3,
		TTCMaxSeconds:              3,
		LookaheadS:                 5,
		PredictStep:                1,
		CollisionRadiusM:           4,
		RearEndDistanceM:           10,
		SuddenDecelMS2:             2.0,
		WrongDirDiffDeg:            150,
		OvertakeSideMaxM:           3.5,
		ThreatDistanceMeters:       15,
		MinMovingSpeedMS:           0.1,
		UncertaintyInflationMeters: 5,
		ClosingSpeedStrongMS:       10,
	}
}

// FromEnv returns Default with any environment overrides applied. A variable
// that is set but does not parse is a startup error, not a silent fallback.
func FromEnv() (Thresholds, error) {
	t := Default()

	floats := []struct {
		name string
		dst  *float64
	}{
		{"NEARBY_RADIUS_METERS", &t.NearbyRadiusMeters},
		{"BLIND_SPOT_RADIUS_BOOST_METERS", &t.BlindSpotRadiusBoostMeters},
		{"ANGULAR_VEL_HIGH_DEG_S", &t.AngularVelHighDegS},
		{"PROJECTION_TIME_SECONDS", &t.ProjectionTimeSeconds},
		{"TTC_MAX_SECONDS", &t.TTCMaxSeconds},
		{"COLLISION_RADIUS_M", &t.CollisionRadiusM},
		{"REAR_END_DISTANCE_M", &t.RearEndDistanceM},
		{"SUDDEN_DECEL_MS2", &t.SuddenDecelMS2},
		{"WRONG_DIR_DIFF_DEG", &t.WrongDirDiffDeg},
		{"OVERTAKE_SIDE_MAX_M", &t.OvertakeSideMaxM},
		{"THREAT_DISTANCE_METERS", &t.ThreatDistanceMeters},
		{"MIN_MOVING_SPEED_MS", &t.MinMovingSpeedMS},
		{"UNCERTAINTY_INFLATION_METERS", &t.UncertaintyInflationMeters},
		{"CLOSING_SPEED_STRONG_MS", &t.ClosingSpeedStrongMS},
	}
	for _, f := range floats {
		v, ok := os.LookupEnv(f.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return t, fmt.Errorf("invalid %s %q: %w", f.name, v, err)
		}
		*f.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"LOOKAHEAD_S", &t.LookaheadS},
		{"PREDICT_STEP", &t.PredictStep},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return t, fmt.Errorf("invalid %s %q: %w", f.name, v, err)
		}
		*f.dst = parsed
	}

	if v, ok := os.LookupEnv("STALE_MS"); ok && v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return t, fmt.Errorf("invalid STALE_MS %q: %w", v, err)
		}
		t.StaleMS = parsed
	}

	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Validate checks that the thresholds are internally consistent.
func (t Thresholds) Validate() error {
	if t.NearbyRadiusMeters <= 0 {
		return fmt.Errorf("NEARBY_RADIUS_METERS must be positive, got %f", t.NearbyRadiusMeters)
	}
	if t.PredictStep < 1 {
		return fmt.Errorf("PREDICT_STEP must be at least 1, got %d", t.PredictStep)
	}
	if t.LookaheadS < t.PredictStep {
		return fmt.Errorf("LOOKAHEAD_S (%d) must be at least PREDICT_STEP (%d)", t.LookaheadS, t.PredictStep)
	}
	if t.StaleMS <= 0 {
		return fmt.Errorf("STALE_MS must be positive, got %d", t.StaleMS)
	}
	if t.CollisionRadiusM <= 0 {
		return fmt.Errorf("COLLISION_RADIUS_M must be positive, got %f", t.CollisionRadiusM)
	}
	return nil
}

// StaleAge returns StaleMS as a duration.
func (t Thresholds) StaleAge() time.Duration {
	return time.Duration(t.StaleMS) * time.Millisecond
}
