package geo

import "math"

// Vec2 is a point or vector in the local east-north frame, meters.
type Vec2 struct {
	E float64
	N float64
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.E - o.E, v.N - o.N} }

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.E + o.E, v.N + o.N} }

// Scale returns v scaled by k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.E * k, v.N * k} }

// Dot returns the dot product of v and o.
func (v Vec2) Dot(o Vec2) float64 { return v.E*o.E + v.N*o.N }

// Norm returns the euclidean length of v.
func (v Vec2) Norm() float64 { return math.Hypot(v.E, v.N) }

// CPAResult describes the closest point of approach of two straight-line
// trajectories over a bounded horizon.
type CPAResult struct {
	TStar        float64 // time of closest approach, clamped to [0, maxT]
	DistMeters   float64 // separation at TStar
	SelfAt       Vec2    // self position at TStar
	OtherAt      Vec2    // other position at TStar
	ClosingSpeed float64 // current closing speed, positive when converging
}

// relSpeedEpsilon is the |v|² floor below which the trajectories are treated
// as parallel and the CPA is the current separation.
const relSpeedEpsilon = 1e-6

// ComputeCPATTC finds the closest point of approach between two constant-
// velocity trajectories in the local frame. Positions are meters, velocities
// m/s, maxT seconds.
func ComputeCPATTC(posSelf, velSelf, posOther, velOther Vec2, maxT float64) CPAResult {
	r := posOther.Sub(posSelf)
	v := velOther.Sub(velSelf)

	vv := v.Dot(v)
	var tStar float64
	if vv > relSpeedEpsilon {
		tStar = -r.Dot(v) / vv
		if tStar < 0 {
			tStar = 0
		}
		if tStar > maxT {
			tStar = maxT
		}
	}

	selfAt := posSelf.Add(velSelf.Scale(tStar))
	otherAt := posOther.Add(velOther.Scale(tStar))

	var closing float64
	if rn := r.Norm(); rn > 0 {
		closing = -r.Dot(v) / rn
	}

	return CPAResult{
		TStar:        tStar,
		DistMeters:   otherAt.Sub(selfAt).Norm(),
		SelfAt:       selfAt,
		OtherAt:      otherAt,
		ClosingSpeed: closing,
	}
}
