// Package geo is the geometry kernel for the collision-prediction engine:
// great-circle distance, spherical forward projection, local east-north
// linearization, and closest-point-of-approach math.
//
// Heading convention: compass bearings. 0° points north, angles grow
// clockwise, so 90° is due east. All exported functions and every predictor
// built on this package use this convention.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius used by the spherical formulas.
const EarthRadiusMeters = 6371000

// Meters-per-degree constants for the equirectangular local frame. Only valid
// over a few hundred meters, which covers the neighbor radius.
const (
	metersPerDegLat = 111320
)

// GreatCircleMeters returns the haversine distance in meters between two
// WGS-84 points.
func GreatCircleMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// ProjectGeodesic returns the point reached by traveling distMeters from
// (lat, lon) along the given compass bearing, using the spherical forward
// formula. The returned longitude is wrapped to (-180, 180].
func ProjectGeodesic(lat, lon, bearingDeg, distMeters float64) (float64, float64) {
	phi1 := lat * math.Pi / 180
	lambda1 := lon * math.Pi / 180
	theta := bearingDeg * math.Pi / 180
	delta := distMeters / EarthRadiusMeters

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(sinPhi2)
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*sinPhi2,
	)

	outLat := phi2 * 180 / math.Pi
	outLon := lambda2 * 180 / math.Pi
	return outLat, wrapLongitude(outLon)
}

// wrapLongitude maps a longitude in degrees into (-180, 180].
func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon <= 0 {
		lon += 360
	}
	return lon - 180
}

// LocalENU linearizes (lat, lon) around the reference point and returns the
// offset in meters as (east, north). Equirectangular, short range only.
func LocalENU(refLat, refLon, lat, lon float64) (east, north float64) {
	east = (lon - refLon) * metersPerDegLat * math.Cos(refLat*math.Pi/180)
	north = (lat - refLat) * metersPerDegLat
	return east, north
}

// VelocityENU resolves a ground speed and compass heading into (east, north)
// velocity components in m/s.
func VelocityENU(speed, headingDeg float64) (ve, vn float64) {
	theta := headingDeg * math.Pi / 180
	return speed * math.Sin(theta), speed * math.Cos(theta)
}

// NormalizeHeading maps any finite heading into [0, 360). Non-finite input
// normalizes to 0.
func NormalizeHeading(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// HeadingDiff returns the smallest-arc difference between two headings,
// always in [0, 180].
func HeadingDiff(a, b float64) float64 {
	d := math.Abs(NormalizeHeading(a) - NormalizeHeading(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// MajorityHeading returns the argument of the unit-vector sum of the given
// headings, normalized to [0, 360). The vector sum is robust to the 0°/360°
// wrap, unlike an arithmetic mean. The second return is false when the input
// is empty or the vectors cancel out (no meaningful majority).
func MajorityHeading(headings []float64) (float64, bool) {
	if len(headings) == 0 {
		return 0, false
	}
	var se, sn float64
	for _, h := range headings {
		theta := NormalizeHeading(h) * math.Pi / 180
		se += math.Sin(theta)
		sn += math.Cos(theta)
	}
	// Opposed headings cancel; below this magnitude the argument is noise.
	if math.Hypot(se, sn) < 1e-9 {
		return 0, false
	}
	return NormalizeHeading(math.Atan2(se, sn) * 180 / math.Pi), true
}
