// Package units provides shared constants and conversion for speed units.
package units

import "fmt"

// Unit constants
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

// ConvertSpeed converts a speed from meters per second to the target units.
// Telemetry carries speeds in m/s; threat messages display km/h.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * 2.2369362920544
	case KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// FormatKPH renders a m/s speed as a rounded km/h string for human-readable
// notification text.
func FormatKPH(speedMPS float64) string {
	return fmt.Sprintf("%.0f km/h", ConvertSpeed(speedMPS, KPH))
}
