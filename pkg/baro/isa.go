// Package baro converts barometric pressure to altitude using the
// International Standard Atmosphere model, and provides the hardware
// barometer source adapter.
package baro

import (
	"math"

	"github.com/floorsense/floorsense/pkg"
)

// ISA model constants.
const (
	lapseRateKPerM    = 0.0065    // L, temperature lapse rate
	gasConstant       = 8.31447   // R, universal gas constant J/(mol*K)
	gravity           = 9.80665   // g, m/s^2
	molarMassAir      = 0.0289644 // M, kg/mol
	kelvinOffset      = 273.15
	DefaultTempC      = 15.0
	linearScaleHeight = 8400.0 // meters, used by the linear fallback
)

// isaExponent is (R*L)/(g*M), the exponent of the pressure ratio in the
// ISA altitude formula. Its reciprocal inverts the formula.
var isaExponent = (gasConstant * lapseRateKPerM) / (gravity * molarMassAir)

// PressureToAltitude converts a pressure reading (hPa) to meters above the
// given sea-level reference, assuming the default 15 C surface temperature.
func PressureToAltitude(pressureHPa, seaLevelHPa float64) float64 {
	return PressureToAltitudeAt(pressureHPa, seaLevelHPa, DefaultTempC)
}

// PressureToAltitudeAt is PressureToAltitude with an explicit surface
// temperature. Callers must ensure pressureHPa > 0; no bounds checking is
// performed.
func PressureToAltitudeAt(pressureHPa, seaLevelHPa, temperatureC float64) float64 {
	tk := temperatureC + kelvinOffset
	return (tk / lapseRateKPerM) * (1 - math.Pow(pressureHPa/seaLevelHPa, isaExponent))
}

// SeaLevelPressure inverts the ISA formula: given a known altitude and the
// pressure measured there, it recovers the sea-level reference pressure.
// For altitudes outside the model's validity (base term <= 0) it falls back
// to the linear approximation P0 = P * (1 + h/8400).
func SeaLevelPressure(knownAltitudeM, pressureHPa, temperatureC float64) float64 {
	tk := temperatureC + kelvinOffset
	base := 1 - (lapseRateKPerM*knownAltitudeM)/tk
	if base <= 0 {
		return pressureHPa * (1 + knownAltitudeM/linearScaleHeight)
	}
	return pressureHPa / math.Pow(base, 1/isaExponent)
}

// AltitudeToFloor maps an altitude to a floor index: 0 is ground level,
// negative indices are basements. A non-positive floor height falls back to
// the default.
func AltitudeToFloor(altitudeM, floorHeightM float64) int {
	if floorHeightM <= 0 {
		floorHeightM = pkg.DefaultFloorHeightM
	}
	return int(math.Round(altitudeM / floorHeightM))
}
