// Package calib maintains the sea-level reference pressure used to turn
// barometric readings into absolute altitudes.
package calib

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/baro"
	"github.com/floorsense/floorsense/pkg/logx"
)

// StaleAfter is the age at which a calibration is considered due for
// refresh.
const StaleAfter = time.Hour

// minPlausibleGPSAltM rejects GPS altitudes below this as implausible; the
// calibration then falls back to using the station pressure directly.
const minPlausibleGPSAltM = -100.0

// Calibrator owns the mutable sea-level reference. It is an explicit state
// object scoped to a detection session, never a package-level global, so
// parallel sessions (and tests) stay independent.
type Calibrator struct {
	mu           sync.Mutex
	seaLevelHPa  float64
	calibratedAt time.Time

	location pkg.LocationSource
	weather  pkg.WeatherSource
	log      *logx.Logger

	now func() time.Time
}

// Status is a read-only snapshot of the calibration state.
type Status struct {
	SeaLevelHPa  float64    `json:"sea_level_hpa"`
	CalibratedAt *time.Time `json:"calibrated_at,omitempty"`
	Stale        bool       `json:"stale"`
}

// New creates a calibrator seeded with the standard sea-level pressure.
func New(location pkg.LocationSource, weather pkg.WeatherSource, log *logx.Logger) *Calibrator {
	return &Calibrator{
		seaLevelHPa: pkg.StandardSeaLevelHPa,
		location:    location,
		weather:     weather,
		log:         log,
		now:         time.Now,
	}
}

// SeaLevelHPa returns the current reference pressure.
func (c *Calibrator) SeaLevelHPa() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seaLevelHPa
}

// NeedsCalibration reports whether the session was never calibrated or the
// last calibration is older than StaleAfter.
func (c *Calibrator) NeedsCalibration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calibratedAt.IsZero() {
		return true
	}
	return c.now().Sub(c.calibratedAt) > StaleAfter
}

// Manual calibrates from a known altitude and the pressure measured there,
// assuming the default surface temperature.
func (c *Calibrator) Manual(knownAltitudeM, pressureHPa float64) pkg.CalibrationResult {
	return c.ManualAt(knownAltitudeM, pressureHPa, baro.DefaultTempC)
}

// ManualAt is Manual with an explicit surface temperature.
func (c *Calibrator) ManualAt(knownAltitudeM, pressureHPa, temperatureC float64) pkg.CalibrationResult {
	if pressureHPa <= 0 {
		return pkg.CalibrationResult{
			OK:      false,
			Message: fmt.Sprintf("pressure must be positive, got %.2f hPa", pressureHPa),
		}
	}
	p0 := baro.SeaLevelPressure(knownAltitudeM, pressureHPa, temperatureC)
	c.set(p0)
	return pkg.CalibrationResult{
		OK:          true,
		Message:     fmt.Sprintf("calibrated to %.2f hPa from known altitude %.1f m", p0, knownAltitudeM),
		SeaLevelHPa: &p0,
	}
}

// Auto calibrates from the external collaborators: weather-station pressure
// anchored at the GPS altitude when a plausible one is available, or the
// raw station pressure alone otherwise (weaker: the station is not
// necessarily at the device's elevation). A failed attempt leaves the
// existing calibration untouched.
func (c *Calibrator) Auto(ctx context.Context) pkg.CalibrationResult {
	if c.location == nil || c.weather == nil {
		return pkg.CalibrationResult{
			OK:      false,
			Message: "auto calibration requires location and weather sources",
		}
	}
	if !c.location.Available() {
		return pkg.CalibrationResult{
			OK:      false,
			Message: "location source unavailable",
		}
	}
	pos, err := c.location.Current(ctx)
	if err != nil {
		return pkg.CalibrationResult{
			OK:      false,
			Message: fmt.Sprintf("gps location unavailable: %v", err),
		}
	}

	reading, err := c.weather.Pressure(ctx, pos.Latitude, pos.Longitude)
	if err != nil {
		return pkg.CalibrationResult{
			OK:      false,
			Message: fmt.Sprintf("weather pressure unavailable: %v", err),
		}
	}
	if reading.Source == pkg.SourceDefault {
		// The chain's hardcoded fallback is fine for detection but has
		// nothing to teach the calibration.
		return pkg.CalibrationResult{
			OK:      false,
			Message: "no live weather station pressure available",
		}
	}

	var p0 float64
	var msg string
	if pos.HasAltitude && pos.AltitudeM > minPlausibleGPSAltM {
		p0 = baro.SeaLevelPressure(pos.AltitudeM, reading.HPa, baro.DefaultTempC)
		msg = fmt.Sprintf("calibrated to %.2f hPa from gps altitude %.1f m and %s pressure %.2f hPa",
			p0, pos.AltitudeM, reading.Source, reading.HPa)
	} else {
		p0 = reading.HPa
		msg = fmt.Sprintf("calibrated to %s station pressure %.2f hPa (no usable gps altitude)",
			reading.Source, reading.HPa)
	}

	c.set(p0)
	if c.log != nil {
		c.log.Info("auto calibration complete",
			"sea_level_hpa", p0,
			"weather_source", reading.Source,
			"gps_altitude_used", pos.HasAltitude && pos.AltitudeM > minPlausibleGPSAltM,
		)
	}
	return pkg.CalibrationResult{OK: true, Message: msg, SeaLevelHPa: &p0}
}

// Reset restores the standard reference and clears the calibration
// timestamp.
func (c *Calibrator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seaLevelHPa = pkg.StandardSeaLevelHPa
	c.calibratedAt = time.Time{}
}

// Current returns a snapshot of the calibration state.
func (c *Calibrator) Current() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{SeaLevelHPa: c.seaLevelHPa}
	if !c.calibratedAt.IsZero() {
		at := c.calibratedAt
		st.CalibratedAt = &at
		st.Stale = c.now().Sub(at) > StaleAfter
	} else {
		st.Stale = true
	}
	return st
}

func (c *Calibrator) set(p0 float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seaLevelHPa = p0
	c.calibratedAt = c.now()
}
