package pkg

import (
	"context"
	"time"
)

// Default model parameters shared across packages.
const (
	// StandardSeaLevelHPa is the ISA standard sea-level pressure.
	StandardSeaLevelHPa = 1013.25

	// DefaultFloorHeightM is the assumed height of one building floor.
	DefaultFloorHeightM = 3.5
)

// Pressure source tags.
const (
	SourceHardwareBarometer = "hardware-barometer"
	SourceOpenWeatherMap    = "OpenWeatherMap"
	SourceWeatherAPI        = "WeatherAPI"
	SourceOpenMeteo         = "Open-Meteo"
	SourceDefault           = "default"
)

// Estimate method tags. Composite methods are derived from these
// ("gps+weather", "barometer (hardware) (filtered)").
const (
	MethodBarometer = "barometer (hardware)"
	MethodGPS       = "gps"
	MethodWeather   = "weather"
	MethodWiFi      = "wifi"
)

// Motion states reported alongside an estimate.
const (
	MotionStable     = "stable"
	MotionAscending  = "ascending"
	MotionDescending = "descending"
)

// PressureReading is a single atmospheric pressure measurement.
type PressureReading struct {
	HPa       float64   `json:"hpa"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is a GPS fix. HasAltitude reports whether AltitudeM carries a
// usable 3D-fix altitude.
type Position struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	AltitudeM   float64   `json:"altitude_m"`
	AccuracyM   float64   `json:"accuracy_m"`
	HasAltitude bool      `json:"has_altitude"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// AccessPoint is one WiFi access point seen by the scanner.
type AccessPoint struct {
	BSSID     string `json:"bssid"`
	SSID      string `json:"ssid"`
	SignalDBm int    `json:"signal_dbm"`
}

// FloorEstimate is the unit of output and fusion input. Exactly one of
// {valid estimate, Err} is meaningful per instance: when Err is set the
// numeric fields are zero by convention. Estimates are never mutated in
// place; derived estimates are built fresh.
type FloorEstimate struct {
	Floor      int       `json:"floor"`
	AltitudeM  float64   `json:"altitude_m"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	Motion     string    `json:"motion,omitempty"`
	Err        string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Failed reports whether the estimate carries an error instead of a value.
func (e FloorEstimate) Failed() bool {
	return e.Err != ""
}

// NewFloorEstimate builds a valid estimate. Confidence is clamped to [0,1].
func NewFloorEstimate(floor int, altitudeM, confidence float64, method string) FloorEstimate {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return FloorEstimate{
		Floor:      floor,
		AltitudeM:  altitudeM,
		Confidence: confidence,
		Method:     method,
		Timestamp:  time.Now(),
	}
}

// ErrorEstimate builds an error-tagged estimate for a failed source or pass.
func ErrorEstimate(method, msg string) FloorEstimate {
	return FloorEstimate{
		Method:    method,
		Err:       msg,
		Timestamp: time.Now(),
	}
}

// CalibrationResult reports the outcome of a calibration attempt.
// SeaLevelHPa is nil when the attempt failed.
type CalibrationResult struct {
	OK          bool     `json:"ok"`
	Message     string   `json:"message"`
	SeaLevelHPa *float64 `json:"sea_level_hpa,omitempty"`
}

// BarometerSource supplies pressure readings from a hardware sensor.
type BarometerSource interface {
	Available() bool
	Read(ctx context.Context) (*PressureReading, error)
}

// LocationSource supplies GPS fixes.
type LocationSource interface {
	Available() bool
	Current(ctx context.Context) (*Position, error)
}

// WeatherSource supplies station pressure for a coordinate.
type WeatherSource interface {
	Pressure(ctx context.Context, lat, lon float64) (*PressureReading, error)
}

// WiFiSource supplies visible access points.
type WiFiSource interface {
	Scan(ctx context.Context) ([]AccessPoint, error)
}
