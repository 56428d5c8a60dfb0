// Package engine orchestrates floor detection: it prefers the hardware
// barometer, falls back to fusing GPS, weather and WiFi estimates when no
// barometer is present, and smooths whichever estimate emerges through the
// Kalman filter before publishing it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/baro"
	"github.com/floorsense/floorsense/pkg/calib"
	"github.com/floorsense/floorsense/pkg/fusion"
	"github.com/floorsense/floorsense/pkg/kalman"
	"github.com/floorsense/floorsense/pkg/logx"
	"github.com/floorsense/floorsense/pkg/telem"
	"github.com/floorsense/floorsense/pkg/trend"
)

// Pressure plausibility thresholds for the hardware barometer confidence
// policy.
const (
	pressureInBandLowHPa   = 900
	pressureInBandHighHPa  = 1100
	pressureSaneLowHPa     = 800
	pressureSaneHighHPa    = 1200
)

// ConfidenceBands configures the hardware barometer confidence policy.
// Two variants of this policy exist in the wild (0.9/0.6/0.3 and
// 0.95/0.7/0.4); the bands are configuration rather than constants so
// deployments can pick either.
type ConfidenceBands struct {
	InBand     float64 `yaml:"in_band"`      // pressure within [900,1100] hPa
	Marginal   float64 `yaml:"marginal"`     // plausible but unusual
	OutOfRange float64 `yaml:"out_of_range"` // outside [800,1200] hPa, likely faulty
}

// DefaultConfidenceBands is the canonical policy.
func DefaultConfidenceBands() ConfidenceBands {
	return ConfidenceBands{InBand: 0.95, Marginal: 0.7, OutOfRange: 0.4}
}

// Config holds the engine tunables.
type Config struct {
	FloorHeightM float64
	PollInterval time.Duration
	Bands        ConfidenceBands
}

// FloorEstimator produces a floor estimate from one measurement source.
// Error conditions are carried inside the estimate, never raised.
type FloorEstimator interface {
	Estimate(ctx context.Context) pkg.FloorEstimate
}

// Recorder receives detection outcomes for metrics export. All methods
// must be non-blocking.
type Recorder interface {
	RecordEstimate(est pkg.FloorEstimate)
	RecordSourceError(source string)
	RecordCalibration(status calib.Status)
}

// Engine runs the detection state machine. Detection passes are
// serialized: the Kalman filter and calibration state are mutable and the
// engine is their only writer.
type Engine struct {
	cfg Config
	log *logx.Logger

	barometer  pkg.BarometerSource
	location   pkg.LocationSource
	weather    pkg.WeatherSource
	wifi       FloorEstimator
	calibrator *calib.Calibrator
	filter     *kalman.Filter
	trend      *trend.Analyzer

	store    *telem.Store
	recorder Recorder

	passMu sync.Mutex // one detection pass at a time

	subMu sync.RWMutex
	subs  map[chan pkg.FloorEstimate]struct{}

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithWiFi attaches a WiFi floor estimator to the fallback path.
func WithWiFi(est FloorEstimator) Option {
	return func(e *Engine) { e.wifi = est }
}

// WithStore attaches a telemetry store.
func WithStore(store *telem.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New assembles an engine over the given sources. The calibrator is owned
// by the engine's session: parallel engines never share state.
func New(cfg Config, log *logx.Logger, barometer pkg.BarometerSource,
	location pkg.LocationSource, weather pkg.WeatherSource,
	calibrator *calib.Calibrator, opts ...Option) *Engine {

	if cfg.FloorHeightM <= 0 {
		cfg.FloorHeightM = pkg.DefaultFloorHeightM
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Bands == (ConfidenceBands{}) {
		cfg.Bands = DefaultConfidenceBands()
	}

	e := &Engine{
		cfg:        cfg,
		log:        log,
		barometer:  barometer,
		location:   location,
		weather:    weather,
		calibrator: calibrator,
		filter:     kalman.New(),
		trend:      trend.New(),
		subs:       make(map[chan pkg.FloorEstimate]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Detect runs one full detection pass and returns the resulting estimate.
// Collaborator failures surface as error-tagged estimates; Detect never
// panics or returns a Go error.
func (e *Engine) Detect(ctx context.Context) pkg.FloorEstimate {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	var est pkg.FloorEstimate
	if e.barometer != nil && e.barometer.Available() {
		// Barometer priority: the hardware sensor is trusted over all
		// fallback heuristics, so no other source is queried at all.
		est = e.detectBarometer(ctx)
	} else {
		est = e.detectFallback(ctx)
	}

	est = e.smooth(est)
	e.record(est)
	return est
}

// detectBarometer derives the estimate from the hardware sensor alone.
// The standard sea-level reference is always used here: dynamic
// calibration is reserved for the fallback paths, whose station pressure
// it was derived from.
func (e *Engine) detectBarometer(ctx context.Context) pkg.FloorEstimate {
	reading, err := e.barometer.Read(ctx)
	if err != nil {
		e.sourceError(pkg.SourceHardwareBarometer, err)
		return pkg.ErrorEstimate(pkg.MethodBarometer, fmt.Sprintf("barometer read failed: %v", err))
	}

	altitude := baro.PressureToAltitude(reading.HPa, pkg.StandardSeaLevelHPa)
	return pkg.NewFloorEstimate(
		baro.AltitudeToFloor(altitude, e.cfg.FloorHeightM),
		altitude,
		e.pressureConfidence(reading.HPa),
		pkg.MethodBarometer,
	)
}

// pressureConfidence applies the configured banding policy to a raw
// pressure reading.
func (e *Engine) pressureConfidence(hpa float64) float64 {
	switch {
	case hpa >= pressureInBandLowHPa && hpa <= pressureInBandHighHPa:
		return e.cfg.Bands.InBand
	case hpa < pressureSaneLowHPa || hpa > pressureSaneHighHPa:
		return e.cfg.Bands.OutOfRange
	default:
		return e.cfg.Bands.Marginal
	}
}

// detectFallback queries every non-barometer source independently,
// tolerating individual failures, and fuses the survivors.
func (e *Engine) detectFallback(ctx context.Context) pkg.FloorEstimate {
	// The fallback paths lean on dynamic calibration; refresh it
	// opportunistically when stale. A failed refresh is logged and the
	// pass continues on the previous reference.
	if e.calibrator.NeedsCalibration() {
		if res := e.calibrator.Auto(ctx); !res.OK {
			if e.log != nil {
				e.log.Debug("auto calibration skipped", "reason", res.Message)
			}
		} else if e.recorder != nil {
			e.recorder.RecordCalibration(e.calibrator.Current())
		}
	}

	pos, posErr := e.currentPosition(ctx)

	estimates := make([]pkg.FloorEstimate, 0, 3)
	estimates = append(estimates, e.estimateFromGPS(pos, posErr))
	estimates = append(estimates, e.estimateFromWeather(ctx, pos, posErr))
	if e.wifi != nil {
		estimates = append(estimates, e.wifi.Estimate(ctx))
	}
	for _, est := range estimates {
		if est.Failed() {
			e.sourceError(est.Method, fmt.Errorf("%s", est.Err))
		}
	}

	valid := fusion.FilterOutliers(estimates)
	return fusion.Fuse(valid, e.cfg.FloorHeightM)
}

func (e *Engine) currentPosition(ctx context.Context) (*pkg.Position, error) {
	if e.location == nil || !e.location.Available() {
		return nil, fmt.Errorf("location source unavailable")
	}
	return e.location.Current(ctx)
}

// estimateFromGPS maps a 3D fix's MSL altitude to a floor. GPS vertical
// error is large indoors, so confidence tops out well below the
// barometer's.
func (e *Engine) estimateFromGPS(pos *pkg.Position, posErr error) pkg.FloorEstimate {
	if posErr != nil {
		return pkg.ErrorEstimate(pkg.MethodGPS, fmt.Sprintf("gps unavailable: %v", posErr))
	}
	if !pos.HasAltitude {
		return pkg.ErrorEstimate(pkg.MethodGPS, "gps fix carries no altitude")
	}
	confidence := 0.3
	switch {
	case pos.AccuracyM > 0 && pos.AccuracyM <= 10:
		confidence = 0.6
	case pos.AccuracyM > 0 && pos.AccuracyM <= 30:
		confidence = 0.5
	}
	return pkg.NewFloorEstimate(
		baro.AltitudeToFloor(pos.AltitudeM, e.cfg.FloorHeightM),
		pos.AltitudeM,
		confidence,
		pkg.MethodGPS,
	)
}

// estimateFromWeather converts station pressure to altitude using the
// session's dynamic calibration.
func (e *Engine) estimateFromWeather(ctx context.Context, pos *pkg.Position, posErr error) pkg.FloorEstimate {
	if posErr != nil {
		return pkg.ErrorEstimate(pkg.MethodWeather, fmt.Sprintf("no location for weather lookup: %v", posErr))
	}
	reading, err := e.weather.Pressure(ctx, pos.Latitude, pos.Longitude)
	if err != nil {
		return pkg.ErrorEstimate(pkg.MethodWeather, fmt.Sprintf("weather pressure unavailable: %v", err))
	}

	altitude := baro.PressureToAltitude(reading.HPa, e.calibrator.SeaLevelHPa())
	confidence := 0.5
	if reading.Source == pkg.SourceDefault {
		// The hardcoded fallback reading says almost nothing about the
		// device's floor.
		confidence = 0.2
	}
	return pkg.NewFloorEstimate(
		baro.AltitudeToFloor(altitude, e.cfg.FloorHeightM),
		altitude,
		confidence,
		pkg.MethodWeather,
	)
}

// smooth runs the Kalman filter over a valid estimate. Errors bypass
// smoothing and propagate directly.
func (e *Engine) smooth(est pkg.FloorEstimate) pkg.FloorEstimate {
	if est.Failed() {
		return est
	}
	res := e.filter.Update(est.AltitudeM, est.Confidence)
	smoothed := pkg.NewFloorEstimate(
		baro.AltitudeToFloor(res.AltitudeM, e.cfg.FloorHeightM),
		res.AltitudeM,
		res.Confidence,
		est.Method+" (filtered)",
	)
	e.trend.Add(smoothed.Timestamp, smoothed.AltitudeM)
	smoothed.Motion = e.trend.Current().State
	return smoothed
}

func (e *Engine) record(est pkg.FloorEstimate) {
	if e.log != nil {
		if est.Failed() {
			e.log.Warn("detection pass failed", "method", est.Method, "error", est.Err)
		} else {
			e.log.Debug("detection pass complete",
				"floor", est.Floor,
				"altitude_m", est.AltitudeM,
				"confidence", est.Confidence,
				"method", est.Method,
			)
		}
	}
	if e.recorder != nil {
		e.recorder.RecordEstimate(est)
		e.recorder.RecordCalibration(e.calibrator.Current())
	}
	if e.store != nil {
		if err := e.store.AddSample(telem.Sample{
			Timestamp:   est.Timestamp,
			Estimate:    est,
			SeaLevelHPa: e.calibrator.SeaLevelHPa(),
		}); err != nil && e.log != nil {
			e.log.Warn("telemetry persist failed", "error", err.Error())
		}
	}
}

func (e *Engine) sourceError(source string, err error) {
	if e.log != nil {
		e.log.Debug("source contributed no estimate", "source", source, "error", err.Error())
	}
	if e.recorder != nil {
		e.recorder.RecordSourceError(source)
	}
}
