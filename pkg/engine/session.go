package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/calib"
	"github.com/floorsense/floorsense/pkg/telem"
	"github.com/floorsense/floorsense/pkg/trend"
)

// Start launches the periodic detection session. Results are delivered to
// subscribers; a second Start while running is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return fmt.Errorf("detection session already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.event(telem.EventSessionStart, "detection session started")
	if e.log != nil {
		e.log.Info("detection session started", "interval", e.cfg.PollInterval.String())
	}

	go e.run(ctx, e.stopCh, e.doneCh)
	return nil
}

func (e *Engine) run(ctx context.Context, stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			est := e.Detect(ctx)
			select {
			case <-stopCh:
				// The session was stopped while the pass ran; its result
				// belongs to the old session and is discarded.
				return
			default:
			}
			e.publish(est)
		}
	}
}

// Stop ends the session and resets the smoothing state so a later session
// starts fresh. Blocks until the loop goroutine exits.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	doneCh := e.doneCh
	e.runMu.Unlock()

	<-doneCh

	e.passMu.Lock()
	e.filter.Reset()
	e.trend.Reset()
	e.passMu.Unlock()

	e.event(telem.EventSessionStop, "detection session stopped")
	if e.log != nil {
		e.log.Info("detection session stopped")
	}
}

// Running reports whether the periodic session is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// Subscribe registers a listener for session results. The returned cancel
// func must be called to release the channel. Slow subscribers miss
// estimates rather than stalling the session.
func (e *Engine) Subscribe() (<-chan pkg.FloorEstimate, func()) {
	ch := make(chan pkg.FloorEstimate, 8)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, ch)
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publish(est pkg.FloorEstimate) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for ch := range e.subs {
		select {
		case ch <- est:
		default:
		}
	}
}

// Calibrate applies a manual calibration at a known altitude and records
// the outcome.
func (e *Engine) Calibrate(knownAltitudeM, pressureHPa float64) pkg.CalibrationResult {
	res := e.calibrator.Manual(knownAltitudeM, pressureHPa)
	e.afterCalibration(res)
	return res
}

// AutoCalibrate refreshes the sea-level reference from location and
// weather data.
func (e *Engine) AutoCalibrate(ctx context.Context) pkg.CalibrationResult {
	res := e.calibrator.Auto(ctx)
	e.afterCalibration(res)
	return res
}

// ResetCalibration restores the standard-atmosphere reference.
func (e *Engine) ResetCalibration() {
	e.calibrator.Reset()
	e.event(telem.EventCalibration, "calibration reset to standard atmosphere")
	if e.recorder != nil {
		e.recorder.RecordCalibration(e.calibrator.Current())
	}
}

// Calibration exposes the current calibration state.
func (e *Engine) Calibration() calib.Status {
	return e.calibrator.Current()
}

// Trend exposes the current fitted motion state.
func (e *Engine) Trend() trend.Motion {
	return e.trend.Current()
}

// PredictAltitude extrapolates the altitude trend to the given horizon.
func (e *Engine) PredictAltitude(horizon time.Duration) (float64, error) {
	return e.trend.Predict(horizon)
}

func (e *Engine) afterCalibration(res pkg.CalibrationResult) {
	typ := telem.EventCalibration
	if !res.OK {
		typ = telem.EventError
	}
	e.event(typ, res.Message)
	if e.recorder != nil {
		e.recorder.RecordCalibration(e.calibrator.Current())
	}
}

func (e *Engine) event(typ, msg string) {
	if e.store == nil {
		return
	}
	if err := e.store.AddEvent(telem.Event{Timestamp: time.Now(), Type: typ, Message: msg}); err != nil && e.log != nil {
		e.log.Warn("telemetry event persist failed", "error", err.Error())
	}
}
