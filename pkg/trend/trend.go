// Package trend classifies vertical movement from recent altitude history.
// A linear fit over a short window yields the vertical rate, which
// separates standing still from riding an elevator or taking the stairs.
package trend

import (
	"fmt"
	"sync"
	"time"

	"github.com/sajari/regression"

	"github.com/floorsense/floorsense/pkg"
)

// Defaults for the analysis window.
const (
	DefaultWindow     = 2 * time.Minute
	DefaultMinSamples = 5

	// motionThreshold is the vertical rate (m/s) above which the device is
	// considered moving between floors. Elevators run 1-2 m/s, stairs
	// around 0.3 m/s; barometric noise stays well below 0.15.
	motionThreshold = 0.15
)

type sample struct {
	at       time.Time
	altitude float64
}

// Analyzer accumulates altitude samples and fits a linear trend over the
// retained window.
type Analyzer struct {
	mu         sync.Mutex
	window     time.Duration
	minSamples int
	samples    []sample
}

// Motion is the fitted vertical movement state.
type Motion struct {
	State   string  `json:"state"` // stable | ascending | descending
	RateMPS float64 `json:"rate_mps"`
}

// New creates an analyzer with the default window.
func New() *Analyzer {
	return &Analyzer{window: DefaultWindow, minSamples: DefaultMinSamples}
}

// Add records an altitude observation and drops samples older than the
// window.
func (a *Analyzer) Add(at time.Time, altitudeM float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, sample{at: at, altitude: altitudeM})
	cutoff := at.Add(-a.window)
	i := 0
	for i < len(a.samples) && a.samples[i].at.Before(cutoff) {
		i++
	}
	a.samples = a.samples[i:]
}

// Current fits the retained samples and classifies the movement. With too
// few samples the state is stable at rate 0.
func (a *Analyzer) Current() Motion {
	slope, ok := a.fit()
	if !ok {
		return Motion{State: pkg.MotionStable}
	}
	switch {
	case slope > motionThreshold:
		return Motion{State: pkg.MotionAscending, RateMPS: slope}
	case slope < -motionThreshold:
		return Motion{State: pkg.MotionDescending, RateMPS: slope}
	default:
		return Motion{State: pkg.MotionStable, RateMPS: slope}
	}
}

// Predict extrapolates the fitted trend to the given horizon from the most
// recent sample.
func (a *Analyzer) Predict(horizon time.Duration) (float64, error) {
	a.mu.Lock()
	if len(a.samples) < a.minSamples {
		a.mu.Unlock()
		return 0, fmt.Errorf("not enough samples for prediction (%d < %d)", len(a.samples), a.minSamples)
	}
	r, origin := a.regressionLocked()
	last := a.samples[len(a.samples)-1].at
	a.mu.Unlock()

	if err := r.Run(); err != nil {
		return 0, fmt.Errorf("trend fit failed: %w", err)
	}
	return r.Predict([]float64{last.Add(horizon).Sub(origin).Seconds()})
}

// Reset drops all history; called when the detection session stops.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = nil
}

func (a *Analyzer) fit() (float64, bool) {
	a.mu.Lock()
	if len(a.samples) < a.minSamples {
		a.mu.Unlock()
		return 0, false
	}
	r, _ := a.regressionLocked()
	a.mu.Unlock()

	if err := r.Run(); err != nil {
		return 0, false
	}
	return r.Coeff(1), true
}

// regressionLocked builds the regression over elapsed seconds since the
// oldest retained sample. Caller holds the lock.
func (a *Analyzer) regressionLocked() (*regression.Regression, time.Time) {
	r := new(regression.Regression)
	r.SetObserved("altitude_m")
	r.SetVar(0, "elapsed_s")
	origin := a.samples[0].at
	for _, s := range a.samples {
		r.Train(regression.DataPoint(s.altitude, []float64{s.at.Sub(origin).Seconds()}))
	}
	return r, origin
}
