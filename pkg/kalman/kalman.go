// Package kalman implements a constant-velocity Kalman filter over
// altitude. The two-state model (altitude, vertical velocity) tracks steady
// ascent or descent instead of lagging behind step changes the way an
// exponential smoother would, and the measurement noise adapts to the
// confidence of the incoming estimate so low-confidence sources pull the
// state less.
package kalman

import (
	"math"
	"time"
)

// Filter tunables.
const (
	// Process noise for the altitude and velocity states.
	qAltitude = 0.1  // m^2/s^2
	qVelocity = 0.01 // (m/s)^2/s^2

	// initialVelocityVar is the velocity uncertainty assigned on
	// initialization.
	initialVelocityVar = 1.0

	// MaxGap is the largest update interval the filter will bridge.
	// Anything longer (or a non-positive delta) discards filter history
	// rather than risk a bad prediction.
	MaxGap = 60 * time.Second
)

// Filter holds the mutable smoothing state. It is not safe for concurrent
// use; the detection engine serializes passes.
type Filter struct {
	altitude float64
	velocity float64

	// Covariance terms of the 2x2 matrix. p12 and p21 are tracked
	// separately: the update step below perturbs them asymmetrically.
	p11, p12, p21, p22 float64

	lastUpdate  time.Time
	initialized bool

	now func() time.Time
}

// Result is the filter output for one update.
type Result struct {
	AltitudeM     float64
	VelocityMS    float64
	Confidence    float64
	Innovation    float64
	Reinitialized bool
}

// New creates an uninitialized filter.
func New() *Filter {
	return &Filter{now: time.Now}
}

// confidenceToVariance maps a [0,1] confidence to a measurement noise
// variance. Confidence 1.0 yields 0.1 m^2; confidence 0.1 yields ~9.9 m^2.
func confidenceToVariance(confidence float64) float64 {
	return 0.1 / (confidence*confidence + 0.01)
}

// Initialize seeds the filter from a single measurement: zero velocity,
// position variance from the measurement confidence.
func (f *Filter) Initialize(altitudeM, confidence float64) {
	f.altitude = altitudeM
	f.velocity = 0
	f.p11 = confidenceToVariance(confidence)
	f.p12 = 0
	f.p21 = 0
	f.p22 = initialVelocityVar
	f.lastUpdate = f.now()
	f.initialized = true
}

// Update runs one predict/correct cycle against a new measurement. If the
// filter is uninitialized, or the time since the last update is
// non-positive or exceeds MaxGap, the filter reinitializes from the
// measurement instead (innovation 0).
func (f *Filter) Update(altitudeM, confidence float64) Result {
	now := f.now()
	dt := now.Sub(f.lastUpdate).Seconds()
	if !f.initialized || dt <= 0 || dt > MaxGap.Seconds() {
		f.Initialize(altitudeM, confidence)
		return Result{
			AltitudeM:     f.altitude,
			VelocityMS:    f.velocity,
			Confidence:    f.outputConfidence(),
			Reinitialized: true,
		}
	}

	// Predict: constant-velocity propagation plus discretized process
	// noise.
	predAlt := f.altitude + f.velocity*dt
	predVel := f.velocity

	q11 := qAltitude * dt * dt * dt * dt / 4
	q12 := qAltitude * dt * dt * dt / 2
	q22 := qAltitude*dt*dt + qVelocity

	p11 := f.p11 + 2*f.p12*dt + f.p22*dt*dt + q11
	p12 := f.p12 + f.p22*dt + q12
	p21 := f.p21 + f.p22*dt + q12
	p22 := f.p22 + q22

	// Correct.
	r := confidenceToVariance(confidence)
	innovation := altitudeM - predAlt
	s := p11 + r
	k1 := p11 / s
	k2 := p21 / s

	f.altitude = predAlt + k1*innovation
	f.velocity = predVel + k2*innovation
	f.p11 = (1 - k1) * p11
	f.p12 = (1 - k1) * p12
	f.p21 = p21 - k2*p11
	f.p22 = p22 - k2*p12
	f.lastUpdate = now

	return Result{
		AltitudeM:  f.altitude,
		VelocityMS: f.velocity,
		Confidence: f.outputConfidence(),
		Innovation: innovation,
	}
}

// IsOutlier gates a measurement against the current state: true when the
// residual exceeds threshold standard deviations of the combined
// position-plus-measurement uncertainty. Callers may use this to discard a
// measurement before fusing it in.
func (f *Filter) IsOutlier(altitudeM, confidence, threshold float64) bool {
	if !f.initialized {
		return false
	}
	r := confidenceToVariance(confidence)
	return math.Abs(altitudeM-f.altitude) > threshold*math.Sqrt(f.p11+r)
}

// Reset clears all state; the next Update reinitializes.
func (f *Filter) Reset() {
	*f = Filter{now: f.now}
}

// Initialized reports whether the filter carries state.
func (f *Filter) Initialized() bool {
	return f.initialized
}

// outputConfidence maps the posterior position variance back to [0,1].
func (f *Filter) outputConfidence() float64 {
	return 1 / (1 + f.p11)
}
