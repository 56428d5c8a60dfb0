package kalman

import (
	"math"
	"testing"
	"time"
)

// fakeClock steps a filter's notion of time manually.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *fakeClock) now() time.Time          { return c.t }

func newTestFilter() (*Filter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	f := New()
	f.now = clock.now
	return f, clock
}

func TestUpdateInitializesOnFirstMeasurement(t *testing.T) {
	f, _ := newTestFilter()
	res := f.Update(42.0, 0.9)
	if !res.Reinitialized {
		t.Fatal("first update should reinitialize")
	}
	if res.AltitudeM != 42.0 {
		t.Fatalf("expected altitude 42.0, got %v", res.AltitudeM)
	}
	if res.Innovation != 0 {
		t.Fatalf("expected zero innovation on init, got %v", res.Innovation)
	}
	if !f.Initialized() {
		t.Fatal("filter should be initialized")
	}
}

func TestConstantMeasurementVarianceShrinks(t *testing.T) {
	f, clock := newTestFilter()
	f.Update(42.0, 0.9)
	prevP11 := f.p11
	var res Result
	for i := 0; i < 10; i++ {
		clock.advance(time.Second)
		res = f.Update(42.0, 0.9)
		if res.Reinitialized {
			t.Fatalf("unexpected reinit at step %d", i)
		}
		// Allow for the sub-microscopic transient the asymmetric
		// covariance update produces.
		if f.p11 > prevP11+1e-5 {
			t.Fatalf("posterior variance increased at step %d: %v -> %v", i, prevP11, f.p11)
		}
		prevP11 = f.p11
	}
	if math.Abs(res.AltitudeM-42.0) > 1e-9 {
		t.Fatalf("constant measurement should hold the state at 42, got %v", res.AltitudeM)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of bounds: %v", res.Confidence)
	}
}

func TestConvergenceFromOffsetSeed(t *testing.T) {
	f, clock := newTestFilter()
	f.Update(0, 0.9) // seed far from the true value
	var res Result
	for i := 0; i < 10; i++ {
		clock.advance(time.Second)
		res = f.Update(42.0, 0.9)
	}
	if math.Abs(res.AltitudeM-42.0) > 0.5 {
		t.Fatalf("expected convergence within 0.5 m after 10 updates, got %v", res.AltitudeM)
	}
}

func TestGapResetsFilter(t *testing.T) {
	f, clock := newTestFilter()
	f.Update(10.0, 0.9)
	clock.advance(time.Second)
	f.Update(10.0, 0.9)

	clock.advance(61 * time.Second)
	res := f.Update(99.0, 0.5)
	if !res.Reinitialized {
		t.Fatal("expected reinit after 61 s gap")
	}
	if res.AltitudeM != 99.0 {
		t.Fatalf("expected output to equal measurement after reset, got %v", res.AltitudeM)
	}
	if res.Innovation != 0 {
		t.Fatalf("expected zero innovation after reset, got %v", res.Innovation)
	}
	if res.VelocityMS != 0 {
		t.Fatalf("expected zero velocity after reset, got %v", res.VelocityMS)
	}
}

func TestNonPositiveDeltaResets(t *testing.T) {
	f, clock := newTestFilter()
	f.Update(10.0, 0.9)
	// No clock advance: dt == 0 must reinitialize rather than divide by a
	// degenerate innovation covariance.
	res := f.Update(11.0, 0.9)
	if !res.Reinitialized {
		t.Fatal("expected reinit on zero delta")
	}
	clock.advance(-time.Second)
	res = f.Update(12.0, 0.9)
	if !res.Reinitialized {
		t.Fatal("expected reinit on negative delta")
	}
}

func TestTracksSteadyAscent(t *testing.T) {
	// An elevator climbing 1 m/s: the velocity state should pick up the
	// trend so the estimate does not lag far behind.
	f, clock := newTestFilter()
	alt := 0.0
	f.Update(alt, 0.9)
	var res Result
	for i := 0; i < 30; i++ {
		clock.advance(time.Second)
		alt += 1.0
		res = f.Update(alt, 0.9)
	}
	if math.Abs(res.AltitudeM-alt) > 1.0 {
		t.Fatalf("estimate lags ascent: got %v want ~%v", res.AltitudeM, alt)
	}
	if res.VelocityMS < 0.5 {
		t.Fatalf("expected positive velocity estimate, got %v", res.VelocityMS)
	}
}

func TestIsOutlier(t *testing.T) {
	f, clock := newTestFilter()
	if f.IsOutlier(100, 0.9, 3.0) {
		t.Fatal("uninitialized filter should never gate")
	}
	f.Update(10.0, 0.9)
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		f.Update(10.0, 0.9)
	}
	if f.IsOutlier(10.2, 0.9, 3.0) {
		t.Fatal("nearby measurement flagged as outlier")
	}
	if !f.IsOutlier(200.0, 0.9, 3.0) {
		t.Fatal("distant measurement not flagged as outlier")
	}
}

func TestReset(t *testing.T) {
	f, clock := newTestFilter()
	f.Update(10.0, 0.9)
	clock.advance(time.Second)
	f.Update(10.0, 0.9)
	f.Reset()
	if f.Initialized() {
		t.Fatal("expected uninitialized after reset")
	}
	res := f.Update(55.0, 0.8)
	if !res.Reinitialized || res.AltitudeM != 55.0 {
		t.Fatalf("expected fresh init after reset, got %+v", res)
	}
}

func TestConfidenceToVarianceMonotone(t *testing.T) {
	prev := math.Inf(1)
	for c := 0.1; c <= 1.0; c += 0.1 {
		v := confidenceToVariance(c)
		if v >= prev {
			t.Fatalf("variance not decreasing at confidence %v", c)
		}
		prev = v
	}
	if v := confidenceToVariance(1.0); math.Abs(v-0.1/1.01) > 1e-12 {
		t.Fatalf("unexpected variance at full confidence: %v", v)
	}
}
