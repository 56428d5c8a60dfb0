package calib

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/baro"
)

type stubLocation struct {
	pos *pkg.Position
	err error
}

func (s *stubLocation) Available() bool { return s.err == nil }
func (s *stubLocation) Current(ctx context.Context) (*pkg.Position, error) {
	return s.pos, s.err
}

type stubWeather struct {
	reading *pkg.PressureReading
	err     error
}

func (s *stubWeather) Pressure(ctx context.Context, lat, lon float64) (*pkg.PressureReading, error) {
	return s.reading, s.err
}

func TestManualRoundTrip(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.Manual(120, 998.0)
	if !res.OK {
		t.Fatalf("manual calibration failed: %s", res.Message)
	}
	if res.SeaLevelHPa == nil {
		t.Fatal("expected new reference pressure")
	}
	alt := baro.PressureToAltitude(998.0, c.SeaLevelHPa())
	if math.Abs(alt-120) > 1e-6 {
		t.Fatalf("round trip altitude = %v, want 120", alt)
	}
}

func TestManualRejectsNonPositivePressure(t *testing.T) {
	c := New(nil, nil, nil)
	before := c.SeaLevelHPa()
	res := c.Manual(100, 0)
	if res.OK {
		t.Fatal("expected failure for zero pressure")
	}
	if c.SeaLevelHPa() != before {
		t.Fatal("failed calibration must not modify state")
	}
}

func TestNeedsCalibrationStaleness(t *testing.T) {
	c := New(nil, nil, nil)
	if !c.NeedsCalibration() {
		t.Fatal("fresh session must need calibration")
	}
	c.Manual(0, 1013.25)
	if c.NeedsCalibration() {
		t.Fatal("just calibrated, should not need calibration")
	}
	// Age the calibration past the staleness window.
	c.now = func() time.Time { return time.Now().Add(StaleAfter + time.Minute) }
	if !c.NeedsCalibration() {
		t.Fatal("stale calibration not detected")
	}
}

func TestReset(t *testing.T) {
	c := New(nil, nil, nil)
	c.Manual(500, 950)
	c.Reset()
	if c.SeaLevelHPa() != pkg.StandardSeaLevelHPa {
		t.Fatalf("expected standard pressure after reset, got %v", c.SeaLevelHPa())
	}
	if !c.NeedsCalibration() {
		t.Fatal("reset must clear the calibration timestamp")
	}
}

func TestAutoUsesGPSAltitude(t *testing.T) {
	loc := &stubLocation{pos: &pkg.Position{
		Latitude: 59.3, Longitude: 18.1,
		AltitudeM: 120, HasAltitude: true,
	}}
	wx := &stubWeather{reading: &pkg.PressureReading{HPa: 998.0, Source: pkg.SourceOpenMeteo}}
	c := New(loc, wx, nil)
	res := c.Auto(context.Background())
	if !res.OK {
		t.Fatalf("auto calibration failed: %s", res.Message)
	}
	want := baro.SeaLevelPressure(120, 998.0, baro.DefaultTempC)
	if math.Abs(c.SeaLevelHPa()-want) > 1e-9 {
		t.Fatalf("sea level = %v, want %v", c.SeaLevelHPa(), want)
	}
}

func TestAutoFallsBackToStationPressure(t *testing.T) {
	// A GPS fix below -100 m is implausible; the station pressure is used
	// as-is.
	loc := &stubLocation{pos: &pkg.Position{
		Latitude: 59.3, Longitude: 18.1,
		AltitudeM: -250, HasAltitude: true,
	}}
	wx := &stubWeather{reading: &pkg.PressureReading{HPa: 1004.5, Source: pkg.SourceOpenWeatherMap}}
	c := New(loc, wx, nil)
	res := c.Auto(context.Background())
	if !res.OK {
		t.Fatalf("auto calibration failed: %s", res.Message)
	}
	if c.SeaLevelHPa() != 1004.5 {
		t.Fatalf("expected raw station pressure, got %v", c.SeaLevelHPa())
	}
}

func TestAutoFailsWithoutLocation(t *testing.T) {
	c := New(&stubLocation{err: errors.New("no fix")}, &stubWeather{}, nil)
	before := c.SeaLevelHPa()
	res := c.Auto(context.Background())
	if res.OK {
		t.Fatal("expected failure without location")
	}
	if c.SeaLevelHPa() != before {
		t.Fatal("failed calibration must not modify state")
	}
}

func TestAutoFailsWithoutWeather(t *testing.T) {
	loc := &stubLocation{pos: &pkg.Position{Latitude: 1, Longitude: 2}}
	c := New(loc, &stubWeather{err: errors.New("all providers down")}, nil)
	res := c.Auto(context.Background())
	if res.OK {
		t.Fatal("expected failure without weather pressure")
	}
}

func TestAutoIgnoresDefaultFallbackReading(t *testing.T) {
	loc := &stubLocation{pos: &pkg.Position{Latitude: 1, Longitude: 2}}
	wx := &stubWeather{reading: &pkg.PressureReading{HPa: pkg.StandardSeaLevelHPa, Source: pkg.SourceDefault}}
	c := New(loc, wx, nil)
	res := c.Auto(context.Background())
	if res.OK {
		t.Fatal("the hardcoded default reading must not calibrate the session")
	}
}
