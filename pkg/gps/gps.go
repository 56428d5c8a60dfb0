// Package gps supplies position fixes from a local gpsd through the
// gpspipe utility.
package gps

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/floorsense/floorsense/pkg"
)

// Gpsd reads TPV reports from gpsd by running gpspipe in watch mode.
type Gpsd struct {
	binary  string
	samples int
	timeout time.Duration
}

// Option configures a Gpsd source.
type Option func(*Gpsd)

// WithBinary overrides the gpspipe binary path.
func WithBinary(path string) Option {
	return func(g *Gpsd) { g.binary = path }
}

// WithTimeout bounds one fix acquisition.
func WithTimeout(d time.Duration) Option {
	return func(g *Gpsd) { g.timeout = d }
}

// New creates a gpsd-backed location source.
func New(opts ...Option) *Gpsd {
	g := &Gpsd{
		binary:  "gpspipe",
		samples: 10,
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Available reports whether the gpspipe binary can be found.
func (g *Gpsd) Available() bool {
	_, err := exec.LookPath(g.binary)
	return err == nil
}

// Current acquires one position fix. A 2D fix yields a position without
// altitude; a 3D fix carries altitude and, when reported, vertical
// accuracy.
func (g *Gpsd) Current(ctx context.Context) (*pkg.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binary, "-w", "-n", fmt.Sprint(g.samples))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("gpspipe: %w", err)
	}
	pos, err := parseTPVStream(out)
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// tpvReport is the subset of a gpsd TPV record this source consumes.
type tpvReport struct {
	Class  string  `json:"class"`
	Mode   int     `json:"mode"` // 0/1 none, 2 = 2D, 3 = 3D
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	AltMSL float64 `json:"altMSL"`
	Alt    float64 `json:"alt"`
	Epv    float64 `json:"epv"` // estimated vertical error, meters
}

// parseTPVStream scans gpspipe watch output for the first usable TPV
// record.
func parseTPVStream(raw []byte) (*pkg.Position, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(line, `"TPV"`) {
			continue
		}
		var tpv tpvReport
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			continue
		}
		if tpv.Class != "TPV" || tpv.Mode < 2 {
			continue
		}
		if tpv.Lat == 0 && tpv.Lon == 0 {
			continue
		}
		pos := &pkg.Position{
			Latitude:  tpv.Lat,
			Longitude: tpv.Lon,
			AccuracyM: tpv.Epv,
			Source:    "gpsd",
			Timestamp: time.Now(),
		}
		if tpv.Mode >= 3 {
			pos.HasAltitude = true
			pos.AltitudeM = tpv.AltMSL
			if pos.AltitudeM == 0 && tpv.Alt != 0 {
				// Older gpsd versions report only alt.
				pos.AltitudeM = tpv.Alt
			}
		}
		return pos, nil
	}
	return nil, fmt.Errorf("no usable TPV fix in gpspipe output")
}
