// Package wifi estimates the floor from WiFi signal strength against a
// table of reference access points with known floors. It is the weakest
// source in the fusion set and only contributes when the device can see an
// access point it knows about.
package wifi

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/floorsense/floorsense/pkg"
)

// Scanner reads the associated access point via `iw dev <iface> link`,
// falling back to /proc/net/wireless for a bare signal level when iw is
// not usable.
type Scanner struct {
	iface    string
	iwPath   string
	procPath string
}

// NewScanner creates a scanner for the given wireless interface.
func NewScanner(iface string) *Scanner {
	return &Scanner{
		iface:    iface,
		iwPath:   "iw",
		procPath: "/proc/net/wireless",
	}
}

// Scan implements pkg.WiFiSource.
func (s *Scanner) Scan(ctx context.Context) ([]pkg.AccessPoint, error) {
	if out, err := exec.CommandContext(ctx, s.iwPath, "dev", s.iface, "link").Output(); err == nil {
		if ap, ok := parseIwLink(string(out)); ok {
			return []pkg.AccessPoint{ap}, nil
		}
	}
	// Fallback: /proc/net/wireless carries a signal level but no BSSID.
	ap, err := s.parseProcWireless()
	if err != nil {
		return nil, fmt.Errorf("wifi scan failed: %w", err)
	}
	return []pkg.AccessPoint{ap}, nil
}

// parseIwLink extracts the associated BSSID, SSID and signal level from
// `iw dev <iface> link` output.
func parseIwLink(out string) (pkg.AccessPoint, bool) {
	var ap pkg.AccessPoint
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Connected to "):
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				ap.BSSID = strings.ToLower(fields[2])
			}
		case strings.HasPrefix(line, "SSID:"):
			ap.SSID = strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		case strings.HasPrefix(line, "signal:"):
			val := strings.TrimSpace(strings.TrimPrefix(line, "signal:"))
			val = strings.TrimSuffix(val, " dBm")
			if dbm, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				ap.SignalDBm = dbm
			}
		}
	}
	return ap, ap.BSSID != ""
}

func (s *Scanner) parseProcWireless() (pkg.AccessPoint, error) {
	raw, err := os.ReadFile(s.procPath)
	if err != nil {
		return pkg.AccessPoint{}, err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasPrefix(fields[0], s.iface) {
			continue
		}
		// Column 3 is the signal level in dBm, printed with a trailing dot.
		level := strings.TrimSuffix(fields[3], ".")
		dbm, err := strconv.Atoi(level)
		if err != nil {
			continue
		}
		return pkg.AccessPoint{SignalDBm: dbm}, nil
	}
	return pkg.AccessPoint{}, fmt.Errorf("interface %s not present in %s", s.iface, s.procPath)
}

// ReferenceAP is a known access point anchored to a floor.
type ReferenceAP struct {
	BSSID string `yaml:"bssid" json:"bssid"`
	SSID  string `yaml:"ssid" json:"ssid"`
	Floor int    `yaml:"floor" json:"floor"`
}

// Estimator turns scan results into floor estimates using the reference
// table.
type Estimator struct {
	scanner      pkg.WiFiSource
	refs         map[string]ReferenceAP
	floorHeightM float64
}

// NewEstimator builds an estimator over the given scanner and reference
// table.
func NewEstimator(scanner pkg.WiFiSource, refs []ReferenceAP, floorHeightM float64) *Estimator {
	if floorHeightM <= 0 {
		floorHeightM = pkg.DefaultFloorHeightM
	}
	byBSSID := make(map[string]ReferenceAP, len(refs))
	for _, r := range refs {
		byBSSID[strings.ToLower(r.BSSID)] = r
	}
	return &Estimator{scanner: scanner, refs: byBSSID, floorHeightM: floorHeightM}
}

// Estimate matches the strongest known access point and derives a floor
// estimate from it. Signal strength sets the confidence; WiFi never beats
// a working barometer or GPS.
func (e *Estimator) Estimate(ctx context.Context) pkg.FloorEstimate {
	aps, err := e.scanner.Scan(ctx)
	if err != nil {
		return pkg.ErrorEstimate(pkg.MethodWiFi, fmt.Sprintf("wifi scan failed: %v", err))
	}

	var best *pkg.AccessPoint
	var bestRef ReferenceAP
	for i := range aps {
		ref, ok := e.refs[strings.ToLower(aps[i].BSSID)]
		if !ok {
			continue
		}
		if best == nil || aps[i].SignalDBm > best.SignalDBm {
			best = &aps[i]
			bestRef = ref
		}
	}
	if best == nil {
		return pkg.ErrorEstimate(pkg.MethodWiFi, "no known access point visible")
	}

	return pkg.NewFloorEstimate(
		bestRef.Floor,
		float64(bestRef.Floor)*e.floorHeightM,
		signalConfidence(best.SignalDBm),
		pkg.MethodWiFi,
	)
}

// signalConfidence maps RSSI to a confidence band. A strong signal means
// the device is probably near the reference AP's floor.
func signalConfidence(dbm int) float64 {
	switch {
	case dbm >= -50:
		return 0.6
	case dbm >= -65:
		return 0.5
	case dbm >= -75:
		return 0.4
	default:
		return 0.3
	}
}
