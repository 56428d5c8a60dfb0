package wifi

import (
	"context"
	"errors"
	"testing"

	"github.com/floorsense/floorsense/pkg"
)

const iwLinkOutput = `Connected to aa:bb:cc:dd:ee:ff (on wlan0)
	SSID: officenet
	freq: 5180
	RX: 2314703 bytes (2904 packets)
	TX: 402167 bytes (1869 packets)
	signal: -52 dBm
	rx bitrate: 433.3 MBit/s VHT-MCS 9 80MHz short GI VHT-NSS 1
`

func TestParseIwLink(t *testing.T) {
	ap, ok := parseIwLink(iwLinkOutput)
	if !ok {
		t.Fatal("expected associated AP parsed")
	}
	if ap.BSSID != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("bssid = %q", ap.BSSID)
	}
	if ap.SSID != "officenet" {
		t.Errorf("ssid = %q", ap.SSID)
	}
	if ap.SignalDBm != -52 {
		t.Errorf("signal = %d", ap.SignalDBm)
	}
}

func TestParseIwLinkNotConnected(t *testing.T) {
	if _, ok := parseIwLink("Not connected.\n"); ok {
		t.Fatal("expected no AP when not associated")
	}
}

type stubScanner struct {
	aps []pkg.AccessPoint
	err error
}

func (s *stubScanner) Scan(ctx context.Context) ([]pkg.AccessPoint, error) {
	return s.aps, s.err
}

func TestEstimateKnownAP(t *testing.T) {
	refs := []ReferenceAP{{BSSID: "AA:BB:CC:DD:EE:FF", SSID: "officenet", Floor: 4}}
	scanner := &stubScanner{aps: []pkg.AccessPoint{{BSSID: "aa:bb:cc:dd:ee:ff", SignalDBm: -48}}}
	est := NewEstimator(scanner, refs, 3.5).Estimate(context.Background())
	if est.Failed() {
		t.Fatalf("unexpected error: %s", est.Err)
	}
	if est.Floor != 4 {
		t.Errorf("floor = %d, want 4", est.Floor)
	}
	if est.AltitudeM != 14.0 {
		t.Errorf("altitude = %v, want 14.0", est.AltitudeM)
	}
	if est.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6 for strong signal", est.Confidence)
	}
	if est.Method != pkg.MethodWiFi {
		t.Errorf("method = %q", est.Method)
	}
}

func TestEstimatePicksStrongestKnownAP(t *testing.T) {
	refs := []ReferenceAP{
		{BSSID: "aa:aa:aa:aa:aa:aa", Floor: 1},
		{BSSID: "bb:bb:bb:bb:bb:bb", Floor: 7},
	}
	scanner := &stubScanner{aps: []pkg.AccessPoint{
		{BSSID: "aa:aa:aa:aa:aa:aa", SignalDBm: -80},
		{BSSID: "bb:bb:bb:bb:bb:bb", SignalDBm: -55},
	}}
	est := NewEstimator(scanner, refs, 3.5).Estimate(context.Background())
	if est.Floor != 7 {
		t.Fatalf("expected strongest AP's floor 7, got %d", est.Floor)
	}
}

func TestEstimateUnknownEnvironment(t *testing.T) {
	refs := []ReferenceAP{{BSSID: "aa:aa:aa:aa:aa:aa", Floor: 1}}
	scanner := &stubScanner{aps: []pkg.AccessPoint{{BSSID: "ff:ff:ff:ff:ff:ff", SignalDBm: -40}}}
	est := NewEstimator(scanner, refs, 3.5).Estimate(context.Background())
	if !est.Failed() {
		t.Fatal("unknown APs must yield an error estimate")
	}
}

func TestEstimateScanFailure(t *testing.T) {
	est := NewEstimator(&stubScanner{err: errors.New("no wireless extensions")}, nil, 3.5).
		Estimate(context.Background())
	if !est.Failed() {
		t.Fatal("scan failure must yield an error estimate")
	}
	if est.Confidence != 0 {
		t.Fatalf("error estimate confidence must be 0, got %v", est.Confidence)
	}
}

func TestSignalConfidenceBands(t *testing.T) {
	cases := []struct {
		dbm  int
		want float64
	}{
		{-40, 0.6}, {-50, 0.6}, {-60, 0.5}, {-70, 0.4}, {-85, 0.3},
	}
	for _, c := range cases {
		if got := signalConfidence(c.dbm); got != c.want {
			t.Errorf("signalConfidence(%d) = %v, want %v", c.dbm, got, c.want)
		}
	}
}
