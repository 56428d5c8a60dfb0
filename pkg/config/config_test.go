package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "floorsensed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
poll_interval_s: 30
floor_height_m: 3.0
barometer:
  enabled: true
  sysfs_dir: /sys/bus/iio/devices
gps:
  enabled: true
  timeout_s: 15
weather:
  openweathermap_key: owm-key
  fallback_default: true
wifi:
  enabled: true
  interface: wlan1
  reference_aps:
    - bssid: "aa:bb:cc:dd:ee:ff"
      ssid: office
      floor: 4
confidence_bands:
  in_band: 0.9
  marginal: 0.6
  out_of_range: 0.3
telemetry:
  max_samples: 200
  db_path: /var/lib/floorsensed/telem.db
mqtt:
  enabled: true
  broker_url: tcp://127.0.0.1:1883
  topic_prefix: home/floors
metrics:
  enabled: true
  listen_addr: ":9321"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.GPSTimeout() != 15*time.Second {
		t.Errorf("gps timeout = %v", cfg.GPSTimeout())
	}
	if cfg.Bands.InBand != 0.9 || cfg.Bands.OutOfRange != 0.3 {
		t.Errorf("bands = %+v", cfg.Bands)
	}
	if len(cfg.WiFi.ReferenceAPs) != 1 || cfg.WiFi.ReferenceAPs[0].Floor != 4 {
		t.Errorf("reference aps = %+v", cfg.WiFi.ReferenceAPs)
	}
	if cfg.MQTT.TopicPrefix != "home/floors" {
		t.Errorf("mqtt prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Telemetry.MaxSamples != 200 {
		t.Errorf("telemetry max samples = %d", cfg.Telemetry.MaxSamples)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "barometer:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default log level = %q", cfg.LogLevel)
	}
	if cfg.PollIntervalS != 5 {
		t.Errorf("default poll interval = %d", cfg.PollIntervalS)
	}
	if cfg.FloorHeightM != 3.5 {
		t.Errorf("default floor height = %v", cfg.FloorHeightM)
	}
	if cfg.Bands.InBand != 0.95 {
		t.Errorf("default bands = %+v", cfg.Bands)
	}
}

func TestWiFiInterfaceDefaultsWhenEnabled(t *testing.T) {
	path := writeConfig(t, "wifi:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WiFi.Interface != "wlan0" {
		t.Errorf("wifi interface = %q, want wlan0", cfg.WiFi.Interface)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "floor height too small",
			body: "floor_height_m: 0.5\n",
			want: "floor_height_m",
		},
		{
			name: "unordered bands",
			body: "confidence_bands:\n  in_band: 0.4\n  marginal: 0.7\n  out_of_range: 0.9\n",
			want: "ordered",
		},
		{
			name: "mqtt without broker",
			body: "mqtt:\n  enabled: true\n",
			want: "broker_url",
		},
		{
			name: "reference ap without bssid",
			body: "wifi:\n  enabled: true\n  reference_aps:\n    - ssid: office\n      floor: 2\n",
			want: "bssid",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Barometer.Enabled || !cfg.GPS.Enabled {
		t.Errorf("default sources = %+v %+v", cfg.Barometer, cfg.GPS)
	}
	if cfg.MQTT.Enabled || cfg.Metrics.Enabled {
		t.Error("network services must default off")
	}
}
