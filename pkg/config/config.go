// Package config loads and validates the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/engine"
	"github.com/floorsense/floorsense/pkg/metrics"
	"github.com/floorsense/floorsense/pkg/mqtt"
	"github.com/floorsense/floorsense/pkg/telem"
	"github.com/floorsense/floorsense/pkg/wifi"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel      string  `yaml:"log_level"`
	PollIntervalS int     `yaml:"poll_interval_s"`
	FloorHeightM  float64 `yaml:"floor_height_m"`

	Barometer BarometerConfig        `yaml:"barometer"`
	GPS       GPSConfig              `yaml:"gps"`
	Weather   WeatherConfig          `yaml:"weather"`
	WiFi      WiFiConfig             `yaml:"wifi"`
	Bands     engine.ConfidenceBands `yaml:"confidence_bands"`

	Telemetry telem.Config   `yaml:"telemetry"`
	MQTT      mqtt.Config    `yaml:"mqtt"`
	Metrics   metrics.Config `yaml:"metrics"`
}

// BarometerConfig selects the hardware pressure sensor.
type BarometerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SysfsDir string `yaml:"sysfs_dir"` // IIO device root, default /sys/bus/iio/devices
}

// GPSConfig selects the gpsd bridge.
type GPSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Binary   string `yaml:"binary"` // gpspipe path override
	TimeoutS int    `yaml:"timeout_s"`
}

// WeatherConfig holds the provider chain settings.
type WeatherConfig struct {
	OpenWeatherMapKey string `yaml:"openweathermap_key"`
	WeatherAPIKey     string `yaml:"weatherapi_key"`
	FallbackDefault   bool   `yaml:"fallback_default"` // emit 1013.25 when all providers fail
}

// WiFiConfig holds the interface to scan and the known-AP floor table.
type WiFiConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Interface    string            `yaml:"interface"`
	ReferenceAPs []wifi.ReferenceAP `yaml:"reference_aps"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given:
// barometer and GPS enabled, everything network-facing off.
func Default() *Config {
	cfg := &Config{
		Barometer: BarometerConfig{Enabled: true},
		GPS:       GPSConfig{Enabled: true},
		Weather:   WeatherConfig{FallbackDefault: true},
	}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PollIntervalS <= 0 {
		c.PollIntervalS = 5
	}
	if c.FloorHeightM <= 0 {
		c.FloorHeightM = pkg.DefaultFloorHeightM
	}
	if c.Bands == (engine.ConfidenceBands{}) {
		c.Bands = engine.DefaultConfidenceBands()
	}
	if c.GPS.TimeoutS <= 0 {
		c.GPS.TimeoutS = 10
	}
	if c.WiFi.Enabled && c.WiFi.Interface == "" {
		c.WiFi.Interface = "wlan0"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.PollIntervalS > 3600 {
		return fmt.Errorf("poll_interval_s %d exceeds 3600", c.PollIntervalS)
	}
	if c.FloorHeightM < 2.0 || c.FloorHeightM > 10.0 {
		return fmt.Errorf("floor_height_m %.2f outside plausible range [2, 10]", c.FloorHeightM)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"confidence_bands.in_band", c.Bands.InBand},
		{"confidence_bands.marginal", c.Bands.Marginal},
		{"confidence_bands.out_of_range", c.Bands.OutOfRange},
	} {
		if v.value <= 0 || v.value > 1 {
			return fmt.Errorf("%s %.2f outside (0, 1]", v.name, v.value)
		}
	}
	if c.Bands.InBand < c.Bands.Marginal || c.Bands.Marginal < c.Bands.OutOfRange {
		return fmt.Errorf("confidence bands must be ordered in_band >= marginal >= out_of_range")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.enabled requires mqtt.broker_url")
	}
	for i, ap := range c.WiFi.ReferenceAPs {
		if ap.BSSID == "" {
			return fmt.Errorf("wifi.reference_aps[%d] missing bssid", i)
		}
	}
	return nil
}

// PollInterval returns the detection cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS) * time.Second
}

// GPSTimeout returns the gpspipe sampling timeout as a duration.
func (c *Config) GPSTimeout() time.Duration {
	return time.Duration(c.GPS.TimeoutS) * time.Second
}
