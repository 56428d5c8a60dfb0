package baro

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/floorsense/floorsense/pkg"
)

// DefaultSysfsRoot is where the kernel exposes industrial-IO devices.
const DefaultSysfsRoot = "/sys/bus/iio/devices"

// IIO reads atmospheric pressure from a Linux industrial-IO pressure
// channel (in_pressure_input, reported in kPa).
type IIO struct {
	root string
}

// NewIIO creates an IIO barometer source. An empty root uses the standard
// sysfs location; tests point it at a fixture directory.
func NewIIO(root string) *IIO {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &IIO{root: root}
}

// Available reports whether any IIO device exposes a pressure channel.
func (d *IIO) Available() bool {
	_, err := d.pressureFile()
	return err == nil
}

// Read returns the current pressure converted to hPa.
func (d *IIO) Read(ctx context.Context) (*pkg.PressureReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.pressureFile()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pressure channel: %w", err)
	}
	kpa, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return nil, fmt.Errorf("parse pressure value %q: %w", strings.TrimSpace(string(raw)), err)
	}
	if kpa <= 0 {
		return nil, fmt.Errorf("implausible pressure value %.3f kPa", kpa)
	}
	return &pkg.PressureReading{
		HPa:       kpa * 10, // kPa -> hPa
		Source:    pkg.SourceHardwareBarometer,
		Timestamp: time.Now(),
	}, nil
}

// pressureFile locates the first device directory carrying a pressure
// channel. The scan is cheap enough to repeat per read; devices can come
// and go across suspend cycles.
func (d *IIO) pressureFile() (string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return "", fmt.Errorf("scan iio devices: %w", err)
	}
	for _, e := range entries {
		candidate := filepath.Join(d.root, e.Name(), "in_pressure_input")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no iio pressure channel under %s", d.root)
}
