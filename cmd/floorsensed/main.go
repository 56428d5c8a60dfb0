package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/baro"
	"github.com/floorsense/floorsense/pkg/calib"
	"github.com/floorsense/floorsense/pkg/config"
	"github.com/floorsense/floorsense/pkg/engine"
	"github.com/floorsense/floorsense/pkg/gps"
	"github.com/floorsense/floorsense/pkg/logx"
	"github.com/floorsense/floorsense/pkg/metrics"
	"github.com/floorsense/floorsense/pkg/mqtt"
	"github.com/floorsense/floorsense/pkg/telem"
	"github.com/floorsense/floorsense/pkg/weather"
	"github.com/floorsense/floorsense/pkg/wifi"
)

const (
	version = "1.0.0-dev"
	appName = "floorsensed"
)

func main() {
	var (
		configFile  = flag.String("config", "/etc/floorsensed/config.yaml", "Config file path")
		logLevel    = flag.String("log-level", "", "Log level override (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
		oneShot     = flag.Bool("once", false, "Run a single detection pass and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logx.New(cfg.LogLevel)
	logger.Info("starting floorsense daemon",
		"version", version,
		"config", *configFile,
		"log_level", cfg.LogLevel,
	)

	store, err := telem.NewStore(cfg.Telemetry)
	if err != nil {
		logger.Error("failed to open telemetry store", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	eng, reg := buildEngine(cfg, logger, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *oneShot {
		est := eng.Detect(ctx)
		printEstimate(est)
		if est.Failed() {
			os.Exit(1)
		}
		return
	}

	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		srv = metrics.NewServer(cfg.Metrics, logger, reg, statusFunc(eng, store))
		srv.Start()
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewPublisher(cfg.MQTT, logger)
		if err := publisher.Connect(); err != nil {
			logger.Error("mqtt connect failed", "error", err.Error())
			os.Exit(1)
		}
		defer publisher.Disconnect()
	}

	estimates, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start detection session", "error", err.Error())
		os.Exit(1)
	}
	defer eng.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			shutdown(srv, logger)
			return
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case est := <-estimates:
			if publisher != nil {
				if err := publisher.PublishEstimate(est); err != nil {
					logger.Warn("mqtt publish failed", "error", err.Error())
				}
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildEngine wires the configured sources into an engine. The collector
// is registered even when the metrics server is off so a later scrape
// setup needs no daemon change.
func buildEngine(cfg *config.Config, logger *logx.Logger, store *telem.Store) (*engine.Engine, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var barometer pkg.BarometerSource
	if cfg.Barometer.Enabled {
		barometer = baro.NewIIO(cfg.Barometer.SysfsDir)
	}

	var location pkg.LocationSource
	if cfg.GPS.Enabled {
		opts := []gps.Option{gps.WithTimeout(cfg.GPSTimeout())}
		if cfg.GPS.Binary != "" {
			opts = append(opts, gps.WithBinary(cfg.GPS.Binary))
		}
		location = gps.New(opts...)
	}

	providers := []weather.Provider{}
	if cfg.Weather.OpenWeatherMapKey != "" {
		providers = append(providers, &weather.OpenWeatherMap{APIKey: cfg.Weather.OpenWeatherMapKey})
	}
	if cfg.Weather.WeatherAPIKey != "" {
		providers = append(providers, &weather.WeatherAPI{APIKey: cfg.Weather.WeatherAPIKey})
	}
	providers = append(providers, &weather.OpenMeteo{})
	chain := weather.NewChain(logger, cfg.Weather.FallbackDefault, providers...)

	calibrator := calib.New(location, chain, logger)

	opts := []engine.Option{
		engine.WithStore(store),
		engine.WithRecorder(collector),
	}
	if cfg.WiFi.Enabled {
		scanner := wifi.NewScanner(cfg.WiFi.Interface)
		opts = append(opts, engine.WithWiFi(
			wifi.NewEstimator(scanner, cfg.WiFi.ReferenceAPs, cfg.FloorHeightM)))
	}

	eng := engine.New(engine.Config{
		FloorHeightM: cfg.FloorHeightM,
		PollInterval: cfg.PollInterval(),
		Bands:        cfg.Bands,
	}, logger, barometer, location, chain, calibrator, opts...)

	return eng, reg
}

func statusFunc(eng *engine.Engine, store *telem.Store) metrics.StatusFunc {
	return func() interface{} {
		status := map[string]interface{}{
			"running":     eng.Running(),
			"calibration": eng.Calibration(),
			"motion":      eng.Trend(),
			"version":     version,
		}
		if samples := store.Samples(1); len(samples) == 1 {
			status["last_estimate"] = samples[0].Estimate
		}
		status["events"] = store.Events(10)
		return status
	}
}

func printEstimate(est pkg.FloorEstimate) {
	if est.Failed() {
		fmt.Printf("detection failed: %s\n", est.Err)
		return
	}
	fmt.Printf("floor %d (%.1f m, confidence %.2f, %s, %s)\n",
		est.Floor, est.AltitudeM, est.Confidence, est.Method, est.Motion)
}

func shutdown(srv *metrics.Server, logger *logx.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err.Error())
	}
}
