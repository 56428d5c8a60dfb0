// Package metrics exports detection state to Prometheus and serves the
// daemon's health and status endpoints.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/calib"
	"github.com/floorsense/floorsense/pkg/logx"
)

// Config holds the HTTP exporter settings.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Collector translates detection outcomes into Prometheus series. It is
// safe for concurrent use and all record methods are non-blocking.
type Collector struct {
	floor          prometheus.Gauge
	altitude       prometheus.Gauge
	confidence     prometheus.Gauge
	seaLevel       prometheus.Gauge
	calibrationAge prometheus.Gauge
	detections     *prometheus.CounterVec
	sourceErrors   *prometheus.CounterVec
}

// NewCollector registers the floorsense series on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		floor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsense_floor",
			Help: "Most recent estimated floor number.",
		}),
		altitude: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsense_altitude_meters",
			Help: "Most recent estimated altitude above sea level.",
		}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsense_confidence",
			Help: "Confidence of the most recent estimate (0-1).",
		}),
		seaLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsense_sea_level_hpa",
			Help: "Sea-level pressure reference in use.",
		}),
		calibrationAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floorsense_calibration_age_seconds",
			Help: "Age of the current calibration; -1 when uncalibrated.",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorsense_detections_total",
			Help: "Detection passes by method and outcome.",
		}, []string{"method", "outcome"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorsense_source_errors_total",
			Help: "Source read failures by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(c.floor, c.altitude, c.confidence, c.seaLevel,
		c.calibrationAge, c.detections, c.sourceErrors)
	return c
}

// RecordEstimate updates the gauges from a detection outcome.
func (c *Collector) RecordEstimate(est pkg.FloorEstimate) {
	if est.Failed() {
		c.detections.WithLabelValues(est.Method, "error").Inc()
		return
	}
	c.detections.WithLabelValues(est.Method, "ok").Inc()
	c.floor.Set(float64(est.Floor))
	c.altitude.Set(est.AltitudeM)
	c.confidence.Set(est.Confidence)
}

// RecordSourceError counts a failed source read.
func (c *Collector) RecordSourceError(source string) {
	c.sourceErrors.WithLabelValues(source).Inc()
}

// RecordCalibration updates the calibration gauges.
func (c *Collector) RecordCalibration(status calib.Status) {
	c.seaLevel.Set(status.SeaLevelHPa)
	if status.CalibratedAt == nil {
		c.calibrationAge.Set(-1)
		return
	}
	c.calibrationAge.Set(time.Since(*status.CalibratedAt).Seconds())
}

// StatusFunc supplies the payload for the /status endpoint.
type StatusFunc func() interface{}

// Server exposes /metrics, /healthz and /status.
type Server struct {
	cfg     Config
	log     *logx.Logger
	srv     *http.Server
	started time.Time
}

// NewServer builds the HTTP server over a registry and status supplier.
func NewServer(cfg Config, log *logx.Logger, gatherer prometheus.Gatherer, status StatusFunc) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9090"
	}
	s := &Server{cfg: cfg, log: log, started: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status())
	})
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Error("metrics server failed", "addr", s.cfg.ListenAddr, "error", err.Error())
			}
		}
	}()
	if s.log != nil {
		s.log.Info("metrics server listening", "addr", s.cfg.ListenAddr)
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
