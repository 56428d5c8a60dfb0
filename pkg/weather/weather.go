// Package weather fetches station-level atmospheric pressure from public
// weather APIs. Providers are tried in a fixed priority order; the chain
// can fall back to the standard-pressure default so detection always has a
// reading to work with.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/logx"
)

// Provider fetches pressure for a coordinate from one upstream API.
type Provider interface {
	Name() string
	Pressure(ctx context.Context, lat, lon float64) (*pkg.PressureReading, error)
}

// Chain tries providers in order and returns the first success. With
// FallbackDefault set, a fully failed chain yields the ISA standard
// pressure tagged as "default" instead of an error.
type Chain struct {
	providers       []Provider
	fallbackDefault bool
	log             *logx.Logger
}

// NewChain builds a provider chain in priority order.
func NewChain(log *logx.Logger, fallbackDefault bool, providers ...Provider) *Chain {
	return &Chain{providers: providers, fallbackDefault: fallbackDefault, log: log}
}

// Pressure implements pkg.WeatherSource.
func (c *Chain) Pressure(ctx context.Context, lat, lon float64) (*pkg.PressureReading, error) {
	var lastErr error
	for _, p := range c.providers {
		reading, err := p.Pressure(ctx, lat, lon)
		if err == nil {
			return reading, nil
		}
		lastErr = err
		if c.log != nil {
			c.log.Warn("weather provider failed", "provider", p.Name(), "error", err.Error())
		}
	}
	if c.fallbackDefault {
		return &pkg.PressureReading{
			HPa:       pkg.StandardSeaLevelHPa,
			Source:    pkg.SourceDefault,
			Timestamp: time.Now(),
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no weather providers configured")
	}
	return nil, fmt.Errorf("all weather providers failed: %w", lastErr)
}

func fetchJSON(ctx context.Context, client *http.Client, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// OpenWeatherMap is the primary, keyed provider.
type OpenWeatherMap struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type owmResponse struct {
	Main struct {
		Pressure float64 `json:"pressure"` // hPa
	} `json:"main"`
}

// Name implements Provider.
func (p *OpenWeatherMap) Name() string { return pkg.SourceOpenWeatherMap }

// Pressure implements Provider.
func (p *OpenWeatherMap) Pressure(ctx context.Context, lat, lon float64) (*pkg.PressureReading, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("no api key configured")
	}
	base := p.BaseURL
	if base == "" {
		base = "https://api.openweathermap.org"
	}
	endpoint := fmt.Sprintf("%s/data/2.5/weather?lat=%.6f&lon=%.6f&appid=%s",
		base, lat, lon, url.QueryEscape(p.APIKey))
	var body owmResponse
	if err := fetchJSON(ctx, httpClient(p.Client), endpoint, &body); err != nil {
		return nil, err
	}
	if body.Main.Pressure <= 0 {
		return nil, fmt.Errorf("response carried no pressure")
	}
	return &pkg.PressureReading{
		HPa:       body.Main.Pressure,
		Source:    pkg.SourceOpenWeatherMap,
		Timestamp: time.Now(),
	}, nil
}

// WeatherAPI is the secondary, keyed provider.
type WeatherAPI struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

type weatherAPIResponse struct {
	Current struct {
		PressureMb float64 `json:"pressure_mb"` // millibar == hPa
	} `json:"current"`
}

// Name implements Provider.
func (p *WeatherAPI) Name() string { return pkg.SourceWeatherAPI }

// Pressure implements Provider.
func (p *WeatherAPI) Pressure(ctx context.Context, lat, lon float64) (*pkg.PressureReading, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("no api key configured")
	}
	base := p.BaseURL
	if base == "" {
		base = "https://api.weatherapi.com"
	}
	endpoint := fmt.Sprintf("%s/v1/current.json?key=%s&q=%.6f,%.6f",
		base, url.QueryEscape(p.APIKey), lat, lon)
	var body weatherAPIResponse
	if err := fetchJSON(ctx, httpClient(p.Client), endpoint, &body); err != nil {
		return nil, err
	}
	if body.Current.PressureMb <= 0 {
		return nil, fmt.Errorf("response carried no pressure")
	}
	return &pkg.PressureReading{
		HPa:       body.Current.PressureMb,
		Source:    pkg.SourceWeatherAPI,
		Timestamp: time.Now(),
	}, nil
}

// OpenMeteo is the free, unkeyed fallback provider.
type OpenMeteo struct {
	BaseURL string
	Client  *http.Client
}

type openMeteoResponse struct {
	Current struct {
		SurfacePressure float64 `json:"surface_pressure"` // hPa
	} `json:"current"`
}

// Name implements Provider.
func (p *OpenMeteo) Name() string { return pkg.SourceOpenMeteo }

// Pressure implements Provider.
func (p *OpenMeteo) Pressure(ctx context.Context, lat, lon float64) (*pkg.PressureReading, error) {
	base := p.BaseURL
	if base == "" {
		base = "https://api.open-meteo.com"
	}
	endpoint := fmt.Sprintf("%s/v1/forecast?latitude=%.6f&longitude=%.6f&current=surface_pressure",
		base, lat, lon)
	var body openMeteoResponse
	if err := fetchJSON(ctx, httpClient(p.Client), endpoint, &body); err != nil {
		return nil, err
	}
	if body.Current.SurfacePressure <= 0 {
		return nil, fmt.Errorf("response carried no pressure")
	}
	return &pkg.PressureReading{
		HPa:       body.Current.SurfacePressure,
		Source:    pkg.SourceOpenMeteo,
		Timestamp: time.Now(),
	}, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 10 * time.Second}
}
