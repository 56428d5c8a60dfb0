// Package mqtt publishes detection results and calibration changes to an
// MQTT broker for home-automation and dashboard consumers.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/calib"
	"github.com/floorsense/floorsense/pkg/logx"
)

// Config holds broker settings. Publishing is disabled unless Enabled is
// set and a broker URL is present.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"` // e.g. tcp://127.0.0.1:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Publisher wraps a paho client with the topic layout used by the daemon.
type Publisher struct {
	cfg    Config
	client paho.Client
	log    *logx.Logger
}

// NewPublisher builds a publisher; Connect must be called before use.
func NewPublisher(cfg Config, log *logx.Logger) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "floorsensed"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "floorsense"
	}
	return &Publisher{cfg: cfg, log: log}
}

// Connect establishes the broker session with automatic reconnect.
func (p *Publisher) Connect() error {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(10 * time.Second)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		if p.log != nil {
			p.log.Info("mqtt connected", "broker", p.cfg.BrokerURL)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if p.log != nil {
			p.log.Warn("mqtt connection lost", "error", err.Error())
		}
	})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", p.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Disconnect flushes and closes the broker session.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// PublishEstimate publishes a detection result under <prefix>/estimate.
func (p *Publisher) PublishEstimate(est pkg.FloorEstimate) error {
	return p.publishJSON(p.cfg.TopicPrefix+"/estimate", est)
}

// PublishCalibration publishes the calibration state under
// <prefix>/calibration.
func (p *Publisher) PublishCalibration(status calib.Status) error {
	return p.publishJSON(p.cfg.TopicPrefix+"/calibration", status)
}

func (p *Publisher) publishJSON(topic string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}
