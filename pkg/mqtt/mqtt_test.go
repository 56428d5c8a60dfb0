package mqtt

import (
	"testing"

	"github.com/floorsense/floorsense/pkg"
)

func TestNewPublisherDefaults(t *testing.T) {
	p := NewPublisher(Config{BrokerURL: "tcp://127.0.0.1:1883"}, nil)
	if p.cfg.ClientID != "floorsensed" {
		t.Errorf("client id = %q", p.cfg.ClientID)
	}
	if p.cfg.TopicPrefix != "floorsense" {
		t.Errorf("topic prefix = %q", p.cfg.TopicPrefix)
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	p := NewPublisher(Config{BrokerURL: "tcp://127.0.0.1:1883"}, nil)
	est := pkg.NewFloorEstimate(3, 10.5, 0.8, pkg.MethodBarometer)
	if err := p.PublishEstimate(est); err == nil {
		t.Fatal("expected error when not connected")
	}
}
