package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/henryv2be-prog/access-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "access-core-test",
		},
		QoS: 1,
	}
}

func TestEventTopic(t *testing.T) {
	got := EventTopic("access.granted")
	if got != "accesscore/events/access.granted" {
		t.Errorf("EventTopic() = %q", got)
	}
}

func TestValidEvent(t *testing.T) {
	tests := []struct {
		event string
		want  bool
	}{
		{"access.granted", true},
		{"webhook.test", true},
		{"", false},
		{"bad/segment", false},
		{"wild#card", false},
		{"wild+card", false},
	}
	for _, tt := range tests {
		if got := validEvent(tt.event); got != tt.want {
			t.Errorf("validEvent(%q) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "core"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q", got)
	}
	if opts.ClientID != "access-core-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" {
		t.Errorf("Username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect not enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig not set")
	}
}

func TestStatusPayloads(t *testing.T) {
	for name, payload := range map[string]string{
		"online":  buildOnlinePayload("core-1"),
		"offline": buildOfflinePayload("core-1"),
	} {
		var status struct {
			Status    string `json:"status"`
			ClientID  string `json:"client_id"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal([]byte(payload), &status); err != nil {
			t.Fatalf("%s payload is not valid JSON: %v", name, err)
		}
		if status.Status != name {
			t.Errorf("%s payload status = %q", name, status.Status)
		}
		if status.ClientID != "core-1" {
			t.Errorf("%s payload client_id = %q", name, status.ClientID)
		}
		if status.Timestamp == "" {
			t.Errorf("%s payload missing timestamp", name)
		}
	}
}

func TestPublish_Validation(t *testing.T) {
	// A client that never connected still validates inputs first.
	c := &Client{cfg: testConfig()}

	if err := c.Publish("", []byte("x"), 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad QoS error = %v, want ErrInvalidQoS", err)
	}
	big := []byte(strings.Repeat("a", maxPayloadSize+1))
	if err := c.Publish("t", big, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload error = %v, want ErrPublishFailed", err)
	}
	if err := c.PublishEvent("", []byte("x")); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("empty event error = %v, want ErrInvalidEvent", err)
	}
}
