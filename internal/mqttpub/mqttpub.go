// Package mqttpub wraps github.com/eclipse/paho.mqtt.golang for optional
// publication of completed events, mirroring the teacher's
// wsprnet_mqtt/mqtt_publisher.go role for decoded spots.
package mqttpub

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"iqlab/internal/iqerr"
)

// Config configures the MQTT publisher.
type Config struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Retained  bool
	QoS       byte
}

// Publisher publishes JSON payloads to a configured MQTT topic.
type Publisher struct {
	cfg    Config
	client mqtt.Client
}

// New connects to the configured broker.
func New(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, iqerr.New(iqerr.IoError, "mqttpub", fmt.Errorf("connect %s: %w", cfg.BrokerURL, token.Error()))
	}
	return &Publisher{cfg: cfg, client: client}, nil
}

// Publish sends payload to the configured topic.
func (p *Publisher) Publish(payload []byte) error {
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return iqerr.New(iqerr.IoError, "mqttpub", fmt.Errorf("publish to %s: %w", p.cfg.Topic, err))
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
