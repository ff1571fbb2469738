// Package mqtt publishes samples, decisions and events to an MQTT broker so
// external dashboards can follow the optimizer in real time.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/lteopt/pkg"
	"github.com/markus-lassfolk/lteopt/pkg/logx"
)

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "lteoptd",
		TopicPrefix: "lteopt",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// Client publishes optimizer telemetry. Implements pkg.SampleSink and
// pkg.DecisionSink; publish failures are logged and never propagate.
type Client struct {
	client MQTT.Client
	logger *logx.Logger
	config *Config

	mu          sync.Mutex
	connected   bool
	lastPublish time.Time
	publishErrs int
}

// NewClient creates an MQTT client. The connection is established by
// Connect; a disabled config yields a client whose publishes are no-ops.
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{config: config, logger: logger}
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT disabled, skipping connection")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ MQTT.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.logger.Info("MQTT connected", "broker", c.config.Broker, "port", c.config.Port)
	})

	c.client = MQTT.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// RecordSample publishes a scored sample to <prefix>/samples/<band>.
func (c *Client) RecordSample(sample *pkg.ScoredSample) {
	c.publish(fmt.Sprintf("%s/samples/%s", c.config.TopicPrefix, sample.Band), sample)
}

// RecordDecision publishes a decision to <prefix>/decisions.
func (c *Client) RecordDecision(decision *pkg.Decision) {
	c.publish(fmt.Sprintf("%s/decisions", c.config.TopicPrefix), decision)
}

// PublishEvent publishes an event to <prefix>/events/<type>.
func (c *Client) PublishEvent(event *pkg.Event) {
	c.publish(fmt.Sprintf("%s/events/%s", c.config.TopicPrefix, event.Type), event)
}

func (c *Client) publish(topic string, payload interface{}) {
	if !c.config.Enabled || c.client == nil || !c.client.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("Failed to marshal MQTT payload", "topic", topic, "error", err)
		return
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if !token.WaitTimeout(5 * time.Second) || token.Error() != nil {
		c.mu.Lock()
		c.publishErrs++
		c.mu.Unlock()
		c.logger.Warn("MQTT publish failed", "topic", topic, "error", token.Error())
		return
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
}

// GetStatus returns client status for diagnostics.
func (c *Client) GetStatus() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := map[string]interface{}{
		"enabled":        c.config.Enabled,
		"connected":      c.connected,
		"broker":         c.config.Broker,
		"publish_errors": c.publishErrs,
	}
	if !c.lastPublish.IsZero() {
		status["last_publish"] = c.lastPublish
	}
	return status
}
