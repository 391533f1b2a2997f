// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/homeassistant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ interface{}) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT.
type MQTTPublisher struct {
	config            *config.Config
	client            mqtt.Client
	connected         bool
	logger            zerolog.Logger
	clientFactory     func(*config.Config) mqtt.Client // Factory function for creating MQTT clients (testable)
	haDiscovery       *homeassistant.AutoDiscovery
	discoveredSensors map[string]bool // Track which discovery topics have been announced
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:            cfg,
		clientFactory:     createMQTTClient,
		discoveredSensors: make(map[string]bool),
		logger:            log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{
		config:            cfg,
		client:            client,
		discoveredSensors: make(map[string]bool),
		logger:            log.With().Str("component", "mqtt").Logger(),
	}
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(cfg *config.Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("go-p1mini-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(false)

	// Set credentials if provided
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// Connect establishes a connection to the MQTT broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	// If MQTT is disabled, do nothing
	if !p.config.MQTT.Enabled {
		return nil
	}

	// Create client if not already set (for testing)
	if p.client == nil {
		p.setupConnectionHandlers()
	}

	// Connect with context for timeout
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	connToken := p.client.Connect()

	// Wait for connection or context timeout
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after 10 seconds")
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	p.connected = true
	return nil
}

// setupConnectionHandlers creates the client with connection event handlers.
func (p *MQTTPublisher) setupConnectionHandlers() {
	// Connection established handler - called when connection is made/remade
	onConnect := func(client mqtt.Client) {
		p.logger.Info().Msg("MQTT connection established")
		p.connected = true

		// Clear the discovery cache so sensors get re-announced after a
		// broker restart wiped the retained config topics.
		p.discoveredSensors = make(map[string]bool)
	}

	// Connection lost handler - called when connection is lost
	onConnectionLost := func(client mqtt.Client, err error) {
		p.connected = false
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.MQTT.Host, p.config.MQTT.Port)).
		SetClientID(fmt.Sprintf("go-p1mini-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(false).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(onConnectionLost)

	// Set credentials if provided
	if p.config.MQTT.Username != "" {
		opts.SetUsername(p.config.MQTT.Username)
		opts.SetPassword(p.config.MQTT.Password)
	}

	p.client = mqtt.NewClient(opts)
}

// Publish sends data as JSON to the specified topic.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	if !p.config.MQTT.Enabled || !p.connected {
		return nil
	}

	// Convert data to JSON
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}

	// Publish with context for timeout
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := p.client.Publish(topic, 0, p.config.MQTT.Retain, jsonData)

	// Wait for publication or context timeout
	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish timeout after 5 seconds")
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message: %w", token.Error())
		}
	}

	return nil
}

// AnnounceSensors publishes Home Assistant discovery messages for the
// configured sensors. Topics already announced on this connection are
// skipped.
func (p *MQTTPublisher) AnnounceSensors(ctx context.Context) error {
	ha := p.config.MQTT.HomeAssistantAutoDiscovery
	if !p.config.MQTT.Enabled || !ha.Enabled || !p.connected {
		return nil
	}

	if p.haDiscovery == nil {
		discovery, err := homeassistant.New(homeassistant.Config{
			Enabled:            ha.Enabled,
			DiscoveryPrefix:    ha.DiscoveryPrefix,
			DeviceName:         ha.DeviceName,
			DeviceManufacturer: ha.DeviceManufacturer,
			DeviceModel:        ha.DeviceModel,
			RetainDiscovery:    ha.RetainDiscovery,
		}, p.config.MQTT.Topic, ha.DeviceID)
		if err != nil {
			return fmt.Errorf("failed to set up Home Assistant discovery: %w", err)
		}
		p.haDiscovery = discovery
	}

	messages := make(map[string]homeassistant.DiscoveryMessage)
	for _, sensor := range p.config.Sensors {
		topic, message := p.haDiscovery.SensorMessage(sensor.Name, sensor.Unit)
		messages[topic] = message
	}
	for _, sensor := range p.config.TextSensors {
		topic, message := p.haDiscovery.TextSensorMessage(sensor.Name)
		messages[topic] = message
	}

	for topic, message := range messages {
		if p.discoveredSensors[topic] {
			continue
		}

		messageJSON, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery message: %w", err)
		}

		token := p.client.Publish(topic, 0, ha.RetainDiscovery, messageJSON)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to publish discovery message to %s: %w", topic, token.Error())
		}

		p.discoveredSensors[topic] = true
	}

	p.logger.Info().Int("sensors", len(messages)).Msg("Announced sensors to Home Assistant")
	return nil
}

// Close terminates the connection to the MQTT broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.connected {
		p.client.Disconnect(250) // Disconnect with 250ms timeout
		p.connected = false
	}
	return nil
}
