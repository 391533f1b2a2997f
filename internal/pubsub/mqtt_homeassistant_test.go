package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/homeassistant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = true
	cfg.Sensors = []config.SensorConfig{
		{Name: "Energy Consumed", Obis: "1.8.0", Unit: "kWh"},
		{Name: "Power", Obis: "1.7.0", Unit: "kW"},
	}
	cfg.TextSensors = []config.TextSensorConfig{
		{Name: "Meter ID", Prefix: "/"},
	}
	return cfg
}

func TestAnnounceSensorsPublishesDiscoveryMessages(t *testing.T) {
	cfg := discoveryConfig()
	client := &fakeClient{}

	publisher := NewMQTTPublisherWithClient(cfg, client)
	publisher.connected = true

	require.NoError(t, publisher.AnnounceSensors(context.Background()))
	require.Len(t, client.published, 3)

	byTopic := make(map[string]publishedMessage)
	for _, msg := range client.published {
		byTopic[msg.topic] = msg
	}

	energyTopic := "homeassistant/sensor/p1meter/p1meter_energy_consumed/config"
	msg, ok := byTopic[energyTopic]
	require.True(t, ok, "missing discovery message for energy sensor")
	assert.True(t, msg.retained)

	var decoded homeassistant.DiscoveryMessage
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "Energy Consumed", decoded.Name)
	assert.Equal(t, "energy/p1/energy_consumed", decoded.StateTopic)
	assert.Equal(t, "energy", decoded.DeviceClass)
	assert.Equal(t, "kWh", decoded.UnitOfMeasurement)
}

func TestAnnounceSensorsSkipsAlreadyAnnounced(t *testing.T) {
	cfg := discoveryConfig()
	client := &fakeClient{}

	publisher := NewMQTTPublisherWithClient(cfg, client)
	publisher.connected = true

	require.NoError(t, publisher.AnnounceSensors(context.Background()))
	first := len(client.published)

	require.NoError(t, publisher.AnnounceSensors(context.Background()))
	assert.Equal(t, first, len(client.published), "already announced sensors should not be re-published")
}

func TestAnnounceSensorsDisabled(t *testing.T) {
	cfg := discoveryConfig()
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	client := &fakeClient{}

	publisher := NewMQTTPublisherWithClient(cfg, client)
	publisher.connected = true

	require.NoError(t, publisher.AnnounceSensors(context.Background()))
	assert.Empty(t, client.published)
}

func TestAnnounceSensorsNotConnected(t *testing.T) {
	cfg := discoveryConfig()
	client := &fakeClient{}

	publisher := NewMQTTPublisherWithClient(cfg, client)

	require.NoError(t, publisher.AnnounceSensors(context.Background()))
	assert.Empty(t, client.published)
}
