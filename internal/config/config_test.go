package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)

	// Serial defaults
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)

	// Reader defaults
	assert.Equal(t, 3072, cfg.Reader.BufferSize)
	assert.Equal(t, 0, cfg.Reader.MinPeriodMs)
	assert.Equal(t, 10, cfg.Reader.TickMs)

	// API defaults
	assert.Equal(t, true, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)

	// MQTT defaults
	assert.Equal(t, true, cfg.MQTT.Enabled)
	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "energy/p1", cfg.MQTT.Topic)
	assert.Equal(t, false, cfg.MQTT.Retain)
	assert.Equal(t, false, cfg.MQTT.HomeAssistantAutoDiscovery.Enabled)
	assert.Equal(t, "homeassistant", cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix)
	assert.Equal(t, "p1meter", cfg.MQTT.HomeAssistantAutoDiscovery.DeviceID)

	// No sensors registered by default
	assert.Empty(t, cfg.Sensors)
	assert.Empty(t, cfg.TextSensors)
}

func TestLoadConfigWithNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent_config.yaml")

	// Should error when file doesn't exist
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoadConfigWithValidYAML(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
log_level: debug
serial:
  port: /dev/ttyAMA0
  baud: 9600
reader:
  buffer_size: 4096
  min_period_ms: 5000
  tick_ms: 25
sensors:
  - name: energy_import
    obis: "1-0:1.8.0"
    unit: kWh
  - name: power
    obis: "1.7.0"
    unit: kW
text_sensors:
  - name: meter_id
    prefix: "METER_ID:"
api:
  enabled: false
  host: 192.168.1.1
  port: 9000
mqtt:
  enabled: false
  host: mqtt.example.com
  port: 8883
  username: testuser
  password: testpass
  topic: test/p1
  retain: true
`

	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, "debug", cfg.LogLevel)

	// Serial config
	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.Baud)

	// Reader config
	assert.Equal(t, 4096, cfg.Reader.BufferSize)
	assert.Equal(t, 5000, cfg.Reader.MinPeriodMs)
	assert.Equal(t, 25, cfg.Reader.TickMs)

	// Sensors
	require.Len(t, cfg.Sensors, 2)
	assert.Equal(t, "energy_import", cfg.Sensors[0].Name)
	assert.Equal(t, "1-0:1.8.0", cfg.Sensors[0].Obis)
	assert.Equal(t, "kWh", cfg.Sensors[0].Unit)
	assert.Equal(t, "power", cfg.Sensors[1].Name)
	assert.Equal(t, "1.7.0", cfg.Sensors[1].Obis)

	require.Len(t, cfg.TextSensors, 1)
	assert.Equal(t, "meter_id", cfg.TextSensors[0].Name)
	assert.Equal(t, "METER_ID:", cfg.TextSensors[0].Prefix)

	// API config
	assert.Equal(t, false, cfg.API.Enabled)
	assert.Equal(t, "192.168.1.1", cfg.API.Host)
	assert.Equal(t, 9000, cfg.API.Port)

	// MQTT config
	assert.Equal(t, false, cfg.MQTT.Enabled)
	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, "testuser", cfg.MQTT.Username)
	assert.Equal(t, "testpass", cfg.MQTT.Password)
	assert.Equal(t, "test/p1", cfg.MQTT.Topic)
	assert.Equal(t, true, cfg.MQTT.Retain)
}

func TestLoadConfigFromMarshaledFixture(t *testing.T) {
	// Build the fixture from a struct so the test stays in sync with the
	// YAML shape the loader expects.
	fixture := map[string]interface{}{
		"log_level": "warn",
		"reader": map[string]interface{}{
			"buffer_size":   1024,
			"min_period_ms": 2000,
		},
		"sensors": []map[string]string{
			{"name": "energy_export", "obis": "1-0:2.8.0", "unit": "kWh"},
		},
	}

	data, err := yaml.Marshal(fixture)
	require.NoError(t, err)

	configFile := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(configFile, data, 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 1024, cfg.Reader.BufferSize)
	assert.Equal(t, 2000, cfg.Reader.MinPeriodMs)
	require.Len(t, cfg.Sensors, 1)
	assert.Equal(t, "energy_export", cfg.Sensors[0].Name)

	// Values absent from the fixture keep their defaults.
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, true, cfg.MQTT.Enabled)
}

func TestLoadConfigWithInvalidYAML(t *testing.T) {
	// Create a temporary invalid config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid_config.yaml")

	invalidContent := `
invalid: yaml: content: [
`

	err := os.WriteFile(configFile, []byte(invalidContent), 0o644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestPrint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Serial.Port = "/dev/ttyUSB1"

	// This test mainly ensures Print() doesn't panic
	assert.NotPanics(t, func() {
		cfg.Print()
	})
}
