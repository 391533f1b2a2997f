// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/homeassistant_units.yaml
var homeAssistantUnitsYAML []byte

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	Enabled            bool
	DiscoveryPrefix    string
	DeviceName         string
	DeviceManufacturer string
	DeviceModel        string
	RetainDiscovery    bool
}

// unitDefaults carries the entity attributes derived from a sensor's unit.
type unitDefaults struct {
	DeviceClass string `yaml:"device_class,omitempty"`
	StateClass  string `yaml:"state_class,omitempty"`
	Icon        string `yaml:"icon,omitempty"`
}

// layoutConfig represents the embedded unit layout configuration.
type layoutConfig struct {
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Units       map[string]unitDefaults `yaml:"units"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	Icon              string     `json:"icon,omitempty"`
	Device            DeviceInfo `json:"device"`
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// AutoDiscovery handles Home Assistant MQTT auto-discovery for the meter's
// configured sensors.
type AutoDiscovery struct {
	config    Config
	layout    *layoutConfig
	baseTopic string
	deviceID  string
}

// New creates a new Home Assistant auto-discovery instance.
func New(config Config, baseTopic, deviceID string) (*AutoDiscovery, error) {
	ad := &AutoDiscovery{
		config:    config,
		baseTopic: baseTopic,
		deviceID:  deviceID,
	}
	if err := ad.loadLayout(); err != nil {
		return nil, fmt.Errorf("failed to load layout config: %w", err)
	}
	return ad, nil
}

// loadLayout loads the unit defaults from embedded YAML.
func (ad *AutoDiscovery) loadLayout() error {
	var layout layoutConfig
	if err := yaml.Unmarshal(homeAssistantUnitsYAML, &layout); err != nil {
		return fmt.Errorf("failed to unmarshal Home Assistant units config: %w", err)
	}

	ad.layout = &layout
	log.Info().
		Str("version", layout.Version).
		Int("unit_count", len(layout.Units)).
		Msg("Home Assistant layout configuration loaded from YAML")
	return nil
}

// SensorMessage builds the discovery topic and message for a numeric sensor.
// The state topic is the per-sensor reading topic, so the value template
// just extracts the value field of the reading JSON.
func (ad *AutoDiscovery) SensorMessage(name, unit string) (string, DiscoveryMessage) {
	slug := Slug(name)
	defaults := ad.layout.Units[unit]

	message := DiscoveryMessage{
		Name:              name,
		UniqueID:          fmt.Sprintf("%s_%s", ad.deviceID, slug),
		StateTopic:        fmt.Sprintf("%s/%s", ad.baseTopic, slug),
		ValueTemplate:     "{{ value_json.value }}",
		DeviceClass:       defaults.DeviceClass,
		UnitOfMeasurement: unit,
		StateClass:        defaults.StateClass,
		Icon:              defaults.Icon,
		Device:            ad.deviceInfo(),
	}
	return ad.discoveryTopic(slug), message
}

// TextSensorMessage builds the discovery topic and message for a text sensor.
func (ad *AutoDiscovery) TextSensorMessage(name string) (string, DiscoveryMessage) {
	slug := Slug(name)

	message := DiscoveryMessage{
		Name:          name,
		UniqueID:      fmt.Sprintf("%s_%s", ad.deviceID, slug),
		StateTopic:    fmt.Sprintf("%s/%s", ad.baseTopic, slug),
		ValueTemplate: "{{ value_json.text }}",
		Icon:          "mdi:text",
		Device:        ad.deviceInfo(),
	}
	return ad.discoveryTopic(slug), message
}

func (ad *AutoDiscovery) deviceInfo() DeviceInfo {
	model := ad.config.DeviceModel
	if model == "" {
		model = "P1 Smart Meter"
	}
	return DeviceInfo{
		Identifiers:  []string{ad.deviceID},
		Name:         ad.config.DeviceName,
		Manufacturer: ad.config.DeviceManufacturer,
		Model:        model,
		SwVersion:    "go-p1mini",
	}
}

// discoveryTopic generates the MQTT discovery topic for a sensor:
// <discovery_prefix>/sensor/<node_id>/<object_id>/config
func (ad *AutoDiscovery) discoveryTopic(slug string) string {
	nodeID := Slug(ad.deviceID)
	return fmt.Sprintf("%s/sensor/%s/%s_%s/config", ad.config.DiscoveryPrefix, nodeID, nodeID, slug)
}

// Slug lowercases a name and replaces anything outside [a-z0-9] with
// underscores, matching the object IDs Home Assistant generates itself.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// CleanupMessages generates cleanup (empty) messages to remove sensors from
// Home Assistant.
func (ad *AutoDiscovery) CleanupMessages(names []string) map[string]string {
	messages := make(map[string]string)
	for _, name := range names {
		messages[ad.discoveryTopic(Slug(name))] = ""
	}
	return messages
}
