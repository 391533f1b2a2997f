// Package config provides configuration management for the go-p1mini application.
package config

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Serial port settings for the P1 line
	Serial struct {
		Port string `mapstructure:"port"`
		Baud int    `mapstructure:"baud"`
	} `mapstructure:"serial"`

	// Telegram reader settings
	Reader struct {
		BufferSize  int `mapstructure:"buffer_size"`
		MinPeriodMs int `mapstructure:"min_period_ms"`
		TickMs      int `mapstructure:"tick_ms"`
	} `mapstructure:"reader"`

	// Sensors to register against OBIS codes
	Sensors []SensorConfig `mapstructure:"sensors"`

	// Text sensors matched by line prefix, in priority order
	TextSensors []TextSensorConfig `mapstructure:"text_sensors"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Topic    string `mapstructure:"topic"`
		Retain   bool   `mapstructure:"retain"`

		HomeAssistantAutoDiscovery struct {
			Enabled            bool   `mapstructure:"enabled"`
			DiscoveryPrefix    string `mapstructure:"discovery_prefix"`
			DeviceID           string `mapstructure:"device_id"`
			DeviceName         string `mapstructure:"device_name"`
			DeviceManufacturer string `mapstructure:"device_manufacturer"`
			DeviceModel        string `mapstructure:"device_model"`
			RetainDiscovery    bool   `mapstructure:"retain_discovery"`
		} `mapstructure:"homeassistant_autodiscovery"`
	} `mapstructure:"mqtt"`
}

// SensorConfig binds a named measurement to a textual OBIS code.
type SensorConfig struct {
	Name string `mapstructure:"name"`
	Obis string `mapstructure:"obis"`
	Unit string `mapstructure:"unit"`
}

// TextSensorConfig binds a named text reading to a line prefix.
type TextSensorConfig struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	// Default serial settings. 115200 8N1 is the DSMR 5 standard.
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Serial.Baud = 115200

	// Default reader settings
	cfg.Reader.BufferSize = 3072
	cfg.Reader.MinPeriodMs = 0
	cfg.Reader.TickMs = 10

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default MQTT settings
	cfg.MQTT.Enabled = true
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "energy/p1"
	cfg.MQTT.Retain = false

	// Default Home Assistant auto-discovery settings
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceID = "p1meter"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceName = "P1 Meter"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceManufacturer = "go-p1mini"
	cfg.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery = true

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("P1MINI")
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return cfg, nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-p1mini Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("port", c.Serial.Port).
		Int("baud", c.Serial.Baud).
		Msg("Serial")

	logger.Info().
		Int("buffer_size", c.Reader.BufferSize).
		Int("min_period_ms", c.Reader.MinPeriodMs).
		Int("tick_ms", c.Reader.TickMs).
		Msg("Reader")

	logger.Info().
		Int("sensors", len(c.Sensors)).
		Int("text_sensors", len(c.TextSensors)).
		Msg("Registered sensors")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("retain", c.MQTT.Retain).
			Msg("MQTT Configuration")
		logger.Info().
			Bool("enabled", c.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Str("prefix", c.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix).
			Msg("Home Assistant Auto-Discovery")
	}

	logger.Info().Msg("-----------------------------")
}
