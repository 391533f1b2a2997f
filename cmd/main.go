// Package main provides the entry point for the go-p1mini meter reader.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/domain"
	"github.com/resident-x/go-p1mini/internal/pubsub"
	"github.com/resident-x/go-p1mini/internal/service"
	"github.com/resident-x/go-p1mini/internal/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run() // run() returns an int
	os.Exit(code) // os.Exit is called after deferred functions in run() execute
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("go-p1mini %s\n", Version)
		return 0
	}

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger with the configured log level
	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting go-p1mini")

	// Log service configuration for debugging
	logServiceConfiguration(cfg)

	// Open the P1 serial line
	byteSource, err := source.NewSerialSource(cfg)
	if err != nil {
		log.Error().Err(err).Str("port", cfg.Serial.Port).Msg("Failed to open serial port")
		return 1
	}
	defer byteSource.Close()

	// Initialize MQTT publisher
	var publisher domain.MessagePublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
			log.Info().Msg("MQTT publisher connected successfully")
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop publisher")
		publisher = pubsub.NewNoopPublisher()
	}

	// Create and start the meter reader
	reader, err := service.NewMeterReader(cfg, byteSource, publisher)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create meter reader")
		return 1
	}

	if err := reader.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start meter reader")
		return 1
	}

	log.Info().
		Str("port", cfg.Serial.Port).
		Int("baud", cfg.Serial.Baud).
		Msg("Meter reader started successfully")

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop the reader
	if err := reader.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping meter reader")
		return 1
	}

	log.Info().Msg("Meter reader stopped")
	return 0
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// logServiceConfiguration logs the current service configuration for debugging.
func logServiceConfiguration(cfg *config.Config) {
	log.Debug().Msg("=== Service Configuration ===")

	// General settings
	log.Debug().
		Str("log_level", cfg.LogLevel).
		Msg("General settings")

	// Serial settings
	log.Debug().
		Str("port", cfg.Serial.Port).
		Int("baud", cfg.Serial.Baud).
		Msg("Serial configuration")

	// Reader settings
	log.Debug().
		Int("buffer_size", cfg.Reader.BufferSize).
		Int("min_period_ms", cfg.Reader.MinPeriodMs).
		Int("tick_ms", cfg.Reader.TickMs).
		Msg("Reader configuration")

	// Sensors
	for _, sensor := range cfg.Sensors {
		log.Debug().
			Str("name", sensor.Name).
			Str("obis", sensor.Obis).
			Str("unit", sensor.Unit).
			Msg("Sensor")
	}
	for _, sensor := range cfg.TextSensors {
		log.Debug().
			Str("name", sensor.Name).
			Str("prefix", sensor.Prefix).
			Msg("Text sensor")
	}

	// API settings
	log.Debug().
		Bool("enabled", cfg.API.Enabled).
		Str("host", cfg.API.Host).
		Int("port", cfg.API.Port).
		Msg("HTTP API configuration")

	// MQTT settings
	if cfg.MQTT.Enabled {
		log.Debug().
			Bool("enabled", cfg.MQTT.Enabled).
			Str("host", cfg.MQTT.Host).
			Int("port", cfg.MQTT.Port).
			Str("username", cfg.MQTT.Username).
			Str("topic", cfg.MQTT.Topic).
			Bool("retain", cfg.MQTT.Retain).
			Msg("MQTT configuration")

		// Home Assistant Auto-Discovery
		ha := cfg.MQTT.HomeAssistantAutoDiscovery
		if ha.Enabled {
			log.Debug().
				Bool("enabled", ha.Enabled).
				Str("discovery_prefix", ha.DiscoveryPrefix).
				Str("device_id", ha.DeviceID).
				Str("device_name", ha.DeviceName).
				Str("device_manufacturer", ha.DeviceManufacturer).
				Str("device_model", ha.DeviceModel).
				Bool("retain_discovery", ha.RetainDiscovery).
				Msg("Home Assistant auto-discovery configuration")
		} else {
			log.Debug().Bool("enabled", false).Msg("Home Assistant auto-discovery disabled")
		}
	} else {
		log.Debug().Bool("enabled", false).Msg("MQTT disabled")
	}

	log.Debug().Msg("=== End Configuration ===")
}
