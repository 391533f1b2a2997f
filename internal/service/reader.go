// Package service wires the telegram parser, sensors and publishers into
// the running meter reader.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-p1mini/internal/api"
	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/domain"
	"github.com/resident-x/go-p1mini/internal/homeassistant"
	"github.com/resident-x/go-p1mini/internal/parser"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sensorAnnouncer is implemented by publishers that support Home Assistant
// auto-discovery.
type sensorAnnouncer interface {
	AnnounceSensors(ctx context.Context) error
}

// rtsLine is implemented by sources that can drive the request-to-send
// signal for flow-controlled meters.
type rtsLine interface {
	SetRTS(level bool) error
}

// MeterReader owns the tick loop that drives the parser, plus the sensors,
// reading store, publisher and optional HTTP API around it.
type MeterReader struct {
	config    *config.Config
	source    domain.ByteSource
	parser    *parser.Parser
	registry  *domain.SensorRegistry
	store     *domain.ReadingStore
	publisher domain.MessagePublisher
	apiServer *api.Server
	logger    zerolog.Logger

	telegramsProcessed atomic.Uint64
	communicationErrs  atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time
}

// NewMeterReader builds the full decode pipeline from the configuration:
// one numeric sink per configured sensor, the text sensors in configured
// order, the parser on top of source, and the API server when enabled.
// A sensor with an invalid OBIS code is reported and skipped; it never
// aborts construction.
func NewMeterReader(cfg *config.Config, source domain.ByteSource, publisher domain.MessagePublisher) (*MeterReader, error) {
	logger := log.With().Str("component", "reader").Logger()

	reader := &MeterReader{
		config:    cfg,
		source:    source,
		registry:  domain.NewSensorRegistry(),
		store:     domain.NewReadingStore(),
		publisher: publisher,
		logger:    logger,
		done:      make(chan struct{}),
	}

	for _, sensorCfg := range cfg.Sensors {
		sink := &readingSink{reader: reader, sensor: sensorCfg}
		if err := reader.registry.Register(sensorCfg.Obis, sink); err != nil {
			logger.Error().
				Err(err).
				Str("sensor", sensorCfg.Name).
				Msg("Skipping sensor with invalid OBIS code")
			continue
		}
		logger.Debug().
			Str("sensor", sensorCfg.Name).
			Str("obis", sensorCfg.Obis).
			Msg("Registered sensor")
	}
	for _, sensorCfg := range cfg.TextSensors {
		reader.registry.RegisterText(&textSink{reader: reader, sensor: sensorCfg})
		logger.Debug().
			Str("sensor", sensorCfg.Name).
			Str("prefix", sensorCfg.Prefix).
			Msg("Registered text sensor")
	}

	reader.parser = parser.NewParser(cfg, source, reader.registry)
	reader.setupLifecycleHooks()

	if cfg.API.Enabled {
		reader.apiServer = api.NewServer(cfg, reader.store, reader)
	}

	return reader, nil
}

// setupLifecycleHooks attaches the telegram lifecycle handlers: counters
// for the status endpoint and, when the source drives an RTS line, flow
// control matching the telegram cycle.
func (r *MeterReader) setupLifecycleHooks() {
	r.parser.OnEvent(parser.EventUpdateProcessed, func() {
		r.telegramsProcessed.Add(1)
	})
	r.parser.OnEvent(parser.EventCommunicationError, func() {
		r.communicationErrs.Add(1)
	})

	line, ok := r.source.(rtsLine)
	if !ok {
		return
	}
	r.parser.OnEvent(parser.EventReadyToReceive, func() {
		if err := line.SetRTS(true); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to raise RTS")
		}
	})
	dropRTS := func() {
		if err := line.SetRTS(false); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to drop RTS")
		}
	}
	r.parser.OnEvent(parser.EventUpdateProcessed, dropRTS)
	r.parser.OnEvent(parser.EventCommunicationError, dropRTS)
}

// Status reports runtime counters for the API status endpoint.
func (r *MeterReader) Status() map[string]interface{} {
	return map[string]interface{}{
		"readerState":        r.parser.State().String(),
		"telegramsProcessed": r.telegramsProcessed.Load(),
		"communicationErrs":  r.communicationErrs.Load(),
		"sensors":            r.registry.Len(),
	}
}

// Store exposes the reading store for consumers outside the tick loop.
func (r *MeterReader) Store() *domain.ReadingStore {
	return r.store
}

// Parser exposes the underlying telegram parser.
func (r *MeterReader) Parser() *parser.Parser {
	return r.parser
}

// Start connects the publisher and begins ticking the parser.
func (r *MeterReader) Start(ctx context.Context) error {
	r.startTime = time.Now()

	if err := r.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect publisher: %w", err)
	}
	if announcer, ok := r.publisher.(sensorAnnouncer); ok {
		if err := announcer.AnnounceSensors(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Sensor announcement failed")
		}
	}

	if r.apiServer != nil {
		if err := r.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	tick := time.Duration(r.config.Reader.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}

	r.wg.Add(1)
	go r.run(tick)

	r.logger.Info().
		Dur("tick", tick).
		Int("sensors", r.registry.Len()).
		Msg("Meter reader started")
	return nil
}

// run is the tick loop. The parser is not safe for concurrent use, so this
// goroutine is the only one that touches it after Start.
func (r *MeterReader) run(tick time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.parser.Tick()
		}
	}
}

// Stop halts the tick loop and shuts down the attached servers.
func (r *MeterReader) Stop(ctx context.Context) error {
	r.logger.Info().Msg("Stopping meter reader")

	close(r.done)
	r.wg.Wait()

	if r.apiServer != nil {
		if err := r.apiServer.Stop(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	if err := r.publisher.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to close message publisher")
	}

	return nil
}

// readingSink delivers one configured numeric sensor: it records the value
// in the reading store and forwards it to the publisher.
type readingSink struct {
	reader *MeterReader
	sensor config.SensorConfig
}

func (s *readingSink) Publish(value float64) {
	s.reader.store.SetValue(s.sensor.Name, s.sensor.Obis, s.sensor.Unit, value)

	reading, _ := s.reader.store.Get(s.sensor.Name)
	s.reader.publishReading(s.sensor.Name, reading)
}

// textSink delivers one configured text sensor.
type textSink struct {
	reader *MeterReader
	sensor config.TextSensorConfig
}

func (s *textSink) Prefix() string {
	return s.sensor.Prefix
}

func (s *textSink) Publish(text string) {
	s.reader.store.SetText(s.sensor.Name, text)

	reading, _ := s.reader.store.Get(s.sensor.Name)
	s.reader.publishReading(s.sensor.Name, reading)
}

// publishReading forwards a reading to the per-sensor MQTT topic.
func (r *MeterReader) publishReading(name string, reading *domain.Reading) {
	topic := fmt.Sprintf("%s/%s", r.config.MQTT.Topic, homeassistant.Slug(name))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.publisher.Publish(ctx, topic, reading); err != nil {
		r.logger.Error().
			Err(err).
			Str("topic", topic).
			Msg("Failed to publish reading")
	}
}
