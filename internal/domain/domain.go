// Package domain provides core domain models and interfaces for the go-p1mini application
package domain

import (
	"context"
	"time"

	"github.com/resident-x/go-p1mini/internal/obis"
)

// ByteSource is the non-blocking view of the P1 serial line. Implementations
// must never block: Available reports how many bytes can be read right now,
// and ReadByte must only be called when Available has reported at least one.
type ByteSource interface {
	// Available returns the number of bytes ready to be read.
	Available() int

	// ReadByte consumes and returns the next byte.
	ReadByte() byte
}

// Sensor receives numeric measurements for a single OBIS code.
type Sensor interface {
	// Publish delivers one decoded measurement value.
	Publish(value float64)
}

// TextSensor receives raw telegram lines that start with its prefix.
type TextSensor interface {
	// Prefix returns the line prefix this sensor matches on.
	Prefix() string

	// Publish delivers the full text of a matched line.
	Publish(text string)
}

// MessagePublisher defines the interface for publishing decoded readings.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// Reading is one decoded measurement as stored and served to consumers.
type Reading struct {
	Name      string    `json:"name"`
	Obis      string    `json:"obis,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Text      string    `json:"text,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorRegistry maps OBIS keys to sensors and keeps the ordered list of
// text sensors. It is populated during setup and read-only afterwards.
type SensorRegistry struct {
	sensors     map[obis.Key]Sensor
	textSensors []TextSensor
}

// NewSensorRegistry creates an empty sensor registry.
func NewSensorRegistry() *SensorRegistry {
	return &SensorRegistry{
		sensors: make(map[obis.Key]Sensor),
	}
}

// Register adds a sensor under the given textual OBIS code. An unparseable
// code returns an InvalidObisCodeError and leaves the registry unchanged;
// callers diagnose it and continue without the sensor.
func (r *SensorRegistry) Register(code string, sensor Sensor) error {
	key := obis.Parse(code)
	if key == obis.KeyError {
		return &InvalidObisCodeError{Code: code}
	}
	r.sensors[key] = sensor
	return nil
}

// RegisterText appends a text sensor. Registration order determines match
// priority: the first registered sensor whose prefix matches a line wins.
func (r *SensorRegistry) RegisterText(sensor TextSensor) {
	r.textSensors = append(r.textSensors, sensor)
}

// Lookup returns the sensor registered for the given key.
func (r *SensorRegistry) Lookup(key obis.Key) (Sensor, bool) {
	sensor, ok := r.sensors[key]
	return sensor, ok
}

// TextSensors returns the text sensors in registration order.
func (r *SensorRegistry) TextSensors() []TextSensor {
	return r.textSensors
}

// Len returns the number of registered numeric sensors.
func (r *SensorRegistry) Len() int {
	return len(r.sensors)
}

// InvalidObisCodeError reports a sensor registration with a code that does
// not parse as an OBIS address.
type InvalidObisCodeError struct {
	Code string
}

func (e *InvalidObisCodeError) Error() string {
	return "not a valid OBIS code: '" + e.Code + "'"
}
