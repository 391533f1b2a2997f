// Package domain provides core domain implementations.
package domain

import (
	"sync"
	"time"
)

// ReadingStore keeps the most recent reading per sensor name for the HTTP
// API and other pull-style consumers. Unlike the SensorRegistry it is
// written on every decoded telegram, so access is guarded.
type ReadingStore struct {
	readings map[string]*Reading
	mutex    sync.RWMutex
}

// NewReadingStore creates a new reading store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{
		readings: make(map[string]*Reading),
	}
}

// SetValue records a numeric reading for a sensor.
func (s *ReadingStore) SetValue(name, obisCode, unit string, value float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.readings[name] = &Reading{
		Name:      name,
		Obis:      obisCode,
		Value:     value,
		Unit:      unit,
		Timestamp: time.Now(),
	}
}

// SetText records a text reading for a sensor.
func (s *ReadingStore) SetText(name, text string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.readings[name] = &Reading{
		Name:      name,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Get retrieves the latest reading for a sensor.
func (s *ReadingStore) Get(name string) (*Reading, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	reading, ok := s.readings[name]
	if !ok {
		return nil, false
	}
	copied := *reading
	return &copied, true
}

// All returns a snapshot of the latest readings for every sensor.
func (s *ReadingStore) All() []*Reading {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	readings := make([]*Reading, 0, len(s.readings))
	for _, reading := range s.readings {
		copied := *reading
		readings = append(readings, &copied)
	}

	return readings
}
