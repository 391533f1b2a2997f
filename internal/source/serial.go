// Package source provides byte sources for the meter reader. The serial
// source wraps a P1 port opened with go.bug.st/serial and adapts its
// blocking reads to the non-blocking interface the reader polls each tick.
package source

import (
	"fmt"
	"sync"

	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	serial "go.bug.st/serial"
)

// maxQueuedBytes bounds the receive queue. A stalled consumer loses the
// oldest data, mirroring a hardware UART overrun.
const maxQueuedBytes = 8192

// readPort is the slice of serial.Port the source needs. Narrowing it here
// lets tests substitute a scripted port.
type readPort interface {
	Read(p []byte) (int, error)
	Close() error
	SetRTS(rts bool) error
}

// SerialSource drains a serial port in a background goroutine and buffers
// the bytes for the reader. Available and ReadByte never block.
type SerialSource struct {
	port   readPort
	logger zerolog.Logger

	mu      sync.Mutex
	queue   []byte
	dropped int

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSerialSource opens the configured port and starts the receive loop.
func NewSerialSource(cfg *config.Config) (*SerialSource, error) {
	mode := &serial.Mode{BaudRate: cfg.Serial.Baud}
	port, err := serial.Open(cfg.Serial.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
	}

	s := newSourceFromPort(port)
	s.logger.Info().
		Str("port", cfg.Serial.Port).
		Int("baud", cfg.Serial.Baud).
		Msg("Serial source started")
	return s, nil
}

func newSourceFromPort(port readPort) *SerialSource {
	s := &SerialSource{
		port:   port,
		logger: log.With().Str("component", "source").Logger(),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *SerialSource) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, 512)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			s.enqueue(buf[:n])
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error().Err(err).Msg("Serial read failed, stopping receive loop")
			}
			return
		}
	}
}

func (s *SerialSource) enqueue(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, data...)
	if overflow := len(s.queue) - maxQueuedBytes; overflow > 0 {
		s.queue = s.queue[overflow:]
		s.dropped += overflow
		s.logger.Warn().
			Int("dropped", s.dropped).
			Msg("Receive queue overrun, discarding oldest bytes")
	}
}

// Available reports how many buffered bytes can be read without blocking.
func (s *SerialSource) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ReadByte pops the oldest buffered byte. Callers check Available first;
// reading from an empty queue yields zero.
func (s *SerialSource) ReadByte() byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return 0
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return b
}

// SetRTS drives the RTS line. The reader raises it while a telegram is
// wanted and drops it between update cycles.
func (s *SerialSource) SetRTS(level bool) error {
	return s.port.SetRTS(level)
}

// Close stops the receive loop and releases the port.
func (s *SerialSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}
