// Package parser implements the telegram-reception state machine for the
// P1 port of a utility smart meter. It recognizes both the ASCII (DSMR
// style) and the binary HDLC-framed telegram formats, verifies their
// checksums and dispatches decoded measurements to registered sensors.
//
// The machine is cooperative: it advances only when Tick is called, never
// blocks, and bounds the work done per tick so the host scheduler regains
// control within a few milliseconds.
package parser

import (
	"time"

	"github.com/resident-x/go-p1mini/internal/config"
	"github.com/resident-x/go-p1mini/internal/domain"
	"github.com/resident-x/go-p1mini/internal/obis"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Timeouts that abandon a stalled telegram.
	identifyTimeout   = 60 * time.Second
	readTimeout       = 10 * time.Second
	recoveryQuietTime = 500 * time.Millisecond

	// Per-tick work quotas.
	processingBudget  = 25 * time.Millisecond
	maxDiscardPerTick = 200

	// Fallback when the configured buffer capacity is unusable.
	minBufferSize     = 16
	defaultBufferSize = 3072

	// Frame markers.
	asciiStartByte  = '/'
	binaryFrameByte = 0x7e
	crcMarkerByte   = '!'
)

// State identifies where the machine is in receiving one telegram.
type State int

const (
	StateIdentifying State = iota
	StateReading
	StateVerifyingCRC
	StateProcessingASCII
	StateProcessingBinary
	StateWaiting
	StateErrorRecovery
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdentifying:
		return "identifying_message"
	case StateReading:
		return "reading_message"
	case StateVerifyingCRC:
		return "verifying_crc"
	case StateProcessingASCII:
		return "processing_ascii"
	case StateProcessingBinary:
		return "processing_binary"
	case StateWaiting:
		return "waiting"
	case StateErrorRecovery:
		return "error_recovery"
	default:
		return "unknown"
	}
}

type dataFormat int

const (
	formatUnknown dataFormat = iota
	formatASCII
	formatBinary
)

// Parser drives telegram reception, verification and decoding. It owns the
// message buffer, the discard log and the per-telegram decode state; all of
// it is mutated only from Tick, on the caller's single execution context.
type Parser struct {
	source   domain.ByteSource
	registry *domain.SensorRegistry
	logger   zerolog.Logger

	minPeriod    time.Duration
	secondaryRTS func() bool
	triggers     map[Event][]func()
	now          func() time.Time

	state  State
	format dataFormat
	buf    *messageBuffer
	trash  *discardLog

	// Decode state, scoped to one telegram.
	cursor  int
	curObis obis.Key

	secondaryActive bool

	// Per-state entry times; each is (re)started only in changeState.
	identifyingTime time.Time
	readingTime     time.Time
	verifyingTime   time.Time
	processingTime  time.Time
	waitingTime     time.Time
	recoveryTime    time.Time

	// Cycle diagnostics.
	numMessageLoops    int
	numProcessingLoops int
	displayStats       bool
	statsCounter       uint32
	statsInfoNext      uint32
}

// NewParser creates a telegram parser reading from source and dispatching
// to the sensors in registry. The registry is only read, never mutated.
func NewParser(cfg *config.Config, source domain.ByteSource, registry *domain.SensorRegistry) *Parser {
	logger := log.With().Str("component", "parser").Logger()

	bufferSize := cfg.Reader.BufferSize
	if bufferSize <= 0 {
		logger.Error().
			Int("buffer_size", bufferSize).
			Int("fallback", defaultBufferSize).
			Msg("Unusable buffer size configured, using fallback")
		bufferSize = defaultBufferSize
	} else if bufferSize < minBufferSize {
		logger.Error().
			Int("buffer_size", bufferSize).
			Int("fallback", minBufferSize).
			Msg("Buffer size too small to hold a telegram, using minimal stand-in")
		bufferSize = minBufferSize
	}

	p := &Parser{
		source:        source,
		registry:      registry,
		logger:        logger,
		minPeriod:     time.Duration(cfg.Reader.MinPeriodMs) * time.Millisecond,
		triggers:      make(map[Event][]func()),
		now:           time.Now,
		state:         StateIdentifying,
		buf:           newMessageBuffer(bufferSize),
		curObis:       obis.KeyError,
		statsInfoNext: 1,
	}
	p.trash = newDiscardLog(p.logger)
	p.identifyingTime = p.now()
	return p
}

// SetSecondaryRTS installs the probe consulted once per telegram, at the
// start of reception, to learn whether a secondary P1 device is holding the
// request-to-send line.
func (p *Parser) SetSecondaryRTS(probe func() bool) {
	p.secondaryRTS = probe
}

// SetClock replaces the time source and re-anchors the current state timer
// to it (useful for tests).
func (p *Parser) SetClock(now func() time.Time) {
	p.now = now
	p.identifyingTime = now()
}

// SetCustomLogger allows updating the logger (useful for tests).
func (p *Parser) SetCustomLogger(logger *zerolog.Logger) {
	p.logger = logger.With().Str("component", "parser").Logger()
	p.trash.logger = p.logger
}

// State returns the current state of the machine.
func (p *Parser) State() State {
	return p.state
}

// SecondaryActive reports whether the secondary device was holding RTS when
// the current telegram cycle began.
func (p *Parser) SecondaryActive() bool {
	return p.secondaryActive
}

// Tick advances the state machine by at most one transition group, reading
// whatever bytes are currently available. It never blocks.
func (p *Parser) Tick() {
	start := p.now()

	switch p.state {
	case StateIdentifying:
		p.tickIdentify(start)
		// Fall straight into reading so bytes already queued behind the
		// start marker are not left for the next tick.
		if p.state == StateReading {
			p.tickRead(start)
		}
	case StateReading:
		p.tickRead(start)
	case StateVerifyingCRC:
		p.tickVerify(start)
	case StateProcessingASCII:
		p.tickProcessASCII(start)
	case StateProcessingBinary:
		p.tickProcessBinary(start)
	case StateWaiting:
		p.tickWait(start)
	case StateErrorRecovery:
		p.tickRecover(start)
	}
}

// tickIdentify waits for the first byte of a telegram and chooses the data
// format from it.
func (p *Parser) tickIdentify(start time.Time) {
	if p.source.Available() == 0 {
		if start.Sub(p.identifyingTime) > identifyTimeout {
			p.logger.Warn().
				Dur("waited", identifyTimeout).
				Msg("No data received while waiting for telegram start")
			p.changeState(StateErrorRecovery, start)
		}
		return
	}

	b := p.source.ReadByte()
	switch b {
	case asciiStartByte:
		p.logger.Debug().Msg("ASCII data format")
		p.format = formatASCII
	case binaryFrameByte:
		p.logger.Debug().Msg("BINARY data format")
		p.format = formatBinary
	default:
		p.logger.Warn().
			Str("byte", hexByte(b)).
			Msg("Unknown data format, resetting")
		p.changeState(StateErrorRecovery, start)
		return
	}

	p.buf.append(b)
	p.changeState(StateReading, start)
}

// tickRead consumes available bytes one at a time, locating the checksum
// boundary and the end of the telegram.
func (p *Parser) tickRead(start time.Time) {
	p.numMessageLoops++

	for p.source.Available() > 0 {
		b := p.source.ReadByte()
		if !p.buf.append(b) {
			p.logger.Warn().Int("capacity", len(p.buf.data)).Msg("Message buffer overrun, resetting")
			p.changeState(StateErrorRecovery, start)
			return
		}

		// Find out where the checksum will be positioned.
		if p.format == formatASCII && b == crcMarkerByte {
			// The exclamation mark closes the data region; the checksum
			// digits come next.
			p.buf.crcPos = p.buf.pos
		} else if p.format == formatBinary && p.buf.pos == 3 {
			// The second frame byte carries a 3-bit format tag and, with
			// the third byte, the 13-bit frame length.
			if p.buf.data[1]&0xe0 != 0xa0 {
				p.logger.Warn().
					Str("byte", hexByte(p.buf.data[1])).
					Msg("Unknown frame format, resetting")
				p.changeState(StateErrorRecovery, start)
				return
			}
			p.buf.crcPos = int(p.buf.data[1]&0x1f)<<8 + int(p.buf.data[2]) - 1
		}

		// Once past the checksum boundary, look for the closing marker.
		if p.buf.crcPos > 0 && p.buf.pos > p.buf.crcPos {
			if p.format == formatASCII && b == '\n' {
				p.changeState(StateVerifyingCRC, start)
				return
			}
			if p.format == formatBinary && p.buf.pos == p.buf.crcPos+3 {
				if b != binaryFrameByte {
					p.logger.Warn().Msg("Unexpected end of binary frame, resetting")
					p.changeState(StateErrorRecovery, start)
					return
				}
				p.changeState(StateVerifyingCRC, start)
				return
			}
		}

		if p.buf.full() {
			p.logger.Warn().Int("capacity", len(p.buf.data)).Msg("Message buffer overrun, resetting")
			p.changeState(StateErrorRecovery, start)
			return
		}
	}

	if start.Sub(p.readingTime) > readTimeout {
		p.logger.Warn().
			Dur("timeout", readTimeout).
			Msg("Complete telegram not received in time, resetting")
		p.changeState(StateErrorRecovery, start)
	}
}

// tickVerify runs the checksum engine matching the detected format.
func (p *Parser) tickVerify(start time.Time) {
	var computed, fromMsg uint16

	if p.format == formatASCII {
		fromMsg = parseHexWord(p.buf.data[p.buf.crcPos:p.buf.pos])
		computed = asciiChecksum(p.buf.data[:p.buf.crcPos])
	} else {
		// Two little-endian bytes immediately after the boundary.
		fromMsg = uint16(p.buf.data[p.buf.crcPos+1])<<8 | uint16(p.buf.data[p.buf.crcPos])
		computed = binaryChecksum(p.buf.data[1:p.buf.crcPos])
	}

	if computed == fromMsg {
		p.logger.Debug().Msg("CRC verification OK")
		if p.format == formatBinary {
			p.changeState(StateProcessingBinary, start)
		} else {
			p.changeState(StateProcessingASCII, start)
		}
		return
	}

	p.logger.Error().
		Str("calculated", hexWord(computed)).
		Str("received", hexWord(fromMsg)).
		Msg("CRC mismatch, buffer discarded")
	for _, b := range p.buf.bytes() {
		p.trash.add(b)
	}
	p.trash.flush()
	p.changeState(StateErrorRecovery, start)
}

// tickWait emits the one-shot cycle summary and, once the minimum
// inter-telegram period has elapsed, opens up for the next telegram.
func (p *Parser) tickWait(start time.Time) {
	if p.displayStats {
		p.displayStats = false
		p.logCycleStats()
	}

	if p.minPeriod == 0 || start.Sub(p.identifyingTime) > p.minPeriod {
		p.changeState(StateIdentifying, start)
	} else if p.source.Available() > 0 {
		p.logger.Error().Msg("Data was received before being requested. If flow control " +
			"via the RTS signal is not used, the minimum period should be set to 0. Resetting.")
		p.changeState(StateErrorRecovery, start)
	}
}

// tickRecover drains and hex-logs whatever arrives until the line has been
// quiet long enough to resume cleanly.
func (p *Parser) tickRecover(start time.Time) {
	if p.source.Available() > 0 {
		for i := 0; i < maxDiscardPerTick && p.source.Available() > 0; i++ {
			p.trash.add(p.source.ReadByte())
		}
	} else if start.Sub(p.recoveryTime) > recoveryQuietTime {
		p.changeState(StateWaiting, start)
		p.trash.flush()
	}
}

// changeState is the single authoritative point where per-state timers are
// restarted and lifecycle notifications fire.
func (p *Parser) changeState(newState State, now time.Time) {
	switch newState {
	case StateIdentifying:
		p.identifyingTime = now
		p.buf.reset()
		p.cursor = 0
		p.numMessageLoops = 0
		p.numProcessingLoops = 0
		p.format = formatUnknown
		p.secondaryActive = p.secondaryRTS != nil && p.secondaryRTS()
		p.fire(EventReadyToReceive)
	case StateReading:
		p.readingTime = now
		p.fire(EventReceiving)
	case StateVerifyingCRC:
		p.verifyingTime = now
		p.fire(EventUpdateReceived)
	case StateProcessingASCII, StateProcessingBinary:
		p.processingTime = now
		p.cursor = 0
		p.curObis = obis.KeyError
	case StateWaiting:
		if p.state != StateErrorRecovery {
			p.displayStats = true
			p.fire(EventUpdateProcessed)
		}
		p.waitingTime = now
	case StateErrorRecovery:
		p.recoveryTime = now
		p.fire(EventCommunicationError)
	}
	p.state = newState
}

// logCycleStats reports phase durations for the completed telegram cycle.
// Verbosity escalates to Info every time the cycle count reaches the next
// power of two.
func (p *Parser) logCycleStats() {
	p.statsCounter++
	event := p.logger.Debug()
	if p.statsCounter == p.statsInfoNext {
		p.statsInfoNext <<= 1
		event = p.logger.Info()
	}
	event.
		Dur("identifying", p.readingTime.Sub(p.identifyingTime)).
		Dur("message", p.processingTime.Sub(p.readingTime)).
		Int("message_loops", p.numMessageLoops).
		Dur("processing", p.waitingTime.Sub(p.processingTime)).
		Int("processing_loops", p.numProcessingLoops).
		Dur("total", p.waitingTime.Sub(p.identifyingTime)).
		Int("buffer_bytes", p.buf.pos).
		Msg("Cycle times")
}

// parseHexWord reads leading hexadecimal digits, mirroring strtol: parsing
// stops at the first non-hex character and no digits yield zero.
func parseHexWord(data []byte) uint16 {
	var v uint16
	for _, c := range data {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint16(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint16(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint16(c-'A'+10)
		default:
			return v
		}
	}
	return v
}

func hexByte(b byte) string {
	return "0x" + string([]byte{hexChars[b>>4], hexChars[b&0xf]})
}

func hexWord(w uint16) string {
	return string([]byte{
		hexChars[w>>12&0xf], hexChars[w>>8&0xf], hexChars[w>>4&0xf], hexChars[w&0xf],
	})
}
