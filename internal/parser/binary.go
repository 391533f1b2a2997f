package parser

import (
	"time"

	"github.com/resident-x/go-p1mini/internal/obis"
)

// TLV type tags of the binary (DLMS-style) payload.
const (
	tlvNull      = 0x00
	tlvArray     = 0x01
	tlvStructure = 0x02
	tlvUint32    = 0x06
	tlvOctets    = 0x09
	tlvString    = 0x0a
	tlvDatetime  = 0x0c
	tlvScalar    = 0x0f
	tlvUint16    = 0x10
	tlvInt16     = 0x12
	tlvEnum      = 0x16

	controlByte   = 0x13
	frameHeaderSz = 3
	structHdrSkip = 6
)

// tickProcessBinary walks the TLV stream one element per iteration, within
// the per-tick time budget. Octet strings of length six select the current
// OBIS code; numeric elements publish under it with the fixed scale factors
// of the format. Array and structure headers are skipped, their elements
// follow as further TLVs and the checksum boundary is the only stop
// condition for nesting.
func (p *Parser) tickProcessBinary(start time.Time) {
	p.numProcessingLoops++
	data := p.buf.bytes()
	crcPos := p.buf.crcPos

	// On first entry, skip the frame header and locate the first element
	// behind the control byte and the structure header.
	if p.cursor == 0 {
		p.cursor = frameHeaderSz
		for p.cursor <= crcPos && data[p.cursor] != controlByte {
			p.cursor++
		}
		if p.cursor > crcPos {
			p.logger.Warn().Msg("Could not find control byte, resetting")
			p.changeState(StateErrorRecovery, start)
			return
		}
		p.cursor += structHdrSkip
	}

	for {
		if p.cursor >= crcPos {
			p.changeState(StateWaiting, start)
			return
		}

		tag := data[p.cursor]
		size, ok := p.elementSize(data, crcPos, tag)
		if !ok {
			p.changeState(StateErrorRecovery, start)
			return
		}
		if p.cursor+size > crcPos {
			p.logger.Warn().
				Str("type", hexByte(tag)).
				Msg("Element extends past checksum boundary, resetting")
			p.changeState(StateErrorRecovery, start)
			return
		}

		switch tag {
		case tlvUint32:
			raw := uint32(data[p.cursor+1])<<24 | uint32(data[p.cursor+2])<<16 |
				uint32(data[p.cursor+3])<<8 | uint32(data[p.cursor+4])
			p.publishBinary(float64(raw) / 1000.0)
		case tlvUint16:
			raw := uint16(data[p.cursor+1])<<8 | uint16(data[p.cursor+2])
			p.publishBinary(float64(raw) / 10.0)
		case tlvInt16:
			raw := int16(uint16(data[p.cursor+1])<<8 | uint16(data[p.cursor+2]))
			p.publishBinary(float64(raw) / 10.0)
		case tlvOctets:
			if size == 2+6 {
				p.curObis = obis.Encode(
					uint32(data[p.cursor+4]),
					uint32(data[p.cursor+5]),
					uint32(data[p.cursor+6]),
				)
			}
		}
		p.cursor += size

		if p.now().Sub(start) >= processingBudget {
			return
		}
	}
}

// elementSize returns the total encoded size of the element starting at
// the cursor. Elements with a length byte must keep that byte inside the
// checksum boundary; an unsupported tag aborts the telegram.
func (p *Parser) elementSize(data []byte, crcPos int, tag byte) (int, bool) {
	switch tag {
	case tlvNull:
		return 1, true
	case tlvArray, tlvStructure, tlvScalar, tlvEnum:
		return 2, true
	case tlvUint32:
		return 5, true
	case tlvUint16, tlvInt16:
		return 3, true
	case tlvDatetime:
		return 13, true
	case tlvOctets, tlvString:
		if p.cursor+1 >= crcPos {
			p.logger.Warn().
				Str("type", hexByte(tag)).
				Msg("Element extends past checksum boundary, resetting")
			return 0, false
		}
		return 2 + int(data[p.cursor+1]), true
	default:
		p.logger.Warn().
			Str("type", hexByte(tag)).
			Msg("Unsupported data type, resetting")
		return 0, false
	}
}

// publishBinary delivers a decoded value to the sensor registered for the
// most recently seen OBIS code, if any.
func (p *Parser) publishBinary(value float64) {
	if sensor, ok := p.registry.Lookup(p.curObis); ok {
		sensor.Publish(value)
	}
}
