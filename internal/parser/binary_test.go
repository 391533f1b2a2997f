package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryUint16Dispatch(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	sensor := &captureSensor{}
	require.NoError(t, registry.Register("1.8.0", sensor))

	// An octet string of length six selects OBIS 1.8.0; the unsigned
	// 16-bit element that follows carries 100, scaled by 1/10.
	source.feed(binaryTelegram([]byte{
		0x09, 0x06, 0x01, 0x00, 0x01, 0x08, 0x00, 0xff,
		0x10, 0x00, 0x64,
	}))
	tickUntil(t, p, clock, StateWaiting, 10)

	require.Len(t, sensor.values, 1)
	assert.InDelta(t, 10.0, sensor.values[0], 1e-9)
}

func TestBinaryUint32Scaling(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	sensor := &captureSensor{}
	require.NoError(t, registry.Register("1.8.0", sensor))

	// 0x0001e240 = 123456, scaled by 1/1000.
	source.feed(binaryTelegram([]byte{
		0x09, 0x06, 0x01, 0x00, 0x01, 0x08, 0x00, 0xff,
		0x06, 0x00, 0x01, 0xe2, 0x40,
	}))
	tickUntil(t, p, clock, StateWaiting, 10)

	require.Len(t, sensor.values, 1)
	assert.InDelta(t, 123.456, sensor.values[0], 1e-9)
}

func TestBinarySignedValue(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	sensor := &captureSensor{}
	require.NoError(t, registry.Register("21.7.0", sensor))

	// 0xffce = -50 as int16, scaled by 1/10.
	source.feed(binaryTelegram([]byte{
		0x09, 0x06, 0x01, 0x00, 0x15, 0x07, 0x00, 0xff,
		0x12, 0xff, 0xce,
	}))
	tickUntil(t, p, clock, StateWaiting, 10)

	require.Len(t, sensor.values, 1)
	assert.InDelta(t, -5.0, sensor.values[0], 1e-9)
}

func TestBinaryObisSwitching(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	first := &captureSensor{}
	second := &captureSensor{}
	require.NoError(t, registry.Register("1.8.0", first))
	require.NoError(t, registry.Register("2.8.0", second))

	// A structure header, two OBIS selections with one value each, and
	// skip-only elements (enum, scalar, datetime, string, null) between.
	source.feed(binaryTelegram([]byte{
		0x02, 0x04,
		0x09, 0x06, 0x01, 0x00, 0x01, 0x08, 0x00, 0xff,
		0x00,
		0x16, 0x1e,
		0x10, 0x00, 0x0a,
		0x0c, 0x07, 0xe8, 0x06, 0x01, 0x06, 0x0c, 0x00, 0x00, 0x00, 0xff, 0xc4, 0x00,
		0x09, 0x06, 0x01, 0x00, 0x02, 0x08, 0x00, 0xff,
		0x0a, 0x03, 0x61, 0x62, 0x63,
		0x0f, 0xfd,
		0x10, 0x00, 0x14,
	}))
	tickUntil(t, p, clock, StateWaiting, 10)

	require.Len(t, first.values, 1)
	assert.InDelta(t, 1.0, first.values[0], 1e-9)
	require.Len(t, second.values, 1)
	assert.InDelta(t, 2.0, second.values[0], 1e-9)
}

func TestBinaryValueWithoutObisIsDropped(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	sensor := &captureSensor{}
	require.NoError(t, registry.Register("1.8.0", sensor))

	// No octet string selects an OBIS code first, so the value has no
	// destination and is dropped.
	source.feed(binaryTelegram([]byte{0x10, 0x00, 0x64}))
	tickUntil(t, p, clock, StateWaiting, 10)

	assert.Empty(t, sensor.values)
}

func TestBinaryUnsupportedTypeTag(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	sensor := &captureSensor{}
	require.NoError(t, registry.Register("1.8.0", sensor))

	source.feed(binaryTelegram([]byte{0x07, 0x00, 0x00}))
	tickUntil(t, p, clock, StateErrorRecovery, 10)

	assert.Empty(t, sensor.values)
}

func TestBinaryMissingControlByte(t *testing.T) {
	p, source, clock, _ := newTestParser(t, 3072, 0)

	// Hand-built frame with a valid checksum but no 0x13 control byte.
	frame := []byte{0x7e, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05}
	crcPos := len(frame)
	lengthField := crcPos + 1
	frame[1] = 0xa0 | byte(lengthField>>8)
	frame[2] = byte(lengthField)
	// Keep the CRC low byte from accidentally looking like a control byte,
	// since it sits inside the scan range.
	crc := binaryChecksum(frame[1:crcPos])
	for byte(crc) == controlByte {
		frame[3]++
		crc = binaryChecksum(frame[1:crcPos])
	}
	frame = append(frame, byte(crc), byte(crc>>8), 0x7e)

	source.feed(frame)
	tickUntil(t, p, clock, StateErrorRecovery, 10)
}

func TestBinaryMalformedFrameHeader(t *testing.T) {
	p, source, _, _ := newTestParser(t, 3072, 0)

	// Top three bits of the second frame byte must be 0b101.
	source.feed([]byte{0x7e, 0x30, 0x10})
	p.Tick()
	assert.Equal(t, StateErrorRecovery, p.State())
}

func TestBinaryMissingTrailingFrameByte(t *testing.T) {
	p, source, clock, _ := newTestParser(t, 3072, 0)

	telegram := binaryTelegram([]byte{
		0x09, 0x06, 0x01, 0x00, 0x01, 0x08, 0x00, 0xff,
		0x10, 0x00, 0x64,
	})
	telegram[len(telegram)-1] = 0x00 // clobber the closing 0x7e
	source.feed(telegram)
	tickUntil(t, p, clock, StateErrorRecovery, 10)
}

func TestBinaryTruncatedElement(t *testing.T) {
	p, source, clock, registry := newTestParser(t, 3072, 0)

	sensor := &captureSensor{}
	require.NoError(t, registry.Register("1.8.0", sensor))

	// The octet string claims more bytes than the telegram holds, pushing
	// the cursor past the checksum boundary mid-element on the next tag.
	source.feed(binaryTelegram([]byte{
		0x09, 0x06, 0x01, 0x00, 0x01, 0x08, 0x00, 0xff,
		0x06, 0x00, // truncated uint32
	}))
	tickUntil(t, p, clock, StateErrorRecovery, 10)

	assert.Empty(t, sensor.values)
}
