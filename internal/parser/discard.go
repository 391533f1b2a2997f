package parser

import "github.com/rs/zerolog"

const discardLogCapacity = 256 // hex characters, i.e. 128 raw bytes

const hexChars = "0123456789abcdef"

// discardLog accumulates a hex dump of bytes thrown away during error
// recovery. It emits and resets itself when full; the owner flushes it when
// recovery ends so no discarded byte goes unreported.
type discardLog struct {
	buf    []byte
	logger zerolog.Logger
}

func newDiscardLog(logger zerolog.Logger) *discardLog {
	return &discardLog{
		buf:    make([]byte, 0, discardLogCapacity),
		logger: logger,
	}
}

// add appends one discarded byte as two hex characters.
func (d *discardLog) add(b byte) {
	d.buf = append(d.buf, hexChars[b>>4], hexChars[b&0xf])
	if len(d.buf) == cap(d.buf) {
		d.flush()
	}
}

// flush emits the accumulated dump, if any, and resets the log.
func (d *discardLog) flush() {
	if len(d.buf) == 0 {
		return
	}
	d.logger.Warn().Str("bytes", string(d.buf)).Msg("Discarding")
	d.buf = d.buf[:0]
}
