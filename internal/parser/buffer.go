package parser

// messageBuffer holds exactly one in-flight telegram. The write cursor never
// exceeds the fixed capacity; a write past capacity is reported to the
// caller, not performed.
type messageBuffer struct {
	data   []byte
	pos    int
	crcPos int // offset where the trailing checksum begins; 0 = not yet known
}

func newMessageBuffer(capacity int) *messageBuffer {
	return &messageBuffer{data: make([]byte, capacity)}
}

// append stores one byte at the write cursor. It returns false when the
// buffer is already full.
func (b *messageBuffer) append(c byte) bool {
	if b.pos == len(b.data) {
		return false
	}
	b.data[b.pos] = c
	b.pos++
	return true
}

// full reports whether the write cursor has reached capacity.
func (b *messageBuffer) full() bool {
	return b.pos == len(b.data)
}

// bytes returns the telegram received so far.
func (b *messageBuffer) bytes() []byte {
	return b.data[:b.pos]
}

// reset prepares the buffer for the next telegram.
func (b *messageBuffer) reset() {
	b.pos = 0
	b.crcPos = 0
}
