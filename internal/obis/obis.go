// Package obis provides encoding and parsing of OBIS measurement codes.
package obis

import "fmt"

// Key packs the C.D.E part of an OBIS code into a single 32-bit value used
// as a map key. The optional A-B: channel prefix is accepted by Parse but
// not retained in the key.
type Key uint32

// KeyError is the sentinel returned for any code that cannot be parsed.
const KeyError Key = 0xffffffff

// Encode combines the three fields of a C.D.E code into a Key. Out-of-range
// bits are masked off, not reported.
func Encode(major, minor, micro uint32) Key {
	return Key((major&0xfff)<<16 | (minor&0xff)<<8 | micro&0xff)
}

// Parse accepts either the full form "A-B:C.D.E" or the simple form "C.D.E"
// and returns the corresponding Key, or KeyError on malformed input.
func Parse(code string) Key {
	var aPart, major, minor, micro uint32
	var ok bool
	i := 0

	aPart, i, ok = scanNumber(code, i)
	if !ok || i >= len(code) {
		return KeyError
	}

	switch code[i] {
	case '-':
		// Full format: A-B:C.D.E. The A and B channel fields are validated
		// but discarded.
		i++
		if _, i, ok = scanNumber(code, i); !ok {
			return KeyError
		}
		if i >= len(code) || code[i] != ':' {
			return KeyError
		}
		if major, i, ok = scanNumber(code, i+1); !ok {
			return KeyError
		}
		if i >= len(code) || code[i] != '.' {
			return KeyError
		}
		if minor, i, ok = scanNumber(code, i+1); !ok {
			return KeyError
		}
		if i >= len(code) || code[i] != '.' {
			return KeyError
		}
		if micro, i, ok = scanNumber(code, i+1); !ok {
			return KeyError
		}
	case '.':
		// Simple format: C.D.E.
		major = aPart
		if minor, i, ok = scanNumber(code, i+1); !ok {
			return KeyError
		}
		if i >= len(code) || code[i] != '.' {
			return KeyError
		}
		if micro, i, ok = scanNumber(code, i+1); !ok {
			return KeyError
		}
	default:
		return KeyError
	}

	if i != len(code) {
		return KeyError
	}
	return Encode(major, minor, micro)
}

// Major returns the C field of the key.
func (k Key) Major() uint32 { return uint32(k) >> 16 & 0xfff }

// Minor returns the D field of the key.
func (k Key) Minor() uint32 { return uint32(k) >> 8 & 0xff }

// Micro returns the E field of the key.
func (k Key) Micro() uint32 { return uint32(k) & 0xff }

// String renders the key in the simple C.D.E form.
func (k Key) String() string {
	if k == KeyError {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d.%d", k.Major(), k.Minor(), k.Micro())
}

// scanNumber reads a run of decimal digits starting at position i and
// returns the accumulated value and the position of the first non-digit.
// ok is false when no digit was found.
func scanNumber(s string, i int) (value uint32, next int, ok bool) {
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		value = value*10 + uint32(s[i]-'0')
		i++
	}
	return value, i, i > start
}
