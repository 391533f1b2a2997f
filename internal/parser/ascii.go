package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/resident-x/go-p1mini/internal/obis"
)

// Line shapes accepted by the ASCII decoder. The full form carries an A-B:
// channel prefix and one or more parenthesized groups; the legacy forms put
// the value directly in the first group.
var (
	fullFormPattern = regexp.MustCompile(`^(\d+)-(\d+):(\d+)\.(\d+)\.(\d+)\(`)
	legacyPattern   = regexp.MustCompile(`^(?:1-0:)?(\d+)\.(\d+)\.(\d+)\((-?\d+(?:\.\d+)?)`)
	groupPattern    = regexp.MustCompile(`\(([^)]*)\)`)
)

// tickProcessASCII decodes buffered telegram lines until the telegram is
// exhausted or the per-tick time budget runs out. The decode cursor
// persists across ticks, so work resumes exactly where it stopped.
func (p *Parser) tickProcessASCII(start time.Time) {
	p.numProcessingLoops++
	data := p.buf.bytes()

	for {
		for p.cursor < len(data) && (data[p.cursor] == '\n' || data[p.cursor] == '\r') {
			p.cursor++
		}
		end := p.cursor
		for end < len(data) && data[end] != '\n' && data[end] != '\r' && data[end] != 0 && data[end] != crcMarkerByte {
			end++
		}

		if end != p.cursor {
			p.processLine(string(data[p.cursor:end]))
		}

		// The checksum marker or a terminating null ends the telegram, as
		// does running out of buffered data.
		if end == len(data) || data[end] == 0 || data[end] == crcMarkerByte {
			p.changeState(StateWaiting, start)
			return
		}
		p.cursor = end + 1

		if p.now().Sub(start) >= processingBudget {
			return
		}
	}
}

// processLine dispatches one telegram line to the matching numeric sensor
// or, failing that, to the first text sensor whose prefix matches.
func (p *Parser) processLine(line string) {
	key, value, isSensorLine := parseSensorLine(line)

	matched := false
	if isSensorLine {
		if sensor, ok := p.registry.Lookup(key); ok {
			matched = true
			sensor.Publish(value)
		}
	}
	if !matched {
		for _, textSensor := range p.registry.TextSensors() {
			if strings.HasPrefix(line, textSensor.Prefix()) {
				matched = true
				textSensor.Publish(line)
				break
			}
		}
	}
	if !matched {
		if isSensorLine {
			p.logger.Debug().
				Str("line", line).
				Str("obis", key.String()).
				Float64("value", value).
				Msg("No sensor matched line")
		} else {
			p.logger.Debug().Str("line", line).Msg("No sensor matched line")
		}
	}
}

// parseSensorLine recognizes the numeric sensor line forms. For the full
// form the value is taken from the first parenthesized group that is not a
// timestamp and parses as a number; when no group qualifies the line still
// counts as a sensor line and the value stays -1.
func parseSensorLine(line string) (key obis.Key, value float64, ok bool) {
	value = -1.0

	if m := fullFormPattern.FindStringSubmatch(line); m != nil {
		major, _ := strconv.ParseUint(m[3], 10, 32)
		minor, _ := strconv.ParseUint(m[4], 10, 32)
		micro, _ := strconv.ParseUint(m[5], 10, 32)

		for _, group := range groupPattern.FindAllStringSubmatch(line, -1) {
			content := group[1]
			if looksLikeTimestamp(content) {
				continue
			}
			if v, valid := parseGroupValue(content); valid {
				value = v
				break
			}
		}
		return obis.Encode(uint32(major), uint32(minor), uint32(micro)), value, true
	}

	if m := legacyPattern.FindStringSubmatch(line); m != nil {
		major, _ := strconv.ParseUint(m[1], 10, 32)
		minor, _ := strconv.ParseUint(m[2], 10, 32)
		micro, _ := strconv.ParseUint(m[3], 10, 32)
		if v, err := strconv.ParseFloat(m[4], 64); err == nil {
			value = v
		}
		return obis.Encode(uint32(major), uint32(minor), uint32(micro)), value, true
	}

	return obis.KeyError, value, false
}

// looksLikeTimestamp is a heuristic, not a grammar: a group longer than ten
// characters ending in the DST marker W or S, or consisting only of digits,
// is treated as a timestamp and skipped. Meters emitting unusual unit
// suffixes may be misclassified.
func looksLikeTimestamp(content string) bool {
	if len(content) <= 10 {
		return false
	}
	if content[len(content)-1] == 'W' || content[len(content)-1] == 'S' {
		return true
	}
	for i := 0; i < len(content); i++ {
		if content[i] < '0' || content[i] > '9' {
			return false
		}
	}
	return true
}

// parseGroupValue extracts the numeric prefix of a group such as
// "00123.456*kWh". Leading zeros before anything but a decimal point are
// skipped first.
func parseGroupValue(content string) (float64, bool) {
	i := 0
	for i+1 < len(content) && content[i] == '0' && content[i+1] != '.' {
		i++
	}

	j := i
	if j < len(content) && (content[j] == '-' || content[j] == '+') {
		j++
	}
	sawDot := false
	for j < len(content) {
		c := content[j]
		if c >= '0' && c <= '9' {
			j++
		} else if c == '.' && !sawDot {
			sawDot = true
			j++
		} else {
			break
		}
	}
	if j == i {
		return 0, false
	}

	v, err := strconv.ParseFloat(content[i:j], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
