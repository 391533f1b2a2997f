// Command p1-sim emits synthetic P1 telegrams for testing go-p1mini without
// a meter attached. It writes to a serial device (for example one end of a
// socat pty pair) or to stdout, in either the ASCII or the binary framing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sigurn/crc16"
	serial "go.bug.st/serial"
)

// MeterSimulator generates telegrams with slowly drifting values.
type MeterSimulator struct {
	out      io.Writer
	format   string
	interval time.Duration
	verbose  bool

	asciiTable  *crc16.Table
	binaryTable *crc16.Table

	energy float64
	cycle  int
}

// NewMeterSimulator creates a simulator writing to out.
func NewMeterSimulator(out io.Writer, format string, interval time.Duration, verbose bool) *MeterSimulator {
	return &MeterSimulator{
		out:         out,
		format:      format,
		interval:    interval,
		verbose:     verbose,
		asciiTable:  crc16.MakeTable(crc16.CRC16_ARC),
		binaryTable: crc16.MakeTable(crc16.CRC16_X_25),
		energy:      12345.678,
	}
}

// power returns a day-curve-ish instantaneous power in kW.
func (sim *MeterSimulator) power() float64 {
	return 0.35 + 0.3*math.Sin(float64(sim.cycle)/20.0) + 0.05*math.Sin(float64(sim.cycle)/3.0)
}

// asciiTelegram composes one checksummed ASCII telegram.
func (sim *MeterSimulator) asciiTelegram() []byte {
	power := sim.power()
	sim.energy += power * sim.interval.Hours()

	body := fmt.Sprintf("/SIM5\\p1-sim\r\n"+
		"\r\n"+
		"1-0:1.8.0(%09.3f*kWh)\r\n"+
		"1-0:1.7.0(%06.3f*kW)\r\n"+
		"1-0:32.7.0(%05.1f*V)\r\n"+
		"!", sim.energy, power, 229.0+math.Sin(float64(sim.cycle)/7.0))

	crc := crc16.Checksum([]byte(body), sim.asciiTable)
	return []byte(fmt.Sprintf("%s%04X\r\n", body, crc))
}

// binaryTelegram composes one HDLC-framed telegram carrying the same
// measurements as scaled integer elements.
func (sim *MeterSimulator) binaryTelegram() []byte {
	power := sim.power()
	sim.energy += power * sim.interval.Hours()

	var elements []byte
	addUint32 := func(major, minor, micro byte, value uint32) {
		// Octet string element selecting the OBIS code, then the value.
		elements = append(elements, 0x09, 0x06, 0x01, 0x00, major, minor, micro, 0xff)
		elements = append(elements, 0x06,
			byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	}
	addUint16 := func(major, minor, micro byte, value uint16) {
		elements = append(elements, 0x09, 0x06, 0x01, 0x00, major, minor, micro, 0xff)
		elements = append(elements, 0x10, byte(value>>8), byte(value))
	}

	addUint32(1, 8, 0, uint32(sim.energy*1000))
	addUint16(1, 7, 0, uint16(power*10))
	addUint16(32, 7, 0, uint16((229.0+math.Sin(float64(sim.cycle)/7.0))*10))

	// Frame header, control byte and structure header ahead of the elements.
	payload := []byte{0x01, 0x02, 0x13, 0xe6, 0xe7, 0x00, 0x0f, 0x00}
	payload = append(payload, elements...)

	// The 13-bit length field points one past the checksum position.
	crcPos := 3 + len(payload)
	frameLen := crcPos + 1
	frame := []byte{0x7e, 0xa0 | byte(frameLen>>8), byte(frameLen)}
	frame = append(frame, payload...)

	crc := crc16.Checksum(frame[1:crcPos], sim.binaryTable)
	frame = append(frame, byte(crc), byte(crc>>8), 0x7e)
	return frame
}

// Run emits telegrams until the context is cancelled.
func (sim *MeterSimulator) Run(ctx context.Context) error {
	log.Printf("Starting P1 meter simulator")
	log.Printf("   Format: %s", sim.format)
	log.Printf("   Interval: %v", sim.interval)
	log.Printf("Press Ctrl+C to stop...")

	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	sent := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(startTime)
			log.Printf("Simulator stopped: %d telegrams in %v", sent, elapsed.Round(time.Second))
			return ctx.Err()

		case <-ticker.C:
			sim.cycle++

			var telegram []byte
			if sim.format == "binary" {
				telegram = sim.binaryTelegram()
			} else {
				telegram = sim.asciiTelegram()
			}

			if _, err := sim.out.Write(telegram); err != nil {
				return fmt.Errorf("failed to write telegram: %w", err)
			}

			sent++
			if sim.verbose {
				log.Printf("Sent telegram %d (%d bytes, energy %.3f kWh)", sent, len(telegram), sim.energy)
			} else if sent%10 == 0 {
				log.Printf("Sent %d telegrams", sent)
			}
		}
	}
}

func main() {
	var (
		device   = flag.String("device", "", "Serial device to write to (empty writes to stdout)")
		baud     = flag.Int("baud", 115200, "Serial baud rate")
		format   = flag.String("format", "ascii", "Telegram format: ascii or binary")
		interval = flag.Duration("interval", 10*time.Second, "Interval between telegrams")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *format != "ascii" && *format != "binary" {
		log.Fatalf("Unknown format %q, want ascii or binary", *format)
	}

	var out io.Writer = os.Stdout
	if *device != "" {
		port, err := serial.Open(*device, &serial.Mode{BaudRate: *baud})
		if err != nil {
			log.Fatalf("Cannot open serial device %s: %v", *device, err)
		}
		defer port.Close()
		out = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	sim := NewMeterSimulator(out, *format, *interval, *verbose)
	if err := sim.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Simulator error: %v", err)
	}
}
