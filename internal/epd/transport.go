package epd

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Transport is the wiring between the driver and the panel: one SPI data
// line plus the DC, CS, RST and BUSY control lines.
type Transport interface {
	SetDC(l gpio.Level) error
	SetCS(l gpio.Level) error
	SetReset(l gpio.Level) error
	// Write clocks a single byte out on the SPI bus.
	Write(b byte) error
	Busy() gpio.Level
	Delay(d time.Duration)
}

// Pins names the GPIO lines used by the panel, as understood by gpioreg.
type Pins struct {
	Reset string
	DC    string
	CS    string
	Busy  string
}

// DefaultPins matches the Waveshare HAT wiring on a Raspberry Pi.
var DefaultPins = Pins{
	Reset: "GPIO17",
	DC:    "GPIO25",
	CS:    "GPIO8",
	Busy:  "GPIO24",
}

// BusConfig selects the SPI port and pins used to reach the panel.
type BusConfig struct {
	// Port is the spireg port name; empty picks the first registered port.
	Port  string
	MaxHz physic.Frequency
	Pins  Pins
}

// DefaultMaxHz is the SPI clock used when BusConfig.MaxHz is zero.
const DefaultMaxHz = 4 * physic.MegaHertz

// PeriphTransport drives the panel through periph.io SPI and GPIO.
type PeriphTransport struct {
	port  spi.PortCloser
	conn  spi.Conn
	dc    gpio.PinOut
	cs    gpio.PinOut
	rst   gpio.PinOut
	busy  gpio.PinIn
	clock clockwork.Clock
	tx    [1]byte
}

// Open initializes the host drivers, opens the SPI port and resolves the
// control pins named in cfg.
func Open(cfg BusConfig) (*PeriphTransport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port %q: %w", cfg.Port, err)
	}

	pins := cfg.Pins
	if pins == (Pins{}) {
		pins = DefaultPins
	}
	lookup := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("epd: gpio %s not found", name)
		}
		return p, nil
	}
	var errs []error
	rst, err := lookup(pins.Reset)
	errs = append(errs, err)
	dc, err := lookup(pins.DC)
	errs = append(errs, err)
	cs, err := lookup(pins.CS)
	errs = append(errs, err)
	busy, err := lookup(pins.Busy)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		_ = port.Close()
		return nil, err
	}

	t, err := NewPeriphTransport(port, cfg.MaxHz, dc, cs, rst, busy, clockwork.NewRealClock())
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewPeriphTransport connects to port and puts the control lines in their
// idle state: CS high, DC low, RST high and BUSY as an input.
func NewPeriphTransport(port spi.PortCloser, maxHz physic.Frequency, dc, cs, rst gpio.PinOut, busy gpio.PinIn, clock clockwork.Clock) (*PeriphTransport, error) {
	if maxHz == 0 {
		maxHz = DefaultMaxHz
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c, err := port.Connect(maxHz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}
	for _, o := range []struct {
		pin gpio.PinOut
		l   gpio.Level
	}{{cs, gpio.High}, {dc, gpio.Low}, {rst, gpio.High}} {
		if err := o.pin.Out(o.l); err != nil {
			return nil, fmt.Errorf("epd: %s.Out(%s) = %w", o.pin, o.l, err)
		}
	}
	if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: %s.In() = %w", busy, err)
	}
	return &PeriphTransport{
		port:  port,
		conn:  c,
		dc:    dc,
		cs:    cs,
		rst:   rst,
		busy:  busy,
		clock: clock,
	}, nil
}

func (t *PeriphTransport) SetDC(l gpio.Level) error {
	return t.out(t.dc, l)
}

func (t *PeriphTransport) SetCS(l gpio.Level) error {
	return t.out(t.cs, l)
}

func (t *PeriphTransport) SetReset(l gpio.Level) error {
	return t.out(t.rst, l)
}

func (t *PeriphTransport) Write(b byte) error {
	t.tx[0] = b
	if err := t.conn.Tx(t.tx[:], nil); err != nil {
		return fmt.Errorf("epd: spi tx: %w", err)
	}
	return nil
}

func (t *PeriphTransport) Busy() gpio.Level {
	return t.busy.Read()
}

func (t *PeriphTransport) Delay(d time.Duration) {
	t.clock.Sleep(d)
}

// Close releases the SPI port.
func (t *PeriphTransport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}

func (t *PeriphTransport) out(p gpio.PinOut, l gpio.Level) error {
	if err := p.Out(l); err != nil {
		return fmt.Errorf("epd: %s.Out(%s) = %w", p, l, err)
	}
	return nil
}
