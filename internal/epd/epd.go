// Package epd drives the 7.3 inch 800x480 seven-colour e-paper panel over
// SPI. The driver owns the panel lifecycle: reset and register setup, busy
// synchronization, frame transfer and deep sleep.
//
// A Driver is not safe for concurrent use. Callers that share one panel
// between goroutines must serialize whole operations.
package epd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/gpio"

	"epd7in3f/internal/log"
)

var (
	// ErrBusFault reports a failed SPI transfer or control line write.
	ErrBusFault = errors.New("bus fault")
	// ErrBusyTimeout reports that the panel never signalled ready.
	ErrBusyTimeout = errors.New("busy timeout")
	// ErrGeometryMismatch reports a framebuffer of the wrong size.
	ErrGeometryMismatch = errors.New("framebuffer size does not match panel geometry")
	ErrInvalidColour    = errors.New("invalid colour")
	ErrNotInitialized   = errors.New("panel not initialized")
	ErrSleeping         = errors.New("panel is in deep sleep")
	// ErrInvalidState reports an operation attempted after a fault or from
	// a state that does not allow it.
	ErrInvalidState = errors.New("invalid panel state")
)

// State is the driver's view of the panel lifecycle.
type State int

const (
	Unpowered State = iota
	Resetting
	Initialized
	Idle
	Transferring
	Refreshing
	Sleeping
	Faulted
)

func (s State) String() string {
	switch s {
	case Unpowered:
		return "unpowered"
	case Resetting:
		return "resetting"
	case Initialized:
		return "initialized"
	case Idle:
		return "idle"
	case Transferring:
		return "transferring"
	case Refreshing:
		return "refreshing"
	case Sleeping:
		return "sleeping"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Opts tunes busy synchronization.
type Opts struct {
	// BusyReady is the level the BUSY line reads once the panel is ready.
	BusyReady gpio.Level
	// BusyPoll is the interval between BUSY reads.
	BusyPoll time.Duration
	// BusyTimeout bounds a single wait.
	BusyTimeout time.Duration
	// SoftTimeout logs a busy timeout and carries on as if the panel were
	// ready instead of failing the operation.
	SoftTimeout bool
}

// DefaultOpts waits for BUSY to go high, polling every 10ms for up to 50s.
var DefaultOpts = Opts{
	BusyReady:   gpio.High,
	BusyPoll:    10 * time.Millisecond,
	BusyTimeout: 50 * time.Second,
}

// ActiveHighBusyOpts is for boards where BUSY is held high while the panel
// works and drops low when ready.
var ActiveHighBusyOpts = Opts{
	BusyReady:   gpio.Low,
	BusyPoll:    5 * time.Millisecond,
	BusyTimeout: 50 * time.Second,
}

// Driver controls one panel through a Transport.
type Driver struct {
	t     Transport
	opts  Opts
	state State
	// cmd is the last command sent, used to give data errors context.
	cmd command
}

// New returns a driver for the panel behind t. A nil opts means
// DefaultOpts; zero durations in opts fall back to the DefaultOpts values.
// The panel is not touched until Init.
func New(t Transport, opts *Opts) *Driver {
	o := DefaultOpts
	if opts != nil {
		o = *opts
		if o.BusyPoll <= 0 {
			o.BusyPoll = DefaultOpts.BusyPoll
		}
		if o.BusyTimeout <= 0 {
			o.BusyTimeout = DefaultOpts.BusyTimeout
		}
	}
	return &Driver{t: t, opts: o, state: Unpowered}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return d.state
}

// Close releases the transport if it holds any resources. The panel should
// be put to sleep first.
func (d *Driver) Close() error {
	if c, ok := d.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Init resets the panel, programs its registers and powers it on. It is
// also the only way out of Sleeping or Faulted.
func (d *Driver) Init(ctx context.Context) (err error) {
	start := time.Now()
	defer d.settle(&err, Idle)

	d.state = Resetting
	if err := d.reset(); err != nil {
		return err
	}
	if err := d.waitReady(ctx); err != nil {
		return err
	}
	d.t.Delay(30 * time.Millisecond)

	for _, f := range initSequence {
		if err := d.sendFrame(f.cmd, f.data...); err != nil {
			return err
		}
	}
	d.state = Initialized

	if err := d.sendCommand(cmdPON); err != nil {
		return err
	}
	if err := d.waitReady(ctx); err != nil {
		return err
	}
	log.Debug("epd: panel initialized", "elapsed", time.Since(start))
	return nil
}

// Clear fills the whole panel with c and refreshes it.
func (d *Driver) Clear(ctx context.Context, c Colour) error {
	if !c.Valid() {
		return fmt.Errorf("epd: clear with %s: %w", c, ErrInvalidColour)
	}
	p := c.Packed()
	return d.transfer(ctx, "clear", func() error {
		for i := 0; i < FrameSize; i++ {
			if err := d.sendData(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// testPatternBands are drawn left to right, the first four across the top
// half of the panel and the rest across the bottom half.
var testPatternBands = [8]Colour{Black, Blue, Green, Orange, Red, Yellow, White, White}

const bandBytes = RowBytes / 4

// ShowTestPattern draws eight colour bands and refreshes the panel.
func (d *Driver) ShowTestPattern(ctx context.Context) error {
	return d.transfer(ctx, "test pattern", func() error {
		for half := 0; half < 2; half++ {
			for row := 0; row < Height/2; row++ {
				for k := half * 4; k < half*4+4; k++ {
					p := testPatternBands[k].Packed()
					for i := 0; i < bandBytes; i++ {
						if err := d.sendData(p); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	})
}

// TestPattern returns the frame ShowTestPattern draws.
func TestPattern() Framebuffer {
	fb := Framebuffer{buf: make([]byte, FrameSize)}
	for y := 0; y < Height; y++ {
		half := y / (Height / 2)
		row := fb.buf[y*RowBytes : (y+1)*RowBytes]
		for i := range row {
			row[i] = testPatternBands[half*4+i/bandBytes].Packed()
		}
	}
	return fb
}

// Display sends fb to the panel and refreshes it. The driver does not keep
// a reference to fb once Display returns.
func (d *Driver) Display(ctx context.Context, fb Framebuffer) error {
	if !fb.Valid() {
		return fmt.Errorf("epd: display: %w", ErrGeometryMismatch)
	}
	buf := fb.Bytes()
	return d.transfer(ctx, "display", func() error {
		for j := 0; j < Height; j++ {
			for _, b := range buf[j*RowBytes : (j+1)*RowBytes] {
				if err := d.sendData(b); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Sleep puts the panel into deep sleep. Only Init wakes it up again.
// Sleeping an already sleeping panel does nothing.
func (d *Driver) Sleep(ctx context.Context) (err error) {
	switch d.state {
	case Sleeping:
		return nil
	case Unpowered:
		return fmt.Errorf("epd: sleep: %w", ErrNotInitialized)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer d.settle(&err, Sleeping)
	return d.sendFrame(cmdDSLP, deepSleepCheck)
}

// transfer streams one frame between DTM and the refresh cycle.
func (d *Driver) transfer(ctx context.Context, what string, body func() error) (err error) {
	if err := d.ready(); err != nil {
		return fmt.Errorf("epd: %s: %w", what, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer d.settle(&err, Idle)

	d.state = Transferring
	if err := d.sendCommand(cmdDTM); err != nil {
		return err
	}
	if err := body(); err != nil {
		return err
	}
	if err := d.turnOnDisplay(ctx); err != nil {
		return err
	}
	log.Debug("epd: frame shown", "op", what, "elapsed", time.Since(start))
	return nil
}

// turnOnDisplay powers the panel on, refreshes it and powers it off again,
// waiting for the panel after each step.
func (d *Driver) turnOnDisplay(ctx context.Context) error {
	d.state = Refreshing
	for _, f := range []frame{
		{cmdPON, nil},
		{cmdDRF, []byte{0x00}},
		{cmdPOF, []byte{0x00}},
	} {
		if err := d.sendFrame(f.cmd, f.data...); err != nil {
			return err
		}
		if err := d.waitReady(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) ready() error {
	switch d.state {
	case Idle:
		return nil
	case Unpowered:
		return ErrNotInitialized
	case Sleeping:
		return ErrSleeping
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, d.state)
}

// settle moves the driver to next on success and to Faulted on failure.
func (d *Driver) settle(err *error, next State) {
	if *err != nil {
		d.state = Faulted
		return
	}
	d.state = next
}

func (d *Driver) reset() error {
	for _, step := range []struct {
		l gpio.Level
		d time.Duration
	}{
		{gpio.High, 20 * time.Millisecond},
		{gpio.Low, 2 * time.Millisecond},
		{gpio.High, 20 * time.Millisecond},
	} {
		if err := d.t.SetReset(step.l); err != nil {
			return fmt.Errorf("epd: reset: %w: %w", ErrBusFault, err)
		}
		d.t.Delay(step.d)
	}
	return nil
}

// waitReady polls BUSY until it reads the ready level. Cancellation is
// observed between polls.
func (d *Driver) waitReady(ctx context.Context) error {
	polls := int(d.opts.BusyTimeout / d.opts.BusyPoll)
	if polls < 1 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if d.t.Busy() == d.opts.BusyReady {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("epd: waiting for panel: %w", err)
		}
		d.t.Delay(d.opts.BusyPoll)
	}
	if d.opts.SoftTimeout {
		log.Warn("epd: busy timeout, continuing", "last_cmd", d.cmd, "timeout", d.opts.BusyTimeout)
		return nil
	}
	return fmt.Errorf("epd: panel still busy after %s: %w", d.opts.BusyTimeout, ErrBusyTimeout)
}

func (d *Driver) sendFrame(c command, data ...byte) error {
	if err := d.sendCommand(c); err != nil {
		return err
	}
	for _, b := range data {
		if err := d.sendData(b); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) sendCommand(c command) error {
	d.cmd = c
	if err := d.write(gpio.Low, byte(c)); err != nil {
		return fmt.Errorf("epd: command %s: %w: %w", c, ErrBusFault, err)
	}
	return nil
}

func (d *Driver) sendData(b byte) error {
	if err := d.write(gpio.High, b); err != nil {
		return fmt.Errorf("epd: data for %s: %w: %w", d.cmd, ErrBusFault, err)
	}
	return nil
}

// write frames one byte with DC set to dc. CS is released even if the
// transfer fails.
func (d *Driver) write(dc gpio.Level, b byte) error {
	if err := d.t.SetDC(dc); err != nil {
		return err
	}
	if err := d.t.SetCS(gpio.Low); err != nil {
		return err
	}
	if err := d.t.Write(b); err != nil {
		_ = d.t.SetCS(gpio.High)
		return err
	}
	return d.t.SetCS(gpio.High)
}
