package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"epd7in3f/internal/epd"
)

// bus is a minimal epd.Transport that logs command bytes. Once stuckAfter
// has been sent, BUSY never reports ready again.
type bus struct {
	dc         gpio.Level
	cmds       []byte
	stuckAfter byte
	stuck      bool
}

func (b *bus) SetDC(l gpio.Level) error { b.dc = l; return nil }

func (b *bus) SetCS(gpio.Level) error { return nil }

func (b *bus) SetReset(gpio.Level) error { return nil }

func (b *bus) Delay(time.Duration) {}

func (b *bus) Write(v byte) error {
	if b.dc == gpio.Low {
		b.cmds = append(b.cmds, v)
		if b.stuckAfter != 0 && v == b.stuckAfter {
			b.stuck = true
		}
	}
	return nil
}

func (b *bus) Busy() gpio.Level {
	if b.stuck {
		return gpio.Low
	}
	return gpio.High
}

func newDriverPanel(b *bus) (*Panel, *epd.Driver) {
	drv := epd.New(b, &epd.Opts{
		BusyReady:   gpio.High,
		BusyPoll:    time.Millisecond,
		BusyTimeout: 4 * time.Millisecond,
	})
	return New(drv), drv
}

func TestInvalidColourLeavesBusQuiet(t *testing.T) {
	t.Parallel()
	b := &bus{}
	p, drv := newDriverPanel(b)

	err := p.Clear(context.Background(), epd.Colour(9))
	require.ErrorIs(t, err, epd.ErrInvalidColour)
	assert.Empty(t, b.cmds)
	assert.Equal(t, epd.Unpowered, drv.State())
}

func TestBusyTimeoutParksPanel(t *testing.T) {
	t.Parallel()
	b := &bus{stuckAfter: 0x10}
	p, drv := newDriverPanel(b)

	err := p.Clear(context.Background(), epd.White)
	require.True(t, errors.Is(err, epd.ErrBusyTimeout), "got %v", err)

	require.NotEmpty(t, b.cmds)
	assert.Equal(t, byte(0x07), b.cmds[len(b.cmds)-1], "last command should be deep sleep")
	assert.Equal(t, epd.Sleeping, drv.State())
	assert.Contains(t, p.Status().LastError, "busy timeout")
}

func TestCancelledUpdateStillParksPanel(t *testing.T) {
	t.Parallel()
	b := &bus{stuckAfter: 0x10}
	p, drv := newDriverPanel(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, drv.Init(context.Background()))
	b.cmds = nil

	err := p.Clear(ctx, epd.Red)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []byte{0x07}, b.cmds)
	assert.Equal(t, epd.Sleeping, drv.State())
}
