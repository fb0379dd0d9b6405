// Package panel shares one e-paper driver between the HTTP API, the
// slideshow and one-shot CLI actions.
package panel

import (
	"context"
	"fmt"
	"time"

	"epd7in3f/internal/epd"
	"epd7in3f/internal/log"
	"epd7in3f/internal/syncutil"
)

// Device is the subset of *epd.Driver the panel service needs.
type Device interface {
	Init(ctx context.Context) error
	Clear(ctx context.Context, c epd.Colour) error
	ShowTestPattern(ctx context.Context) error
	Display(ctx context.Context, fb epd.Framebuffer) error
	Sleep(ctx context.Context) error
	State() epd.State
}

// Status is a snapshot of the panel for reporting.
type Status struct {
	State      string    `json:"state"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	LastOp     string    `json:"last_op,omitempty"`
	LastUpdate time.Time `json:"last_update,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// Panel serializes whole operations on a Device. Each update wakes the panel
// with Init when needed and, unless KeepAwake is set, puts it back to deep
// sleep afterwards.
type Panel struct {
	mu        syncutil.Mutex
	dev       Device
	keepAwake bool
	now       func() time.Time

	last       epd.Framebuffer
	lastOp     string
	lastUpdate time.Time
	lastErr    error
}

type Option func(*Panel)

// KeepAwake leaves the panel powered between updates.
func KeepAwake(v bool) Option {
	return func(p *Panel) { p.keepAwake = v }
}

func New(dev Device, opts ...Option) *Panel {
	p := &Panel{dev: dev, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Clear fills the panel with c.
func (p *Panel) Clear(ctx context.Context, c epd.Colour) error {
	if !c.Valid() {
		return fmt.Errorf("panel: clear with %s: %w", c, epd.ErrInvalidColour)
	}
	return p.update(ctx, "clear", func() error {
		return p.dev.Clear(ctx, c)
	}, func() epd.Framebuffer {
		return epd.NewFilledFramebuffer(c)
	})
}

// ShowTestPattern draws the colour band test pattern.
func (p *Panel) ShowTestPattern(ctx context.Context) error {
	return p.update(ctx, "test-pattern", func() error {
		return p.dev.ShowTestPattern(ctx)
	}, epd.TestPattern)
}

// Display shows fb. The frame is copied, so the caller may reuse fb.
func (p *Panel) Display(ctx context.Context, fb epd.Framebuffer) error {
	if !fb.Valid() {
		return fmt.Errorf("panel: display: %w", epd.ErrGeometryMismatch)
	}
	frame := fb.Clone()
	return p.update(ctx, "display", func() error {
		return p.dev.Display(ctx, frame)
	}, func() epd.Framebuffer { return frame })
}

// Sleep puts the panel into deep sleep now.
func (p *Panel) Sleep(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev.Sleep(ctx)
}

// LastFrame returns a copy of the last frame shown, if any.
func (p *Panel) LastFrame() (epd.Framebuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.Valid() {
		return epd.Framebuffer{}, false
	}
	return p.last.Clone(), true
}

func (p *Panel) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		State:      p.dev.State().String(),
		Width:      epd.Width,
		Height:     epd.Height,
		LastOp:     p.lastOp,
		LastUpdate: p.lastUpdate,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}

func (p *Panel) update(ctx context.Context, op string, run func() error, frame func() epd.Framebuffer) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.now()
	defer func() {
		p.lastOp = op
		p.lastErr = err
		if err != nil {
			log.Error("panel: update failed", err, "op", op)
			p.park(ctx)
			return
		}
		p.lastUpdate = p.now()
		log.Info("panel: updated", "op", op, "elapsed", p.lastUpdate.Sub(start))
	}()

	if p.dev.State() != epd.Idle {
		if err := p.dev.Init(ctx); err != nil {
			return err
		}
	}
	if err := run(); err != nil {
		return err
	}
	p.last = frame()
	if p.keepAwake {
		return nil
	}
	return p.dev.Sleep(ctx)
}

// park puts the panel back to deep sleep after a failed update so it is not
// left powered. Cancellation of ctx does not stop it.
func (p *Panel) park(ctx context.Context) {
	if p.keepAwake {
		return
	}
	switch p.dev.State() {
	case epd.Unpowered, epd.Sleeping:
		return
	}
	if err := p.dev.Sleep(context.WithoutCancel(ctx)); err != nil {
		log.Warn("panel: could not sleep after failure", "error", err)
	}
}
