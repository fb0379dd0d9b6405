// Package schedule rotates prepared framebuffer files on the panel on a cron
// schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"epd7in3f/internal/convert"
	"epd7in3f/internal/epd"
	"epd7in3f/internal/log"
)

// Displayer shows one frame. *panel.Panel satisfies it.
type Displayer interface {
	Display(ctx context.Context, fb epd.Framebuffer) error
}

// Slideshow shows frames in order, one per cron tick, wrapping around at the
// end. A frame that fails to load or display is logged and skipped.
type Slideshow struct {
	panel   Displayer
	fs      afero.Fs
	frames  []string
	timeout time.Duration

	cron *cron.Cron

	mu   sync.Mutex
	next int
}

// DefaultTickTimeout bounds one slide, which includes a full panel refresh.
const DefaultTickTimeout = 3 * time.Minute

// New builds a slideshow for spec, a standard 5-field cron expression.
func New(panel Displayer, fsys afero.Fs, spec string, frames []string) (*Slideshow, error) {
	if len(frames) == 0 {
		return nil, errors.New("schedule: no frames")
	}
	s := &Slideshow{
		panel:   panel,
		fs:      fsys,
		frames:  append([]string(nil), frames...),
		timeout: DefaultTickTimeout,
	}
	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule: bad spec %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Slideshow) Start() {
	log.Info("schedule: slideshow started", "frames", len(s.frames))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running slide to finish or for ctx
// to end, whichever comes first.
func (s *Slideshow) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance shows the next frame immediately. The position moves on even if
// the frame fails, so one bad file does not stall the rotation.
func (s *Slideshow) Advance(ctx context.Context) error {
	s.mu.Lock()
	path := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	s.mu.Unlock()

	fb, err := convert.LoadFramebuffer(s.fs, path)
	if err != nil {
		return fmt.Errorf("schedule: load frame: %w", err)
	}
	if err := s.panel.Display(ctx, fb); err != nil {
		return fmt.Errorf("schedule: display %s: %w", path, err)
	}
	log.Info("schedule: slide shown", "frame", path)
	return nil
}

func (s *Slideshow) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Advance(ctx); err != nil {
		log.Error("schedule: slide failed", err)
	}
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error("cron: "+msg, err, keysAndValues...)
}
