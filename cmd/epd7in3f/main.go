package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"epd7in3f/internal/config"
	"epd7in3f/internal/convert"
	"epd7in3f/internal/epd"
	appLog "epd7in3f/internal/log"
	"epd7in3f/internal/panel"
	"epd7in3f/internal/schedule"
	"epd7in3f/internal/syncutil"
	"epd7in3f/internal/web"
)

type flagConfig struct {
	configPath  string
	listen      string
	clear       string
	testPattern bool
	image       string
	sleep       bool
	noSleep     bool
	serve       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level, _ := appLog.ParseLevel(conf.Log.Level)
	closeLog, err := appLog.Setup(appLog.Options{Level: level, File: conf.Log.File})
	if err != nil {
		appLog.Error("failed to set up logging", err)
		os.Exit(1)
	}
	defer closeLog()

	appLog.Info("epd7in3f starting",
		"spi_port", conf.SPI.Port,
		"busy_ready", conf.Busy.Ready,
		"busy_timeout", conf.Busy.Timeout,
		"serve", flags.serve,
		"deadlock_detection", syncutil.DeadlockEnabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("epd7in3f failed", err)
		cancel()
		closeLog()
		os.Exit(1)
	}
	appLog.Info("epd7in3f exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	var frame epd.Framebuffer
	if flags.image != "" {
		fb, err := convert.LoadFramebuffer(afero.NewOsFs(), flags.image)
		if err != nil {
			return err
		}
		frame = fb
	}
	var clearColour epd.Colour
	if flags.clear != "" {
		if err := clearColour.Set(flags.clear); err != nil {
			return err
		}
	}

	bus, err := epd.Open(conf.BusConfig())
	if err != nil {
		return err
	}
	opts := conf.DriverOpts()
	drv := epd.New(bus, &opts)
	defer drv.Close()

	keepAwake := flags.noSleep || (flags.serve && conf.Slideshow.KeepAwake)
	p := panel.New(drv, panel.KeepAwake(keepAwake))

	switch {
	case flags.clear != "":
		err = p.Clear(ctx, clearColour)
	case flags.testPattern:
		err = p.ShowTestPattern(ctx)
	case flags.image != "":
		err = p.Display(ctx, frame)
	case flags.sleep:
		if err := drv.Init(ctx); err != nil {
			return err
		}
		err = p.Sleep(ctx)
	}
	if err != nil || !flags.serve {
		return err
	}
	return serve(ctx, conf, p)
}

func serve(ctx context.Context, conf *config.Config, p *panel.Panel) error {
	if conf.Slideshow.Schedule != "" {
		show, err := schedule.New(p, afero.NewOsFs(), conf.Slideshow.Schedule, conf.Slideshow.Frames)
		if err != nil {
			return err
		}
		show.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), schedule.DefaultTickTimeout)
			defer cancel()
			if err := show.Stop(stopCtx); err != nil {
				appLog.Error("slideshow did not stop cleanly", err)
			}
		}()
	}

	srv := web.NewServer(conf, p)
	err := srv.Serve(ctx)

	// Put the panel to sleep before exiting.
	sleepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := p.Sleep(sleepCtx); serr != nil && !errors.Is(serr, epd.ErrNotInitialized) {
		appLog.Error("failed to put panel to sleep", serr)
	}
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.clear, "clear", "", "Fill the panel with a colour (black, white, green, blue, red, yellow, orange)")
	flag.BoolVar(&cfg.testPattern, "test-pattern", false, "Show the colour band test pattern")
	flag.StringVar(&cfg.image, "image", "", "Show a raw 192000-byte framebuffer file")
	flag.BoolVar(&cfg.sleep, "sleep", false, "Put the panel into deep sleep")
	flag.BoolVar(&cfg.noSleep, "no-sleep", false, "Leave the panel powered after an update")
	flag.BoolVar(&cfg.serve, "serve", false, "Serve the HTTP API and slideshow until interrupted")

	flag.Parse()

	return cfg
}
