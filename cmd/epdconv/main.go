// Command epdconv converts an image file or a web page into a framebuffer
// for the 7.3" seven-colour panel.
//
//	epdconv -in photo.jpg -out photo.bin -preview photo-preview.png
//	epdconv -url http://127.0.0.1:3000/ -out dash.bin
//	epdconv -in photo.jpg -format c -out photo.c
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"epd7in3f/internal/capture"
	"epd7in3f/internal/convert"
	"epd7in3f/internal/epd"
	appLog "epd7in3f/internal/log"
)

type flagConfig struct {
	in       string
	url      string
	selector string
	out      string
	preview  string
	format   string
	mode     string
	gamma    float64
	noDither bool
	timeout  time.Duration
	debug    bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	if err := run(flags); err != nil {
		appLog.Error("epdconv failed", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	if (flags.in == "") == (flags.url == "") {
		return fmt.Errorf("exactly one of -in or -url is required")
	}
	if flags.out == "" && flags.preview == "" {
		return fmt.Errorf("nothing to write: set -out and/or -preview")
	}

	switch convert.ResizeMode(flags.mode) {
	case convert.Stretch, convert.Fit, convert.Fill:
	default:
		return fmt.Errorf("unknown resize mode %q", flags.mode)
	}

	img, err := load(flags)
	if err != nil {
		return err
	}

	opts := convert.Options{
		Mode:     convert.ResizeMode(flags.mode),
		Gamma:    flags.gamma,
		NoDither: flags.noDither,
	}
	start := time.Now()
	fb, err := convert.Convert(img, opts)
	if err != nil {
		return err
	}
	appLog.Debug("converted", "mode", opts.Mode, "gamma", opts.Gamma, "elapsed", time.Since(start))

	if flags.out != "" {
		if err := write(flags, fb); err != nil {
			return err
		}
		appLog.Info("wrote framebuffer", "path", flags.out, "format", flags.format)
	}
	if flags.preview != "" {
		f, err := os.Create(flags.preview)
		if err != nil {
			return err
		}
		if err := png.Encode(f, convert.Preview(fb)); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		appLog.Info("wrote preview", "path", flags.preview)
	}
	return nil
}

func load(flags flagConfig) (image.Image, error) {
	if flags.url != "" {
		ctx := context.Background()
		data, err := capture.CapturePNG(ctx, capture.Options{
			URL:          flags.url,
			WaitSelector: flags.selector,
			Timeout:      flags.timeout,
		})
		if err != nil {
			return nil, err
		}
		return convert.Decode(bytes.NewReader(data))
	}
	f, err := os.Open(flags.in)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return convert.Decode(f)
}

func write(flags flagConfig, fb epd.Framebuffer) error {
	switch flags.format {
	case "bin":
		return convert.SaveFramebuffer(afero.NewOsFs(), flags.out, fb)
	case "c":
		src := flags.in
		if src == "" {
			src = flags.out
		}
		name := convert.ArrayName(src)
		base := strings.TrimSuffix(filepath.Base(flags.out), filepath.Ext(flags.out))
		header := base + ".h"

		f, err := os.Create(flags.out)
		if err != nil {
			return err
		}
		if err := convert.WriteC(f, name, header, fb); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		h, err := os.Create(filepath.Join(filepath.Dir(flags.out), header))
		if err != nil {
			return err
		}
		if err := convert.WriteHeader(h, base, name); err != nil {
			h.Close()
			return err
		}
		return h.Close()
	}
	return fmt.Errorf("unknown format %q (want bin or c)", flags.format)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.in, "in", "", "Input image (PNG, JPEG or GIF)")
	flag.StringVar(&cfg.url, "url", "", "Web page to capture with headless Chromium instead of -in")
	flag.StringVar(&cfg.selector, "wait", capture.DefaultSelector, "CSS selector to wait for before capturing -url")
	flag.DurationVar(&cfg.timeout, "timeout", capture.DefaultTimeout, "Capture timeout for -url")
	flag.StringVar(&cfg.out, "out", "", "Output file")
	flag.StringVar(&cfg.preview, "preview", "", "Write a PNG preview of the converted frame")
	flag.StringVar(&cfg.format, "format", "bin", "Output format: bin (raw framebuffer) or c (C array + header)")
	flag.StringVar(&cfg.mode, "mode", string(convert.Stretch), "Resize mode: stretch, fit or fill")
	flag.Float64Var(&cfg.gamma, "gamma", convert.DefaultGamma, "Gamma correction applied before dithering")
	flag.BoolVar(&cfg.noDither, "no-dither", false, "Map to the nearest colour without error diffusion")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging")

	flag.Parse()

	return cfg
}
