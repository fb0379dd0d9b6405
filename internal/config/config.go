package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"epd7in3f/internal/epd"
)

// DefaultPath is where the daemon looks for its config when -config is not
// given.
const DefaultPath = "/etc/epd7in3f/config.yaml"

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	// File, if set, also receives logs and is rotated.
	File string `yaml:"file" json:"file"`
}

type SPIConfig struct {
	// Port is a periph spireg name such as "SPI0.0"; empty picks the first port.
	Port  string `yaml:"port" json:"port"`
	MaxHz int64  `yaml:"max_hz" json:"max_hz" validate:"gte=0,lte=20000000"`
}

type PinsConfig struct {
	Reset string `yaml:"reset" json:"reset" validate:"required"`
	DC    string `yaml:"dc" json:"dc" validate:"required"`
	CS    string `yaml:"cs" json:"cs" validate:"required"`
	Busy  string `yaml:"busy" json:"busy" validate:"required"`
}

// BusyConfig describes how the BUSY line signals readiness.
type BusyConfig struct {
	// Ready is the BUSY level once the panel is ready: "high" or "low".
	Ready       string `yaml:"ready" json:"ready" validate:"oneof=high low"`
	Poll        string `yaml:"poll" json:"poll" validate:"duration"`
	Timeout     string `yaml:"timeout" json:"timeout" validate:"duration"`
	SoftTimeout bool   `yaml:"soft_timeout" json:"soft_timeout"`
}

// SlideshowConfig rotates prepared framebuffer files on a cron schedule.
type SlideshowConfig struct {
	// Schedule is a standard 5-field cron spec; empty disables the slideshow.
	Schedule string   `yaml:"schedule" json:"schedule" validate:"omitempty,cron"`
	Frames   []string `yaml:"frames" json:"frames" validate:"dive,required"`
	// KeepAwake skips deep sleep between slides.
	KeepAwake bool `yaml:"keep_awake" json:"keep_awake"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen    string          `yaml:"listen" json:"listen" validate:"required,hostname_port"`
	Log       LogConfig       `yaml:"log" json:"log"`
	SPI       SPIConfig       `yaml:"spi" json:"spi"`
	Pins      PinsConfig      `yaml:"pins" json:"pins"`
	Busy      BusyConfig      `yaml:"busy" json:"busy"`
	Slideshow SlideshowConfig `yaml:"slideshow" json:"slideshow"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing values so that partial configs behave like the
// defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.SPI.MaxHz == 0 {
		c.SPI.MaxHz = int64(epd.DefaultMaxHz / physic.Hertz)
	}
	if c.Pins.Reset == "" {
		c.Pins.Reset = epd.DefaultPins.Reset
	}
	if c.Pins.DC == "" {
		c.Pins.DC = epd.DefaultPins.DC
	}
	if c.Pins.CS == "" {
		c.Pins.CS = epd.DefaultPins.CS
	}
	if c.Pins.Busy == "" {
		c.Pins.Busy = epd.DefaultPins.Busy
	}

	c.Busy.Ready = strings.ToLower(c.Busy.Ready)
	preset := epd.DefaultOpts
	switch c.Busy.Ready {
	case "":
		c.Busy.Ready = "high"
	case "low":
		preset = epd.ActiveHighBusyOpts
	}
	if c.Busy.Poll == "" {
		c.Busy.Poll = preset.BusyPoll.String()
	}
	if c.Busy.Timeout == "" {
		c.Busy.Timeout = preset.BusyTimeout.String()
	}
	if c.Slideshow.Frames == nil {
		c.Slideshow.Frames = []string{}
	}
}

// Validate checks the normalized config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Slideshow.Schedule != "" && len(c.Slideshow.Frames) == 0 {
		return errors.New("config: slideshow.frames is required when slideshow.schedule is set")
	}
	if c.Busy.pollDuration() > c.Busy.timeoutDuration() {
		return fmt.Errorf("config: busy.poll %s exceeds busy.timeout %s", c.Busy.Poll, c.Busy.Timeout)
	}
	return nil
}

// BusConfig translates the SPI and pin sections for epd.Open.
func (c *Config) BusConfig() epd.BusConfig {
	return epd.BusConfig{
		Port:  c.SPI.Port,
		MaxHz: physic.Frequency(c.SPI.MaxHz) * physic.Hertz,
		Pins: epd.Pins{
			Reset: c.Pins.Reset,
			DC:    c.Pins.DC,
			CS:    c.Pins.CS,
			Busy:  c.Pins.Busy,
		},
	}
}

// DriverOpts translates the busy section for epd.New.
func (c *Config) DriverOpts() epd.Opts {
	ready := gpio.High
	if c.Busy.Ready == "low" {
		ready = gpio.Low
	}
	return epd.Opts{
		BusyReady:   ready,
		BusyPoll:    c.Busy.pollDuration(),
		BusyTimeout: c.Busy.timeoutDuration(),
		SoftTimeout: c.Busy.SoftTimeout,
	}
}

func (b BusyConfig) pollDuration() time.Duration {
	d, _ := time.ParseDuration(b.Poll)
	return d
}

func (b BusyConfig) timeoutDuration() time.Duration {
	d, _ := time.ParseDuration(b.Timeout)
	return d
}

// Load reads the YAML config at path from the OS filesystem.
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs loads configuration from path on fsys.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func LoadFs(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := SaveFs(fsys, path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path on the OS filesystem.
func Save(path string, cfg *Config) error {
	return SaveFs(afero.NewOsFs(), path, cfg)
}

// SaveFs writes cfg to path atomically: a temp file in the same directory is
// written, synced, chmodded to 0600 and renamed over path.
func SaveFs(fsys afero.Fs, path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(fsys, dir, ".epd7in3f-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer fsys.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
