// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package config defines the settings of a benchmark run.
//
// Settings start from [Default], may be overridden by a YAML file passed to
// [Load], and finally by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a run.
type Config struct {
	RunID      string           `yaml:"run_id"` // generated if empty
	Report     string           `yaml:"report"`
	LogLevel   string           `yaml:"log_level"`
	InProcess  bool             `yaml:"in_process"` // run roles as tasks instead of processes
	Window     Size             `yaml:"window"`
	Display    Size             `yaml:"display"` // extent native windows are clamped to
	Iterations int              `yaml:"iterations"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Paths      PathsConfig      `yaml:"paths"`
	Compositor CompositorConfig `yaml:"compositor"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
}

// Size is a width and height in pixels.
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// String formats s as WxH.
func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ParseSize parses a size in WxH form, for example "640x480".
func ParseSize(s string) (Size, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return Size{}, fmt.Errorf("invalid width %q: %w", ws, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return Size{}, fmt.Errorf("invalid height %q: %w", hs, err)
	}
	if w <= 0 || h <= 0 {
		return Size{}, fmt.Errorf("invalid size %q: dimensions must be positive", s)
	}
	return Size{Width: w, Height: h}, nil
}

// PacingConfig controls the pacing sweep. Step i (0-based) sleeps
// i*StepDelay before every swap.
type PacingConfig struct {
	Steps     int           `yaml:"steps"`
	StepDelay time.Duration `yaml:"step_delay"`
	Settle    time.Duration `yaml:"settle"` // idle time around each sweep
}

// Delay reports the pacing delay of step i.
func (p PacingConfig) Delay(i int) time.Duration { return time.Duration(i) * p.StepDelay }

// PathsConfig selects the measurement paths to run.
type PathsConfig struct {
	Direct   bool `yaml:"direct"`
	Protocol bool `yaml:"protocol"`
	Render   bool `yaml:"render"` // master instance draws imported frames
	Nested   bool `yaml:"nested"`
}

// CompositorConfig holds the settings of the embedded compositor.
type CompositorConfig struct {
	Name        string        `yaml:"name"`        // master display name
	NestedName  string        `yaml:"nested_name"` // nested display name
	MaxSurfaces int           `yaml:"max_surfaces"`
	Refresh     time.Duration `yaml:"refresh"` // repeater drain cadence
	RuntimeDir  string        `yaml:"runtime_dir"`
}

// LifecycleConfig holds the settings of the multi-instance lifecycle test.
type LifecycleConfig struct {
	Workers int    `yaml:"workers"`
	Prefix  string `yaml:"prefix"`
}

// Default returns the default configuration with a fresh run ID.
func Default() *Config {
	return &Config{
		RunID:      uuid.NewString(),
		Report:     "/tmp/waymetric-report.txt",
		LogLevel:   "notice",
		Window:     Size{Width: 1280, Height: 720},
		Display:    Size{Width: 1920, Height: 1080},
		Iterations: 300,
		Pacing:     PacingConfig{Steps: 18, StepDelay: 1000 * time.Microsecond, Settle: 1500 * time.Millisecond},
		Paths:      PathsConfig{Direct: true, Protocol: true, Render: true, Nested: true},
		Compositor: CompositorConfig{
			Name:        "waymetric0",
			NestedName:  "waymetric1",
			MaxSurfaces: 64,
			Refresh:     16 * time.Millisecond,
			RuntimeDir:  os.TempDir(),
		},
		Lifecycle: LifecycleConfig{Workers: 4, Prefix: "waymetric-mi-"},
	}
}

// Load reads the YAML configuration file at path over the defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// RunDir returns the per-run runtime directory in which display sockets are
// created.
func (c *Config) RunDir() string {
	return filepath.Join(c.Compositor.RuntimeDir, "waymetric-"+c.RunID)
}

// Validate reports an error if c is not usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %v must be positive", c.Window))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size %v must be positive", c.Display))
	}
	if c.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("iterations %d must be positive", c.Iterations))
	}
	if c.Pacing.Steps <= 0 {
		errs = append(errs, fmt.Errorf("pacing steps %d must be positive", c.Pacing.Steps))
	}
	if c.Pacing.Settle < 0 {
		errs = append(errs, fmt.Errorf("pacing settle time %v is negative", c.Pacing.Settle))
	}
	if c.Pacing.StepDelay < 0 {
		errs = append(errs, fmt.Errorf("pacing step delay %v is negative", c.Pacing.StepDelay))
	}
	if c.Compositor.Name == "" || c.Compositor.NestedName == "" {
		errs = append(errs, errors.New("compositor names must be set"))
	} else if c.Compositor.Name == c.Compositor.NestedName {
		errs = append(errs, fmt.Errorf("compositor name %q is used twice", c.Compositor.Name))
	}
	if c.Compositor.MaxSurfaces <= 0 {
		errs = append(errs, fmt.Errorf("max surfaces %d must be positive", c.Compositor.MaxSurfaces))
	}
	if c.Compositor.Refresh <= 0 {
		errs = append(errs, fmt.Errorf("refresh interval %v must be positive", c.Compositor.Refresh))
	}
	if c.Lifecycle.Workers <= 0 {
		errs = append(errs, fmt.Errorf("lifecycle workers %d must be positive", c.Lifecycle.Workers))
	}
	return errors.Join(errs...)
}

// ResultFile returns a fresh path for the result file of a spawned role.
func ResultFile() string {
	return filepath.Join(os.TempDir(), "waymetric-"+uuid.NewString()+".result")
}
