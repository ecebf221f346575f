// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package measure implements the pacing sweep that times frame rendering.
//
// A sweep runs a fixed number of steps. Each step renders the configured
// number of frames through a rendering context, rotating the clear colour
// every frame and sleeping the pacing delay of the step before each swap.
package measure

import (
	"errors"
	"fmt"
	"time"

	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/render"
)

var logger = log.New("measure")

// A Step is the measurement of one pacing step.
type Step struct {
	Delay      time.Duration // pacing delay before each swap
	Iterations int
	Total      time.Duration
}

// FPS reports the frame rate of s.
func (s Step) FPS() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Iterations) / s.Total.Seconds()
}

// A Result is the measurement of a complete sweep.
type Result struct {
	Steps []Step
	Total time.Duration
}

// Micros reports the total of r in microseconds.
func (r Result) Micros() int64 { return r.Total.Microseconds() }

// FromMicros returns a result with only a total, as reported by a role that
// ran in another process.
func FromMicros(us int64) Result { return Result{Total: time.Duration(us) * time.Microsecond} }

// Options control a sweep.
type Options struct {
	Iterations int
	Pacing     config.PacingConfig

	// Sleep is used for the pacing delay and the settle time. If nil,
	// time.Sleep is used.
	Sleep func(time.Duration)
}

// NewOptions returns sweep options from the settings of cfg.
func NewOptions(cfg *config.Config) Options {
	return Options{Iterations: cfg.Iterations, Pacing: cfg.Pacing}
}

func (o Options) sleep(d time.Duration) {
	if d <= 0 {
		return
	} else if o.Sleep != nil {
		o.Sleep(d)
	} else {
		time.Sleep(d)
	}
}

// Sweep runs the pacing sweep on rctx, which must be current and have a
// window surface. The sweep starts and ends with a black frame followed by
// the settle time, which is not measured.
func Sweep(rctx render.Context, opts Options) (Result, error) {
	if opts.Iterations <= 0 || opts.Pacing.Steps <= 0 {
		return Result{}, fmt.Errorf("invalid sweep: %d iterations, %d steps", opts.Iterations, opts.Pacing.Steps)
	}
	if err := blank(rctx); err != nil {
		return Result{}, err
	}
	opts.sleep(opts.Pacing.Settle)

	var res Result
	for i := range opts.Pacing.Steps {
		delay := opts.Pacing.Delay(i)
		logger.Infof("%d) pacing %d us", i+1, delay.Microseconds())

		r, g, b := float32(0), float32(1), float32(0)
		start := time.Now()
		for range opts.Iterations {
			r, g, b = g, b, r
			if err := rctx.Clear(r, g, b, 1); err != nil {
				return res, fmt.Errorf("step %d: %w", i+1, err)
			}
			opts.sleep(delay)
			if err := rctx.Swap(); err != nil {
				return res, fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		step := Step{Delay: delay, Iterations: opts.Iterations, Total: time.Since(start)}
		logger.Infof("Iterations: %d Total time (us): %d  FPS: %f",
			step.Iterations, step.Total.Microseconds(), step.FPS())
		res.Steps = append(res.Steps, step)
		res.Total += step.Total
	}

	if err := blank(rctx); err != nil {
		return res, err
	}
	opts.sleep(opts.Pacing.Settle)
	return res, nil
}

func blank(rctx render.Context) error {
	return errors.Join(rctx.Clear(0, 0, 0, 1), rctx.Swap())
}
