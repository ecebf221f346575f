// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Program waymetric measures the overhead a compositor protocol layer adds
// to rendering, compared with rendering directly to the display.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/rdkcmf/waymetric/bench"
	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/lifecycle"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/platform"
	"github.com/rdkcmf/waymetric/render"
	"github.com/rdkcmf/waymetric/report"
	"github.com/rdkcmf/waymetric/role"
)

var logger = log.New("waymetric")

var rootFlags struct {
	Verbose bool   `flag:"v,Enable debug logging"`
	Config  string `flag:"config,Read settings from this YAML file"`
}

var runFlags struct {
	WindowSize      string `flag:"window-size,Window size (WxH)"`
	Iterations      int    `flag:"iterations,Frames rendered per pacing step"`
	NoDirect        bool   `flag:"no-direct,Skip the direct path"`
	NoWayland       bool   `flag:"no-wayland,Skip the compositor paths"`
	NoWaylandRender bool   `flag:"no-wayland-render,Do not draw frames in the master compositor"`
	NoNested        bool   `flag:"no-nested,Skip the nested path"`
	InProcess       bool   `flag:"in-process,Run roles as tasks in this process"`

	// Set when the program is launched as a role by its parent.
	Role    string `flag:"role,PRIVATE:Run as the given launched role"`
	Display string `flag:"display,PRIVATE:Display the launched role connects to"`
	Result  string `flag:"result,PRIVATE:Write the result of the launched role here"`
	Fail    bool   `flag:"fail,PRIVATE:Fail the launched role"`
}

var multiFlags struct {
	Workers int `flag:"n,Number of concurrent instances"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Measure compositor protocol overhead.",
		SetFlags: command.Flags(flax.MustBind, &rootFlags),
		Commands: []*command.C{
			{
				Name:  "run",
				Usage: "[flags] [report-path]",
				Help: `Run the benchmark and write a report.

The direct path renders straight to the display. The protocol path renders
through the embedded compositor, and the nested path renders through a
repeater compositor chained in front of it. Each path runs a pacing sweep
and the report compares the total time of each path with the direct path.

If no report path is given, the report is written to the path set in the
configuration, /tmp/waymetric-report.txt by default.`,
				SetFlags: command.Flags(flax.MustBind, &runFlags),
				Run:      runBench,
			},
			{
				Name: "multi",
				Help: `Create, bind and destroy compositor instances concurrently.

Each worker goes through three phases in lockstep with the others: create a
rendering context, create and bind an instance and verify it with a client,
then unbind and destroy the instance.`,
				SetFlags: command.Flags(flax.MustBind, &multiFlags),
				Run:      runMulti,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// loadConfig returns the configuration selected by the root flags.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if rootFlags.Config != "" {
		var err error
		cfg, err = config.Load(rootFlags.Config)
		if err != nil {
			return nil, err
		}
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if rootFlags.Verbose {
		level = log.Debug
	}
	log.SetLevel(level)
	return cfg, nil
}

func runBench(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(env.Args) > 1 {
		return env.Usagef("extra arguments after report path: %q", env.Args[1:])
	} else if len(env.Args) == 1 {
		cfg.Report = env.Args[0]
	}
	if runFlags.WindowSize != "" {
		sz, err := config.ParseSize(runFlags.WindowSize)
		if err != nil {
			return env.Usagef("--window-size: %v", err)
		}
		cfg.Window = sz
	}
	if runFlags.Iterations != 0 {
		cfg.Iterations = runFlags.Iterations
	}
	cfg.Paths.Direct = cfg.Paths.Direct && !runFlags.NoDirect
	cfg.Paths.Protocol = cfg.Paths.Protocol && !runFlags.NoWayland
	cfg.Paths.Nested = cfg.Paths.Nested && !runFlags.NoWayland && !runFlags.NoNested
	cfg.Paths.Render = cfg.Paths.Render && !runFlags.NoWaylandRender
	cfg.InProcess = cfg.InProcess || runFlags.InProcess
	if err := cfg.Validate(); err != nil {
		return err
	}

	renderer := &render.Soft{VSync: cfg.Compositor.Refresh}
	if runFlags.Role != "" {
		return runRole(cfg, renderer)
	}

	var launcher role.Launcher = role.TaskLauncher{Env: role.Env{Config: cfg, Renderer: renderer}}
	if !cfg.InProcess {
		launcher = role.ProcessLauncher{Args: childArgs(cfg)}
	}
	rep, err := bench.Run(context.Background(), bench.Options{
		Config:   cfg,
		Renderer: renderer,
		Platform: platform.NewHeadless(cfg.Display.Width, cfg.Display.Height),
		Launcher: launcher,
	})
	if err != nil {
		return err
	}
	fmt.Printf("\nwriting report to %s\n", cfg.Report)
	return report.WriteFile(cfg.Report, rep)
}

// childArgs returns the flags that give a launched role the settings of
// this run.
func childArgs(cfg *config.Config) []string {
	var args []string
	if rootFlags.Config != "" {
		args = append(args, "--config", rootFlags.Config)
	}
	args = append(args,
		"--window-size", cfg.Window.String(),
		"--iterations", strconv.Itoa(cfg.Iterations),
	)
	if rootFlags.Verbose {
		args = append(args, "-v")
	}
	return args
}

// runRole runs the program as a role launched by its parent, and writes the
// result where the parent expects it. A role that fails writes nothing.
func runRole(cfg *config.Config, renderer render.Renderer) error {
	r, err := role.Parse(runFlags.Role)
	if err != nil {
		return err
	}
	if runFlags.Result == "" {
		return errors.New("a launched role requires --result")
	}
	res, err := role.Run(context.Background(), role.Env{Config: cfg, Renderer: renderer}, role.Job{
		Role:    r,
		Display: runFlags.Display,
		Fail:    runFlags.Fail,
	})
	if err != nil {
		return fmt.Errorf("%v role: %w", r, err)
	}
	logger.Infof("%v role: total %d us", r, res.Micros())
	return role.WriteResult(runFlags.Result, res)
}

func runMulti(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if multiFlags.Workers != 0 {
		cfg.Lifecycle.Workers = multiFlags.Workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	restore, err := bench.SetRuntimeDir(cfg.RunDir())
	if err != nil {
		return err
	}
	defer restore()

	rep := lifecycle.Run(context.Background(), lifecycle.Options{
		Workers:  cfg.Lifecycle.Workers,
		Prefix:   cfg.Lifecycle.Prefix,
		Renderer: &render.Soft{},
	})
	if err := report.WriteLifecycle(os.Stdout, rep); err != nil {
		return err
	}
	if rep.Successes != cfg.Lifecycle.Workers {
		return fmt.Errorf("%d of %d workers failed", cfg.Lifecycle.Workers-rep.Successes, cfg.Lifecycle.Workers)
	}
	return nil
}
