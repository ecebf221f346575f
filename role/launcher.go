// Copyright (C) 2026 RDK Management. All Rights Reserved.

package role

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/rdkcmf/waymetric/barrier"
	"github.com/rdkcmf/waymetric/config"
	"github.com/rdkcmf/waymetric/measure"
)

// A Launcher starts launched roles.
type Launcher interface {
	// Launch starts job and returns a handle to it. Launch does not block;
	// failures are reported by the Wait method of the handle.
	Launch(ctx context.Context, job Job) *Handle
}

// A Handle tracks a launched role.
type Handle struct {
	job   Job
	ready *barrier.Handshake
	out   chan outcome

	once sync.Once
	res  measure.Result
	err  error
}

type outcome struct {
	res measure.Result
	err error
}

func newHandle(job Job) *Handle {
	return &Handle{job: job, ready: barrier.NewHandshake(), out: make(chan outcome, 1)}
}

// Job returns the job h was launched for.
func (h *Handle) Job() Job { return h.job }

// Ready returns the handshake signalled when the role has started.
func (h *Handle) Ready() *barrier.Handshake { return h.ready }

// Wait blocks until the role ends and returns its result. A role that did
// not produce a positive result reports an error wrapping ErrNoResult. Wait
// may be called more than once.
func (h *Handle) Wait() (measure.Result, error) {
	h.once.Do(func() {
		o := <-h.out
		h.res, h.err = o.res, o.err
		if h.err == nil && h.res.Total <= 0 {
			h.err = ErrNoResult
		}
		if h.err != nil {
			h.res = measure.Result{}
			if !errors.Is(h.err, ErrNoResult) {
				h.err = fmt.Errorf("%v role: %w: %w", h.job.Role, ErrNoResult, h.err)
			}
		}
	})
	return h.res, h.err
}

// A TaskLauncher runs roles as tasks in the current process.
type TaskLauncher struct {
	Env Env
}

// Launch implements the [Launcher] interface.
func (t TaskLauncher) Launch(ctx context.Context, job Job) *Handle {
	h := newHandle(job)
	taskgroup.Go(func() error {
		h.ready.Signal()
		res, err := Run(ctx, t.Env, job)
		if err != nil {
			logger.Errorf("%v role on %q failed: %v", job.Role, job.Display, err)
		}
		h.out <- outcome{res, err}
		return nil
	})
	return h
}

// A ProcessLauncher runs roles as child processes of the same program. The
// child is invoked as
//
//	<Path> run --role <role> --display <name> --result <file> [--fail] <Args>...
//
// and reports its result by writing it to the result file with WriteResult.
type ProcessLauncher struct {
	Path string   // the program to run; default os.Executable
	Args []string // additional arguments
	Env  []string // additional environment; the current one is inherited
}

// Launch implements the [Launcher] interface.
func (p ProcessLauncher) Launch(ctx context.Context, job Job) *Handle {
	h := newHandle(job)
	taskgroup.Go(func() error {
		defer h.ready.Signal()
		res, err := p.run(ctx, job, h.ready)
		h.out <- outcome{res, err}
		return nil
	})
	return h
}

func (p ProcessLauncher) run(ctx context.Context, job Job, ready *barrier.Handshake) (measure.Result, error) {
	path := p.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return measure.Result{}, err
		}
		path = exe
	}
	result := config.ResultFile()
	args := []string{"run",
		"--role", job.Role.String(),
		"--display", job.Display,
		"--result", result,
	}
	if job.Fail {
		args = append(args, "--fail")
	}
	args = append(args, p.Args...)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), p.Env...)
	if err := cmd.Start(); err != nil {
		return measure.Result{}, fmt.Errorf("start %v role: %w", job.Role, err)
	}
	logger.Debugf("started %v role (pid %d): %s", job.Role, cmd.Process.Pid, strings.Join(args, " "))
	ready.Signal()

	werr := cmd.Wait()
	us, err := ReadResult(result)
	if err != nil {
		if werr != nil {
			logger.Errorf("%v role exited: %v", job.Role, werr)
		}
		return measure.Result{}, err
	}
	return measure.FromMicros(us), nil
}

// WriteResult writes the result of a role in microseconds to path, as a
// single decimal integer.
func WriteResult(path string, res measure.Result) error {
	return os.WriteFile(path, []byte(strconv.FormatInt(res.Micros(), 10)+"\n"), 0600)
}

// ReadResult reads the result written by WriteResult to path and deletes the
// file. A missing file reports ErrNoResult.
func ReadResult(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNoResult
	} else if err != nil {
		return 0, err
	}
	defer os.Remove(path)
	us, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid result in %q: %w", path, err)
	}
	return us, nil
}
