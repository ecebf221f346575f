// Copyright (C) 2026 RDK Management. All Rights Reserved.

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rdkcmf/waymetric/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if cfg.RunID == "" {
		t.Error("Default config has no run ID")
	}
	if other := config.Default(); other.RunID == cfg.RunID {
		t.Errorf("Run IDs are not unique: %q", cfg.RunID)
	}
	if got := cfg.Pacing.Delay(17); got != 17*time.Millisecond {
		t.Errorf("Delay(17): got %v, want 17ms", got)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waymetric.yaml")
	const input = `
run_id: fixed
iterations: 10
window: {width: 640, height: 480}
pacing:
  steps: 3
  step_delay: 2ms
paths:
  nested: false
compositor:
  refresh: 8ms
`
	if err := os.WriteFile(path, []byte(input), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}

	want := config.Default()
	want.RunID = "fixed"
	want.Iterations = 10
	want.Window = config.Size{Width: 640, Height: 480}
	want.Pacing.Steps = 3
	want.Pacing.StepDelay = 2 * time.Millisecond
	want.Paths.Nested = false // other paths keep their defaults
	want.Compositor.Refresh = 8 * time.Millisecond

	if diff := cmp.Diff(got, want, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Load (-got, +want):\n%s", diff)
	}
	if !strings.HasSuffix(got.RunDir(), "waymetric-fixed") {
		t.Errorf("RunDir: got %q, want suffix waymetric-fixed", got.RunDir())
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name, input, want string
	}{
		{"BadYAML", "iterations: [", "parse config"},
		{"Negative", "iterations: -1", "iterations -1"},
		{"SameNames", "compositor: {name: x, nested_name: x}", "used twice"},
		{"NoWorkers", "lifecycle: {workers: 0}", "lifecycle workers"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.input), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := config.Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load: got %v, want error containing %q", err, tc.want)
			}
		})
	}

	if _, err := config.Load(filepath.Join(dir, "nonesuch.yaml")); err == nil {
		t.Error("Load missing file: got nil, want error")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  config.Size
		ok    bool
	}{
		{"640x480", config.Size{Width: 640, Height: 480}, true},
		{"1280X720", config.Size{Width: 1280, Height: 720}, true},
		{"640", config.Size{}, false},
		{"0x480", config.Size{}, false},
		{"axb", config.Size{}, false},
	}
	for _, tc := range tests {
		got, err := config.ParseSize(tc.input)
		if (err == nil) != tc.ok {
			t.Errorf("ParseSize(%q): got err=%v, want ok=%v", tc.input, err, tc.ok)
		} else if got != tc.want {
			t.Errorf("ParseSize(%q): got %v, want %v", tc.input, got, tc.want)
		}
	}
	if s := (config.Size{Width: 3, Height: 4}).String(); s != "3x4" {
		t.Errorf("String: got %q, want 3x4", s)
	}
}

func TestResultFile(t *testing.T) {
	a, b := config.ResultFile(), config.ResultFile()
	if a == b {
		t.Errorf("ResultFile is not unique: %q", a)
	}
	if !strings.HasPrefix(filepath.Base(a), "waymetric-") || filepath.Ext(a) != ".result" {
		t.Errorf("ResultFile: got %q, want waymetric-<id>.result", a)
	}
}
