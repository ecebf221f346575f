// Copyright (C) 2026 RDK Management. All Rights Reserved.

package platform_test

import (
	"errors"
	"testing"

	"github.com/rdkcmf/waymetric/platform"
)

func TestHeadless(t *testing.T) {
	h := platform.NewHeadless(1920, 1080)
	if _, err := h.CreateNativeWindow(10, 10); !errors.Is(err, platform.ErrNotInitialized) {
		t.Errorf("Create before Init: got %v, want %v", err, platform.ErrNotInitialized)
	}
	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{1280, 720, 1280, 720},
		{4096, 720, 1920, 720},
		{640, 2000, 640, 1080},
		{3000, 3000, 1920, 1080},
	}
	var wins []platform.Window
	for _, tc := range tests {
		win, err := h.CreateNativeWindow(tc.w, tc.h)
		if err != nil {
			t.Fatalf("CreateNativeWindow(%d, %d): %v", tc.w, tc.h, err)
		}
		if w, h := win.Size(); w != tc.wantW || h != tc.wantH {
			t.Errorf("CreateNativeWindow(%d, %d): size %dx%d, want %dx%d", tc.w, tc.h, w, h, tc.wantW, tc.wantH)
		}
		wins = append(wins, win)
	}
	if n := h.Windows(); n != len(tests) {
		t.Errorf("Windows: got %d, want %d", n, len(tests))
	}

	if err := h.DestroyNativeWindow(wins[0]); err != nil {
		t.Errorf("DestroyNativeWindow: %v", err)
	}
	if err := h.DestroyNativeWindow(wins[0]); err == nil {
		t.Error("DestroyNativeWindow twice: got nil, want error")
	}

	other := platform.NewHeadless(10, 10)
	other.Init()
	if err := other.DestroyNativeWindow(wins[1]); err == nil {
		t.Error("DestroyNativeWindow on the wrong display: got nil, want error")
	}

	if err := h.Terminate(); err != nil {
		t.Errorf("Terminate: %v", err)
	}
	if err := h.Terminate(); !errors.Is(err, platform.ErrNotInitialized) {
		t.Errorf("Terminate twice: got %v, want %v", err, platform.ErrNotInitialized)
	}
}

func TestHeadlessInvalid(t *testing.T) {
	if err := platform.NewHeadless(0, 1080).Init(); err == nil {
		t.Error("Init with zero width: got nil, want error")
	}
}
