package python

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreludeContents(t *testing.T) {
	if len(prelude) == 0 {
		t.Fatal("prelude not embedded")
	}
	checks := []string{
		"_goru_call",
		"_goru_module_call",
		"GORU_READY",
		"GORU_RESULT:",
		"GORU_ERROR:",
		"install_pkg",
		"host_http",
		"/packages",
	}
	for _, check := range checks {
		if !strings.Contains(prelude, check) {
			t.Errorf("prelude missing %q", check)
		}
	}
}

func TestArgs(t *testing.T) {
	lang := New()
	args := lang.Args("code")
	if len(args) != 3 || args[0] != "python" || args[1] != "-c" || args[2] != "code" {
		t.Errorf("unexpected args %q", args)
	}
}

func TestModuleFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "python.wasm")
	if err := os.WriteFile(path, []byte("\x00asm"), 0o644); err != nil {
		t.Fatal(err)
	}

	lang := New(WithModulePath(path))
	wasm, err := lang.Module()
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	if string(wasm) != "\x00asm" {
		t.Errorf("unexpected module bytes %q", wasm)
	}
}

func TestModuleMissing(t *testing.T) {
	lang := New(WithModulePath(filepath.Join(t.TempDir(), "missing.wasm")))
	if _, err := lang.Module(); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestModuleBytesOverride(t *testing.T) {
	lang := New(WithModulePath("/nonexistent"), WithModule([]byte("wasm")))
	wasm, err := lang.Module()
	if err != nil || string(wasm) != "wasm" {
		t.Errorf("Module() = %q, %v", wasm, err)
	}
}

func TestDefaultModulePathEnv(t *testing.T) {
	t.Setenv(EnvModulePath, "/opt/python.wasm")
	if got := DefaultModulePath(); got != "/opt/python.wasm" {
		t.Errorf("DefaultModulePath() = %q", got)
	}
	if got := New().Path(); got != "/opt/python.wasm" {
		t.Errorf("Path() = %q", got)
	}
}
