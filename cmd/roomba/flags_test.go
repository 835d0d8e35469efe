package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// TestFlagDefaults verifies that with no arguments nothing overrides the
// config file.
func TestFlagDefaults(t *testing.T) {
	f, err := parseFlags(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.behaviour != behaviourIdle {
		t.Errorf("behaviour default = %q, want %q", f.behaviour, behaviourIdle)
	}
	if f.dev || f.verbose || f.version {
		t.Errorf("bool flags should default to false: %+v", f)
	}
	if len(f.set) != 0 {
		t.Errorf("no flags were given, set = %v", f.set)
	}
}

func TestFlagParsing(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		behaviour string
		wantErr   bool
	}{
		{name: "polygon", args: []string{"-behaviour", "polygon", "-sides", "5"}, behaviour: behaviourPolygon},
		{name: "cruise in dev mode", args: []string{"-dev", "-behaviour=cruise"}, behaviour: behaviourCruise},
		{name: "wall follow", args: []string{"--behaviour", "wallfollow"}, behaviour: behaviourWallFollow},
		{name: "unknown behaviour", args: []string{"-behaviour", "dance"}, wantErr: true},
		{name: "unknown flag", args: []string{"-turbo"}, wantErr: true},
		{name: "bad number", args: []string{"-sides", "many"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := parseFlags(newFlagSet(), tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %v", tc.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if f.behaviour != tc.behaviour {
				t.Errorf("behaviour = %q, want %q", f.behaviour, tc.behaviour)
			}
		})
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	f, err := parseFlags(newFlagSet(), []string{"-port", "/dev/ttyUSB3", "-sides", "6", "-perimeter", "1.5", "-db", "", "-listen", "127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if err := f.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := cfg.GetPort(); got != "/dev/ttyUSB3" {
		t.Errorf("port = %q", got)
	}
	if got := cfg.GetPolygonSides(); got != 6 {
		t.Errorf("sides = %d", got)
	}
	if got := cfg.GetPolygonPerimeter(); got != 1.5 {
		t.Errorf("perimeter = %v", got)
	}
	if got := cfg.GetListen(); got != "127.0.0.1:9000" {
		t.Errorf("listen = %q", got)
	}
	// An explicit empty -db disables the store.
	if got := cfg.GetDBPath(); got != "" {
		t.Errorf("db path = %q, want empty", got)
	}
	// Flags that were not given keep the config value.
	if got := cfg.GetCSVPath(); got != "" {
		t.Errorf("csv path = %q, want empty", got)
	}
}

func TestFlagsApplyValidates(t *testing.T) {
	f, err := parseFlags(newFlagSet(), []string{"-sides", "2"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if err := f.apply(cfg); err == nil {
		t.Error("a two sided polygon should fail validation")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robot.json")
	if err := os.WriteFile(path, []byte(`{"port": "/dev/ttyS9", "mode": "full"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetPort() != "/dev/ttyS9" || string(cfg.GetMode()) != "full" {
		t.Errorf("config not read from %s: port=%q mode=%q", path, cfg.GetPort(), cfg.GetMode())
	}

	if _, err := loadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("an explicit missing config should fail")
	}
}
