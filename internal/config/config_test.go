package config

import (
	"testing"
	"time"
)

func TestFromArgs_AppliesDefaults(t *testing.T) {
	cfg, err := FromArgs(nil)
	if err != nil {
		t.Fatalf("FromArgs failed: %v", err)
	}
	if cfg.RadarBaud != 19200 {
		t.Errorf("expected default baud 19200, got %d", cfg.RadarBaud)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen :8080, got %q", cfg.ListenAddr)
	}
	if cfg.ShutdownDeadline != 10*time.Second {
		t.Errorf("expected default shutdown deadline 10s, got %v", cfg.ShutdownDeadline)
	}
}

func TestFromArgs_ParsesCommaSeparatedLists(t *testing.T) {
	cfg, err := FromArgs([]string{"-capture-dirs=/a,/b,/c", "-cors-origins=https://x,https://y"})
	if err != nil {
		t.Fatalf("FromArgs failed: %v", err)
	}
	if len(cfg.CaptureDirs) != 3 || cfg.CaptureDirs[1] != "/b" {
		t.Errorf("unexpected capture dirs: %v", cfg.CaptureDirs)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://x" {
		t.Errorf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestFromArgs_RejectsUnknownFlag(t *testing.T) {
	if _, err := FromArgs([]string{"-does-not-exist"}); err == nil {
		t.Fatal("expected an error for an unrecognized flag")
	}
}
