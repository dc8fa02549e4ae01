package tyconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestParseVIDPID(t *testing.T) {
	vid, pid, err := ParseVIDPID("16c0:0478")
	if err != nil {
		t.Fatalf("ParseVIDPID: %v", err)
	}
	if vid != 0x16c0 || pid != 0x0478 {
		t.Errorf("ParseVIDPID(\"16c0:0478\") = %04x:%04x, want 16c0:0478", vid, pid)
	}
}

func TestParseVIDPIDRejectsMalformed(t *testing.T) {
	cases := []string{"16c0", "16c0:", ":0478", "zzzz:0478", "16c0:zzzz"}
	for _, c := range cases {
		if _, _, err := ParseVIDPID(c); err == nil {
			t.Errorf("ParseVIDPID(%q) succeeded, want an error", c)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ty.yaml")
	contents := "log:\n  level: debug\nmonitor:\n  allowed_vid_pids: [\"16c0:0478\"]\npool:\n  max_threads: 4\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Pool.MaxThreads != 4 {
		t.Errorf("Pool.MaxThreads = %d, want 4", cfg.Pool.MaxThreads)
	}
	if len(cfg.Monitor.AllowedVIDPIDs) != 1 || cfg.Monitor.AllowedVIDPIDs[0] != "16c0:0478" {
		t.Errorf("Monitor.AllowedVIDPIDs = %v, want [16c0:0478]", cfg.Monitor.AllowedVIDPIDs)
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ty.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: noisy\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load with an invalid log level should fail validation")
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err == nil {
		t.Fatalf("Load with an explicit missing path should error, got cfg=%+v", cfg)
	}
}
