package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg := Load()
	if cfg.StoreDriver != "sqlite" {
		t.Fatalf("expected sqlite default, got %s", cfg.StoreDriver)
	}
	if cfg.SQLitePath != "pulse.db" {
		t.Fatalf("expected pulse.db default, got %s", cfg.SQLitePath)
	}
	if cfg.NotifyPerMin != 30 {
		t.Fatalf("expected 30, got %d", cfg.NotifyPerMin)
	}
	if cfg.OTelEnabled {
		t.Fatal("otel must be opt-in")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/pulse")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OTEL_ENABLED", "true")

	cfg := Load()
	if cfg.StoreDriver != "postgres" || cfg.PostgresURL != "postgres://localhost/pulse" {
		t.Fatalf("store env not honored: %+v", cfg)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
	if !cfg.OTelEnabled {
		t.Fatal("OTEL_ENABLED=true not honored")
	}
}

func TestLoadBadIntFallsBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	cfg := Load()
	if cfg.RedisDB != 0 {
		t.Fatalf("bad int must fall back to default, got %d", cfg.RedisDB)
	}
}

func TestLoadSchedulingProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := []byte("poll_interval_seconds: 15\nbackoff_cap_seconds: 7200\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadSchedulingProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.PollInterval != 15*time.Second {
		t.Fatalf("expected 15s, got %s", p.PollInterval)
	}
	if p.BackoffCap != 2*time.Hour {
		t.Fatalf("expected 2h, got %s", p.BackoffCap)
	}
	// Unset fields keep defaults
	if p.SweepInterval != 60*time.Second {
		t.Fatalf("expected default sweep interval, got %s", p.SweepInterval)
	}
}

func TestLoadSchedulingProfileMissingFile(t *testing.T) {
	p, err := LoadSchedulingProfile("/nonexistent/profile.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// Defaults still come back usable
	if p.PollInterval != DefaultSchedulingProfile().PollInterval {
		t.Fatalf("expected defaults on error, got %+v", p)
	}
}

func TestLoadSchedulingProfileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("poll_interval_seconds: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSchedulingProfile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
