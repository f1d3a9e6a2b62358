package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "paths:\n  database: ./x.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.Database != "./x.db" {
		t.Fatalf("expected database ./x.db, got %q", cfg.Paths.Database)
	}
	if cfg.PM.LabelCacheTTL.Duration() != 720*time.Second {
		t.Fatalf("expected label ttl 720s, got %v", cfg.PM.LabelCacheTTL.Duration())
	}
	if cfg.PM.MaxLabelSetLen != 60 {
		t.Fatalf("expected label set len 60, got %d", cfg.PM.MaxLabelSetLen)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "mail:\n  enabled: true\n  host: smtp.example.org\n  from: forum@example.org\n  password: fromyaml\n")
	writeFile(t, filepath.Join(dir, ".env"), "TWILIGHT_SMTP_PASSWORD=fromenv\n")
	t.Cleanup(func() { os.Unsetenv("TWILIGHT_SMTP_PASSWORD") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mail.Password != "fromenv" {
		t.Fatalf("expected password from .env, got %q", cfg.Mail.Password)
	}
	if cfg.Mail.Addr() != "smtp.example.org:25" {
		t.Fatalf("unexpected addr %q", cfg.Mail.Addr())
	}
}

func TestValidateRejectsMailWithoutHost(t *testing.T) {
	cfg := Default()
	cfg.Mail.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for mail without host")
	}

	cfg = Default()
	cfg.PM.MaxLabelSetLen = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero label set length")
	}
}
