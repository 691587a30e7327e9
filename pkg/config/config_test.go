package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/cuemby/formation/pkg/log"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	return fs
}

func TestLoadDefaultsOnly(t *testing.T) {
	fs := newFlagSet()
	_ = fs.Set("secret-key", "abc123")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 51820 {
		t.Errorf("expected default listen port 51820, got %d", cfg.ListenPort)
	}
	if cfg.RelayMode != RelayAuto {
		t.Errorf("expected default relay mode auto, got %s", cfg.RelayMode)
	}
	if cfg.LogLevel != log.InfoLevel {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "formationd.yaml")
	contents := "region: us-east\nlisten_port: 9999\ndata_dir: /tmp/formation-data\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := newFlagSet()
	_ = fs.Set("config", path)
	_ = fs.Set("secret-key", "abc123")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "us-east" {
		t.Errorf("expected region us-east, got %s", cfg.Region)
	}
	if cfg.ListenPort != 9999 {
		t.Errorf("expected listen port 9999, got %d", cfg.ListenPort)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "formationd.yaml")
	if err := os.WriteFile(path, []byte("region: us-east\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FORMATION_REGION", "eu-west")

	fs := newFlagSet()
	_ = fs.Set("config", path)
	_ = fs.Set("secret-key", "abc123")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "eu-west" {
		t.Errorf("expected env to override file region, got %s", cfg.Region)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("FORMATION_REGION", "eu-west")

	fs := newFlagSet()
	_ = fs.Set("secret-key", "abc123")
	_ = fs.Set("region", "ap-south")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "ap-south" {
		t.Errorf("expected flag to override env region, got %s", cfg.Region)
	}
}

func TestLoadMissingSecretKeyFails(t *testing.T) {
	fs := newFlagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, err := Load(fs); err == nil {
		t.Fatal("expected error for missing secret_key, got nil")
	}
}

func TestLoadInvalidRelayModeFails(t *testing.T) {
	fs := newFlagSet()
	_ = fs.Set("secret-key", "abc123")
	_ = fs.Set("relay-enabled", "sometimes")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, err := Load(fs); err == nil {
		t.Fatal("expected error for invalid relay mode, got nil")
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	fs := newFlagSet()
	_ = fs.Set("config", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	_ = fs.Set("secret-key", "abc123")
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if _, err := Load(fs); err != nil {
		t.Fatalf("expected missing config file to be tolerated, got %v", err)
	}
}
