package streamcli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Profiles == nil || len(cfg.Profiles) != 0 || cfg.CurrentProfile != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestSaveAndLoadProfiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{}
	setProfile(cfg, Profile{Name: "prod", EventTypes: []string{"THREAT"}, Sinks: []string{"sqlite"}}, false)
	setProfile(cfg, Profile{Name: "sandbox", APIURL: "https://sandbox.example.com"}, false)
	if cfg.CurrentProfile != "prod" {
		t.Fatalf("first profile should become current, got %q", cfg.CurrentProfile)
	}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 got %v", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Profiles["sandbox"].APIURL != "https://sandbox.example.com" {
		t.Fatalf("unexpected profiles %+v", loaded.Profiles)
	}
	if got := loaded.Profiles["prod"].EventTypes; len(got) != 1 || got[0] != "THREAT" {
		t.Fatalf("unexpected event types %v", got)
	}
	if err := ensureProfileExists(loaded, "staging"); err == nil {
		t.Fatal("expected missing profile error")
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("profiles: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
