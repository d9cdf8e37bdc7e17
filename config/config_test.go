package config

import (
	"testing"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/lookout"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOOKOUT_APP_KEY", "secret")
	t.Setenv("LOOKOUT_API_URL", "")
	t.Setenv("LOOKOUT_IDLE_TIMEOUT", "")

	cfg := Load()
	if cfg.AppKey != "secret" {
		t.Fatalf("expected app key from env, got %q", cfg.AppKey)
	}
	if cfg.TokenURL() != "https://api.lookout.com/oauth2/token" {
		t.Fatalf("unexpected token URL %q", cfg.TokenURL())
	}
	if cfg.StreamURL() != lookout.DefaultStreamURL {
		t.Fatalf("unexpected stream URL %q", cfg.StreamURL())
	}
	if cfg.IdleTimeout != 0 {
		t.Fatalf("expected idle timeout disabled, got %s", cfg.IdleTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOOKOUT_APP_KEY", "k")
	t.Setenv("LOOKOUT_API_URL", "http://localhost:9000/")
	t.Setenv("LOOKOUT_IDLE_TIMEOUT", "90s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TLS_ENABLED", "yes")
	t.Setenv("LOOKOUT_HTTP_TIMEOUT", "not-a-duration")

	cfg := Load()
	if cfg.StreamURL() != "http://localhost:9000/mra/stream/v2/events" {
		t.Fatalf("unexpected stream URL %q", cfg.StreamURL())
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Fatalf("unexpected idle timeout %s", cfg.IdleTimeout)
	}
	if cfg.RedisDB != 3 || !cfg.RedisTLSEnabled {
		t.Fatalf("unexpected redis settings %+v", cfg)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("expected fallback HTTP timeout, got %s", cfg.HTTPTimeout)
	}
}

func TestValidateRequiresAppKey(t *testing.T) {
	cfg := &Config{APIBaseURL: "https://api.lookout.com"}
	if err := cfg.Validate(); !lookout.IsConfigError(err) {
		t.Fatalf("expected ConfigError got %v", err)
	}
}
