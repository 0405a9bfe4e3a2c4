package config

import (
	"testing"
	"time"
)

func TestEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	if v := envStr("TEST_STR", "fallback"); v != "hello" {
		t.Fatalf("expected hello, got %s", v)
	}
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for invalid value, got %d", v)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if v := envDuration("TEST_DUR", time.Second); v != 90*time.Second {
		t.Fatalf("expected 90s, got %s", v)
	}
	if v := envDuration("TEST_DUR_MISSING", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", v)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.ProtocolVersion != 2 {
		t.Fatalf("expected default protocol version 2, got %d", cfg.ProtocolVersion)
	}
}

func TestValidateRejectsBadProtocolVersion(t *testing.T) {
	t.Setenv("KOTOBA_PROTOCOL_VERSION", "3")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for protocol version 3, got nil")
	}
}

func TestValidateRejectsZeroRateLimit(t *testing.T) {
	t.Setenv("KOTOBA_RATE_LIMIT_PER_MINUTE", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative rate limit, got nil")
	}
}
