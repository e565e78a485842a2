package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("want default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.ChainConfirmations != 6 {
		t.Fatalf("want default confirmations 6, got %d", cfg.ChainConfirmations)
	}
	if cfg.AggThreshold != 80 || cfg.AggMinFraction != 0.5 {
		t.Fatalf("unexpected aggregation defaults: %v %v", cfg.AggThreshold, cfg.AggMinFraction)
	}
	if cfg.AggTimeout() != 10*time.Minute {
		t.Fatalf("want default timeout 10m, got %v", cfg.AggTimeout())
	}
	if len(cfg.Validators) != 0 {
		t.Fatalf("validators default to empty, got %v", cfg.Validators)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("CHAIN_CONFIRMATIONS", "2")
	t.Setenv("VALIDATORS", "0xval-a, 0xval-b,,0xval-c")
	t.Setenv("AGG_THRESHOLD", "75.5")
	t.Setenv("RETRY_BASE_MILLIS", "50")

	cfg := FromEnv()
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("addr override lost: %s", cfg.HTTPAddr)
	}
	if cfg.ChainConfirmations != 2 {
		t.Fatalf("confirmations override lost: %d", cfg.ChainConfirmations)
	}
	if len(cfg.Validators) != 3 || cfg.Validators[2] != "0xval-c" {
		t.Fatalf("validator list mis-parsed: %v", cfg.Validators)
	}
	if cfg.AggThreshold != 75.5 {
		t.Fatalf("threshold override lost: %v", cfg.AggThreshold)
	}
	if cfg.RetryBaseMillis != 50 {
		t.Fatalf("retry override lost: %d", cfg.RetryBaseMillis)
	}
}

func TestFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("CHAIN_CONFIRMATIONS", "many")
	t.Setenv("AGG_THRESHOLD", "-3")

	cfg := FromEnv()
	if cfg.ChainConfirmations != 6 {
		t.Fatalf("unparseable int must fall back, got %d", cfg.ChainConfirmations)
	}
	if cfg.AggThreshold != 80 {
		t.Fatalf("negative threshold must fall back, got %v", cfg.AggThreshold)
	}
}
