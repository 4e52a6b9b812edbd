package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Lock.TTL() != 3*time.Second || cfg.Lock.RetryDelay() != 50*time.Millisecond || cfg.Lock.MaxRetries != 5 {
		t.Fatalf("lock config = %+v", cfg.Lock)
	}
	if cfg.Kafka.Topic.Request != "wallet.transfer.requested" {
		t.Fatalf("request topic = %q", cfg.Kafka.Topic.Request)
	}
	if cfg.Transport.Kind != "kafka" {
		t.Fatalf("transport kind = %q", cfg.Transport.Kind)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
redis:
  addr: redis.internal:6380
lock:
  ttl_ms: 10000
  retry_delay_ms: 100
  max_retries: 10
transport:
  kind: nats
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Lock.TTL() != 10*time.Second || cfg.Lock.MaxRetries != 10 {
		t.Fatalf("lock config = %+v", cfg.Lock)
	}
	if cfg.Transport.Kind != "nats" {
		t.Fatalf("transport kind = %q", cfg.Transport.Kind)
	}
	// Untouched keys keep their defaults.
	if cfg.Metrics.Addr != ":9090" {
		t.Fatalf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  kind: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown transport kind")
	}
}
