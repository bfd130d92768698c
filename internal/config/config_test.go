package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.Relay.Kind != RelayNone {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("shutdown timeout: %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE", "Postgres")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("RELAY", "kafka")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StorePostgres || cfg.Database.Port != 6543 {
		t.Fatalf("db config: %+v", cfg.Database)
	}
	if !cfg.Redis.Enabled || cfg.Relay.Kind != RelayKafka {
		t.Fatalf("redis/relay: %+v %+v", cfg.Redis, cfg.Relay)
	}
	if cfg.WSSendBuffer != 256 {
		t.Fatalf("bad int should fall back to default, got %d", cfg.WSSendBuffer)
	}
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown store")
	}
}
