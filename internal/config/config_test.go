package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel-uhnw/sentinel/internal/config"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := config.Default()
	if !cfg.Routing.MarketCriticalMagnitude.Equal(def.Routing.MarketCriticalMagnitude) {
		t.Errorf("MarketCriticalMagnitude = %s, want %s", cfg.Routing.MarketCriticalMagnitude, def.Routing.MarketCriticalMagnitude)
	}
	if cfg.Scoring.ConcentrationLimit != def.Scoring.ConcentrationLimit {
		t.Errorf("ConcentrationLimit = %v, want %v", cfg.Scoring.ConcentrationLimit, def.Scoring.ConcentrationLimit)
	}
	if cfg.Gateway.IdlePollInterval != def.Gateway.IdlePollInterval {
		t.Errorf("IdlePollInterval = %v, want %v", cfg.Gateway.IdlePollInterval, def.Gateway.IdlePollInterval)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	yaml := `
scoring:
  concentration_limit: 0.25
routing:
  market_critical_magnitude: 0.20
gateway:
  idle_poll_interval: 200ms
  pool_workers: 3
chain:
  persist_path: /tmp/chain.json
  auto_persist: false
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scoring.ConcentrationLimit != 0.25 {
		t.Errorf("ConcentrationLimit = %v, want 0.25", cfg.Scoring.ConcentrationLimit)
	}
	if !cfg.Routing.MarketCriticalMagnitude.Equal(decimal.NewFromFloat(0.20)) {
		t.Errorf("MarketCriticalMagnitude = %s, want 0.20", cfg.Routing.MarketCriticalMagnitude)
	}
	if cfg.Gateway.IdlePollInterval != 200*time.Millisecond {
		t.Errorf("IdlePollInterval = %v, want 200ms", cfg.Gateway.IdlePollInterval)
	}
	if cfg.Gateway.PoolWorkers != 3 {
		t.Errorf("PoolWorkers = %d, want 3", cfg.Gateway.PoolWorkers)
	}
	if cfg.Chain.PersistPath != "/tmp/chain.json" {
		t.Errorf("PersistPath = %q, want /tmp/chain.json", cfg.Chain.PersistPath)
	}
	if cfg.Chain.AutoPersist {
		t.Error("AutoPersist = true, want false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	// Fields not present in the YAML keep their defaults.
	def := config.Default()
	if !cfg.Routing.MarketHighMagnitude.Equal(def.Routing.MarketHighMagnitude) {
		t.Errorf("MarketHighMagnitude = %s, want default %s", cfg.Routing.MarketHighMagnitude, def.Routing.MarketHighMagnitude)
	}
}

func TestRoutingSettingsConvertToRoutingConfig(t *testing.T) {
	cfg := config.Default()
	rc := cfg.Routing.ToRoutingConfig()
	if !rc.MarketCriticalMagnitude.Equal(cfg.Routing.MarketCriticalMagnitude) {
		t.Errorf("ToRoutingConfig dropped MarketCriticalMagnitude: got %s, want %s", rc.MarketCriticalMagnitude, cfg.Routing.MarketCriticalMagnitude)
	}
}

func TestGatewaySettingsConvertToGatewayConfig(t *testing.T) {
	settings := config.GatewaySettings{IdlePollInterval: 10 * time.Millisecond, PoolWorkers: 5, PoolQueueSize: 50}
	gc := settings.ToGatewayConfig()
	if gc.IdlePollInterval != 10*time.Millisecond {
		t.Errorf("IdlePollInterval = %v, want 10ms", gc.IdlePollInterval)
	}
	if gc.Pool.NumWorkers != 5 {
		t.Errorf("Pool.NumWorkers = %d, want 5", gc.Pool.NumWorkers)
	}
	if gc.Pool.QueueSize != 50 {
		t.Errorf("Pool.QueueSize = %d, want 50", gc.Pool.QueueSize)
	}
}
