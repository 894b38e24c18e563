package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"market-structure-engine/internal/timeutil"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Writing config file failed: %v", err)
	}
	return path
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Memory.SweepAge.Std() != 7*24*time.Hour {
		t.Errorf("Expected default sweep age 168h, got %v", cfg.Memory.SweepAge.Std())
	}
	if cfg.Retrain.Interval.Std() != 24*time.Hour {
		t.Errorf("Expected default retrain interval 24h, got %v", cfg.Retrain.Interval.Std())
	}
}

func TestLoadFileDurationStrings(t *testing.T) {
	path := writeConfigFile(t, `{
		"memory": {"sweep_age": "72h", "sweep_interval": "30m"},
		"retrain": {"interval": "12h"},
		"quality": {"staleness_max": "45s", "cache_ttl": "10m"},
		"circuit_breaker": {"cooldown_base": "15m", "cooldown_max": "2h"}
	}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Memory.SweepAge.Std() != 72*time.Hour {
		t.Errorf("Expected sweep age 72h, got %v", cfg.Memory.SweepAge.Std())
	}
	if cfg.Memory.SweepInterval.Std() != 30*time.Minute {
		t.Errorf("Expected sweep interval 30m, got %v", cfg.Memory.SweepInterval.Std())
	}
	if cfg.Retrain.Interval.Std() != 12*time.Hour {
		t.Errorf("Expected retrain interval 12h, got %v", cfg.Retrain.Interval.Std())
	}
	if cfg.Quality.StalenessMax.Std() != 45*time.Second {
		t.Errorf("Expected staleness max 45s, got %v", cfg.Quality.StalenessMax.Std())
	}
	if cfg.Circuit.CooldownBase.Std() != 15*time.Minute {
		t.Errorf("Expected cooldown base 15m, got %v", cfg.Circuit.CooldownBase.Std())
	}
	if cfg.Circuit.CooldownMax != timeutil.Duration(2*time.Hour) {
		t.Errorf("Expected cooldown max 2h, got %v", cfg.Circuit.CooldownMax.Std())
	}
}

func TestLoadFileInvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `{"memory": {"sweep_age": "soon"}}`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("Expected error for invalid duration string")
	}
}
