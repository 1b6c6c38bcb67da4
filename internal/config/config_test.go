package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "giveq.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := Defaults()
	if cfg.DefaultItemTTLDays != def.DefaultItemTTLDays {
		t.Errorf("DefaultItemTTLDays = %d, want %d", cfg.DefaultItemTTLDays, def.DefaultItemTTLDays)
	}
	if cfg.ClaimStaleness != 48*time.Hour {
		t.Errorf("ClaimStaleness = %v, want 48h", cfg.ClaimStaleness)
	}
	if cfg.ReclamationInterval != 24*time.Hour {
		t.Errorf("ReclamationInterval = %v, want 24h", cfg.ReclamationInterval)
	}
	if cfg.SearchPageLimitMax != 100 {
		t.Errorf("SearchPageLimitMax = %d, want 100", cfg.SearchPageLimitMax)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := writeConfig(t, `
database-url: postgres://giveq@localhost/giveq
default-item-ttl-days: 7
claim-staleness-hours: 24
reclamation-interval: 6h
enqueue-retry-attempts: 5
`)
	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://giveq@localhost/giveq" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.DefaultItemTTLDays != 7 {
		t.Errorf("DefaultItemTTLDays = %d, want 7", cfg.DefaultItemTTLDays)
	}
	if cfg.ClaimStaleness != 24*time.Hour {
		t.Errorf("ClaimStaleness = %v, want 24h", cfg.ClaimStaleness)
	}
	if cfg.ReclamationInterval != 6*time.Hour {
		t.Errorf("ReclamationInterval = %v, want 6h", cfg.ReclamationInterval)
	}
	if cfg.EnqueueRetryAttempts != 5 {
		t.Errorf("EnqueueRetryAttempts = %d, want 5", cfg.EnqueueRetryAttempts)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, "default-item-ttl-days: 7\n")
	t.Setenv("GIVEQ_DEFAULT_ITEM_TTL_DAYS", "21")
	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultItemTTLDays != 21 {
		t.Errorf("DefaultItemTTLDays = %d, want 21 (env override)", cfg.DefaultItemTTLDays)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed interval", "reclamation-interval: often\n"},
		{"negative ttl", "default-item-ttl-days: -1\n"},
		{"max below default", "max-item-ttl-days: 5\n"},
		{"zero batch size", "reclaim-batch-size: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLocalConfig(t *testing.T) {
	dir := writeConfig(t, "database-url: postgres://local/giveq\n")
	if got := LoadLocalConfig(dir).DatabaseURL; got != "postgres://local/giveq" {
		t.Errorf("DatabaseURL = %q", got)
	}

	// Missing file yields an empty config, not an error.
	if got := LoadLocalConfig(t.TempDir()).DatabaseURL; got != "" {
		t.Errorf("DatabaseURL = %q, want empty", got)
	}

	t.Setenv("GIVEQ_DATABASE_URL", "postgres://env/giveq")
	if got := DatabaseURLFor(dir); got != "postgres://env/giveq" {
		t.Errorf("DatabaseURLFor = %q, want env value", got)
	}
}
