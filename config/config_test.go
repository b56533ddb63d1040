package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvOrDefault(t *testing.T) {
	os.Unsetenv("CONFIG_TEST_STR")
	if got := getEnvOrDefault("CONFIG_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("expected fallback when unset, got %q", got)
	}

	os.Setenv("CONFIG_TEST_STR", "override")
	defer os.Unsetenv("CONFIG_TEST_STR")
	if got := getEnvOrDefault("CONFIG_TEST_STR", "fallback"); got != "override" {
		t.Errorf("expected env override, got %q", got)
	}
}

func TestGetEnvIntOrDefault(t *testing.T) {
	os.Unsetenv("CONFIG_TEST_INT")
	if got := getEnvIntOrDefault("CONFIG_TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7 when unset, got %d", got)
	}

	os.Setenv("CONFIG_TEST_INT", "42")
	defer os.Unsetenv("CONFIG_TEST_INT")
	if got := getEnvIntOrDefault("CONFIG_TEST_INT", 7); got != 42 {
		t.Errorf("expected env override 42, got %d", got)
	}

	os.Setenv("CONFIG_TEST_INT", "not-a-number")
	if got := getEnvIntOrDefault("CONFIG_TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback on unparsable env value, got %d", got)
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault("", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for empty string, got %q", got)
	}
	if got := orDefault("set", "fallback"); got != "set" {
		t.Errorf("expected existing value to win, got %q", got)
	}
}

func TestOrDefaultInt(t *testing.T) {
	if got := orDefaultInt(0, 9); got != 9 {
		t.Errorf("expected fallback for zero value, got %d", got)
	}
	if got := orDefaultInt(3, 9); got != 3 {
		t.Errorf("expected existing value to win, got %d", got)
	}
}

func TestApplyEnvOverrides_EnvWinsOverFileValue(t *testing.T) {
	cfg := &Config{}
	cfg.DatabaseConfig.Host = "from-file"

	os.Setenv("DB_HOST", "from-env")
	defer os.Unsetenv("DB_HOST")

	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.Host != "from-env" {
		t.Errorf("expected DB_HOST env var to win over file value, got %q", cfg.DatabaseConfig.Host)
	}
}

func TestApplyEnvOverrides_FileValueSurvivesWhenEnvUnset(t *testing.T) {
	os.Unsetenv("DB_NAME")
	cfg := &Config{}
	cfg.DatabaseConfig.Database = "from-file"

	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.Database != "from-file" {
		t.Errorf("expected file value to survive when DB_NAME is unset, got %q", cfg.DatabaseConfig.Database)
	}
}

func TestApplyEnvOverrides_BuiltinDefaultWhenNeitherFileNorEnvSet(t *testing.T) {
	os.Unsetenv("DB_SSLMODE")
	cfg := &Config{}

	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.SSLMode != "disable" {
		t.Errorf("expected built-in default ssl_mode, got %q", cfg.DatabaseConfig.SSLMode)
	}
	if cfg.BacktestConfig.ConditionsDir != "./config" {
		t.Errorf("expected built-in default conditions_dir, got %q", cfg.BacktestConfig.ConditionsDir)
	}
}

func TestDefaultMaxWorkers_NeverExceedsFour(t *testing.T) {
	if got := defaultMaxWorkers(); got > 4 || got < 1 {
		t.Errorf("expected defaultMaxWorkers in [1,4], got %d", got)
	}
}

func TestGenerateSampleConfig_WritesReadableJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")

	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading generated config: %v", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parsing generated config: %v", err)
	}
	if cfg.DatabaseConfig.Host != "localhost" || cfg.DatabaseConfig.Port != 5432 {
		t.Errorf("unexpected database defaults in sample config: %+v", cfg.DatabaseConfig)
	}
	if cfg.OrchestratorConfig.ChunkSize != 50 {
		t.Errorf("expected sample chunk_size 50, got %d", cfg.OrchestratorConfig.ChunkSize)
	}
}

func TestLoadFromFile_MissingFileReturnsError(t *testing.T) {
	_, err := loadFromFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Error("expected an error for a missing config file")
	}
}
