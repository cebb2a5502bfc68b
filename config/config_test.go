package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content into a temporary yaml file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `app:
  name: "TestApp"
binance:
  symbols: ["ethusdt", " btcusdt ", "ETHUSDT"]
  default_symbol: "btcusdt"
kline:
  limit: 30
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if got := strings.Join(cfg.Binance.Symbols, ","); got != "ETHUSDT,BTCUSDT" {
		t.Errorf("unexpected symbols: %s", got)
	}
	if cfg.Binance.DefaultSymbol != "BTCUSDT" {
		t.Errorf("unexpected default symbol: %s", cfg.Binance.DefaultSymbol)
	}
	if cfg.Kline.Limit != 30 {
		t.Errorf("unexpected kline limit: %d", cfg.Kline.Limit)
	}
	if cfg.Kline.Interval != "1h" {
		t.Errorf("expected default interval 1h, got %s", cfg.Kline.Interval)
	}
	if cfg.Throttle.Interval != 100*time.Millisecond {
		t.Errorf("unexpected throttle interval: %s", cfg.Throttle.Interval)
	}
	if cfg.Rest.Retries != 3 || cfg.Rest.Timeout != 10*time.Second {
		t.Errorf("unexpected rest defaults: %+v", cfg.Rest)
	}
	if cfg.Stream.Reconnect.Enabled {
		t.Errorf("reconnect should be disabled by default")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"kline.limit":        "kline:\n  limit: 0\n",
		"throttle.interval":  "throttle:\n  interval: 0s\n",
		"order_book.default": "order_book:\n  presets: [10, 20]\n  default: 15\n",
		"binance.default":    "binance:\n  symbols: [\"BTCUSDT\"]\n  default_symbol: \"XRPUSDT\"\n",
		"rest.retries":       "rest:\n  retries: -1\n",
	}

	for name, content := range cases {
		path := writeTempConfig(t, content)
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MARKETDASH_SYMBOLS", "solusdt,adausdt")
	t.Setenv("MARKETDASH_DEFAULT_SYMBOL", "adausdt")

	path := writeTempConfig(t, "app:\n  name: \"TestApp\"\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := strings.Join(cfg.Binance.Symbols, ","); got != "SOLUSDT,ADAUSDT" {
		t.Fatalf("unexpected symbols: %s", got)
	}
	if cfg.Binance.DefaultSymbol != "ADAUSDT" {
		t.Fatalf("unexpected default symbol: %s", cfg.Binance.DefaultSymbol)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yml")
	prodPath := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prodPath, []byte("app:\n  name: prod\n"), 0o644); err != nil {
		t.Fatalf("write prod config: %v", err)
	}

	t.Setenv(appEnvVar, "prod")
	if got := resolveConfigPath("", defaultPath); got != prodPath {
		t.Fatalf("expected production path, got %s", got)
	}
	if got := resolveConfigPath("custom.yml", defaultPath); got != "custom.yml" {
		t.Fatalf("explicit path should win, got %s", got)
	}

	t.Setenv(appEnvVar, "staging")
	if got := resolveConfigPath(defaultPath, defaultPath); got != defaultPath {
		t.Fatalf("expected default path for staging without file, got %s", got)
	}

	t.Setenv(appEnvVar, "")
	if got := resolveConfigPath(defaultPath, defaultPath); got != defaultPath {
		t.Fatalf("development has no variant, got %s", got)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv(appEnvVar, " Stage ")
	if env := AppEnvironment(); env != EnvironmentStaging {
		t.Fatalf("expected staging, got %s", env)
	}
	t.Setenv(appEnvVar, "qa")
	if env := AppEnvironment(); env != "qa" {
		t.Fatalf("unknown environments pass through, got %s", env)
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(EnvironmentProduction) || !IsProductionLike(EnvironmentStaging) {
		t.Fatal("production and staging should be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Fatal("development should not be production-like")
	}
}
