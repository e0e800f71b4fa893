package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func missingConfig(t *testing.T) string {
	return "--config=" + filepath.Join(t.TempDir(), "absent.conf")
}

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{missingConfig(t)})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxPerRun != 5 {
		t.Errorf("Expected max per run 5, got %d", cfg.MaxPerRun)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", cfg.MaxConcurrency)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.FetchBudget != 10*time.Second {
		t.Errorf("Expected fetch budget 10s, got %v", cfg.FetchBudget)
	}
	if cfg.PostDelay != 500*time.Millisecond {
		t.Errorf("Expected post delay 500ms, got %v", cfg.PostDelay)
	}
	if cfg.UserAgent != "rss-relay/1.0" {
		t.Errorf("Expected default user agent, got '%s'", cfg.UserAgent)
	}
	if cfg.StateBackend != "file" {
		t.Errorf("Expected file state backend, got '%s'", cfg.StateBackend)
	}
	if cfg.Verbose {
		t.Error("Expected verbose to be off by default")
	}
	if cfg.Daemon() {
		t.Error("Expected single-run mode by default")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.conf")
	content := `# relay settings
WEBHOOK_URL = https://hooks.example.com/abc
FEEDS = r/golang, https://example.com/feed.xml
MAX_PER_RUN = 3
MAX_CONCURRENCY = 4
FETCH_BUDGET_SECONDS = 2.5
VERBOSE = yes
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{"--config=" + path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.WebhookURL != "https://hooks.example.com/abc" {
		t.Errorf("Expected webhook from file, got '%s'", cfg.WebhookURL)
	}
	if cfg.Feeds != "r/golang, https://example.com/feed.xml" {
		t.Errorf("Expected feeds from file, got '%s'", cfg.Feeds)
	}
	if cfg.MaxPerRun != 3 {
		t.Errorf("Expected max per run 3, got %d", cfg.MaxPerRun)
	}
	if cfg.MaxConcurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", cfg.MaxConcurrency)
	}
	if cfg.FetchBudget != 2500*time.Millisecond {
		t.Errorf("Expected fetch budget 2.5s, got %v", cfg.FetchBudget)
	}
	if !cfg.Verbose {
		t.Error("Expected verbose to be enabled")
	}
}

func TestLoadFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.conf")
	if err := os.WriteFile(path, []byte("MAX_PER_RUN = 3\nUSER_AGENT = from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{"--config=" + path, "--max-per-run=9"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxPerRun != 9 {
		t.Errorf("Expected flag to win, got %d", cfg.MaxPerRun)
	}
	if cfg.UserAgent != "from-file" {
		t.Errorf("Expected user agent from file, got '%s'", cfg.UserAgent)
	}
}

func TestLoadEnvironmentOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.conf")
	if err := os.WriteFile(path, []byte("MAX_PER_RUN = 3\nUSER_AGENT = from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_PER_RUN", "7")

	cfg, err := Load([]string{"--config=" + path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxPerRun != 7 {
		t.Errorf("Expected environment to win over file, got %d", cfg.MaxPerRun)
	}
	if cfg.UserAgent != "from-file" {
		t.Errorf("Expected user agent from file, got '%s'", cfg.UserAgent)
	}

	cfg, err = Load([]string{"--config=" + path, "--max-per-run=9"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxPerRun != 9 {
		t.Errorf("Expected flag to win over environment, got %d", cfg.MaxPerRun)
	}
}

func TestLoadConfigFileLeniency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.conf")
	content := `SOME_OLD_KEY=1
not a setting
USER_AGENT='quoted-ua'
ICON="*"
[section]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load([]string{"--config=" + path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UserAgent != "quoted-ua" {
		t.Errorf("Expected single quotes stripped, got '%s'", cfg.UserAgent)
	}
	if cfg.Icon != "*" {
		t.Errorf("Expected double quotes stripped, got '%s'", cfg.Icon)
	}
}

func TestLoadClampsValues(t *testing.T) {
	cfg, err := Load([]string{
		missingConfig(t),
		"--max-per-run=0",
		"--max-concurrency=100",
		"--fetch-budget=0.2",
		"--timeout=0",
		"--interval=60",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxPerRun != 1 {
		t.Errorf("Expected max per run clamped to 1, got %d", cfg.MaxPerRun)
	}
	if cfg.MaxConcurrency != 32 {
		t.Errorf("Expected concurrency clamped to 32, got %d", cfg.MaxConcurrency)
	}
	if cfg.FetchBudget != time.Second {
		t.Errorf("Expected fetch budget clamped to 1s, got %v", cfg.FetchBudget)
	}
	if cfg.Timeout != time.Second {
		t.Errorf("Expected timeout clamped to 1s, got %v", cfg.Timeout)
	}
	if !cfg.Daemon() || cfg.Interval != time.Minute {
		t.Errorf("Expected daemon mode with 1m interval, got %v", cfg.Interval)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	if _, err := Load([]string{missingConfig(t), "--state-backend=redis"}); err == nil {
		t.Error("Expected error for unknown state backend")
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{"1": true, "TRUE": true, " on ": true, "yes": true, "0": false, "off": false, "maybe": false}
	for in, want := range cases {
		if got := parseBool(in, false); got != want {
			t.Errorf("parseBool(%q) = %v, want %v", in, got, want)
		}
	}
	if !parseBool("maybe", true) {
		t.Error("Expected default to be returned for unrecognised values")
	}
}
