package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 8790 {
		t.Fatalf("expected default gateway port 8790, got %d", cfg.Gateway.Port)
	}
	if cfg.Connectors.TelegramMode != "disabled" {
		t.Fatalf("expected default telegram mode disabled, got %q", cfg.Connectors.TelegramMode)
	}
}

func TestLoadParsesJSON5WithCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// operator override
		"data_dir": "/var/lib/tau",
		"gateway": {
			"port": 9999,
		},
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/tau" {
		t.Fatalf("expected data_dir override, got %q", cfg.DataDir)
	}
	if cfg.Gateway.Port != 9999 {
		t.Fatalf("expected gateway port override, got %d", cfg.Gateway.Port)
	}
	// Values not touched by the file keep their defaults.
	if cfg.Gateway.MaxInputChars != 200_000 {
		t.Fatalf("expected untouched default max_input_chars, got %d", cfg.Gateway.MaxInputChars)
	}
}

func TestLoadEnvOverridesSecretsAndAutoEnablesMode(t *testing.T) {
	t.Setenv("TAU_TELEGRAM_BOT_TOKEN", "secret-token")
	path := filepath.Join(t.TempDir(), "config.json5")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connectors.TelegramBotToken != "secret-token" {
		t.Fatalf("expected env token applied, got %q", cfg.Connectors.TelegramBotToken)
	}
	if cfg.Connectors.TelegramMode != "polling" {
		t.Fatalf("expected telegram auto-enabled to polling, got %q", cfg.Connectors.TelegramMode)
	}
}

func TestSaveNeverPersistsSecretFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Gateway.Token = "super-secret"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Fatalf("expected secret token to be excluded from saved config, got:\n%s", data)
	}
}

func TestExpandHomeReplacesLeadingTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	if got := ExpandHome("~/data"); got != filepath.Join(home, "data") {
		t.Fatalf("expected expanded path under home, got %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("expected absolute path unchanged, got %q", got)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	cfg := Default()
	h1, err := cfg.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	cfg.Gateway.Port = 1234
	h2, err := cfg.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected hash to change after mutating config")
	}
}
