package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays environment
// variables. A missing file is not an error: Load falls back to
// Default() plus env overrides, the same tolerant-bootstrap behavior
// the gateway's own loader uses.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secret and deployment env vars onto the
// config. Env vars always win over file values, and secrets that must
// never be persisted to config.json (bot tokens, webhook secrets, the
// gateway token) are sourced exclusively from here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("TAU_GATEWAY_TOKEN", &c.Gateway.Token)
	if v := os.Getenv("TAU_GATEWAY_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("TAU_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("TAU_TELEGRAM_BOT_TOKEN", &c.Connectors.TelegramBotToken)
	envStr("TAU_DISCORD_BOT_TOKEN", &c.Connectors.DiscordBotToken)
	envStr("TAU_WHATSAPP_WEBHOOK_VERIFY_TOKEN", &c.Connectors.WhatsAppWebhookVerifyToken)
	envStr("TAU_WHATSAPP_WEBHOOK_APP_SECRET", &c.Connectors.WhatsAppWebhookAppSecret)
	envStr("TAU_WHATSAPP_ACCESS_TOKEN", &c.Connectors.WhatsAppAccessToken)
	envStr("TAU_WHATSAPP_PHONE_NUMBER_ID", &c.Connectors.WhatsAppPhoneNumberID)

	// Auto-enable polling connectors once a bot token is supplied via env,
	// so operators don't need to edit both config.json and the shell.
	modeUnset := func(mode string) bool { return mode == "" || mode == "disabled" }
	if c.Connectors.TelegramBotToken != "" && modeUnset(c.Connectors.TelegramMode) {
		c.Connectors.TelegramMode = "polling"
	}
	if c.Connectors.DiscordBotToken != "" && modeUnset(c.Connectors.DiscordMode) {
		c.Connectors.DiscordMode = "polling"
	}
	if c.Connectors.WhatsAppAccessToken != "" && modeUnset(c.Connectors.WhatsAppMode) {
		c.Connectors.WhatsAppMode = "webhook"
	}

	envStr("TAU_DATA_DIR", &c.DataDir)
}

// ApplyEnvOverrides re-applies environment variable overrides. Call this
// after replacing a config (e.g. a live reload) to restore runtime
// secrets that are never persisted to disk.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes cfg to path as indented JSON. Secret fields tagged
// `json:"-"` are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

func secondsToDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
