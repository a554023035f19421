// Package config loads and defaults the root Tau configuration: one
// JSON5 file overlaid with environment variables, the same two-stage
// pattern the gateway's own config loader uses.
package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tau-run/tau/internal/connectors"
	"github.com/tau-run/tau/internal/events"
	"github.com/tau-run/tau/internal/gateway"
	"github.com/tau-run/tau/internal/jobs"
	"github.com/tau-run/tau/internal/policy"
	"github.com/tau-run/tau/internal/voice"
)

// Config is the root configuration for the tau runtime.
type Config struct {
	DataDir    string           `json:"data_dir"`
	Store      StoreConfig      `json:"store,omitempty"`
	Gateway    GatewayConfig    `json:"gateway,omitempty"`
	Connectors ConnectorsConfig `json:"connectors,omitempty"`
	Jobs       JobsConfig       `json:"jobs,omitempty"`
	Voice      VoiceConfig      `json:"voice,omitempty"`
	Events     EventsConfig     `json:"events,omitempty"`
	Policy     PolicyConfig     `json:"policy,omitempty"`

	mu sync.RWMutex
}

// StoreConfig configures JSONL log rotation across every runtime.
type StoreConfig struct {
	RotateBytes int64 `json:"rotate_bytes,omitempty"`
}

// GatewayConfig is the JSON-serializable form of gateway.Config.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	AuthMode string `json:"auth_mode,omitempty"`
	Token    string `json:"-"` // from env TAU_GATEWAY_TOKEN only

	SessionTokenTTLSeconds int64 `json:"session_token_ttl_seconds,omitempty"`

	RateLimitWindowSeconds int `json:"rate_limit_window_seconds,omitempty"`
	RateLimitMaxRequests   int `json:"rate_limit_max_requests,omitempty"`

	MaxInputChars int `json:"max_input_chars,omitempty"`

	SessionLockWaitSeconds  int `json:"session_lock_wait_seconds,omitempty"`
	SessionLockStaleSeconds int `json:"session_lock_stale_seconds,omitempty"`

	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// ConnectorsConfig is the JSON-serializable form of connectors.Config.
type ConnectorsConfig struct {
	IngressDir        string `json:"ingress_dir,omitempty"`
	ProcessedEventCap int    `json:"processed_event_cap,omitempty"`
	RetryMaxAttempts  int    `json:"retry_max_attempts,omitempty"`
	RetryBaseDelayMS  int64  `json:"retry_base_delay_ms,omitempty"`

	TelegramMode     string `json:"telegram_mode,omitempty"`
	TelegramAPIBase  string `json:"telegram_api_base,omitempty"`
	TelegramBotToken string `json:"-"` // from env TAU_TELEGRAM_BOT_TOKEN only

	DiscordMode              string   `json:"discord_mode,omitempty"`
	DiscordAPIBase           string   `json:"discord_api_base,omitempty"`
	DiscordBotToken          string   `json:"-"` // from env TAU_DISCORD_BOT_TOKEN only
	DiscordIngressChannelIDs []string `json:"discord_ingress_channel_ids,omitempty"`

	WhatsAppMode               string `json:"whatsapp_mode,omitempty"`
	WhatsAppWebhookVerifyToken string `json:"-"` // from env TAU_WHATSAPP_WEBHOOK_VERIFY_TOKEN only
	WhatsAppWebhookAppSecret   string `json:"-"` // from env TAU_WHATSAPP_WEBHOOK_APP_SECRET only
	WhatsAppAccessToken        string `json:"-"` // from env TAU_WHATSAPP_ACCESS_TOKEN only
	WhatsAppPhoneNumberID      string `json:"-"` // from env TAU_WHATSAPP_PHONE_NUMBER_ID only
}

// JobsConfig is the JSON-serializable form of jobs.RuntimeConfig.
type JobsConfig struct {
	DefaultTimeoutMS int64 `json:"default_timeout_ms,omitempty"`
	MaxTimeoutMS     int64 `json:"max_timeout_ms,omitempty"`
	WorkerPollMS     int64 `json:"worker_poll_ms,omitempty"`
}

// VoiceConfig is the JSON-serializable form of voice.Config.
type VoiceConfig struct {
	FixturePath      string `json:"fixture_path,omitempty"`
	QueueLimit       int    `json:"queue_limit,omitempty"`
	ProcessedCaseCap int    `json:"processed_case_cap,omitempty"`
	RetryMaxAttempts int    `json:"retry_max_attempts,omitempty"`
	RetryBaseDelayMS int64  `json:"retry_base_delay_ms,omitempty"`

	LiveInputPath        string `json:"live_input_path,omitempty"`
	LiveWakeWord         string `json:"live_wake_word,omitempty"`
	LiveMaxTurns         int    `json:"live_max_turns,omitempty"`
	LiveTTSOutputEnabled bool   `json:"live_tts_output_enabled,omitempty"`
}

// EventsConfig is the JSON-serializable form of the events scheduler's
// inputs (events.SchedulerConfig plus its shared report defaults).
type EventsConfig struct {
	EventsDir                   string `json:"events_dir,omitempty"`
	PollIntervalSeconds         int    `json:"poll_interval_seconds,omitempty"`
	QueueLimit                  int    `json:"queue_limit,omitempty"`
	StaleImmediateMaxAgeSeconds int64  `json:"stale_immediate_max_age_seconds,omitempty"`
}

// PolicyConfig is the JSON-serializable form of policy.Snapshot.
type PolicyConfig struct {
	ProtectedPaths              []string `json:"protected_paths,omitempty"`
	AllowProtectedPathMutations bool     `json:"allow_protected_path_mutations,omitempty"`
	AllowedRoots                []string `json:"allowed_roots,omitempty"`
	RequireRegularFile          bool     `json:"require_regular_file,omitempty"`

	MaxFileWriteBytes     int64 `json:"max_file_write_bytes,omitempty"`
	MaxCommandLength      int   `json:"max_command_length,omitempty"`
	MaxCommandOutputBytes int64 `json:"max_command_output_bytes,omitempty"`

	CommandProfile         string   `json:"command_profile,omitempty"`
	CommandAllowlist       []string `json:"command_allowlist,omitempty"`
	AllowMultilineCommands bool     `json:"allow_multiline_commands,omitempty"`

	RBACRules []PolicyRBACRule `json:"rbac_rules,omitempty"`

	RateLimitPerSecond        float64 `json:"rate_limit_per_second,omitempty"`
	RateLimitBurst            int     `json:"rate_limit_burst,omitempty"`
	RateLimitExceededBehavior string  `json:"rate_limit_exceeded_behavior,omitempty"`

	SandboxMode       string `json:"sandbox_mode,omitempty"`
	SandboxPolicyMode string `json:"sandbox_policy_mode,omitempty"`
	SandboxLauncher   string `json:"sandbox_launcher,omitempty"`

	Extension *PolicyExtensionConfig `json:"extension,omitempty"`
}

// PolicyRBACRule is the JSON-serializable form of policy.RBACRule.
type PolicyRBACRule struct {
	Principal string `json:"principal"`
	Tool      string `json:"tool"`
	Resource  string `json:"resource"`
}

// PolicyExtensionConfig is the JSON-serializable form of
// policy.ExtensionConfig.
type PolicyExtensionConfig struct {
	Binary      string   `json:"binary"`
	Permissions []string `json:"permissions,omitempty"`
	TimeoutSec  int      `json:"timeout_sec,omitempty"`
}

// Default returns a Config with sensible defaults, matching the fallback
// constants each runtime package already applies on its own zero values.
func Default() *Config {
	return &Config{
		DataDir: "~/.tau",
		Store:   StoreConfig{RotateBytes: 10 * 1024 * 1024},
		Gateway: GatewayConfig{
			Host:                    "0.0.0.0",
			Port:                    8790,
			AuthMode:                "token",
			SessionTokenTTLSeconds:  24 * 60 * 60,
			RateLimitWindowSeconds:  60,
			RateLimitMaxRequests:    120,
			MaxInputChars:           200_000,
			SessionLockWaitSeconds:  5,
			SessionLockStaleSeconds: 30,
		},
		Connectors: ConnectorsConfig{
			ProcessedEventCap: 2048,
			RetryMaxAttempts:  5,
			RetryBaseDelayMS:  1_000,
			TelegramMode:      "disabled",
			DiscordMode:       "disabled",
			WhatsAppMode:      "disabled",
		},
		Jobs: JobsConfig{
			DefaultTimeoutMS: 30_000,
			MaxTimeoutMS:     300_000,
			WorkerPollMS:     500,
		},
		Voice: VoiceConfig{
			QueueLimit:       256,
			ProcessedCaseCap: 2048,
			RetryMaxAttempts: 5,
			RetryBaseDelayMS: 1_000,
			LiveWakeWord:     "tau",
			LiveMaxTurns:     8,
		},
		Events: EventsConfig{
			PollIntervalSeconds: 15,
			QueueLimit:          64,
		},
		Policy: PolicyConfig{
			CommandProfile:            "balanced",
			SandboxMode:               "auto",
			SandboxPolicyMode:         "best_effort",
			RateLimitExceededBehavior: "defer",
		},
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's
// mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DataDir = src.DataDir
	c.Store = src.Store
	c.Gateway = src.Gateway
	c.Connectors = src.Connectors
	c.Jobs = src.Jobs
	c.Voice = src.Voice
	c.Events = src.Events
	c.Policy = src.Policy
}

// toGatewayConfig converts GatewayConfig into gateway.Config, applying
// host/port resolution already done by the caller.
func (g GatewayConfig) toGatewayConfig() (gateway.Config, error) {
	mode, err := parseAuthMode(g.AuthMode)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		Host:                 g.Host,
		Port:                 g.Port,
		AuthMode:             mode,
		Token:                g.Token,
		SessionTokenTTL:      secondsToDuration(g.SessionTokenTTLSeconds),
		RateLimitWindow:      secondsToDuration(int64(g.RateLimitWindowSeconds)),
		RateLimitMaxRequests: g.RateLimitMaxRequests,
		MaxInputChars:        g.MaxInputChars,
		SessionLockWait:      secondsToDuration(int64(g.SessionLockWaitSeconds)),
		SessionLockStale:     secondsToDuration(int64(g.SessionLockStaleSeconds)),
		AllowedOrigins:       g.AllowedOrigins,
	}, nil
}

func parseAuthMode(raw string) (gateway.AuthMode, error) {
	switch raw {
	case "", "token":
		return gateway.AuthToken, nil
	case "password_session":
		return gateway.AuthPasswordSession, nil
	case "localhost_dev":
		return gateway.AuthLocalhostDev, nil
	default:
		return "", fmt.Errorf("unknown gateway auth_mode %q", raw)
	}
}

func (c ConnectorsConfig) toConnectorsConfig(statePath string) (connectors.Config, error) {
	telegramMode, err := parseConnectorMode(c.TelegramMode)
	if err != nil {
		return connectors.Config{}, fmt.Errorf("telegram_mode: %w", err)
	}
	discordMode, err := parseConnectorMode(c.DiscordMode)
	if err != nil {
		return connectors.Config{}, fmt.Errorf("discord_mode: %w", err)
	}
	whatsappMode, err := parseConnectorMode(c.WhatsAppMode)
	if err != nil {
		return connectors.Config{}, fmt.Errorf("whatsapp_mode: %w", err)
	}

	return connectors.Config{
		StatePath:         statePath,
		IngressDir:        c.IngressDir,
		ProcessedEventCap: c.ProcessedEventCap,
		RetryMaxAttempts:  c.RetryMaxAttempts,
		RetryBaseDelayMS:  c.RetryBaseDelayMS,

		TelegramMode:     telegramMode,
		TelegramAPIBase:  c.TelegramAPIBase,
		TelegramBotToken: c.TelegramBotToken,

		DiscordMode:              discordMode,
		DiscordAPIBase:           c.DiscordAPIBase,
		DiscordBotToken:          c.DiscordBotToken,
		DiscordIngressChannelIDs: c.DiscordIngressChannelIDs,

		WhatsAppMode:               whatsappMode,
		WhatsAppWebhookVerifyToken: c.WhatsAppWebhookVerifyToken,
		WhatsAppWebhookAppSecret:   c.WhatsAppWebhookAppSecret,
	}, nil
}

func parseConnectorMode(raw string) (connectors.Mode, error) {
	switch raw {
	case "", "disabled":
		return connectors.ModeDisabled, nil
	case "polling":
		return connectors.ModePolling, nil
	case "webhook":
		return connectors.ModeWebhook, nil
	default:
		return "", fmt.Errorf("unknown connector mode %q", raw)
	}
}

func (j JobsConfig) toRuntimeConfig(stateDir string) jobs.RuntimeConfig {
	return jobs.RuntimeConfig{
		StateDir:         stateDir,
		DefaultTimeoutMS: j.DefaultTimeoutMS,
		MaxTimeoutMS:     j.MaxTimeoutMS,
		WorkerPollMS:     j.WorkerPollMS,
	}
}

func (v VoiceConfig) toVoiceConfig(stateDir string) voice.Config {
	return voice.Config{
		FixturePath:      v.FixturePath,
		StateDir:         stateDir,
		QueueLimit:       v.QueueLimit,
		ProcessedCaseCap: v.ProcessedCaseCap,
		RetryMaxAttempts: v.RetryMaxAttempts,
		RetryBaseDelayMS: v.RetryBaseDelayMS,
	}
}

func (v VoiceConfig) toLiveConfig(stateDir string) voice.LiveConfig {
	return voice.LiveConfig{
		InputPath:        v.LiveInputPath,
		StateDir:         stateDir,
		WakeWord:         v.LiveWakeWord,
		MaxTurns:         v.LiveMaxTurns,
		TTSOutputEnabled: v.LiveTTSOutputEnabled,
	}
}

func (e EventsConfig) toSchedulerConfig(runner events.Runner, channelStoreRoot, statePath string) events.SchedulerConfig {
	return events.SchedulerConfig{
		Runner:                      runner,
		ChannelStoreRoot:            channelStoreRoot,
		EventsDir:                   e.EventsDir,
		StatePath:                   statePath,
		PollInterval:                secondsToDuration(int64(e.PollIntervalSeconds)),
		QueueLimit:                  e.QueueLimit,
		StaleImmediateMaxAgeSeconds: e.StaleImmediateMaxAgeSeconds,
	}
}

func (p PolicyConfig) toSnapshot() policy.Snapshot {
	var rules []policy.RBACRule
	for _, r := range p.RBACRules {
		rules = append(rules, policy.RBACRule{Principal: r.Principal, Tool: r.Tool, Resource: r.Resource})
	}
	var rbac *policy.RBACPolicy
	if len(rules) > 0 {
		rbac = &policy.RBACPolicy{Rules: rules}
	}

	var extension *policy.ExtensionConfig
	if p.Extension != nil {
		extension = &policy.ExtensionConfig{
			Binary:      p.Extension.Binary,
			Permissions: p.Extension.Permissions,
			Timeout:     p.Extension.TimeoutSec,
		}
	}

	return policy.Snapshot{
		ProtectedPaths:              p.ProtectedPaths,
		AllowProtectedPathMutations: p.AllowProtectedPathMutations,
		AllowedRoots:                p.AllowedRoots,
		RequireRegularFile:          p.RequireRegularFile,
		MaxFileWriteBytes:           p.MaxFileWriteBytes,
		MaxCommandLength:            p.MaxCommandLength,
		MaxCommandOutputBytes:       p.MaxCommandOutputBytes,
		CommandProfile:              p.CommandProfile,
		CommandAllowlist:            p.CommandAllowlist,
		AllowMultilineCommands:      p.AllowMultilineCommands,
		RBAC:                        rbac,
		RateLimitPerSecond:          p.RateLimitPerSecond,
		RateLimitBurst:              p.RateLimitBurst,
		RateLimitExceededBehavior:   p.RateLimitExceededBehavior,
		SandboxMode:                 policy.SandboxMode(p.SandboxMode),
		SandboxPolicyMode:           policy.SandboxPolicyMode(p.SandboxPolicyMode),
		SandboxLauncher:             p.SandboxLauncher,
		Extension:                   extension,
	}
}

// Hash returns a short SHA-256 hash of the config for optimistic
// concurrency / change detection.
func (c *Config) Hash() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}
