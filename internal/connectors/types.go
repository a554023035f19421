// Package connectors implements the multi-channel live connector runtime:
// polling adapters for Telegram and Discord, a webhook adapter for
// WhatsApp, a per-channel circuit breaker, and the shared ingest
// contract that normalizes and deduplicates inbound events before
// handing them to the durable store.
package connectors

const stateSchemaVersion = 1

const maxPollBatchSize = 50

// Breaker states, mirroring a textbook closed/open/half_open circuit
// breaker plus a terminal "disabled" state for channels not configured
// to poll or receive webhooks at all.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
	BreakerDisabled = "disabled"
)

// Mode selects how a channel receives inbound events.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModePolling  Mode = "polling"
	ModeWebhook  Mode = "webhook"
)

// ErrorCode classifies why one connector operation failed.
type ErrorCode string

const (
	ErrorMissingConfig              ErrorCode = "missing_config"
	ErrorAuthFailed                 ErrorCode = "auth_failed"
	ErrorRateLimited                ErrorCode = "rate_limited"
	ErrorProviderUnavailable        ErrorCode = "provider_unavailable"
	ErrorTransportError             ErrorCode = "transport_error"
	ErrorParseFailed                ErrorCode = "parse_failed"
	ErrorInvalidSignature           ErrorCode = "invalid_signature"
	ErrorInvalidWebhookVerification ErrorCode = "invalid_webhook_verification"
)

// connectorError is an internal operation failure, tagged with whether
// a retry is worth attempting.
type connectorError struct {
	code      ErrorCode
	message   string
	retryable bool
}

func (e *connectorError) Error() string { return e.message }

func newConnectorError(code ErrorCode, message string, retryable bool) *connectorError {
	return &connectorError{code: code, message: message, retryable: retryable}
}

// ChannelState is the persisted resilience and counter state for one
// channel (telegram, discord, or whatsapp).
type ChannelState struct {
	Mode                  string `json:"mode"`
	Liveness              string `json:"liveness"`
	EventsIngested        uint64 `json:"events_ingested"`
	DuplicatesSkipped     uint64 `json:"duplicates_skipped"`
	RetryAttempts         uint64 `json:"retry_attempts"`
	AuthFailures          uint64 `json:"auth_failures"`
	ParseFailures         uint64 `json:"parse_failures"`
	ProviderFailures      uint64 `json:"provider_failures"`
	ConsecutiveFailures   uint64 `json:"consecutive_failures"`
	RetryBudgetRemaining  uint64 `json:"retry_budget_remaining"`
	BreakerState          string `json:"breaker_state"`
	BreakerOpenUntilMS    int64  `json:"breaker_open_until_unix_ms"`
	BreakerLastOpenReason string `json:"breaker_last_open_reason"`
	BreakerOpenCount      uint64 `json:"breaker_open_count"`
	LastErrorCode         string `json:"last_error_code"`
	LastErrorMessage      string `json:"last_error_message"`
	LastSuccessUnixMS     int64  `json:"last_success_unix_ms"`
	LastErrorUnixMS       int64  `json:"last_error_unix_ms"`
}

// StateFile is the full persisted connector runtime state.
type StateFile struct {
	SchemaVersion          int                     `json:"schema_version"`
	ProcessedEventKeys     []string                `json:"processed_event_keys"`
	TelegramNextOffset     int64                   `json:"telegram_next_update_offset,omitempty"`
	DiscordLastMessageIDs  map[string]string       `json:"discord_last_message_ids"`
	Channels               map[string]*ChannelState `json:"channels"`
}

func newStateFile() StateFile {
	return StateFile{
		SchemaVersion:         stateSchemaVersion,
		DiscordLastMessageIDs: map[string]string{},
		Channels:              map[string]*ChannelState{},
	}
}

// StatusReport is the read-only view surfaced by the status CLI/report.
type StatusReport struct {
	StatePath          string                   `json:"state_path"`
	StatePresent       bool                     `json:"state_present"`
	SchemaVersion      int                      `json:"schema_version"`
	ProcessedEventCount int                     `json:"processed_event_count"`
	Channels           map[string]*ChannelState `json:"channels"`
}

// CycleSummary tallies what happened during one poll cycle.
type CycleSummary struct {
	IngestedEvents   uint64 `json:"ingested_events"`
	DuplicateEvents  uint64 `json:"duplicate_events"`
	RetryAttempts    uint64 `json:"retry_attempts"`
	AuthFailures     uint64 `json:"auth_failures"`
	ParseFailures    uint64 `json:"parse_failures"`
	ProviderFailures uint64 `json:"provider_failures"`
}

// Config configures one connector runtime cycle.
type Config struct {
	StatePath             string
	IngressDir            string
	ProcessedEventCap      int
	RetryMaxAttempts      int
	RetryBaseDelayMS      int64

	TelegramMode      Mode
	TelegramAPIBase   string
	TelegramBotToken  string

	DiscordMode              Mode
	DiscordAPIBase           string
	DiscordBotToken          string
	DiscordIngressChannelIDs []string

	WhatsAppMode               Mode
	WhatsAppWebhookVerifyToken string
	WhatsAppWebhookAppSecret   string
}

func retryBudgetMax(config Config) uint64 {
	attempts := config.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return uint64(attempts)
}

func breakerFailureThreshold(config Config) uint64 {
	threshold := retryBudgetMax(config)
	if threshold < 2 {
		return 2
	}
	return threshold
}

func breakerCooldownMS(config Config) int64 {
	cooldown := config.RetryBaseDelayMS * 4
	if cooldown < 1000 {
		return 1000
	}
	return cooldown
}
