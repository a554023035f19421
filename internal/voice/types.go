// Package voice implements the voice assistant runtime: a contract-mode
// fixture replayer used in CI, and a live-mode session runner that gates
// transcripts on a wake word and drives a simple listen/process/respond
// state machine, mirroring the same channel-store trace contract every
// other transport uses.
package voice

import "github.com/tau-run/tau/internal/health"

const (
	runtimeStateSchemaVersion = 1
	liveInputSchemaVersion    = 1
	eventsLogFileName         = "runtime-events.jsonl"
	stateFileName             = "state.json"

	defaultLocale           = "en-US"
	defaultLiveSessionID    = "voice-live"
	unmatchedSpeakerID      = "voice"
	retryDelayCapMultiplier = 1024 // 2^10
	processedCaseDefaultCap = 500
)

// Config configures one contract-mode (fixture replay) voice runtime.
type Config struct {
	FixturePath      string
	StateDir         string
	QueueLimit       int
	ProcessedCaseCap int
	RetryMaxAttempts int
	RetryBaseDelayMS int64
}

// LiveConfig configures one live-mode voice session runtime.
type LiveConfig struct {
	InputPath        string
	StateDir         string
	WakeWord         string
	MaxTurns         int
	TTSOutputEnabled bool
}

// Summary tallies one contract-mode replay cycle.
type Summary struct {
	DiscoveredCases    int
	QueuedCases        int
	AppliedCases       int
	DuplicateSkips     int
	MalformedCases     int
	RetryableFailures  int
	RetryAttempts      int
	FailedCases        int
	WakeWordDetections int
	HandledTurns       int
}

// LiveSummary tallies one live-mode session cycle.
type LiveSummary struct {
	DiscoveredFrames   int
	QueuedFrames       int
	WakeWordDetections int
	HandledTurns       int
	IgnoredFrames      int
	InvalidAudioFrames int
	ProviderOutages    int
	TTSOutputs         int
}

// SessionState is a live session's position in its listen/process/respond
// cycle.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionListening  SessionState = "listening"
	SessionProcessing SessionState = "processing"
	SessionResponding SessionState = "responding"
)

// ReplayStep is the deterministic outcome a contract case evaluates to.
type ReplayStep string

const (
	StepSuccess          ReplayStep = "success"
	StepMalformedInput   ReplayStep = "malformed_input"
	StepRetryableFailure ReplayStep = "retryable_failure"
)

// Case is one fixture-declared contract interaction. The expected
// outcome is declared by the fixture rather than derived from real
// audio, since contract mode replays a scripted transcript.
type Case struct {
	CaseID          string `json:"case_id"`
	Mode            string `json:"mode"`
	WakeWord        string `json:"wake_word"`
	Locale          string `json:"locale"`
	SpeakerID       string `json:"speaker_id"`
	Transcript      string `json:"transcript"`
	ExpectedOutcome string `json:"expected_outcome"`
	ExpectedStatus  int    `json:"expected_status"`
	RetryableUntil  int    `json:"retryable_until_attempt"`
}

// ContractFixture is the on-disk contract replay fixture.
type ContractFixture struct {
	SchemaVersion int    `json:"schema_version"`
	Cases         []Case `json:"cases"`
}

// ReplayResult is the deterministic outcome of evaluating one Case.
type ReplayResult struct {
	Step       ReplayStep
	StatusCode int
	ErrorCode  string
	Utterance  string
}

// LiveFrame is one fixture-declared live audio frame.
type LiveFrame struct {
	FrameID        string `json:"frame_id"`
	Transcript     string `json:"transcript"`
	SpeakerID      string `json:"speaker_id"`
	Locale         string `json:"locale"`
	InvalidAudio   bool   `json:"invalid_audio"`
	ProviderOutage bool   `json:"provider_outage"`
}

// LiveInputFixture is the on-disk live-mode input fixture.
type LiveInputFixture struct {
	SchemaVersion int         `json:"schema_version"`
	SessionID     string      `json:"session_id"`
	Frames        []LiveFrame `json:"frames"`
}

// InteractionRecord is one persisted voice interaction, keyed by a
// stable case/frame key so repeated runs update rather than duplicate it.
type InteractionRecord struct {
	CaseKey        string `json:"case_key"`
	CaseID         string `json:"case_id"`
	Mode           string `json:"mode"`
	WakeWord       string `json:"wake_word"`
	Locale         string `json:"locale"`
	SpeakerID      string `json:"speaker_id"`
	Utterance      string `json:"utterance"`
	LastStatusCode int    `json:"last_status_code"`
	LastOutcome    string `json:"last_outcome"`
	RunCount       uint64 `json:"run_count"`
	UpdatedUnixMS  int64  `json:"updated_unix_ms"`
}

// State is the runtime's persisted state.json: dedup memory, interaction
// history, and the shared transport health snapshot.
type State struct {
	SchemaVersion     int                 `json:"schema_version"`
	ProcessedCaseKeys []string            `json:"processed_case_keys"`
	Interactions      []InteractionRecord `json:"interactions"`
	Health            health.Snapshot     `json:"health"`
}

func normalizedConfig(config Config) Config {
	if config.QueueLimit < 1 {
		config.QueueLimit = 100
	}
	if config.ProcessedCaseCap < 1 {
		config.ProcessedCaseCap = processedCaseDefaultCap
	}
	if config.RetryMaxAttempts < 1 {
		config.RetryMaxAttempts = 3
	}
	if config.RetryBaseDelayMS < 1 {
		config.RetryBaseDelayMS = 50
	}
	return config
}

func normalizedLiveConfig(config LiveConfig) LiveConfig {
	if config.MaxTurns < 1 {
		config.MaxTurns = 1
	}
	return config
}
