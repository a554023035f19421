package voice

import (
	"fmt"
	"strings"

	"github.com/tau-run/tau/internal/health"
	"github.com/tau-run/tau/internal/store"
)

type cycleReport struct {
	TimestampUnixMS    int64    `json:"timestamp_unix_ms"`
	HealthState        string   `json:"health_state"`
	HealthReason       string   `json:"health_reason"`
	ReasonCodes        []string `json:"reason_codes"`
	DiscoveredCases    int      `json:"discovered_cases"`
	QueuedCases        int      `json:"queued_cases"`
	AppliedCases       int      `json:"applied_cases"`
	DuplicateSkips     int      `json:"duplicate_skips"`
	MalformedCases     int      `json:"malformed_cases"`
	RetryableFailures  int      `json:"retryable_failures"`
	RetryAttempts      int      `json:"retry_attempts"`
	FailedCases        int      `json:"failed_cases"`
	WakeWordDetections int      `json:"wake_word_detections"`
	HandledTurns       int      `json:"handled_turns"`
	BacklogCases       int      `json:"backlog_cases"`
	FailureStreak      int      `json:"failure_streak"`
}

type liveCycleReport struct {
	TimestampUnixMS    int64    `json:"timestamp_unix_ms"`
	HealthState        string   `json:"health_state"`
	HealthReason       string   `json:"health_reason"`
	ReasonCodes        []string `json:"reason_codes"`
	SessionID          string   `json:"session_id"`
	SessionState       string   `json:"session_state"`
	WakeWord           string   `json:"wake_word"`
	DiscoveredFrames   int      `json:"discovered_frames"`
	QueuedFrames       int      `json:"queued_frames"`
	WakeWordDetections int      `json:"wake_word_detections"`
	HandledTurns       int      `json:"handled_turns"`
	IgnoredFrames      int      `json:"ignored_frames"`
	InvalidAudioFrames int      `json:"invalid_audio_frames"`
	ProviderOutages    int      `json:"provider_outages"`
	TTSOutputs         int      `json:"tts_outputs"`
	BacklogFrames      int      `json:"backlog_frames"`
	FailureStreak      int      `json:"failure_streak"`
}

func buildHealthSnapshot(summary Summary, cycleDurationMS int64, previousFailureStreak int, nowUnixMS int64) health.Snapshot {
	backlog := summary.DiscoveredCases - summary.QueuedCases
	if backlog < 0 {
		backlog = 0
	}
	failureStreak := 0
	lastCycleFailed := 0
	if summary.FailedCases > 0 {
		failureStreak = previousFailureStreak + 1
		lastCycleFailed = summary.FailedCases
	}
	return health.Snapshot{
		UpdatedUnixMS:   nowUnixMS,
		FailureStreak:   failureStreak,
		LastCycleFailed: lastCycleFailed,
		QueueDepth:      backlog,
	}
}

func buildLiveHealthSnapshot(summary LiveSummary, previousFailureStreak int, nowUnixMS int64) health.Snapshot {
	backlog := summary.DiscoveredFrames - summary.QueuedFrames
	if backlog < 0 {
		backlog = 0
	}
	failed := summary.InvalidAudioFrames + summary.ProviderOutages
	failureStreak := 0
	if failed > 0 {
		failureStreak = previousFailureStreak + 1
	}
	return health.Snapshot{
		UpdatedUnixMS:   nowUnixMS,
		FailureStreak:   failureStreak,
		LastCycleFailed: failed,
		QueueDepth:      backlog,
	}
}

func cycleReasonCodes(summary Summary) []string {
	var codes []string
	if summary.DiscoveredCases > summary.QueuedCases {
		codes = append(codes, "queue_backpressure_applied")
	}
	if summary.DuplicateSkips > 0 {
		codes = append(codes, "duplicate_cases_skipped")
	}
	if summary.MalformedCases > 0 {
		codes = append(codes, "malformed_inputs_observed")
	}
	if summary.RetryAttempts > 0 {
		codes = append(codes, "retry_attempted")
	}
	if summary.RetryableFailures > 0 {
		codes = append(codes, "retryable_failures_observed")
	}
	if summary.FailedCases > 0 {
		codes = append(codes, "case_processing_failed")
	}
	if summary.WakeWordDetections > 0 {
		codes = append(codes, "wake_word_detected")
	}
	if summary.HandledTurns > 0 {
		codes = append(codes, "turns_handled")
	}
	if len(codes) == 0 {
		codes = append(codes, "healthy_cycle")
	}
	return codes
}

func cycleReasonCodesLive(summary LiveSummary) []string {
	var codes []string
	if summary.DiscoveredFrames > summary.QueuedFrames {
		codes = append(codes, "queue_backpressure_applied")
	}
	if summary.WakeWordDetections > 0 {
		codes = append(codes, "wake_word_detected")
	}
	if summary.HandledTurns > 0 {
		codes = append(codes, "turns_handled")
	}
	if summary.IgnoredFrames > 0 {
		codes = append(codes, "frames_ignored_no_wake_word")
	}
	if summary.InvalidAudioFrames > 0 {
		codes = append(codes, "invalid_audio_frames_observed")
	}
	if summary.ProviderOutages > 0 {
		codes = append(codes, "provider_outage_observed")
	}
	if summary.TTSOutputs > 0 {
		codes = append(codes, "tts_output_emitted")
	}
	if len(codes) == 0 {
		codes = append(codes, "healthy_cycle")
	}
	return codes
}

func appendCycleReport(stateDir string, summary Summary, snapshot health.Snapshot, nowUnixMS int64) error {
	classification := health.Classify(snapshot)
	report := cycleReport{
		TimestampUnixMS:    nowUnixMS,
		HealthState:        string(classification.State),
		HealthReason:       classification.Reason,
		ReasonCodes:        cycleReasonCodes(summary),
		DiscoveredCases:    summary.DiscoveredCases,
		QueuedCases:        summary.QueuedCases,
		AppliedCases:       summary.AppliedCases,
		DuplicateSkips:     summary.DuplicateSkips,
		MalformedCases:     summary.MalformedCases,
		RetryableFailures:  summary.RetryableFailures,
		RetryAttempts:      summary.RetryAttempts,
		FailedCases:        summary.FailedCases,
		WakeWordDetections: summary.WakeWordDetections,
		HandledTurns:       summary.HandledTurns,
		BacklogCases:       max(summary.DiscoveredCases-summary.QueuedCases, 0),
		FailureStreak:      snapshot.FailureStreak,
	}
	return store.AppendJSONLine(eventsPath(stateDir), report, store.AppendJSONLOptions{RotateBytes: store.DefaultRotateBytes})
}

func appendLiveCycleReport(stateDir string, summary LiveSummary, snapshot health.Snapshot, sessionID string, sessionState SessionState, wakeWord string, nowUnixMS int64) error {
	classification := health.Classify(snapshot)
	report := liveCycleReport{
		TimestampUnixMS:    nowUnixMS,
		HealthState:        string(classification.State),
		HealthReason:       classification.Reason,
		ReasonCodes:        cycleReasonCodesLive(summary),
		SessionID:          sessionID,
		SessionState:       string(sessionState),
		WakeWord:           wakeWord,
		DiscoveredFrames:   summary.DiscoveredFrames,
		QueuedFrames:       summary.QueuedFrames,
		WakeWordDetections: summary.WakeWordDetections,
		HandledTurns:       summary.HandledTurns,
		IgnoredFrames:      summary.IgnoredFrames,
		InvalidAudioFrames: summary.InvalidAudioFrames,
		ProviderOutages:    summary.ProviderOutages,
		TTSOutputs:         summary.TTSOutputs,
		BacklogFrames:      max(summary.DiscoveredFrames-summary.QueuedFrames, 0),
		FailureStreak:      snapshot.FailureStreak,
	}
	return store.AppendJSONLine(eventsPath(stateDir), report, store.AppendJSONLOptions{RotateBytes: store.DefaultRotateBytes})
}

// renderVoiceSnapshot renders memory.md for a channel: every interaction
// when channelID is the catch-all "voice" channel, otherwise only the
// interactions belonging to that speaker.
func renderVoiceSnapshot(records []InteractionRecord, channelID string) string {
	var filtered []InteractionRecord
	if channelID == unmatchedSpeakerID {
		filtered = records
	} else {
		for _, record := range records {
			if record.SpeakerID == channelID {
				filtered = append(filtered, record)
			}
		}
	}

	if len(filtered) == 0 {
		return fmt.Sprintf("# Tau Voice Snapshot (%s)\n\n- No voice interactions", channelID)
	}

	lines := []string{fmt.Sprintf("# Tau Voice Snapshot (%s)", channelID), ""}
	for _, record := range filtered {
		utterance := record.Utterance
		if utterance == "" {
			utterance = "-"
		}
		lines = append(lines, fmt.Sprintf("- speaker=%s mode=%s wake_word=%s status=%d utterance=%s",
			record.SpeakerID, record.Mode, record.WakeWord, record.LastStatusCode, utterance))
	}
	return strings.Join(lines, "\n")
}
