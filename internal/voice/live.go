package voice

import (
	"fmt"
	"os"
	"strings"

	"github.com/tau-run/tau/internal/health"
	"github.com/tau-run/tau/internal/store"
)

// LiveRuntime drives one live voice session: every frame is gated on
// the wake word, transitions the session through
// idle -> listening -> processing -> responding -> idle, and is
// persisted to the speaker's channel store exactly like contract mode.
type LiveRuntime struct {
	config       LiveConfig
	state        State
	sessionState SessionState
}

// NewLive constructs a live-mode runtime bound to one state directory.
func NewLive(config LiveConfig) (*LiveRuntime, error) {
	config = normalizedLiveConfig(config)
	if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", config.StateDir, err)
	}
	state, err := loadState(config.StateDir)
	if err != nil {
		return nil, err
	}
	sortInteractionsBySpeaker(state.Interactions)
	return &LiveRuntime{config: config, state: state, sessionState: SessionIdle}, nil
}

// RunLive loads a live input fixture from disk and drives one session
// cycle over it.
func RunLive(config LiveConfig) (LiveSummary, error) {
	fixture, err := loadLiveInputFixture(config.InputPath)
	if err != nil {
		return LiveSummary{}, err
	}
	runtime, err := NewLive(config)
	if err != nil {
		return LiveSummary{}, err
	}
	return runtime.RunOnce(fixture)
}

func (r *LiveRuntime) transition(next SessionState) { r.sessionState = next }

// InspectHealth returns the latest persisted transport health snapshot.
func (r *LiveRuntime) InspectHealth() health.Snapshot { return r.state.Health }

// RunOnce processes every frame in fixture (capped at MaxTurns),
// gating each on the wake word before handling it as a turn.
func (r *LiveRuntime) RunOnce(fixture LiveInputFixture) (LiveSummary, error) {
	summary := LiveSummary{DiscoveredFrames: len(fixture.Frames)}

	buffered := fixture.Frames
	if len(buffered) > r.config.MaxTurns {
		buffered = buffered[:r.config.MaxTurns]
	}
	summary.QueuedFrames = len(buffered)

	sessionID := normalizedLiveSessionID(fixture.SessionID)
	wakeWord := normalizeToken(r.config.WakeWord)

	for index, frame := range buffered {
		frameID := normalizedLiveFrameID(frame, index)
		frameKey := liveFrameRuntimeKey(sessionID, frame, frameID)
		r.transition(SessionListening)

		if frame.InvalidAudio || strings.TrimSpace(frame.Transcript) == "" {
			summary.InvalidAudioFrames++
			r.persistLiveNonSuccess(frameKey, frame, "invalid_audio", 422, "invalid_audio_frame", false)
			r.transition(SessionIdle)
			continue
		}

		utterance, detected := extractUtteranceDetectWakeWord(wakeWord, frame.Transcript)
		if !detected {
			summary.IgnoredFrames++
			r.persistLiveNonSuccess(frameKey, frame, "ignored_no_wake_word", 204, "", false)
			r.transition(SessionIdle)
			continue
		}

		summary.WakeWordDetections++
		if frame.ProviderOutage {
			r.transition(SessionProcessing)
			summary.ProviderOutages++
			r.persistLiveNonSuccess(frameKey, frame, "provider_outage", 503, "voice_backend_unavailable", true)
			r.transition(SessionIdle)
			continue
		}

		if utterance == "" {
			r.persistLiveNonSuccess(frameKey, frame, "wake_word_only", 202, "", true)
			r.transition(SessionIdle)
			continue
		}

		r.transition(SessionProcessing)
		responseText := "acknowledged: " + utterance
		r.transition(SessionResponding)
		if r.persistLiveSuccess(frameKey, frameID, frame, utterance, responseText) {
			summary.TTSOutputs++
		}
		summary.HandledTurns++
		r.transition(SessionIdle)
	}

	now := store.NowUnixMilli()
	snapshot := buildLiveHealthSnapshot(summary, r.state.Health.FailureStreak, now)
	r.state.Health = snapshot

	if err := saveState(r.config.StateDir, r.state); err != nil {
		return summary, err
	}
	if err := appendLiveCycleReport(r.config.StateDir, summary, snapshot, sessionID, r.sessionState, wakeWord, now); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *LiveRuntime) persistLiveSuccess(frameKey, frameID string, frame LiveFrame, utterance, responseText string) bool {
	speakerID := normalizeSpeakerID(frame.SpeakerID)
	locale := normalizeLocale(frame.Locale)
	now := store.NowUnixMilli()
	wakeWord := normalizeToken(r.config.WakeWord)
	runCount := findInteractionRunCount(&r.state, frameKey) + 1

	record := InteractionRecord{
		CaseKey:        frameKey,
		CaseID:         frameID,
		Mode:           "live_turn",
		WakeWord:       wakeWord,
		Locale:         locale,
		SpeakerID:      speakerID,
		Utterance:      utterance,
		LastStatusCode: 202,
		LastOutcome:    "success",
		RunCount:       runCount,
		UpdatedUnixMS:  now,
	}
	upsertInteraction(&r.state, record)
	sortInteractionsBySpeaker(r.state.Interactions)

	channelStore, err := store.OpenChannelStore(channelStoreRoot(r.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: speakerID})
	if err != nil {
		return false
	}
	_, _ = channelStore.AppendLog(store.LogEntry{
		TimestampUnixMS: now,
		Direction:       "system",
		EventKey:        frameKey,
		Source:          "voice_live_runtime",
		Payload: map[string]any{
			"outcome":       "success",
			"mode":          "live_turn",
			"frame_id":      frameID,
			"speaker_id":    speakerID,
			"wake_word":     wakeWord,
			"locale":        locale,
			"utterance":     utterance,
			"response_text": responseText,
			"status_code":   202,
		},
	}, store.DefaultRotateBytes)
	_ = channelStore.AppendContext(fmt.Sprintf("voice live frame %s handled speaker=%s utterance=%s", frameID, speakerID, utterance), store.DefaultRotateBytes)

	ttsWritten := false
	if r.config.TTSOutputEnabled {
		_, _ = channelStore.AppendLog(store.LogEntry{
			TimestampUnixMS: now,
			Direction:       "assistant",
			EventKey:        frameKey,
			Source:          "voice_live_runtime",
			Payload: map[string]any{
				"outcome":   "tts_output",
				"text":      responseText,
				"voice_id":  "default",
				"mime_type": "audio/wav",
			},
		}, store.DefaultRotateBytes)
		ttsWritten = true
	}

	_ = channelStore.WriteMemory(renderVoiceSnapshot(r.state.Interactions, speakerID))
	return ttsWritten
}

func (r *LiveRuntime) persistLiveNonSuccess(frameKey string, frame LiveFrame, outcome string, statusCode int, errorCode string, wakeWordDetected bool) {
	speakerID := normalizeSpeakerID(frame.SpeakerID)
	locale := normalizeLocale(frame.Locale)
	now := store.NowUnixMilli()
	channelStore, err := store.OpenChannelStore(channelStoreRoot(r.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: speakerID})
	if err != nil {
		return
	}
	_, _ = channelStore.AppendLog(store.LogEntry{
		TimestampUnixMS: now,
		Direction:       "system",
		EventKey:        frameKey,
		Source:          "voice_live_runtime",
		Payload: map[string]any{
			"outcome":            outcome,
			"frame_id":           frame.FrameID,
			"speaker_id":         speakerID,
			"wake_word":          normalizeToken(r.config.WakeWord),
			"wake_word_detected": wakeWordDetected,
			"locale":             locale,
			"transcript":         strings.TrimSpace(frame.Transcript),
			"status_code":        statusCode,
			"error_code":         errorCode,
		},
	}, store.DefaultRotateBytes)
	_ = channelStore.AppendContext(fmt.Sprintf("voice live frame %s outcome=%s error_code=%s status=%d", frame.FrameID, outcome, errorCode, statusCode), store.DefaultRotateBytes)
}
