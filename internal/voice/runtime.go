package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tau-run/tau/internal/health"
	"github.com/tau-run/tau/internal/store"
)

// Runtime replays a contract fixture once per RunOnce call, deduping
// already-processed cases across restarts and persisting every
// interaction's outcome to its speaker's channel store.
type Runtime struct {
	config            Config
	state             State
	processedCaseKeys map[string]bool
}

// New constructs a contract-mode runtime bound to one state directory.
func New(config Config) (*Runtime, error) {
	config = normalizedConfig(config)
	if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", config.StateDir, err)
	}
	state, err := loadState(config.StateDir)
	if err != nil {
		return nil, err
	}
	state.ProcessedCaseKeys = normalizeProcessedCaseKeys(state.ProcessedCaseKeys, config.ProcessedCaseCap)
	sortInteractionsBySpeaker(state.Interactions)
	return &Runtime{
		config:            config,
		state:             state,
		processedCaseKeys: processedCaseKeySet(state.ProcessedCaseKeys),
	}, nil
}

// Run loads a contract fixture from disk and replays it once.
func Run(ctx context.Context, config Config) (Summary, error) {
	fixture, err := loadContractFixture(config.FixturePath)
	if err != nil {
		return Summary{}, err
	}
	runtime, err := New(config)
	if err != nil {
		return Summary{}, err
	}
	return runtime.RunOnce(ctx, fixture)
}

// InspectHealth returns the latest persisted transport health snapshot.
func (r *Runtime) InspectHealth() health.Snapshot { return r.state.Health }

// RunOnce replays every case in fixture (capped at the configured queue
// limit), applying dedup and bounded retry, then persists the updated
// state and a cycle report.
func (r *Runtime) RunOnce(ctx context.Context, fixture ContractFixture) (Summary, error) {
	cycleStarted := time.Now()
	summary := Summary{DiscoveredCases: len(fixture.Cases)}

	queued := fixture.Cases
	if len(queued) > r.config.QueueLimit {
		queued = queued[:r.config.QueueLimit]
	}
	summary.QueuedCases = len(queued)

caseLoop:
	for _, c := range queued {
		caseKey := caseRuntimeKey(c)
		if r.processedCaseKeys[caseKey] {
			summary.DuplicateSkips++
			continue
		}

		attempt := 1
		for {
			result := evaluateCase(c, attempt)
			switch result.Step {
			case StepSuccess:
				mutation := r.persistSuccessResult(c, caseKey, result)
				summary.AppliedCases++
				summary.WakeWordDetections += mutation.wakeWordDetections
				summary.HandledTurns += mutation.handledTurns
				recordProcessedCase(&r.state, r.processedCaseKeys, caseKey, r.config.ProcessedCaseCap)
				continue caseLoop
			case StepMalformedInput:
				summary.MalformedCases++
				r.persistNonSuccessResult(c, caseKey, result)
				recordProcessedCase(&r.state, r.processedCaseKeys, caseKey, r.config.ProcessedCaseCap)
				continue caseLoop
			case StepRetryableFailure:
				summary.RetryableFailures++
				if attempt >= r.config.RetryMaxAttempts {
					summary.FailedCases++
					r.persistNonSuccessResult(c, caseKey, result)
					continue caseLoop
				}
				summary.RetryAttempts++
				applyRetryDelay(ctx, r.config.RetryBaseDelayMS, attempt)
				attempt++
			}
		}
	}

	cycleDurationMS := time.Since(cycleStarted).Milliseconds()
	now := store.NowUnixMilli()
	snapshot := buildHealthSnapshot(summary, cycleDurationMS, r.state.Health.FailureStreak, now)
	r.state.Health = snapshot

	if err := saveState(r.config.StateDir, r.state); err != nil {
		return summary, err
	}
	if err := appendCycleReport(r.config.StateDir, summary, snapshot, now); err != nil {
		return summary, err
	}
	return summary, nil
}

type mutationCounts struct {
	wakeWordDetections int
	handledTurns       int
}

func (r *Runtime) persistSuccessResult(c Case, caseKey string, result ReplayResult) mutationCounts {
	mode := c.Mode
	wakeWord := normalizeToken(c.WakeWord)
	speakerID := normalizeSpeakerID(c.SpeakerID)
	now := store.NowUnixMilli()
	runCount := findInteractionRunCount(&r.state, caseKey) + 1

	record := InteractionRecord{
		CaseKey:        caseKey,
		CaseID:         c.CaseID,
		Mode:           mode,
		WakeWord:       wakeWord,
		Locale:         c.Locale,
		SpeakerID:      speakerID,
		Utterance:      result.Utterance,
		LastStatusCode: result.StatusCode,
		LastOutcome:    "success",
		RunCount:       runCount,
		UpdatedUnixMS:  now,
	}
	upsertInteraction(&r.state, record)
	sortInteractionsBySpeaker(r.state.Interactions)

	mutation := mutationCounts{handledTurns: 1}
	if mode == "wake_word" {
		mutation = mutationCounts{wakeWordDetections: 1}
	}

	channelStore, err := store.OpenChannelStore(channelStoreRoot(r.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: speakerID})
	if err != nil {
		return mutation
	}
	_, _ = channelStore.AppendLog(store.LogEntry{
		TimestampUnixMS: now,
		Direction:       "system",
		EventKey:        caseKey,
		Source:          "voice_runtime",
		Payload: map[string]any{
			"outcome":     "success",
			"case_id":     c.CaseID,
			"mode":        mode,
			"speaker_id":  speakerID,
			"wake_word":   wakeWord,
			"locale":      c.Locale,
			"utterance":   result.Utterance,
			"status_code": result.StatusCode,
		},
	}, store.DefaultRotateBytes)
	_ = channelStore.AppendContext(fmt.Sprintf("voice case %s applied mode=%s speaker=%s status=%d", c.CaseID, mode, speakerID, result.StatusCode), store.DefaultRotateBytes)
	_ = channelStore.WriteMemory(renderVoiceSnapshot(r.state.Interactions, speakerID))
	return mutation
}

func (r *Runtime) persistNonSuccessResult(c Case, caseKey string, result ReplayResult) {
	now := store.NowUnixMilli()
	speakerID := normalizeSpeakerID(c.SpeakerID)
	channelStore, err := store.OpenChannelStore(channelStoreRoot(r.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: speakerID})
	if err != nil {
		return
	}
	_, _ = channelStore.AppendLog(store.LogEntry{
		TimestampUnixMS: now,
		Direction:       "system",
		EventKey:        caseKey,
		Source:          "voice_runtime",
		Payload: map[string]any{
			"outcome":     outcomeName(result.Step),
			"case_id":     c.CaseID,
			"mode":        c.Mode,
			"speaker_id":  speakerID,
			"wake_word":   normalizeToken(c.WakeWord),
			"status_code": result.StatusCode,
			"error_code":  result.ErrorCode,
		},
	}, store.DefaultRotateBytes)
	_ = channelStore.AppendContext(fmt.Sprintf("voice case %s outcome=%s error_code=%s status=%d", c.CaseID, outcomeName(result.Step), result.ErrorCode, result.StatusCode), store.DefaultRotateBytes)
}

func channelStoreRoot(stateDir string) string {
	return filepath.Join(stateDir, "channel-store")
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
