package voice

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// evaluateCase is the deterministic contract evaluator: the fixture
// declares the outcome a case must produce, and a retryable case keeps
// failing until the attempt count reaches its declared threshold, at
// which point it succeeds. This lets a fixture script an exact number
// of retries without depending on real audio processing.
func evaluateCase(c Case, attempt int) ReplayResult {
	switch strings.ToLower(strings.TrimSpace(c.ExpectedOutcome)) {
	case "malformed_input":
		return ReplayResult{
			Step:       StepMalformedInput,
			StatusCode: statusOrDefault(c.ExpectedStatus, 400),
			ErrorCode:  "malformed_voice_case",
		}
	case "retryable_failure":
		if c.RetryableUntil > 0 && attempt >= c.RetryableUntil {
			return ReplayResult{
				Step:       StepSuccess,
				StatusCode: statusOrDefault(c.ExpectedStatus, 200),
				Utterance:  extractUtterance(c),
			}
		}
		return ReplayResult{
			Step:       StepRetryableFailure,
			StatusCode: statusOrDefault(c.ExpectedStatus, 503),
			ErrorCode:  "voice_backend_unavailable",
		}
	default:
		return ReplayResult{
			Step:       StepSuccess,
			StatusCode: statusOrDefault(c.ExpectedStatus, 200),
			Utterance:  extractUtterance(c),
		}
	}
}

func statusOrDefault(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}

func extractUtterance(c Case) string {
	return extractLiveUtterance(c.WakeWord, c.Transcript)
}

// extractLiveUtterance strips a leading wake word from transcript and
// returns the remainder. It returns "" both when nothing follows the wake
// word and when the wake word is absent.
func extractLiveUtterance(wakeWord, transcript string) string {
	utterance, _ := extractUtteranceDetectWakeWord(wakeWord, transcript)
	return utterance
}

func extractUtteranceDetectWakeWord(wakeWord, transcript string) (string, bool) {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return "", false
	}
	fields := strings.Fields(trimmed)
	firstToken := strings.ToLower(fields[0])
	normalizedWakeWord := strings.ToLower(strings.TrimSpace(wakeWord))
	if firstToken != normalizedWakeWord {
		return "", false
	}
	return strings.TrimSpace(strings.Join(fields[1:], " ")), true
}

func caseRuntimeKey(c Case) string {
	return fmt.Sprintf("%s:%s:%s:%s",
		strings.ToLower(strings.TrimSpace(c.Mode)),
		strings.ToLower(strings.TrimSpace(c.WakeWord)),
		strings.ToLower(normalizeSpeakerID(c.SpeakerID)),
		strings.TrimSpace(c.CaseID))
}

func liveFrameRuntimeKey(sessionID string, frame LiveFrame, frameID string) string {
	return fmt.Sprintf("live:%s:%s:%s", strings.TrimSpace(sessionID), normalizeSpeakerID(frame.SpeakerID), frameID)
}

func outcomeName(step ReplayStep) string {
	switch step {
	case StepSuccess:
		return "success"
	case StepMalformedInput:
		return "malformed_input"
	case StepRetryableFailure:
		return "retryable_failure"
	default:
		return string(step)
	}
}

// applyRetryDelay sleeps an exponentially growing backoff
// (base * 2^(attempt-1)), capped at base * retryDelayCapMultiplier,
// honoring ctx cancellation.
func applyRetryDelay(ctx context.Context, baseDelayMS int64, attempt int) {
	multiplier := int64(1) << uint(attempt-1)
	if multiplier <= 0 || multiplier > retryDelayCapMultiplier {
		multiplier = retryDelayCapMultiplier
	}
	delay := time.Duration(baseDelayMS*multiplier) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
