package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tau-run/tau/internal/store"
)

// SignatureAlgorithm is the supported webhook HMAC scheme.
type SignatureAlgorithm string

const (
	AlgorithmGithubSHA256 SignatureAlgorithm = "github_sha256"
	AlgorithmSlackV0      SignatureAlgorithm = "slack_v0"
)

// WebhookIngestConfig describes one webhook-to-event-manifest ingest
// call.
type WebhookIngestConfig struct {
	EventsDir               string
	StatePath               string
	ChannelRef              string
	PayloadFile             string
	PromptPrefix            string
	DebounceKey             string
	DebounceWindowSeconds   int64
	Signature               string
	Timestamp               string
	Secret                  string
	SignatureAlgorithm      SignatureAlgorithm
	SignatureMaxSkewSeconds int64
}

// IngestWebhookImmediateEvent verifies the optional signature, enforces
// the replay guard and debounce window, then synthesizes and writes an
// Immediate event manifest atomically into the events directory.
func IngestWebhookImmediateEvent(config WebhookIngestConfig, nowUnixMS int64) error {
	if err := os.MkdirAll(config.EventsDir, 0o755); err != nil {
		return fmt.Errorf("create events dir %s: %w", config.EventsDir, err)
	}

	rawPayload, err := os.ReadFile(config.PayloadFile)
	if err != nil {
		return fmt.Errorf("read webhook payload %s: %w", config.PayloadFile, err)
	}
	payload := strings.TrimSpace(string(rawPayload))
	if payload == "" {
		return fmt.Errorf("webhook payload file is empty: %s", config.PayloadFile)
	}

	state, err := loadRunnerState(config.StatePath)
	if err != nil {
		return err
	}

	replayKey, err := verifyWebhookSignature(rawPayload, config, nowUnixMS)
	if err != nil {
		return err
	}
	if replayKey != "" {
		if err := enforceSignatureReplayGuard(&state, replayKey, nowUnixMS, config.SignatureMaxSkewSeconds); err != nil {
			return err
		}
	}

	if config.DebounceKey != "" {
		windowMS := config.DebounceWindowSeconds * 1000
		if lastSeen, ok := state.DebounceLastSeenUnixMS[config.DebounceKey]; ok && nowUnixMS-lastSeen < windowMS {
			return nil // debounced: skip silently, matching the log-skip in the source
		}
		state.DebounceLastSeenUnixMS[config.DebounceKey] = nowUnixMS
	}

	eventID := fmt.Sprintf("webhook-%d-%s", nowUnixMS, shortHash([]byte(payload)))
	created := nowUnixMS
	event := Definition{
		ID:            eventID,
		Channel:       config.ChannelRef,
		Prompt:        fmt.Sprintf("%s\n\nWebhook payload:\n%s", config.PromptPrefix, payload),
		Schedule:      Schedule{Kind: ScheduleImmediate},
		Enabled:       true,
		CreatedUnixMS: &created,
	}

	encoded, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}
	encoded = append(encoded, '\n')

	eventPath := filepath.Join(config.EventsDir, store.SanitizeForPath(eventID, "event")+".json")
	if err := store.WriteFileAtomic(eventPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write webhook event %s: %w", eventPath, err)
	}

	return saveRunnerState(config.StatePath, state)
}

// verifyWebhookSignature checks the payload's HMAC when any signature
// input is supplied, returning the replay-guard key it should be
// recorded under (or "" if signing is not configured at all).
func verifyWebhookSignature(rawPayload []byte, config WebhookIngestConfig, nowUnixMS int64) (string, error) {
	hasSignatureInputs := config.Signature != "" || config.Timestamp != "" || config.Secret != "" || config.SignatureAlgorithm != ""
	if !hasSignatureInputs {
		return "", nil
	}

	signature := strings.TrimSpace(config.Signature)
	secret := strings.TrimSpace(config.Secret)
	if signature == "" {
		return "", fmt.Errorf("webhook signature is required when webhook signing is configured")
	}
	if secret == "" {
		return "", fmt.Errorf("webhook secret is required when webhook signing is configured")
	}
	if config.SignatureAlgorithm == "" {
		return "", fmt.Errorf("webhook signature algorithm is required when webhook signing is configured")
	}

	switch config.SignatureAlgorithm {
	case AlgorithmGithubSHA256:
		if err := verifyGithubSHA256(rawPayload, signature, secret); err != nil {
			return "", err
		}
		if config.Timestamp != "" {
			if err := validateTimestampSkew(config.Timestamp, nowUnixMS, config.SignatureMaxSkewSeconds); err != nil {
				return "", err
			}
		}
		return strings.ToLower(fmt.Sprintf("github_sha256:%s:%s", config.Timestamp, signature)), nil

	case AlgorithmSlackV0:
		timestamp := strings.TrimSpace(config.Timestamp)
		if timestamp == "" {
			return "", fmt.Errorf("webhook timestamp is required for slack-v0 signatures")
		}
		if err := verifySlackV0(string(rawPayload), signature, timestamp, secret); err != nil {
			return "", err
		}
		if err := validateTimestampSkew(timestamp, nowUnixMS, config.SignatureMaxSkewSeconds); err != nil {
			return "", err
		}
		return strings.ToLower(fmt.Sprintf("slack_v0:%s:%s", timestamp, signature)), nil

	default:
		return "", fmt.Errorf("unsupported webhook signature algorithm %q", config.SignatureAlgorithm)
	}
}

func verifyGithubSHA256(payload []byte, signature, secret string) error {
	digestHex, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return fmt.Errorf("github webhook signature must use sha256=<hex> format")
	}
	want, err := hex.DecodeString(digestHex)
	if err != nil {
		return fmt.Errorf("invalid signature digest: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	got := mac.Sum(nil)
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return fmt.Errorf("webhook signature verification failed")
	}
	return nil
}

func verifySlackV0(payload, signature, timestamp, secret string) error {
	digestHex, ok := strings.CutPrefix(signature, "v0=")
	if !ok {
		return fmt.Errorf("slack webhook signature must use v0=<hex> format")
	}
	want, err := hex.DecodeString(digestHex)
	if err != nil {
		return fmt.Errorf("invalid signature digest: %w", err)
	}
	signedPayload := fmt.Sprintf("v0:%s:%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	got := mac.Sum(nil)
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return fmt.Errorf("webhook signature verification failed")
	}
	return nil
}

func validateTimestampSkew(timestamp string, nowUnixMS int64, maxSkewSeconds int64) error {
	if maxSkewSeconds == 0 {
		return nil
	}
	timestampSeconds, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid webhook timestamp %q: %w", timestamp, err)
	}
	nowSeconds := nowUnixMS / 1000
	skew := nowSeconds - timestampSeconds
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkewSeconds {
		return fmt.Errorf("webhook timestamp skew %ds exceeds max %ds", skew, maxSkewSeconds)
	}
	return nil
}

// enforceSignatureReplayGuard rejects a signature already seen within
// the skew window and opportunistically prunes older entries.
func enforceSignatureReplayGuard(state *RunnerState, replayKey string, nowUnixMS int64, maxSkewSeconds int64) error {
	windowMS := maxSkewSeconds * 1000
	if windowMS < 1000 {
		windowMS = 1000
	}
	retainWindowMS := windowMS * 3

	for key, seen := range state.SignatureReplayLastSeenUnixMS {
		if nowUnixMS-seen > retainWindowMS {
			delete(state.SignatureReplayLastSeenUnixMS, key)
		}
	}

	if lastSeen, ok := state.SignatureReplayLastSeenUnixMS[replayKey]; ok && nowUnixMS-lastSeen <= windowMS {
		return fmt.Errorf("webhook signature replay detected for key %q", replayKey)
	}

	state.SignatureReplayLastSeenUnixMS[replayKey] = nowUnixMS
	return nil
}

func shortHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
