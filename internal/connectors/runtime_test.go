package connectors

import (
	"path/filepath"
	"testing"
)

func TestPollOnceWithAllChannelsDisabledIsANoOp(t *testing.T) {
	dir := t.TempDir()
	config := Config{
		StatePath:         filepath.Join(dir, "state.json"),
		IngressDir:        filepath.Join(dir, "ingress"),
		ProcessedEventCap: 64,
		RetryMaxAttempts:  2,
		RetryBaseDelayMS:  10,
		TelegramMode:      ModeDisabled,
		DiscordMode:       ModeDisabled,
		WhatsAppMode:      ModeDisabled,
	}

	summary, err := PollOnce(config, 1000)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if summary != (CycleSummary{}) {
		t.Fatalf("expected empty summary with all channels disabled, got %+v", summary)
	}

	report, err := LoadStatusReport(config.StatePath)
	if err != nil {
		t.Fatalf("LoadStatusReport: %v", err)
	}
	if report.Channels["telegram"].Liveness != "disabled" {
		t.Fatalf("expected telegram liveness disabled, got %+v", report.Channels["telegram"])
	}
}

func TestIngestWhatsAppWebhookCyclePersistsState(t *testing.T) {
	dir := t.TempDir()
	config := Config{
		StatePath:         filepath.Join(dir, "state.json"),
		IngressDir:        filepath.Join(dir, "ingress"),
		ProcessedEventCap: 64,
		WhatsAppMode:      ModeWebhook,
	}
	payload := whatsAppCloudPayload("wamid.cycle")

	summary, err := IngestWhatsAppWebhookCycle(config, "", payload, 1000)
	if err != nil {
		t.Fatalf("IngestWhatsAppWebhookCycle: %v", err)
	}
	if summary.IngestedEvents != 1 {
		t.Fatalf("expected 1 ingested event, got %+v", summary)
	}

	report, err := LoadStatusReport(config.StatePath)
	if err != nil {
		t.Fatalf("LoadStatusReport: %v", err)
	}
	if report.Channels["whatsapp"].EventsIngested != 1 {
		t.Fatalf("expected persisted ingested counter, got %+v", report.Channels["whatsapp"])
	}
}

func TestVerifyWhatsAppSubscriptionCycleRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	config := Config{
		StatePath:                  filepath.Join(dir, "state.json"),
		WhatsAppMode:               ModeWebhook,
		WhatsAppWebhookVerifyToken: "verify",
	}

	result, err := VerifyWhatsAppSubscriptionCycle(config, "subscribe", "wrong", "challenge", 1000)
	if err != nil {
		t.Fatalf("VerifyWhatsAppSubscriptionCycle: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected handshake rejection for mismatched token")
	}

	report, err := LoadStatusReport(config.StatePath)
	if err != nil {
		t.Fatalf("LoadStatusReport: %v", err)
	}
	if report.Channels["whatsapp"].LastErrorCode != string(ErrorInvalidWebhookVerification) {
		t.Fatalf("expected invalid_webhook_verification persisted, got %+v", report.Channels["whatsapp"])
	}
}
