package connectors

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func whatsAppCloudPayload(messageID string) []byte {
	payload := map[string]any{
		"entry": []any{
			map[string]any{
				"changes": []any{
					map[string]any{
						"value": map[string]any{
							"metadata": map[string]any{"phone_number_id": "15551230000"},
							"messages": []any{
								map[string]any{
									"id":        messageID,
									"from":      "15551238888",
									"timestamp": "1760100000",
									"text":      map[string]any{"body": "hello from whatsapp"},
								},
							},
						},
					},
				},
			},
		},
	}
	encoded, _ := json.Marshal(payload)
	return encoded
}

func signWhatsAppPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestIngestWhatsAppWebhookIngestsSignedCloudPayload(t *testing.T) {
	dir := t.TempDir()
	config := Config{
		IngressDir:                 filepath.Join(dir, "ingress"),
		StatePath:                  filepath.Join(dir, "state.json"),
		ProcessedEventCap:          64,
		WhatsAppMode:               ModeWebhook,
		WhatsAppWebhookAppSecret:   "secret",
		WhatsAppWebhookVerifyToken: "verify",
	}
	state := newStateFile()
	payload := whatsAppCloudPayload("wamid.1")
	signature := signWhatsAppPayload(payload, "secret")

	summary, err := IngestWhatsAppWebhook(config, &state, signature, payload, 1000)
	if err != nil {
		t.Fatalf("IngestWhatsAppWebhook: %v", err)
	}
	if summary.IngestedEvents != 1 {
		t.Fatalf("expected 1 ingested event, got %+v", summary)
	}

	data, err := os.ReadFile(filepath.Join(config.IngressDir, "whatsapp.ndjson"))
	if err != nil {
		t.Fatalf("read ingress file: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data[:len(data)-1], &decoded); err != nil {
		t.Fatalf("decode appended envelope: %v", err)
	}
	if decoded.Transport != TransportWhatsApp || decoded.ExternalID != "wamid.1" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
}

func TestIngestWhatsAppWebhookRejectsInvalidSignature(t *testing.T) {
	dir := t.TempDir()
	config := Config{
		IngressDir:               filepath.Join(dir, "ingress"),
		ProcessedEventCap:        64,
		WhatsAppMode:             ModeWebhook,
		WhatsAppWebhookAppSecret: "secret",
	}
	state := newStateFile()
	payload := whatsAppCloudPayload("wamid.2")

	_, err := IngestWhatsAppWebhook(config, &state, "sha256=deadbeef", payload, 1000)
	if err == nil {
		t.Fatal("expected invalid signature error")
	}
	if state.Channels["whatsapp"].LastErrorCode != string(ErrorInvalidSignature) {
		t.Fatalf("expected invalid_signature recorded, got %+v", state.Channels["whatsapp"])
	}

	if _, statErr := os.Stat(filepath.Join(config.IngressDir, "whatsapp.ndjson")); statErr == nil {
		t.Fatal("expected no ingress file written for a rejected signature")
	}
}

func TestVerifyWhatsAppSubscriptionAcceptsMatchingToken(t *testing.T) {
	config := Config{WhatsAppMode: ModeWebhook, WhatsAppWebhookVerifyToken: "verify"}
	state := newStateFile()

	result := VerifyWhatsAppSubscription(config, &state, "subscribe", "verify", "challenge-1", 1000)
	if !result.Accepted || result.Challenge != "challenge-1" {
		t.Fatalf("expected handshake accepted with echoed challenge, got %+v", result)
	}
}

func TestVerifyWhatsAppSubscriptionRejectsMismatchedToken(t *testing.T) {
	config := Config{WhatsAppMode: ModeWebhook, WhatsAppWebhookVerifyToken: "verify"}
	state := newStateFile()

	result := VerifyWhatsAppSubscription(config, &state, "subscribe", "wrong", "challenge-1", 1000)
	if result.Accepted {
		t.Fatal("expected handshake to be rejected for mismatched token")
	}
	if state.Channels["whatsapp"].LastErrorCode != string(ErrorInvalidWebhookVerification) {
		t.Fatalf("expected invalid_webhook_verification recorded, got %+v", state.Channels["whatsapp"])
	}
}

func TestIngestWhatsAppWebhookAcceptsBareMessagesPayload(t *testing.T) {
	dir := t.TempDir()
	config := Config{IngressDir: filepath.Join(dir, "ingress"), ProcessedEventCap: 64, WhatsAppMode: ModeWebhook}
	state := newStateFile()
	payload, _ := json.Marshal(map[string]any{
		"messages": []any{
			map[string]any{"id": "wamid.bare", "from": "1555", "text": map[string]any{"body": "hi"}},
		},
	})

	summary, err := IngestWhatsAppWebhook(config, &state, "", payload, 1000)
	if err != nil {
		t.Fatalf("IngestWhatsAppWebhook: %v", err)
	}
	if summary.IngestedEvents != 1 {
		t.Fatalf("expected bare messages payload to ingest, got %+v", summary)
	}
}
