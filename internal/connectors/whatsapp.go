package connectors

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
)

// WhatsAppVerifyResult is the outcome of a webhook subscription
// handshake (the Meta "hub.challenge" exchange).
type WhatsAppVerifyResult struct {
	Accepted  bool
	Challenge string
}

// VerifyWhatsAppSubscription answers the GET handshake WhatsApp Cloud
// API sends when a webhook URL is registered. It accepts only a
// hub.mode=subscribe request whose hub.verify_token matches the
// configured token, echoing hub.challenge back on success.
func VerifyWhatsAppSubscription(config Config, state *StateFile, mode, verifyToken, challenge string, nowUnixMS int64) WhatsAppVerifyResult {
	if config.WhatsAppMode != ModeWebhook {
		return WhatsAppVerifyResult{}
	}
	expected := strings.TrimSpace(config.WhatsAppWebhookVerifyToken)
	observed := strings.TrimSpace(verifyToken)
	if mode == "subscribe" && expected != "" && observed == expected {
		return WhatsAppVerifyResult{Accepted: true, Challenge: challenge}
	}
	recordChannelError(config, state, "whatsapp", ErrorInvalidWebhookVerification, "whatsapp webhook verification failed", false, nowUnixMS)
	return WhatsAppVerifyResult{}
}

// IngestWhatsAppWebhook verifies the request signature (when an app
// secret is configured), unwraps the Cloud API envelope into its
// entry[].changes[].value objects, and ingests each one.
func IngestWhatsAppWebhook(config Config, state *StateFile, signatureHeader string, rawBody []byte, nowUnixMS int64) (CycleSummary, error) {
	var summary CycleSummary
	if config.WhatsAppMode != ModeWebhook {
		return summary, nil
	}

	if config.WhatsAppWebhookAppSecret != "" {
		if err := verifySHA256HMACSignature(rawBody, signatureHeader, config.WhatsAppWebhookAppSecret); err != nil {
			recordChannelError(config, state, "whatsapp", ErrorInvalidSignature, "whatsapp signature verification failed", false, nowUnixMS)
			summary.AuthFailures++
			return summary, newConnectorError(ErrorInvalidSignature, err.Error(), false)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		recordChannelError(config, state, "whatsapp", ErrorParseFailed, fmt.Sprintf("invalid whatsapp webhook payload json: %s", err), false, nowUnixMS)
		summary.ParseFailures++
		return summary, newConnectorError(ErrorParseFailed, "invalid whatsapp webhook payload", false)
	}

	valueObjects := extractWhatsAppValueObjects(payload)
	if len(valueObjects) == 0 {
		recordChannelError(config, state, "whatsapp", ErrorParseFailed, "whatsapp webhook payload did not contain entry[].changes[].value objects", false, nowUnixMS)
		summary.ParseFailures++
		return summary, newConnectorError(ErrorParseFailed, "whatsapp webhook payload missing value objects", false)
	}

	for _, valueObject := range valueObjects {
		raw, err := json.Marshal(valueObject)
		if err != nil {
			recordChannelError(config, state, "whatsapp", ErrorParseFailed, fmt.Sprintf("failed to encode whatsapp value object: %s", err), false, nowUnixMS)
			summary.ParseFailures++
			continue
		}
		for _, envelope := range whatsAppEnvelopesFromValueObject(valueObject, raw, nowUnixMS) {
			_, duplicate, err := ingestEnvelope(config, state, envelope, nowUnixMS)
			if err != nil {
				recordChannelError(config, state, "whatsapp", ErrorParseFailed, err.Error(), false, nowUnixMS)
				summary.ParseFailures++
				continue
			}
			if duplicate {
				summary.DuplicateEvents++
			} else {
				summary.IngestedEvents++
			}
		}
	}

	recordChannelSuccess(config, state, "whatsapp", nowUnixMS)
	return summary, nil
}

// extractWhatsAppValueObjects unwraps the Cloud API's nested
// entry[].changes[].value envelope. A bare {"messages": [...]} payload
// (used by some BSPs and in tests) is accepted as-is.
func extractWhatsAppValueObjects(payload map[string]any) []map[string]any {
	var values []map[string]any
	if entries, ok := payload["entry"].([]any); ok {
		for _, entryAny := range entries {
			entry, ok := entryAny.(map[string]any)
			if !ok {
				continue
			}
			changes, ok := entry["changes"].([]any)
			if !ok {
				continue
			}
			for _, changeAny := range changes {
				change, ok := changeAny.(map[string]any)
				if !ok {
					continue
				}
				if value, ok := change["value"].(map[string]any); ok {
					values = append(values, value)
				}
			}
		}
	}
	if len(values) == 0 {
		if _, ok := payload["messages"]; ok {
			values = append(values, payload)
		}
	}
	return values
}

func whatsAppEnvelopesFromValueObject(valueObject map[string]any, raw []byte, nowUnixMS int64) []Envelope {
	messages, ok := valueObject["messages"].([]any)
	if !ok {
		return nil
	}
	channelID := ""
	if metadata, ok := valueObject["metadata"].(map[string]any); ok {
		if phoneID, ok := metadata["phone_number_id"].(string); ok {
			channelID = phoneID
		}
	}

	envelopes := make([]Envelope, 0, len(messages))
	for _, messageAny := range messages {
		message, ok := messageAny.(map[string]any)
		if !ok {
			continue
		}
		id, _ := message["id"].(string)
		if id == "" {
			continue
		}
		sender, _ := message["from"].(string)
		text := ""
		if body, ok := message["text"].(map[string]any); ok {
			if t, ok := body["body"].(string); ok {
				text = t
			}
		}
		envelopes = append(envelopes, Envelope{
			Transport:  TransportWhatsApp,
			Provider:   "whatsapp",
			ExternalID: id,
			ChannelID:  channelID,
			SenderID:   sender,
			Text:       text,
			ReceivedMS: nowUnixMS,
			Raw:        map[string]any{"value": json.RawMessage(raw)},
		})
	}
	return envelopes
}

func verifySHA256HMACSignature(payload []byte, signatureHeader, secret string) error {
	digestHex, ok := strings.CutPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if !ok {
		return fmt.Errorf("signature must use sha256=<hex> format")
	}
	signatureBytes, err := decodeHex(digestHex)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, signatureBytes) != 1 {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func decodeHex(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("signature digest cannot be empty")
	}
	if len(trimmed)%2 != 0 {
		return nil, fmt.Errorf("signature digest must have an even number of hex characters")
	}
	bytes := make([]byte, len(trimmed)/2)
	for i := 0; i < len(trimmed); i += 2 {
		chunk := trimmed[i : i+2]
		var value int
		if _, err := fmt.Sscanf(chunk, "%02x", &value); err != nil {
			return nil, fmt.Errorf("invalid hex byte %q in signature digest: %w", chunk, err)
		}
		bytes[i/2] = byte(value)
	}
	return bytes, nil
}
