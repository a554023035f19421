package connectors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Transport is the normalized transport tag on an inbound envelope.
type Transport string

const (
	TransportTelegram Transport = "telegram"
	TransportDiscord  Transport = "discord"
	TransportWhatsApp Transport = "whatsapp"
)

// Envelope is the normalized shape every adapter converts its raw
// provider payload into before ingestion. ExternalID is the
// provider-assigned message/update identifier that makes the event
// key stable across restarts and re-polls.
type Envelope struct {
	Transport  Transport      `json:"transport"`
	Provider   string         `json:"provider"`
	ExternalID string         `json:"external_id"`
	ChannelID  string         `json:"channel_id"`
	SenderID   string         `json:"sender_id"`
	Text       string         `json:"text"`
	ReceivedMS int64          `json:"received_unix_ms"`
	Raw        map[string]any `json:"raw,omitempty"`
}

func eventContractKey(envelope Envelope) string {
	return fmt.Sprintf("%s:%s:%s:%s", envelope.Transport, envelope.ChannelID, envelope.SenderID, envelope.ExternalID)
}

func transportFileName(transport Transport) string {
	switch transport {
	case TransportTelegram:
		return "telegram.ndjson"
	case TransportDiscord:
		return "discord.ndjson"
	case TransportWhatsApp:
		return "whatsapp.ndjson"
	default:
		return "unknown.ndjson"
	}
}

// ingestEnvelope dedups envelope against the processed-event cache,
// appending it to its transport's ingress ndjson file when it's new.
// Returns the computed event key and whether it was a duplicate.
func ingestEnvelope(config Config, state *StateFile, envelope Envelope, nowUnixMS int64) (eventKey string, duplicate bool, err error) {
	eventKey = eventContractKey(envelope)
	channelKey := string(envelope.Transport)

	for _, existing := range state.ProcessedEventKeys {
		if existing == eventKey {
			entry := channelEntry(state, channelKey)
			entry.DuplicatesSkipped++
			return eventKey, true, nil
		}
	}

	ingressPath := filepath.Join(config.IngressDir, transportFileName(envelope.Transport))
	encoded, encErr := json.Marshal(envelope)
	if encErr != nil {
		return "", false, fmt.Errorf("encode normalized envelope: %w", encErr)
	}
	if err := appendNDJSONLine(ingressPath, encoded); err != nil {
		return "", false, fmt.Errorf("append %s: %w", ingressPath, err)
	}

	state.ProcessedEventKeys = append(state.ProcessedEventKeys, eventKey)
	cap := config.ProcessedEventCap
	if cap < 1 {
		cap = 1
	}
	if overflow := len(state.ProcessedEventKeys) - cap; overflow > 0 {
		state.ProcessedEventKeys = state.ProcessedEventKeys[overflow:]
	}

	entry := channelEntry(state, channelKey)
	entry.EventsIngested++
	entry.LastSuccessUnixMS = nowUnixMS
	entry.ConsecutiveFailures = 0
	return eventKey, false, nil
}

func appendNDJSONLine(path string, line []byte) error {
	if parent := filepath.Dir(path); parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(line); err != nil {
		return err
	}
	_, err = file.Write([]byte("\n"))
	return err
}
