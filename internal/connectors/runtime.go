package connectors

import "log/slog"

// PollOnce runs one polling cycle across every channel configured for
// polling mode (telegram, discord), persists the resulting state, and
// returns a tally of what happened. Webhook-mode channels (whatsapp)
// are driven by IngestWhatsAppWebhook from the gateway's HTTP handler,
// not by this cycle.
func PollOnce(config Config, nowUnixMS int64) (CycleSummary, error) {
	state, err := loadState(config.StatePath)
	if err != nil {
		return CycleSummary{}, err
	}

	initializeChannelModes(config, &state, nowUnixMS)

	var total CycleSummary
	var firstErr error

	telegramSummary, err := pollTelegram(config, &state, nowUnixMS)
	mergeCycleSummary(&total, telegramSummary)
	if err != nil {
		slog.Warn("telegram poll failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	discordSummary, err := pollDiscord(config, &state, nowUnixMS)
	mergeCycleSummary(&total, discordSummary)
	if err != nil {
		slog.Warn("discord poll failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	updateChannelLiveness(&state, nowUnixMS)

	if err := saveState(config.StatePath, state); err != nil {
		return total, err
	}

	return total, firstErr
}

func mergeCycleSummary(dst *CycleSummary, src CycleSummary) {
	dst.IngestedEvents += src.IngestedEvents
	dst.DuplicateEvents += src.DuplicateEvents
	dst.RetryAttempts += src.RetryAttempts
	dst.AuthFailures += src.AuthFailures
	dst.ParseFailures += src.ParseFailures
	dst.ProviderFailures += src.ProviderFailures
}

// IngestWhatsAppWebhookCycle wraps IngestWhatsAppWebhook with the
// load/save bracket PollOnce uses, so the gateway's HTTP handler does
// not need to know the state file's path conventions.
func IngestWhatsAppWebhookCycle(config Config, signatureHeader string, rawBody []byte, nowUnixMS int64) (CycleSummary, error) {
	state, err := loadState(config.StatePath)
	if err != nil {
		return CycleSummary{}, err
	}
	initializeChannelModes(config, &state, nowUnixMS)

	summary, ingestErr := IngestWhatsAppWebhook(config, &state, signatureHeader, rawBody, nowUnixMS)
	updateChannelLiveness(&state, nowUnixMS)
	if err := saveState(config.StatePath, state); err != nil {
		return summary, err
	}
	return summary, ingestErr
}

// VerifyWhatsAppSubscriptionCycle wraps VerifyWhatsAppSubscription with
// the same load/save bracket, since a failed handshake still records a
// channel error worth persisting.
func VerifyWhatsAppSubscriptionCycle(config Config, mode, verifyToken, challenge string, nowUnixMS int64) (WhatsAppVerifyResult, error) {
	state, err := loadState(config.StatePath)
	if err != nil {
		return WhatsAppVerifyResult{}, err
	}
	initializeChannelModes(config, &state, nowUnixMS)

	result := VerifyWhatsAppSubscription(config, &state, mode, verifyToken, challenge, nowUnixMS)
	updateChannelLiveness(&state, nowUnixMS)
	if err := saveState(config.StatePath, state); err != nil {
		return result, err
	}
	return result, nil
}
