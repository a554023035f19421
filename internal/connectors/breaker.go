package connectors

// ensureChannelResilienceState normalizes an entry's retry budget and
// breaker state after every load, matching what a freshly-loaded or
// freshly-created channel entry should look like before a poll cycle
// touches it.
func ensureChannelResilienceState(config Config, entry *ChannelState, disabledMode bool) {
	budgetMax := retryBudgetMax(config)
	if entry.RetryBudgetRemaining == 0 || entry.RetryBudgetRemaining > budgetMax {
		entry.RetryBudgetRemaining = budgetMax
	}
	if disabledMode {
		entry.BreakerState = BreakerDisabled
		entry.BreakerOpenUntilMS = 0
		entry.BreakerLastOpenReason = ""
		return
	}
	if entry.BreakerState == "" || entry.BreakerState == BreakerDisabled {
		entry.BreakerState = BreakerClosed
	}
}

func channelEntry(state *StateFile, channel string) *ChannelState {
	entry, ok := state.Channels[channel]
	if !ok {
		entry = &ChannelState{}
		state.Channels[channel] = entry
	}
	return entry
}

// beginChannelPoll reports whether channel may be polled right now. A
// breaker in the open state blocks polling until its cooldown expires,
// at which point it transitions to half_open and grants exactly one
// trial attempt (retry_budget_remaining reset to 1).
func beginChannelPoll(config Config, state *StateFile, channel string, nowUnixMS int64) bool {
	entry := channelEntry(state, channel)
	ensureChannelResilienceState(config, entry, entry.Mode == string(ModeDisabled))
	if entry.BreakerState != BreakerOpen {
		return true
	}
	if entry.BreakerOpenUntilMS > nowUnixMS {
		entry.LastErrorUnixMS = nowUnixMS
		entry.LastErrorCode = "circuit_open"
		entry.LastErrorMessage = "circuit breaker open"
		return false
	}
	entry.BreakerState = BreakerHalfOpen
	entry.RetryBudgetRemaining = 1
	return true
}

func openChannelBreaker(config Config, entry *ChannelState, reason string, nowUnixMS int64) {
	entry.BreakerState = BreakerOpen
	entry.BreakerOpenUntilMS = nowUnixMS + breakerCooldownMS(config)
	entry.BreakerLastOpenReason = reason
	entry.BreakerOpenCount++
}

func recordChannelSuccess(config Config, state *StateFile, channel string, nowUnixMS int64) {
	entry := channelEntry(state, channel)
	ensureChannelResilienceState(config, entry, entry.Mode == string(ModeDisabled))
	entry.LastSuccessUnixMS = nowUnixMS
	entry.ConsecutiveFailures = 0
	entry.RetryBudgetRemaining = retryBudgetMax(config)
	if entry.BreakerState != BreakerDisabled {
		entry.BreakerState = BreakerClosed
	}
	entry.BreakerOpenUntilMS = 0
}

func recordChannelError(config Config, state *StateFile, channel string, code ErrorCode, message string, retryable bool, nowUnixMS int64) {
	entry := channelEntry(state, channel)
	ensureChannelResilienceState(config, entry, entry.Mode == string(ModeDisabled))
	entry.LastErrorUnixMS = nowUnixMS
	entry.LastErrorCode = string(code)
	entry.LastErrorMessage = message
	entry.ConsecutiveFailures++
	if retryable {
		entry.RetryAttempts++
		if entry.RetryBudgetRemaining > 0 {
			entry.RetryBudgetRemaining--
		}
	}
	switch code {
	case ErrorAuthFailed, ErrorInvalidSignature, ErrorInvalidWebhookVerification:
		entry.AuthFailures++
	case ErrorParseFailed:
		entry.ParseFailures++
	default:
		entry.ProviderFailures++
	}

	if entry.BreakerState == BreakerDisabled || !retryable {
		return
	}
	shouldOpenFromHalfOpen := entry.BreakerState == BreakerHalfOpen
	shouldOpenFromBudget := entry.ConsecutiveFailures >= breakerFailureThreshold(config) && entry.RetryBudgetRemaining == 0
	if shouldOpenFromHalfOpen || shouldOpenFromBudget {
		openChannelBreaker(config, entry, string(code), nowUnixMS)
	}
}

// initializeChannelModes seeds/refreshes the channel map with the
// configured mode for all three transports ahead of a poll cycle.
func initializeChannelModes(config Config, state *StateFile, nowUnixMS int64) {
	modes := []struct {
		channel string
		mode    Mode
	}{
		{"telegram", config.TelegramMode},
		{"discord", config.DiscordMode},
		{"whatsapp", config.WhatsAppMode},
	}
	for _, m := range modes {
		entry := channelEntry(state, m.channel)
		entry.Mode = string(m.mode)
		ensureChannelResilienceState(config, entry, m.mode == ModeDisabled)
	}
	updateChannelLiveness(state, nowUnixMS)
}

// updateChannelLiveness derives each channel's liveness label from its
// current breaker state and recent success/error timestamps.
func updateChannelLiveness(state *StateFile, nowUnixMS int64) {
	for _, entry := range state.Channels {
		switch {
		case entry.Mode == string(ModeDisabled):
			entry.Liveness = "disabled"
		case entry.BreakerState == BreakerOpen:
			if entry.BreakerOpenUntilMS > 0 && nowUnixMS >= entry.BreakerOpenUntilMS {
				entry.Liveness = "recovering"
			} else {
				entry.Liveness = "open"
			}
		case entry.BreakerState == BreakerHalfOpen:
			entry.Liveness = "recovering"
		case entry.LastSuccessUnixMS > 0 && entry.LastSuccessUnixMS >= entry.LastErrorUnixMS:
			entry.Liveness = "healthy"
		case entry.LastErrorUnixMS > 0:
			entry.Liveness = "degraded"
		default:
			entry.Liveness = "idle"
		}
	}
}
