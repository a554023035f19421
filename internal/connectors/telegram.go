package connectors

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
)

// pollTelegram fetches one batch of updates starting at state's stored
// offset, ingesting each message update and advancing the offset past
// the highest update_id seen, matching the Bot API's "ack by offset"
// contract (an update is considered delivered once a later GetUpdates
// call requests offset = update_id + 1).
func pollTelegram(config Config, state *StateFile, nowUnixMS int64) (CycleSummary, error) {
	var summary CycleSummary
	if config.TelegramMode != ModePolling {
		return summary, nil
	}
	if !beginChannelPoll(config, state, "telegram", nowUnixMS) {
		return summary, nil
	}

	var opts []telego.BotOption
	if config.TelegramAPIBase != "" {
		opts = append(opts, telego.WithAPIServer(config.TelegramAPIBase))
	}
	bot, err := telego.NewBot(config.TelegramBotToken, opts...)
	if err != nil {
		recordChannelError(config, state, "telegram", ErrorMissingConfig, err.Error(), false, nowUnixMS)
		return summary, newConnectorError(ErrorMissingConfig, err.Error(), false)
	}

	var updates []telego.Update
	retryErr := retryWithBackoff(context.Background(), config, func(int) (bool, error) {
		var getErr error
		updates, getErr = bot.GetUpdates(&telego.GetUpdatesParams{
			Offset:  int(state.TelegramNextOffset),
			Limit:   maxPollBatchSize,
			Timeout: 0,
		})
		return getErr != nil, getErr
	})
	if retryErr != nil {
		cerr := classifyTelegramError(retryErr)
		recordChannelError(config, state, "telegram", cerr.code, cerr.message, cerr.retryable, nowUnixMS)
		tallyConnectorError(&summary, cerr.code)
		return summary, cerr
	}

	for _, update := range updates {
		if int64(update.UpdateID)+1 > state.TelegramNextOffset {
			state.TelegramNextOffset = int64(update.UpdateID) + 1
		}
		if update.Message == nil {
			continue
		}
		envelope := Envelope{
			Transport:  TransportTelegram,
			Provider:   "telegram",
			ExternalID: strconv.Itoa(update.UpdateID),
			ChannelID:  strconv.FormatInt(update.Message.Chat.ID, 10),
			SenderID:   telegramSenderID(update.Message),
			Text:       update.Message.Text,
			ReceivedMS: nowUnixMS,
		}
		_, duplicate, err := ingestEnvelope(config, state, envelope, nowUnixMS)
		if err != nil {
			recordChannelError(config, state, "telegram", ErrorParseFailed, err.Error(), false, nowUnixMS)
			summary.ParseFailures++
			continue
		}
		if duplicate {
			summary.DuplicateEvents++
		} else {
			summary.IngestedEvents++
		}
	}

	recordChannelSuccess(config, state, "telegram", nowUnixMS)
	return summary, nil
}

func telegramSenderID(message *telego.Message) string {
	if message.From == nil {
		return ""
	}
	return strconv.FormatInt(message.From.ID, 10)
}

func classifyTelegramError(err error) *connectorError {
	return newConnectorError(ErrorProviderUnavailable, fmt.Sprintf("telegram getUpdates: %s", err.Error()), true)
}

func tallyConnectorError(summary *CycleSummary, code ErrorCode) {
	switch code {
	case ErrorAuthFailed, ErrorInvalidSignature, ErrorInvalidWebhookVerification:
		summary.AuthFailures++
	case ErrorParseFailed:
		summary.ParseFailures++
	default:
		summary.ProviderFailures++
	}
	summary.RetryAttempts++
}
