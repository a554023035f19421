package connectors

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// pollDiscord fetches messages newer than the last seen message ID for
// each configured ingress channel via the REST history endpoint,
// rather than opening a gateway connection, since the connector
// runtime owns its own poll tick instead of running an event loop.
func pollDiscord(config Config, state *StateFile, nowUnixMS int64) (CycleSummary, error) {
	var summary CycleSummary
	if config.DiscordMode != ModePolling {
		return summary, nil
	}
	if !beginChannelPoll(config, state, "discord", nowUnixMS) {
		return summary, nil
	}

	if config.DiscordAPIBase != "" {
		// discordgo has no per-session API base; tests that need a mock
		// server override this shared package endpoint before polling.
		discordgo.EndpointAPI = config.DiscordAPIBase + "/"
	}
	session, err := discordgo.New("Bot " + config.DiscordBotToken)
	if err != nil {
		recordChannelError(config, state, "discord", ErrorMissingConfig, err.Error(), false, nowUnixMS)
		return summary, newConnectorError(ErrorMissingConfig, err.Error(), false)
	}

	var overallErr *connectorError
	for _, channelID := range config.DiscordIngressChannelIDs {
		afterID := state.DiscordLastMessageIDs[channelID]
		var messages []*discordgo.Message
		err := retryWithBackoff(context.Background(), config, func(int) (bool, error) {
			var fetchErr error
			messages, fetchErr = session.ChannelMessages(channelID, maxPollBatchSize, "", afterID, "")
			return fetchErr != nil, fetchErr
		})
		if err != nil {
			overallErr = newConnectorError(ErrorProviderUnavailable, fmt.Sprintf("discord channelMessages %s: %s", channelID, err.Error()), true)
			recordChannelError(config, state, "discord", overallErr.code, overallErr.message, overallErr.retryable, nowUnixMS)
			tallyConnectorError(&summary, overallErr.code)
			continue
		}

		// discordgo returns newest-first; walk oldest-to-newest so the
		// stored last-seen id always advances monotonically.
		for i := len(messages) - 1; i >= 0; i-- {
			message := messages[i]
			envelope := Envelope{
				Transport:  TransportDiscord,
				Provider:   "discord",
				ExternalID: message.ID,
				ChannelID:  channelID,
				SenderID:   discordSenderID(message),
				Text:       message.Content,
				ReceivedMS: nowUnixMS,
			}
			_, duplicate, err := ingestEnvelope(config, state, envelope, nowUnixMS)
			if err != nil {
				recordChannelError(config, state, "discord", ErrorParseFailed, err.Error(), false, nowUnixMS)
				summary.ParseFailures++
				continue
			}
			if duplicate {
				summary.DuplicateEvents++
			} else {
				summary.IngestedEvents++
			}
			state.DiscordLastMessageIDs[channelID] = message.ID
		}
	}

	if overallErr != nil {
		return summary, overallErr
	}
	recordChannelSuccess(config, state, "discord", nowUnixMS)
	return summary, nil
}

func discordSenderID(message *discordgo.Message) string {
	if message.Author == nil {
		return ""
	}
	return message.Author.ID
}
