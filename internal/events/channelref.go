package events

import (
	"fmt"
	"strings"

	"github.com/tau-run/tau/internal/store"
)

// parseChannelRef splits a "<transport>:<channel_id>" reference.
func parseChannelRef(ref string) (store.ChannelRef, error) {
	transport, channelID, found := strings.Cut(ref, ":")
	if !found || channelID == "" {
		return store.ChannelRef{}, fmt.Errorf("invalid channel reference %q: expected transport:channel_id", ref)
	}
	return store.ChannelRef{Transport: transport, ChannelID: channelID}, nil
}
