package canvas

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/tau-run/tau/internal/store"
)

func normalizedOrigin(origin EventOrigin) eventOriginRecord {
	transport := strings.TrimSpace(origin.Transport)
	if transport == "" {
		transport = "local"
	}
	record := eventOriginRecord{
		Transport:      transport,
		Channel:        strings.TrimSpace(origin.Channel),
		SourceEventKey: strings.TrimSpace(origin.SourceEventKey),
	}
	if origin.SourceUnixMS > 0 {
		record.SourceUnixMS = origin.SourceUnixMS
	}
	return record
}

func sourceStreamID(origin eventOriginRecord) string {
	transport := strings.TrimSpace(origin.Transport)
	if transport == "" || transport == "local" {
		return "local"
	}
	channel := origin.Channel
	if channel == "" {
		channel = "default"
	}
	return fmt.Sprintf("%s:%s", transport, channel)
}

// eventID computes the deterministic replay key for a command: a
// deterministic id derived from the origin's transport/channel/source
// event key when the command is remote-sourced, else a locally unique
// nonce seeded by the current clock, principal, and action.
func eventID(config CommandConfig, canvasID, action string) string {
	origin := normalizedOrigin(config.Origin)
	if origin.SourceEventKey != "" {
		return fmt.Sprintf("%s:%s:%s:%s:%s", origin.Transport, orDefault(origin.Channel, "default"), origin.SourceEventKey, canvasID, action)
	}

	nowNS := store.NowUnixMilli() * int64(1_000_000)
	seed := fmt.Sprintf("%d:%s:%s:%s:%s", nowNS, config.Principal, origin.Transport, canvasID, action)
	digest := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("local:%s:%s:%d:%x", canvasID, action, nowNS, digest[:4])
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// evaluateReplayGuard decides whether a command with the given event id
// and origin should mutate the document. Exact duplicates of an
// already-applied event id are always skipped. For remote-sourced
// streams, an event whose (SourceUnixMS, event id) pair does not sort
// after the latest one already recorded for that stream is skipped as
// out-of-order; equal SourceUnixMS values are ordered by event id.
func evaluateReplayGuard(s canvasStore, id string, origin eventOriginRecord) (replayDecision, error) {
	events, err := s.loadEvents()
	if err != nil {
		return replayDecision{}, err
	}
	for _, event := range events {
		if event.EventID == id {
			return replayDecision{kind: replayDuplicate}, nil
		}
	}

	if origin.SourceUnixMS <= 0 {
		return replayDecision{kind: replayApply}, nil
	}
	stream := sourceStreamID(origin)
	if stream == "local" {
		return replayDecision{kind: replayApply}, nil
	}

	var latestMS int64
	var latestID string
	haveLatest := false
	for _, event := range events {
		if sourceStreamID(event.Origin) != stream || event.Origin.SourceUnixMS <= 0 {
			continue
		}
		if !haveLatest || event.Origin.SourceUnixMS > latestMS || (event.Origin.SourceUnixMS == latestMS && event.EventID > latestID) {
			latestMS = event.Origin.SourceUnixMS
			latestID = event.EventID
			haveLatest = true
		}
	}

	if haveLatest && (origin.SourceUnixMS < latestMS || (origin.SourceUnixMS == latestMS && id <= latestID)) {
		return replayDecision{
			kind:               replayOutOfOrder,
			sourceStream:       stream,
			latestEventID:      latestID,
			latestSourceUnixMS: latestMS,
		}, nil
	}
	return replayDecision{kind: replayApply}, nil
}

func renderReplayGuardMessage(canvasID, action, id string, decision replayDecision) string {
	switch decision.kind {
	case replayDuplicate:
		return fmt.Sprintf("canvas replay: id=%s action=%s status=duplicate-skipped event_id=%s", canvasID, action, id)
	case replayOutOfOrder:
		return fmt.Sprintf("canvas replay: id=%s action=%s status=out-of-order-skipped event_id=%s source=%s latest_event_id=%s latest_source_unix_ms=%d",
			canvasID, action, id, decision.sourceStream, decision.latestEventID, decision.latestSourceUnixMS)
	default:
		return ""
	}
}
