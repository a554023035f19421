package canvas

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tau-run/tau/internal/store"
)

func sessionLinkRecordFrom(config CommandConfig) *sessionLinkRecord {
	if config.SessionLink == nil {
		return nil
	}
	return &sessionLinkRecord{
		SessionPath:   config.SessionLink.SessionPath,
		SessionHeadID: config.SessionLink.SessionHeadID,
	}
}

func mirrorEventToChannelStore(config CommandConfig, canvasID string, event eventEntry) error {
	channelID := fmt.Sprintf("canvas-%s", store.SanitizeForPath(canvasID, "canvas"))
	ref := store.ChannelRef{Transport: "local", ChannelID: channelID}
	channel, err := store.OpenChannelStore(config.ChannelStoreRoot, ref)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"event_id":          event.EventID,
		"timestamp_unix_ms": event.TimestampUnixMS,
		"principal":         event.Principal,
		"action":            event.Action,
		"details":           event.Details,
		"origin":            event.Origin,
	}
	_, err = channel.AppendLog(store.LogEntry{
		TimestampUnixMS: event.TimestampUnixMS,
		Direction:       "internal",
		EventKey:        fmt.Sprintf("canvas:%s:%s", event.Action, event.EventID),
		Source:          "canvas",
		Payload:         payload,
	}, store.DefaultRotateBytes)
	return err
}

// Create initializes an empty canvas, applying the replay guard first.
func Create(config CommandConfig, canvasID string) (string, error) {
	s, err := openCanvasStore(config.CanvasRoot, canvasID)
	if err != nil {
		return "", err
	}
	origin := normalizedOrigin(config.Origin)
	id := eventID(config, canvasID, "create")
	decision, err := evaluateReplayGuard(s, id, origin)
	if err != nil {
		return "", err
	}
	if decision.kind != replayApply {
		return renderReplayGuardMessage(canvasID, "create", id, decision), nil
	}

	doc := newDocument()
	snap := doc.snapshot(canvasID)
	if err := s.saveDocument(doc); err != nil {
		return "", err
	}

	event := eventEntry{
		SchemaVersion:   eventSchemaVersion,
		EventID:         id,
		TimestampUnixMS: store.NowUnixMilli(),
		Principal:       config.Principal,
		Action:          "create",
		Details: map[string]any{
			"canvas_id": canvasID,
			"nodes":     len(snap.Nodes),
			"edges":     len(snap.Edges),
		},
		Origin:      origin,
		SessionLink: sessionLinkRecordFrom(config),
	}
	if err := s.appendEvent(event); err != nil {
		return "", err
	}
	if err := s.appendSessionLink(event); err != nil {
		return "", err
	}
	if err := mirrorEventToChannelStore(config, canvasID, event); err != nil {
		return "", err
	}

	return fmt.Sprintf("canvas create: id=%s path=%s nodes=%d edges=%d event_id=%s",
		canvasID, s.canvasDir(), len(snap.Nodes), len(snap.Edges), id), nil
}

// Update applies one node/edge mutation, gated by the replay guard.
func Update(config CommandConfig, canvasID string, op UpdateOp) (string, error) {
	s, err := openCanvasStore(config.CanvasRoot, canvasID)
	if err != nil {
		return "", err
	}
	origin := normalizedOrigin(config.Origin)
	id := eventID(config, canvasID, op.Kind)
	decision, err := evaluateReplayGuard(s, id, origin)
	if err != nil {
		return "", err
	}
	if decision.kind != replayApply {
		return renderReplayGuardMessage(canvasID, op.Kind, id, decision), nil
	}

	doc, err := s.loadDocument()
	if err != nil {
		return "", err
	}
	details, err := applyUpdateOp(doc, canvasID, op)
	if err != nil {
		return "", err
	}

	event := eventEntry{
		SchemaVersion:   eventSchemaVersion,
		EventID:         id,
		TimestampUnixMS: store.NowUnixMilli(),
		Principal:       config.Principal,
		Action:          op.Kind,
		Details:         details,
		Origin:          origin,
		SessionLink:     sessionLinkRecordFrom(config),
	}
	if err := s.saveDocument(doc); err != nil {
		return "", err
	}
	if err := s.appendEvent(event); err != nil {
		return "", err
	}
	if err := s.appendSessionLink(event); err != nil {
		return "", err
	}
	if err := mirrorEventToChannelStore(config, canvasID, event); err != nil {
		return "", err
	}

	snap := doc.snapshot(canvasID)
	return fmt.Sprintf("canvas update: id=%s action=%s nodes=%d edges=%d event_id=%s",
		canvasID, op.Kind, len(snap.Nodes), len(snap.Edges), id), nil
}

func applyUpdateOp(doc *document, canvasID string, op UpdateOp) (map[string]any, error) {
	switch op.Kind {
	case OpNodeUpsert:
		label := strings.TrimSpace(op.Label)
		if label == "" {
			return nil, fmt.Errorf("node label must be non-empty")
		}
		doc.Nodes[op.NodeID] = Node{ID: op.NodeID, Label: label, X: op.X, Y: op.Y}
		return map[string]any{
			"canvas_id": canvasID,
			"node_id":   op.NodeID,
			"label":     label,
			"x":         op.X,
			"y":         op.Y,
		}, nil
	case OpNodeRemove:
		_, removed := doc.Nodes[op.NodeID]
		delete(doc.Nodes, op.NodeID)
		removedEdges := doc.edgeIDsTouching(op.NodeID)
		for _, edgeID := range removedEdges {
			delete(doc.Edges, edgeID)
		}
		return map[string]any{
			"canvas_id":     canvasID,
			"node_id":       op.NodeID,
			"removed_node":  removed,
			"removed_edges": removedEdges,
		}, nil
	case OpEdgeUpsert:
		if _, ok := doc.Nodes[op.From]; !ok {
			return nil, fmt.Errorf("edge source node %q does not exist", op.From)
		}
		if _, ok := doc.Nodes[op.To]; !ok {
			return nil, fmt.Errorf("edge destination node %q does not exist", op.To)
		}
		doc.Edges[op.EdgeID] = Edge{ID: op.EdgeID, From: op.From, To: op.To, Label: strings.TrimSpace(op.Label)}
		return map[string]any{
			"canvas_id": canvasID,
			"edge_id":   op.EdgeID,
			"from":      op.From,
			"to":        op.To,
			"label":     op.Label,
		}, nil
	case OpEdgeRemove:
		_, removed := doc.Edges[op.EdgeID]
		delete(doc.Edges, op.EdgeID)
		return map[string]any{
			"canvas_id": canvasID,
			"edge_id":   op.EdgeID,
			"removed":   removed,
		}, nil
	default:
		return nil, fmt.Errorf("unknown canvas update operation %q", op.Kind)
	}
}

// Show renders the canvas' current state without mutating anything.
func Show(config CommandConfig, canvasID string, format ShowFormat) (string, error) {
	s, err := openCanvasStore(config.CanvasRoot, canvasID)
	if err != nil {
		return "", err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return "", err
	}
	snap := doc.snapshot(canvasID)
	if format == ShowJSON {
		return renderJSON(snap)
	}
	return renderMarkdown(snap), nil
}

// Export renders the canvas to destination (or a default exports/ path)
// and returns a human-readable summary.
func Export(config CommandConfig, canvasID string, format ExportFormat, destination string) (string, error) {
	s, err := openCanvasStore(config.CanvasRoot, canvasID)
	if err != nil {
		return "", err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return "", err
	}
	snap := doc.snapshot(canvasID)

	var rendered string
	if format == ExportJSON {
		rendered, err = renderJSON(snap)
		if err != nil {
			return "", err
		}
	} else {
		rendered = renderMarkdown(snap)
	}

	if destination == "" {
		destination = defaultExportPath(s, format)
	}
	if dir := filepath.Dir(destination); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("canvas export %s: %w", destination, err)
		}
	}
	if err := store.WriteFileAtomic(destination, []byte(rendered), 0o644); err != nil {
		return "", fmt.Errorf("canvas export %s: %w", destination, err)
	}

	return fmt.Sprintf("canvas export: id=%s format=%s path=%s bytes=%d",
		canvasID, format.extension(), destination, len(rendered)), nil
}

// Import replaces a canvas' entire document with the snapshot read from
// source, after validating it and passing the replay guard.
func Import(config CommandConfig, canvasID, source string) (string, error) {
	s, err := openCanvasStore(config.CanvasRoot, canvasID)
	if err != nil {
		return "", err
	}
	origin := normalizedOrigin(config.Origin)
	id := eventID(config, canvasID, "import")
	decision, err := evaluateReplayGuard(s, id, origin)
	if err != nil {
		return "", err
	}
	if decision.kind != replayApply {
		return renderReplayGuardMessage(canvasID, "import", id, decision), nil
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("canvas import %s: %w", source, err)
	}
	snap, err := parseImportSnapshot(raw, canvasID)
	if err != nil {
		return "", fmt.Errorf("canvas import %s: %w", source, err)
	}

	doc, err := s.loadDocument()
	if err != nil {
		return "", err
	}
	doc.replaceWithSnapshot(snap)
	if err := s.saveDocument(doc); err != nil {
		return "", err
	}

	event := eventEntry{
		SchemaVersion:   eventSchemaVersion,
		EventID:         id,
		TimestampUnixMS: store.NowUnixMilli(),
		Principal:       config.Principal,
		Action:          "import",
		Details: map[string]any{
			"canvas_id":   canvasID,
			"source_path": source,
			"nodes":       len(snap.Nodes),
			"edges":       len(snap.Edges),
		},
		Origin:      origin,
		SessionLink: sessionLinkRecordFrom(config),
	}
	if err := s.appendEvent(event); err != nil {
		return "", err
	}
	if err := s.appendSessionLink(event); err != nil {
		return "", err
	}
	if err := mirrorEventToChannelStore(config, canvasID, event); err != nil {
		return "", err
	}

	return fmt.Sprintf("canvas import: id=%s source=%s nodes=%d edges=%d event_id=%s",
		canvasID, source, len(snap.Nodes), len(snap.Edges), id), nil
}
