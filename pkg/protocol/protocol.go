// Package protocol defines the wire-level shapes used by the gateway
// package (and the CLI's version output): the WebSocket frame
// envelope, its recognized request/response kinds, and the SSE event
// names used while streaming a response.
package protocol

// SchemaVersion is the WS frame envelope's current schema_version.
const SchemaVersion = 1

// Frame is one inbound or outbound WebSocket message.
type Frame struct {
	SchemaVersion int            `json:"schema_version"`
	RequestID     string         `json:"request_id,omitempty"`
	Kind          string         `json:"kind"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewFrame builds a response frame carrying payload, echoing requestID.
func NewFrame(requestID, kind string, payload map[string]any) Frame {
	return Frame{SchemaVersion: SchemaVersion, RequestID: requestID, Kind: kind, Payload: payload}
}

// Recognized inbound WebSocket frame kinds.
const (
	KindCapabilitiesRequest  = "capabilities.request"
	KindGatewayStatusRequest = "gateway.status.request"
	KindSessionStatusRequest = "session.status.request"
	KindSessionResetRequest  = "session.reset.request"
)

// Outbound WebSocket frame kinds.
const (
	KindCapabilitiesResponse  = "capabilities.response"
	KindGatewayStatusResponse = "gateway.status.response"
	KindSessionStatusResponse = "session.status.response"
	KindSessionResetResponse  = "session.reset.response"
	KindError                 = "error"
	KindDashboardSnapshot     = "dashboard.snapshot"
	KindDashboardReset        = "dashboard.reset"
)

// Well-known error codes carried in an error frame's payload.code.
const (
	ErrCodeInvalidJSON     = "invalid_json"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeSessionLockBusy = "session_lock_busy"
)

// SSE event names emitted while streaming a response.
const (
	SSEResponseCreated     = "response.created"
	SSEResponseOutputDelta = "response.output_text.delta"
	SSEResponseCompleted   = "response.completed"
	SSEDone                = "done"
)

// EventFrame is pushed from the server to every connected WS client
// outside of the request/response frame protocol (dashboard updates,
// broadcast notifications).
type EventFrame struct {
	Name    string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame.
func NewEvent(name string, payload map[string]any) EventFrame {
	return EventFrame{Name: name, Payload: payload}
}
