package policy

import "context"

// ApprovalHook is consulted for actions the snapshot marks as requiring
// approval. It returns a decision without blocking — approval is always
// asynchronous in this gate, so a pending approval surfaces as Defer with
// an ApprovalKey the outer caller reconciles later.
type ApprovalHook func(ctx context.Context, a Action, approvalKey string) (Decision, bool)

// ExtensionRunner spawns the configured extension binary with action
// encoded as JSON on stdin and parses its JSON response. Implementations
// must enforce their own timeout.
type ExtensionRunner func(ctx context.Context, cfg ExtensionConfig, a Action) (decision Decision, reason string, err error)

// Gate is the long-lived policy evaluator. It owns the rate limiter and
// the optional approval/extension hooks; callers build a fresh Snapshot
// per evaluation from whatever config is current.
type Gate struct {
	Trace bool

	RateLimiter *RateLimiter
	Approval    ApprovalHook
	Extension   ExtensionRunner
}

// NewGate builds a Gate with a fresh rate limiter. Approval and Extension
// hooks are optional; a nil Approval treats every approval-required
// action as requiring one for which there is no answer yet (defer), and a
// nil Extension runs a configured extension with RunExtensionSubprocess.
func NewGate(trace bool) *Gate {
	return &Gate{
		Trace:       trace,
		RateLimiter: NewRateLimiter(),
	}
}
