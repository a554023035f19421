// Package policy implements the tool execution policy gate: a uniform,
// first-deny-wins pipeline every tool invocation passes through before any
// side effect is allowed.
package policy

import (
	"context"
	"fmt"
)

// Decision is the gate's outcome for one action.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionDefer Decision = "defer"
)

// Reason codes, stable across releases so callers can match on them.
const (
	ReasonProtectedPath       = "protected_path_denied"
	ReasonOutsideRoots        = "outside_allowed_roots"
	ReasonSymlinkDenied       = "symlink_denied"
	ReasonNotRegularFile      = "not_regular_file"
	ReasonContentTooLarge     = "content_too_large"
	ReasonAllowedCommands     = "allowed_commands"
	ReasonMultilineDisabled   = "multiline_commands_disabled"
	ReasonRBACDenied          = "rbac_denied"
	ReasonApprovalRequired    = "approval_required"
	ReasonRateLimitRejected   = "rate_limit_rejected"
	ReasonRateLimitDeferred   = "rate_limit_deferred"
	ReasonSandboxRequired     = "sandbox_policy_required"
	ReasonExtensionOverride   = "extension_policy_override"
)

// Action is the (tool_name, arguments, principal) triple the gate decides
// on. FilesystemTargets and Command are populated by callers that know
// their tool touches the filesystem or a shell, respectively; a tool that
// does neither leaves both empty and only RBAC/approval/rate-limit/
// sandbox/extension steps can deny it.
type Action struct {
	ToolName          string
	Principal         string
	Resource          string
	FilesystemTargets []string
	Command           string
	WriteBytes        int64
	RequiresApproval  bool
	RequiresNetwork   bool
}

// Step is one evaluated pipeline entry, recorded when tracing is enabled.
type Step struct {
	Check   string
	Outcome Decision
	Reason  string
}

// Result is the gate's verdict for one action.
type Result struct {
	Decision   Decision
	PolicyRule string
	ReasonCode string
	ApprovalKey string
	Trace      []Step
}

func allow() Result {
	return Result{Decision: DecisionAllow}
}

func deny(rule, reason string) Result {
	return Result{Decision: DecisionDeny, PolicyRule: rule, ReasonCode: reason}
}

func deferDecision(rule, reason, approvalKey string) Result {
	return Result{Decision: DecisionDefer, PolicyRule: rule, ReasonCode: reason, ApprovalKey: approvalKey}
}

// step is an internal pipeline stage. It returns a verdict; ok=true means
// continue to the next step, ok=false means the gate stops here (either a
// deny/defer, or an allow that short-circuits the remainder).
type step struct {
	name string
	run  func(ctx context.Context, g *Gate, snap Snapshot, a Action) (res Result, ok bool)
}

// Evaluate runs the ten-step pipeline against action under snapshot,
// stopping at the first step that denies, defers, or errors.
func (g *Gate) Evaluate(ctx context.Context, snap Snapshot, a Action) Result {
	var trace []Step

	for _, s := range g.steps() {
		res, cont := s.run(ctx, g, snap, a)
		if g.Trace {
			outcome := res.Decision
			if outcome == "" {
				outcome = DecisionAllow
			}
			trace = append(trace, Step{Check: s.name, Outcome: outcome, Reason: res.ReasonCode})
		}
		if !cont {
			res.Trace = trace
			return res
		}
	}

	final := allow()
	final.Trace = trace
	return final
}

func (g *Gate) steps() []step {
	return []step{
		{"protected_path", stepProtectedPath},
		{"root_containment", stepRootContainment},
		{"regular_file", stepRegularFile},
		{"size_bounds", stepSizeBounds},
		{"command_allowlist", stepCommandAllowlist},
		{"rbac", stepRBAC},
		{"approval", stepApproval},
		{"rate_limit", stepRateLimit},
		{"sandbox_resolution", stepSandboxResolution},
		{"extension_policy_override", stepExtensionPolicyOverride},
	}
}

func contOK() (Result, bool) { return Result{}, true }

func errDeny(rule string, err error) (Result, bool) {
	return deny(rule, fmt.Sprintf("%s: %v", rule, err)), false
}
