package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// stepRBAC consults the RBAC policy for (principal, tool, resource). A
// nil snapshot RBAC policy means RBAC is not enforced at all, and an
// action with an empty Principal is not checked; otherwise a configured
// policy with no matching rule is a deny.
func stepRBAC(_ context.Context, _ *Gate, snap Snapshot, a Action) (Result, bool) {
	if snap.RBAC == nil {
		return contOK()
	}
	if a.Principal == "" {
		return contOK()
	}
	if !snap.RBAC.Allows(a.Principal, a.ToolName, a.Resource) {
		return deny(ReasonRBACDenied, fmt.Sprintf("%s is not permitted to use %s on %s", a.Principal, a.ToolName, a.Resource)), false
	}
	return contOK()
}

// stepApproval defers to the asynchronous approval hook when the action
// requires approval. The gate never blocks here: a fresh approval key is
// minted and the caller must reconcile it out of band before re-entry.
func stepApproval(ctx context.Context, g *Gate, _ Snapshot, a Action) (Result, bool) {
	if !a.RequiresApproval {
		return contOK()
	}

	approvalKey := uuid.NewString()

	if g.Approval == nil {
		return deferDecision(ReasonApprovalRequired, "no approval hook configured", approvalKey), false
	}

	decision, resolved := g.Approval(ctx, a, approvalKey)
	if !resolved {
		return deferDecision(ReasonApprovalRequired, "awaiting approval", approvalKey), false
	}
	if decision == DecisionDeny {
		return deny(ReasonApprovalRequired, "denied by approval hook"), false
	}
	return contOK()
}
