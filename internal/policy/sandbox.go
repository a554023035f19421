package policy

import "context"

// stepSandboxResolution maps (os_sandbox_mode, policy_mode) to a concrete
// decision. It does not build the launcher invocation itself — that is
// the caller's concern once the gate allows the action — it only decides
// whether the action may proceed given sandbox availability.
func stepSandboxResolution(_ context.Context, _ *Gate, snap Snapshot, _ Action) (Result, bool) {
	switch snap.SandboxMode {
	case SandboxOff:
		return contOK()

	case SandboxForce:
		if snap.SandboxLauncher == "" {
			return deny(ReasonSandboxRequired, "force sandbox mode requires a launcher, none found"), false
		}
		return contOK()

	case SandboxAuto:
		if snap.SandboxLauncher != "" {
			return contOK()
		}
		if snap.SandboxPolicyMode == SandboxRequired {
			return deny(ReasonSandboxRequired, "policy requires a sandbox and auto mode found no launcher"), false
		}
		// best_effort: fall back to unsandboxed.
		return contOK()

	default:
		return contOK()
	}
}
