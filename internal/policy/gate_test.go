package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func baseSnapshot(root string) Snapshot {
	return Snapshot{
		ProtectedPaths: DefaultProtectedPaths,
		AllowedRoots:   []string{root},
		CommandProfile: "balanced",
	}
}

func TestGateAllowsPlainFileWrite(t *testing.T) {
	root := t.TempDir()
	g := NewGate(true)
	target := filepath.Join(root, "notes.txt")

	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:          "write_file",
		FilesystemTargets: []string{target},
		WriteBytes:        10,
	})
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow, got %+v", res)
	}
	if len(res.Trace) == 0 {
		t.Fatal("expected a trace when tracing is enabled")
	}
}

func TestGateDeniesProtectedPath(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)

	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:          "write_file",
		FilesystemTargets: []string{filepath.Join(root, "AGENTS.md")},
	})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonProtectedPath {
		t.Fatalf("expected protected_path_denied, got %+v", res)
	}
}

func TestGateAllowsProtectedPathWhenMutationsAllowed(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.AllowProtectedPathMutations = true

	res := g.Evaluate(context.Background(), snap, Action{
		ToolName:          "write_file",
		FilesystemTargets: []string{filepath.Join(root, "AGENTS.md")},
	})
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow, got %+v", res)
	}
}

func TestGateDeniesOutsideAllowedRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	g := NewGate(false)

	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:          "write_file",
		FilesystemTargets: []string{filepath.Join(outside, "f.txt")},
	})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonOutsideRoots {
		t.Fatalf("expected outside_allowed_roots, got %+v", res)
	}
}

func TestGateDeniesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(outsideFile, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	g := NewGate(false)
	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:          "read_file",
		FilesystemTargets: []string{link},
	})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonSymlinkDenied {
		t.Fatalf("expected symlink_denied, got %+v", res)
	}
}

func TestGateEnforcesSizeBounds(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.MaxFileWriteBytes = 5

	res := g.Evaluate(context.Background(), snap, Action{
		ToolName:          "write_file",
		FilesystemTargets: []string{filepath.Join(root, "f.txt")},
		WriteBytes:        6,
	})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonContentTooLarge {
		t.Fatalf("expected content_too_large, got %+v", res)
	}
}

func TestGateDeniesDangerousCommand(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName: "exec",
		Command:  "rm -rf /",
	})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonAllowedCommands {
		t.Fatalf("expected allowed_commands deny, got %+v", res)
	}
}

func TestGateDeniesMultilineCommandsByDefault(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName: "exec",
		Command:  "echo one\necho two",
	})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonMultilineDisabled {
		t.Fatalf("expected multiline_commands_disabled, got %+v", res)
	}
}

func TestGateCommandAllowlistPrefixGlob(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.CommandAllowlist = []string{"git-*", "ls"}

	deny := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "curl http://example.com"})
	if deny.Decision != DecisionDeny || deny.ReasonCode != ReasonAllowedCommands {
		t.Fatalf("expected allowed_commands deny for curl, got %+v", deny)
	}

	allow := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls -la"})
	if allow.Decision != DecisionAllow {
		t.Fatalf("expected allow for ls, got %+v", allow)
	}
}

func TestGateRBACMissIsDeny(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.RBAC = &RBACPolicy{Rules: []RBACRule{{Principal: "alice", Tool: "exec", Resource: "*"}}}

	res := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Principal: "bob", Command: "ls"})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonRBACDenied {
		t.Fatalf("expected rbac_denied, got %+v", res)
	}

	res = g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Principal: "alice", Command: "ls"})
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow for matching principal, got %+v", res)
	}
}

func TestGateApprovalDefersWithoutHook(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:         "exec",
		Command:          "ls",
		RequiresApproval: true,
	})
	if res.Decision != DecisionDefer || res.ApprovalKey == "" {
		t.Fatalf("expected deferred decision with approval key, got %+v", res)
	}
}

func TestGateApprovalHookDeny(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	g.Approval = func(ctx context.Context, a Action, key string) (Decision, bool) {
		return DecisionDeny, true
	}
	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:         "exec",
		Command:          "ls",
		RequiresApproval: true,
	})
	if res.Decision != DecisionDeny {
		t.Fatalf("expected deny from approval hook, got %+v", res)
	}
}

func TestGateRateLimitRejectsAfterBurst(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.RateLimitPerSecond = 0.001
	snap.RateLimitBurst = 1

	a := Action{ToolName: "exec", Principal: "alice", Command: "ls"}
	first := g.Evaluate(context.Background(), snap, a)
	if first.Decision != DecisionAllow {
		t.Fatalf("expected first call allowed, got %+v", first)
	}
	second := g.Evaluate(context.Background(), snap, a)
	if second.Decision != DecisionDeny || second.ReasonCode != ReasonRateLimitRejected {
		t.Fatalf("expected rate_limit_rejected, got %+v", second)
	}
}

func TestGateRateLimitDefersWhenConfigured(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.RateLimitPerSecond = 0.001
	snap.RateLimitBurst = 1
	snap.RateLimitExceededBehavior = "defer"

	a := Action{ToolName: "exec", Principal: "alice", Command: "ls"}
	g.Evaluate(context.Background(), snap, a)
	second := g.Evaluate(context.Background(), snap, a)
	if second.Decision != DecisionDefer || second.ReasonCode != ReasonRateLimitDeferred {
		t.Fatalf("expected rate_limit_deferred, got %+v", second)
	}
}

func TestGateSandboxForceFailsClosedWithoutLauncher(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.SandboxMode = SandboxForce

	res := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls"})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonSandboxRequired {
		t.Fatalf("expected sandbox_policy_required deny, got %+v", res)
	}
}

func TestGateSandboxAutoFallsBackWhenBestEffort(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.SandboxMode = SandboxAuto
	snap.SandboxPolicyMode = SandboxBestEffort

	res := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls"})
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow (fallback to unsandboxed), got %+v", res)
	}
}

func TestGateSandboxAutoFailsClosedWhenRequired(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.SandboxMode = SandboxAuto
	snap.SandboxPolicyMode = SandboxRequired

	res := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls"})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonSandboxRequired {
		t.Fatalf("expected sandbox_policy_required deny, got %+v", res)
	}
}

func TestGateExtensionMissingPermissionsFailsClosedBeforeSpawning(t *testing.T) {
	root := t.TempDir()
	g := NewGate(false)
	snap := baseSnapshot(root)
	snap.Extension = &ExtensionConfig{Binary: "/nonexistent/binary"}

	spawned := false
	g.Extension = func(ctx context.Context, cfg ExtensionConfig, a Action) (Decision, string, error) {
		spawned = true
		return DecisionAllow, "", nil
	}

	res := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls"})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonExtensionOverride {
		t.Fatalf("expected extension_policy_override deny, got %+v", res)
	}
	if spawned {
		t.Fatal("extension must not be spawned when permissions are missing")
	}
}

func TestGateExtensionOverrideAllowAndDeny(t *testing.T) {
	root := t.TempDir()
	snap := baseSnapshot(root)
	snap.Extension = &ExtensionConfig{Binary: "/fake", Permissions: []string{"fs"}}

	g := NewGate(false)
	g.Extension = func(ctx context.Context, cfg ExtensionConfig, a Action) (Decision, string, error) {
		return DecisionDeny, "custom rule", nil
	}
	res := g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls"})
	if res.Decision != DecisionDeny || res.ReasonCode != ReasonExtensionOverride {
		t.Fatalf("expected extension deny, got %+v", res)
	}

	g.Extension = func(ctx context.Context, cfg ExtensionConfig, a Action) (Decision, string, error) {
		return DecisionAllow, "", nil
	}
	res = g.Evaluate(context.Background(), snap, Action{ToolName: "exec", Command: "ls"})
	if res.Decision != DecisionAllow {
		t.Fatalf("expected allow, got %+v", res)
	}
}

func TestGateTraceRecordsOnlyEvaluatedSteps(t *testing.T) {
	root := t.TempDir()
	g := NewGate(true)
	res := g.Evaluate(context.Background(), baseSnapshot(root), Action{
		ToolName:          "write_file",
		FilesystemTargets: []string{filepath.Join(root, "AGENTS.md")},
	})
	if res.Decision != DecisionDeny {
		t.Fatalf("expected deny, got %+v", res)
	}
	last := res.Trace[len(res.Trace)-1]
	if last.Outcome != DecisionDeny {
		t.Fatalf("last traced step must be the deny, got %+v", last)
	}
	for _, step := range res.Trace[:len(res.Trace)-1] {
		if step.Outcome == DecisionDeny {
			t.Fatalf("no earlier step should have denied: %+v", step)
		}
	}
}
