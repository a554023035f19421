package policy

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// The per-profile denylists below mirror the teacher's defaultDenyPatterns,
// scoped by profile strictness. strict denies the balanced set plus
// network reconnaissance and persistence tooling; balanced is the
// teacher's default set; permissive only denies outright destructive
// operations.
var (
	destructivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
		regexp.MustCompile(`\bdd\s+if=`),
		regexp.MustCompile(`\b(mkfs|diskpart)\b`),
		regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
		regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	}

	balancedPatterns = append(append([]*regexp.Regexp{}, destructivePatterns...),
		regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
		regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
		regexp.MustCompile(`\bsudo\b`),
		regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
		regexp.MustCompile(`/var/run/docker\.sock`),
	)

	strictPatterns = append(append([]*regexp.Regexp{}, balancedPatterns...),
		regexp.MustCompile(`\b(nmap|masscan|zmap)\b`),
		regexp.MustCompile(`\bcrontab\b`),
		regexp.MustCompile(`\b(ssh|scp|sftp)\b.*@`),
	)
)

func profileDenylist(profile string) []*regexp.Regexp {
	switch profile {
	case "strict":
		return strictPatterns
	case "permissive":
		return destructivePatterns
	default: // "balanced" and unset
		return balancedPatterns
	}
}

// stepCommandAllowlist applies the command profile/allowlist and
// multiline restriction to shell-like tools. Non-shell actions (empty
// Command) pass through untouched.
func stepCommandAllowlist(_ context.Context, _ *Gate, snap Snapshot, a Action) (Result, bool) {
	if a.Command == "" {
		return contOK()
	}

	if !snap.AllowMultilineCommands && strings.Contains(a.Command, "\n") {
		return deny(ReasonMultilineDisabled, "multiline commands are disabled"), false
	}

	for _, pattern := range profileDenylist(snap.CommandProfile) {
		if pattern.MatchString(a.Command) {
			return deny(ReasonAllowedCommands, fmt.Sprintf("command matches denied pattern %s", pattern.String())), false
		}
	}

	if len(snap.CommandAllowlist) > 0 {
		exe := leadingExecutable(a.Command)
		if !matchesAllowlist(exe, snap.CommandAllowlist) {
			return deny(ReasonAllowedCommands, fmt.Sprintf("%s is not in the command allowlist", exe)), false
		}
	}

	return contOK()
}

// leadingExecutable returns the first token of command after skipping any
// leading VAR=value assignments.
func leadingExecutable(command string) string {
	fields := strings.Fields(command)
	for _, f := range fields {
		if strings.Contains(f, "=") && !strings.ContainsAny(f, "/\\") {
			continue
		}
		return f
	}
	return ""
}

// matchesAllowlist supports exact names and "prefix-*" globs.
func matchesAllowlist(exe string, allowlist []string) bool {
	for _, pattern := range allowlist {
		if pattern == exe {
			return true
		}
		if strings.HasSuffix(pattern, "*") {
			if matched, _ := path.Match(pattern, exe); matched {
				return true
			}
		}
	}
	return false
}
