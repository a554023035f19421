package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tau-run/tau/internal/health"
	"github.com/tau-run/tau/internal/render"
)

// EvaluateConnectorReadiness checks that each multi-channel connector has a
// credential and a writable ingress path, mirroring the original's
// evaluate_multi_channel_live_readiness but scoped to this module's
// env-var-only credential surface (no credential store / integration-auth,
// which belong to the coding-agent provider layer and are out of scope
// here).
func EvaluateConnectorReadiness(config ConnectorReadinessConfig) []CheckResult {
	var checks []CheckResult

	if config.IngressDir == "" {
		checks = append(checks, CheckResult{
			Key:    "multi_channel_live.ingress_dir",
			Status: StatusFail,
			Code:   "missing",
			Action: "set --multi-channel-live-ingress-dir to a directory path",
		})
	} else if info, err := os.Stat(config.IngressDir); err != nil || !info.IsDir() {
		checks = append(checks, CheckResult{
			Key:    "multi_channel_live.ingress_dir",
			Status: StatusFail,
			Code:   "not_dir",
			Path:   config.IngressDir,
			Action: "create --multi-channel-live-ingress-dir before starting the live connector runner",
		})
	} else {
		checks = append(checks, CheckResult{
			Key:    "multi_channel_live.ingress_dir",
			Status: StatusPass,
			Code:   "ready",
			Path:   config.IngressDir,
		})
	}

	checks = append(checks, connectorChannelCheck("telegram", config.IngressDir, tokenMissing(config.TelegramBotToken, "TAU_TELEGRAM_BOT_TOKEN")))
	checks = append(checks, connectorChannelCheck("discord", config.IngressDir, tokenMissing(config.DiscordBotToken, "TAU_DISCORD_BOT_TOKEN")))

	var whatsappMissing []string
	if strings.TrimSpace(config.WhatsAppAccessToken) == "" {
		whatsappMissing = append(whatsappMissing, "set TAU_WHATSAPP_ACCESS_TOKEN")
	}
	if strings.TrimSpace(config.WhatsAppPhoneNumberID) == "" {
		whatsappMissing = append(whatsappMissing, "set TAU_WHATSAPP_PHONE_NUMBER_ID")
	}
	checks = append(checks, connectorChannelCheck("whatsapp", config.IngressDir, whatsappMissing))

	return checks
}

func tokenMissing(token, envVar string) []string {
	if strings.TrimSpace(token) != "" {
		return nil
	}
	return []string{"set " + envVar}
}

// connectorChannelCheck reports one channel's inbox readiness: missing
// credentials fail the check outright; an absent ingress file warns (the
// adapter may not have started yet); anything else not a regular file
// fails.
func connectorChannelCheck(channel, ingressDir string, missing []string) CheckResult {
	key := "multi_channel_live.channel." + channel
	if len(missing) > 0 {
		return CheckResult{
			Key:    key,
			Status: StatusFail,
			Code:   "missing_prerequisites",
			Action: strings.Join(missing, "; "),
		}
	}
	if ingressDir == "" {
		return CheckResult{Key: key, Status: StatusFail, Code: "missing_prerequisites", Action: "set --multi-channel-live-ingress-dir"}
	}

	ingressFile := filepath.Join(ingressDir, channel+".ndjson")
	info, err := os.Stat(ingressFile)
	switch {
	case err != nil:
		return CheckResult{
			Key:    key,
			Status: StatusWarn,
			Code:   "inbox_missing",
			Path:   ingressFile,
			Action: fmt.Sprintf("create %s or start the adapter that writes it", ingressFile),
		}
	case !info.Mode().IsRegular():
		return CheckResult{
			Key:    key,
			Status: StatusFail,
			Code:   "inbox_not_file",
			Path:   ingressFile,
			Action: fmt.Sprintf("replace %s with a writable NDJSON file", ingressFile),
		}
	default:
		return CheckResult{Key: key, Status: StatusPass, Code: "ready", Path: ingressFile}
	}
}

// BuildReport classifies each runtime's status, evaluates connector
// readiness, and tallies pass/warn/fail counts. onlineChecks is nil unless
// the caller ran --online checks.
func BuildReport(rotationPolicyBytes int64, runtimes []RuntimeStatus, connectorConfig ConnectorReadinessConfig, online bool, onlineChecks []CheckResult) Report {
	report := Report{
		RotationPolicyBytes: rotationPolicyBytes,
		Online:              online,
		OnlineChecks:        onlineChecks,
	}

	for _, rt := range runtimes {
		report.Runtimes = append(report.Runtimes, RuntimeCheck{
			Name:        rt.Name,
			State:       rt.Classification.State,
			RolloutGate: rt.Classification.RolloutGate,
			Reason:      rt.Classification.Reason,
			QueueDepth:  rt.QueueDepth,
		})
		tallyRuntimeCheck(&report, rt.Classification)
	}

	report.ConnectorChecks = EvaluateConnectorReadiness(connectorConfig)
	for _, check := range report.ConnectorChecks {
		tallyStatus(&report, check.Status)
	}
	for _, check := range onlineChecks {
		tallyStatus(&report, check.Status)
	}

	return report
}

func tallyRuntimeCheck(report *Report, classification health.Classification) {
	switch {
	case classification.State == health.StateHealthy && classification.RolloutGate == health.GatePass:
		report.Pass++
	case classification.State == health.StateUnknown:
		report.Warn++
	default:
		report.Warn++
	}
}

func tallyStatus(report *Report, status Status) {
	switch status {
	case StatusPass:
		report.Pass++
	case StatusWarn:
		report.Warn++
	case StatusFail:
		report.Fail++
	}
}

// RenderText formats report as the /doctor text output: headline counters,
// a runtime health table, a connector readiness table, and an online
// checks table when present.
func RenderText(report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "doctor: pass=%d warn=%d fail=%d rotation_policy_bytes=%d online=%t\n\n",
		report.Pass, report.Warn, report.Fail, report.RotationPolicyBytes, report.Online)

	b.WriteString("runtimes:\n")
	if len(report.Runtimes) == 0 {
		b.WriteString("  none\n")
	} else {
		runtimeTable := render.Table{Header: []string{"name", "state", "rollout_gate", "queue_depth", "reason"}}
		for _, rt := range report.Runtimes {
			runtimeTable.Rows = append(runtimeTable.Rows, []string{
				rt.Name, string(rt.State), string(rt.RolloutGate), fmt.Sprintf("%d", rt.QueueDepth), rt.Reason,
			})
		}
		b.WriteString(indent(runtimeTable.Render()))
	}
	b.WriteString("\n")

	b.WriteString("connectors:\n")
	b.WriteString(indent(renderCheckTable(report.ConnectorChecks)))

	if report.Online {
		b.WriteString("\nonline_checks:\n")
		b.WriteString(indent(renderCheckTable(report.OnlineChecks)))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderCheckTable(checks []CheckResult) string {
	sorted := make([]CheckResult, len(checks))
	copy(sorted, checks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	table := render.Table{Header: []string{"key", "status", "code", "path", "action"}}
	for _, check := range sorted {
		table.Rows = append(table.Rows, []string{check.Key, check.Status.String(), check.Code, check.Path, check.Action})
	}
	return table.Render()
}
