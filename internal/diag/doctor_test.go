package diag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tau-run/tau/internal/health"
)

func TestEvaluateConnectorReadinessFailsOnMissingIngressDir(t *testing.T) {
	checks := EvaluateConnectorReadiness(ConnectorReadinessConfig{})
	var ingressCheck *CheckResult
	for i := range checks {
		if checks[i].Key == "multi_channel_live.ingress_dir" {
			ingressCheck = &checks[i]
		}
	}
	if ingressCheck == nil || ingressCheck.Status != StatusFail {
		t.Fatalf("expected ingress_dir check to fail when unset, got %+v", ingressCheck)
	}
}

func TestEvaluateConnectorReadinessWarnsOnMissingInbox(t *testing.T) {
	dir := t.TempDir()
	checks := EvaluateConnectorReadiness(ConnectorReadinessConfig{
		IngressDir:       dir,
		TelegramBotToken: "token-123",
	})
	telegram := findCheck(checks, "multi_channel_live.channel.telegram")
	if telegram == nil || telegram.Status != StatusWarn || telegram.Code != "inbox_missing" {
		t.Fatalf("expected telegram inbox_missing warn, got %+v", telegram)
	}
}

func TestEvaluateConnectorReadinessPassesWhenTokenAndInboxPresent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "telegram.ndjson"), []byte(""), 0o644); err != nil {
		t.Fatalf("seed inbox: %v", err)
	}
	checks := EvaluateConnectorReadiness(ConnectorReadinessConfig{
		IngressDir:       dir,
		TelegramBotToken: "token-123",
	})
	telegram := findCheck(checks, "multi_channel_live.channel.telegram")
	if telegram == nil || telegram.Status != StatusPass || telegram.Code != "ready" {
		t.Fatalf("expected telegram ready pass, got %+v", telegram)
	}
}

func TestEvaluateConnectorReadinessFailsOnMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	checks := EvaluateConnectorReadiness(ConnectorReadinessConfig{IngressDir: dir})
	discord := findCheck(checks, "multi_channel_live.channel.discord")
	if discord == nil || discord.Status != StatusFail || discord.Code != "missing_prerequisites" {
		t.Fatalf("expected discord missing_prerequisites fail, got %+v", discord)
	}
	whatsapp := findCheck(checks, "multi_channel_live.channel.whatsapp")
	if whatsapp == nil || whatsapp.Status != StatusFail || !strings.Contains(whatsapp.Action, "TAU_WHATSAPP_ACCESS_TOKEN") || !strings.Contains(whatsapp.Action, "TAU_WHATSAPP_PHONE_NUMBER_ID") {
		t.Fatalf("expected whatsapp to list both missing env vars, got %+v", whatsapp)
	}
}

func findCheck(checks []CheckResult, key string) *CheckResult {
	for i := range checks {
		if checks[i].Key == key {
			return &checks[i]
		}
	}
	return nil
}

func TestBuildReportTalliesRuntimeAndConnectorStatuses(t *testing.T) {
	runtimes := []RuntimeStatus{
		{Name: "connectors", Classification: health.Classify(health.Snapshot{UpdatedUnixMS: 1})},
		{Name: "jobs", Classification: health.Classify(health.Snapshot{})},
	}
	report := BuildReport(5_000_000, runtimes, ConnectorReadinessConfig{}, false, nil)

	if len(report.Runtimes) != 2 {
		t.Fatalf("expected 2 runtime rows, got %d", len(report.Runtimes))
	}
	if report.Fail == 0 {
		t.Fatalf("expected at least one fail from missing connector credentials, got %+v", report)
	}
	if report.ExitCode() != 1 {
		t.Fatalf("expected exit code 1 when fail count > 0, got %d", report.ExitCode())
	}
}

func TestBuildReportExitCodeZeroWhenNothingFails(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"telegram", "discord", "whatsapp"} {
		if err := os.WriteFile(filepath.Join(dir, name+".ndjson"), []byte(""), 0o644); err != nil {
			t.Fatalf("seed inbox: %v", err)
		}
	}
	report := BuildReport(0, nil, ConnectorReadinessConfig{
		IngressDir:            dir,
		TelegramBotToken:      "t",
		DiscordBotToken:       "d",
		WhatsAppAccessToken:   "w",
		WhatsAppPhoneNumberID: "123",
	}, false, nil)
	if report.Fail != 0 {
		t.Fatalf("expected no failures, got %+v", report)
	}
	if report.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", report.ExitCode())
	}
}

func TestRenderTextIncludesCounters(t *testing.T) {
	report := BuildReport(1024, []RuntimeStatus{
		{Name: "voice", Classification: health.Classify(health.Snapshot{})},
	}, ConnectorReadinessConfig{}, false, nil)
	out := RenderText(report)
	if !strings.Contains(out, "rotation_policy_bytes=1024") {
		t.Fatalf("expected rotation policy bytes in output, got:\n%s", out)
	}
	if !strings.Contains(out, "voice") {
		t.Fatalf("expected voice runtime row, got:\n%s", out)
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	for _, status := range []Status{StatusPass, StatusWarn, StatusFail} {
		data, err := status.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON: %v", err)
		}
		var decoded Status
		if err := decoded.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON: %v", err)
		}
		if decoded != status {
			t.Fatalf("expected round trip to preserve status %v, got %v", status, decoded)
		}
	}
}
