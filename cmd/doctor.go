package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/connectors"
	"github.com/tau-run/tau/internal/diag"
	"github.com/tau-run/tau/internal/health"
	"github.com/tau-run/tau/internal/jobs"
	"github.com/tau-run/tau/internal/store"
	"github.com/tau-run/tau/internal/voice"
)

func doctorCmd() *cobra.Command {
	var jsonOut bool
	var online bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check runtime health and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(jsonOut, online)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
	cmd.Flags().BoolVar(&online, "online", false, "probe the configured gateway over the network")
	return cmd
}

func runDoctor(jsonOut, online bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	paths := cfg.NewPaths()

	var runtimes []diag.RuntimeStatus

	if jobsRuntime, err := jobs.New(cfg.JobsConfig(paths)); err == nil {
		runtimes = append(runtimes, jobsRuntimeStatus(jobsRuntime.InspectHealth()))
	}

	connectorsCfg, connectorsCfgErr := cfg.ConnectorsConfig(paths)
	if connectorsCfgErr == nil {
		if report, err := connectors.LoadStatusReport(connectorsCfg.StatePath); err == nil {
			runtimes = append(runtimes, connectorsRuntimeStatus(report))
		}
	}

	if voiceRuntime, err := voice.New(cfg.VoiceConfig(paths)); err == nil {
		runtimes = append(runtimes, transportRuntimeStatus("voice", voiceRuntime.InspectHealth()))
	}

	connectorReadinessConfig := diag.ConnectorReadinessConfig{
		IngressDir:            connectorsCfg.IngressDir,
		TelegramBotToken:      connectorsCfg.TelegramBotToken,
		DiscordBotToken:       connectorsCfg.DiscordBotToken,
		WhatsAppAccessToken:   cfg.Connectors.WhatsAppAccessToken,
		WhatsAppPhoneNumberID: cfg.Connectors.WhatsAppPhoneNumberID,
	}

	var onlineChecks []diag.CheckResult
	if online {
		onlineChecks = append(onlineChecks, probeGateway(cfg.Gateway.Host, cfg.Gateway.Port))
	}

	report := diag.BuildReport(cfg.Store.RotateBytes, runtimes, connectorReadinessConfig, online, onlineChecks)

	if jsonOut {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	} else {
		fmt.Println(diag.RenderText(report))
	}

	os.Exit(report.ExitCode())
	return nil
}

func jobsRuntimeStatus(snapshot jobs.HealthSnapshot) diag.RuntimeStatus {
	lastCycleFailed := 0
	if snapshot.FailedTotal > 0 && snapshot.LastReasonCode != "" && snapshot.LastReasonCode != "succeeded" {
		lastCycleFailed = 1
	}
	classification := health.Classify(health.Snapshot{
		UpdatedUnixMS:   snapshot.UpdatedUnixMS,
		LastCycleFailed: lastCycleFailed,
		QueueDepth:      snapshot.QueueDepth,
		QueueWatermark:  snapshot.QueueDepth,
	})
	return diag.RuntimeStatus{
		Name:           "jobs",
		Classification: classification,
		QueueDepth:     snapshot.QueueDepth,
		QueueWatermark: snapshot.QueueDepth,
	}
}

func transportRuntimeStatus(name string, snapshot health.Snapshot) diag.RuntimeStatus {
	classification := health.Classify(snapshot)
	return diag.RuntimeStatus{
		Name:           name,
		Classification: classification,
		QueueDepth:     snapshot.QueueDepth,
		QueueWatermark: snapshot.QueueWatermark,
	}
}

func connectorsRuntimeStatus(report connectors.StatusReport) diag.RuntimeStatus {
	queueDepth := 0
	failureStreak := 0
	for _, ch := range report.Channels {
		if ch == nil {
			continue
		}
		queueDepth += int(ch.ConsecutiveFailures)
		if int(ch.ConsecutiveFailures) > failureStreak {
			failureStreak = int(ch.ConsecutiveFailures)
		}
	}
	classification := health.Classify(health.Snapshot{
		UpdatedUnixMS: store.NowUnixMilli(),
		FailureStreak: failureStreak,
	})
	return diag.RuntimeStatus{Name: "connectors", Classification: classification, QueueDepth: queueDepth}
}

func probeGateway(host string, port int) diag.CheckResult {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return diag.CheckResult{Key: "gateway.reachable", Status: diag.StatusFail, Code: "unreachable", Action: "start the gateway: tau gateway"}
	}
	conn.Close()

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return diag.CheckResult{Key: "gateway.health_endpoint", Status: diag.StatusWarn, Code: "request_failed"}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return diag.CheckResult{Key: "gateway.health_endpoint", Status: diag.StatusWarn, Code: "non_200"}
	}
	return diag.CheckResult{Key: "gateway.health_endpoint", Status: diag.StatusPass, Code: "ok"}
}
