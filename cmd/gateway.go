package cmd

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/connectors"
	"github.com/tau-run/tau/internal/gateway"
	"github.com/tau-run/tau/internal/store"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the HTTP+WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			runGateway()
			return nil
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	paths := cfg.NewPaths()

	gatewayCfg, err := cfg.GatewayConfig()
	if err != nil {
		slog.Error("resolve gateway config", "error", err)
		os.Exit(1)
	}

	server := gateway.NewServer(gatewayCfg, gateway.LockDir(paths.Root))
	mux := server.BuildMux()

	if connectorsCfg, err := cfg.ConnectorsConfig(paths); err == nil {
		wireWhatsAppWebhook(mux, connectorsCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

// wireWhatsAppWebhook registers the WhatsApp Cloud API handshake and
// inbound-message routes onto the gateway's mux, bridging HTTP directly
// into the connector runtime's webhook-mode ingest path.
func wireWhatsAppWebhook(mux *http.ServeMux, connectorsCfg connectors.Config) {
	mux.HandleFunc("/v1/webhooks/whatsapp", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			result, err := connectors.VerifyWhatsAppSubscriptionCycle(connectorsCfg,
				q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), store.NowUnixMilli())
			if err != nil || !result.Accepted {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte(result.Challenge))
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, err = connectors.IngestWhatsAppWebhookCycle(connectorsCfg,
				r.Header.Get("X-Hub-Signature-256"), body, store.NowUnixMilli())
			if err != nil {
				slog.Warn("whatsapp webhook ingest failed", "error", err)
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
