package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tau-run/tau/pkg/protocol"
)

// Server is the gateway's HTTP+WebSocket entry point: auth, rate
// limiting, the per-session lock, the WS frame dispatcher, and SSE
// response streaming.
type Server struct {
	config Config

	auth        *Authenticator
	rateLimiter *RateLimiter
	locker      *SessionLocker

	upgrader websocket.Upgrader

	mu        sync.RWMutex
	clients   map[string]*Client
	startedAt time.Time

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds a gateway server whose per-session lock files live
// under lockDir.
func NewServer(config Config, lockDir string) *Server {
	config = normalizedConfig(config)
	s := &Server{
		config:      config,
		auth:        NewAuthenticator(config),
		rateLimiter: NewRateLimiter(config.RateLimitWindow, config.RateLimitMaxRequests),
		locker:      NewSessionLocker(lockDir, config.SessionLockWait, config.SessionLockStale),
		clients:     make(map[string]*Client),
		startedAt:   time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.config.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway cors rejected", "origin", origin)
	return false
}

// BuildMux registers every route and caches the mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/v1/auth/session", s.handleAuthSession)
	mux.HandleFunc("/v1/responses", s.withAuthAndRateLimit(s.handleResponsesStream))
	s.mux = mux
	return mux
}

// Start serves on config.Host:config.Port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr, "auth_mode", s.config.AuthMode)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"schema_version":    protocol.SchemaVersion,
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
		"connected_clients": s.clientCount(),
	})
}

// handleAuthSession issues a PasswordSession token. Only meaningful when
// config.AuthMode == AuthPasswordSession; other modes still issue a
// token but Authenticate never requires it.
func (s *Server) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token, expiresAt, err := s.auth.IssueSessionToken()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()
	client.Run(r.Context())
}

// withAuthAndRateLimit wraps handler with the auth/rate-limit/body-size
// gates. BuildMux applies it to /v1/responses only; /health, /ws and
// /v1/auth/session are registered without it.
func (s *Server) withAuthAndRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.auth.Authenticate(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, protocol.ErrCodeUnauthorized, err.Error())
			return
		}
		if !s.rateLimiter.Allow(principal) {
			writeJSONError(w, http.StatusTooManyRequests, protocol.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		if r.ContentLength > int64(s.config.MaxInputChars) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "input_too_large", "request body exceeds max_input_chars")
			return
		}
		handler(w, r)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("gateway client connected", "client_id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	slog.Info("gateway client disconnected", "client_id", c.id)
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BroadcastEvent pushes event to every connected WS client.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(event)
	}
}

func (s *Server) capabilities() map[string]any {
	return map[string]any{
		"schema_version": protocol.SchemaVersion,
		"auth_mode":      string(s.config.AuthMode),
		"kinds": []string{
			protocol.KindCapabilitiesRequest,
			protocol.KindGatewayStatusRequest,
			protocol.KindSessionStatusRequest,
			protocol.KindSessionResetRequest,
		},
	}
}

func (s *Server) gatewayStatus() map[string]any {
	return map[string]any{
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
		"connected_clients": s.clientCount(),
	}
}

func (s *Server) sessionStatus(payload map[string]any) map[string]any {
	sessionID, _ := payload["session_id"].(string)
	locked := false
	if sessionID != "" {
		if _, err := os.Stat(s.locker.lockPath(sessionID)); err == nil {
			locked = true
		}
	}
	return map[string]any{"session_id": sessionID, "locked": locked}
}

func (s *Server) sessionReset(payload map[string]any) map[string]any {
	sessionID, _ := payload["session_id"].(string)
	if sessionID == "" {
		return map[string]any{"reset": false, "error": "missing session_id"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SessionLockWait)
	defer cancel()
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return map[string]any{"session_id": sessionID, "reset": false, "error": err.Error()}
	}
	defer release()
	return map[string]any{"session_id": sessionID, "reset": true}
}

// handleResponsesStream serves /v1/responses as an SSE stream of
// response.created / response.output_text.delta / response.completed /
// done events. Reconnects carrying Last-Event-Id for a dashboard stream
// get a dashboard.reset followed by a fresh dashboard.snapshot instead
// of a response replay.
func (s *Server) handleResponsesStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	isDashboard := strings.Contains(r.URL.Query().Get("stream"), "dashboard")
	if lastEventID := r.Header.Get("Last-Event-Id"); lastEventID != "" && isDashboard {
		writeSSE(w, protocol.KindDashboardReset, map[string]any{"last_event_id": lastEventID})
		flusher.Flush()
		writeSSE(w, protocol.KindDashboardSnapshot, s.gatewayStatus())
		flusher.Flush()
		return
	}

	requestID := r.URL.Query().Get("request_id")
	writeSSE(w, protocol.SSEResponseCreated, map[string]any{"request_id": requestID})
	flusher.Flush()

	for _, chunk := range readResponseChunks(r) {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		writeSSE(w, protocol.SSEResponseOutputDelta, map[string]any{"request_id": requestID, "delta": chunk})
		flusher.Flush()
	}

	writeSSE(w, protocol.SSEResponseCompleted, map[string]any{"request_id": requestID})
	flusher.Flush()
	writeSSE(w, protocol.SSEDone, nil)
	flusher.Flush()
}

// readResponseChunks is a seam for the agent runtime's token stream;
// this gateway package only owns the transport, not LLM orchestration.
var readResponseChunks = func(r *http.Request) []string { return nil }

func writeSSE(w http.ResponseWriter, event string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// LockDir returns the session-lock directory nested under stateRoot, the
// same state directory every other runtime in this module is rooted at.
func LockDir(stateRoot string) string {
	return filepath.Join(stateRoot, "gateway-locks")
}
