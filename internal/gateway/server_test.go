package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tau-run/tau/pkg/protocol"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	server := NewServer(Config{AuthMode: AuthLocalhostDev}, t.TempDir())
	mux := server.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	httpServer := &http.Server{Handler: mux}
	go httpServer.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	})
	return server, ln.Addr().String()
}

func TestHandleHealthReportsOK(t *testing.T) {
	_, addr := startTestServer(t)
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketRespondsToCapabilitiesRequest(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dialWS(t, addr)

	request := protocol.NewFrame("req-1", protocol.KindCapabilitiesRequest, nil)
	if err := conn.WriteJSON(request); err != nil {
		t.Fatalf("write: %v", err)
	}

	var response protocol.Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if response.Kind != protocol.KindCapabilitiesResponse || response.RequestID != "req-1" {
		t.Fatalf("unexpected response: %+v", response)
	}
}

func TestWebSocketMalformedJSONKeepsConnectionOpen(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dialWS(t, addr)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var response protocol.Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if response.Kind != protocol.KindError || response.Payload["code"] != protocol.ErrCodeInvalidJSON {
		t.Fatalf("unexpected response: %+v", response)
	}

	// the connection should still be usable afterwards.
	request := protocol.NewFrame("req-2", protocol.KindGatewayStatusRequest, nil)
	if err := conn.WriteJSON(request); err != nil {
		t.Fatalf("write after malformed frame: %v", err)
	}
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read after malformed frame: %v", err)
	}
	if response.Kind != protocol.KindGatewayStatusResponse {
		t.Fatalf("unexpected response: %+v", response)
	}
}

func TestWebSocketSessionResetAcquiresAndReleasesLock(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dialWS(t, addr)

	request := protocol.NewFrame("req-3", protocol.KindSessionResetRequest, map[string]any{"session_id": "s1"})
	if err := conn.WriteJSON(request); err != nil {
		t.Fatalf("write: %v", err)
	}
	var response protocol.Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read: %v", err)
	}
	if response.Kind != protocol.KindSessionResetResponse || response.Payload["reset"] != true {
		t.Fatalf("unexpected response: %+v", response)
	}
}
