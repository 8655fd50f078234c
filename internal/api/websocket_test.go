package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SimplyPrint/spooltag/internal/library"
	"github.com/SimplyPrint/spooltag/internal/tagfile"
	"github.com/gorilla/websocket"
)

func TestNewWSHub(t *testing.T) {
	hub := NewWSHub()

	if hub == nil {
		t.Fatal("NewWSHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("clients map should be initialized")
	}
	if hub.broadcast == nil || hub.register == nil || hub.unregister == nil {
		t.Error("hub channels should be initialized")
	}
}

func TestWSHub_Run(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	client := &WSClient{
		send: make(chan []byte, 256),
		hub:  hub,
	}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, exists := hub.clients[client]
	hub.mu.RUnlock()
	if !exists {
		t.Error("client should be registered")
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, exists = hub.clients[client]
	hub.mu.RUnlock()
	if exists {
		t.Error("client should be unregistered")
	}

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	clients := make([]*WSClient, 3)
	for i := range clients {
		clients[i] = &WSClient{
			send: make(chan []byte, 256),
			hub:  hub,
		}
		hub.register <- clients[i]
	}

	hub.Broadcast("library_synced", map[string]int{"created": 4})
	time.Sleep(10 * time.Millisecond)

	for i, client := range clients {
		select {
		case msg := <-client.send:
			var decoded WSMessage
			if err := json.Unmarshal(msg, &decoded); err != nil {
				t.Fatalf("client %d: %v", i, err)
			}
			if decoded.Type != "library_synced" || decoded.ID != "" {
				t.Errorf("client %d received %+v", i, decoded)
			}
			if string(decoded.Payload) != `{"created":4}` {
				t.Errorf("client %d payload %s", i, decoded.Payload)
			}
		default:
			t.Errorf("client %d did not receive message", i)
		}
	}
}

func TestWSClient_sendResponse(t *testing.T) {
	client := &WSClient{
		send: make(chan []byte, 256),
	}

	client.sendResponse("test-id", "test-type", map[string]string{"key": "value"})

	select {
	case msg := <-client.send:
		var decoded WSMessage
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if decoded.Type != "test-type" {
			t.Errorf("expected type 'test-type', got '%s'", decoded.Type)
		}
		if decoded.ID != "test-id" {
			t.Errorf("expected ID 'test-id', got '%s'", decoded.ID)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for response")
	}
}

func TestWSClient_handleMessage(t *testing.T) {
	tests := []struct {
		name      string
		msgType   string
		payload   string
		wantType  string
		wantError string
	}{
		{"version", "version", "", "version", ""},
		{"health", "health", "", "health", ""},
		{"derive keys", "derive_keys", `{"uid":"75886B1D"}`, "keys", ""},
		{"derive keys bad uid", "derive_keys", `{"uid":"75"}`, "error", "invalid UID"},
		{"derive keys bad payload", "derive_keys", `[]`, "error", "invalid payload"},
		{"parse dump bad hex", "parse_dump", `{"data":"zz"}`, "error", "invalid hex data"},
		{"parse dump short", "parse_dump", `{"data":"00"}`, "error", "1024"},
		{"parse dump bad format", "parse_dump", `{"format":"key","data":""}`, "error", "format must be"},
		{"sync without dir", "sync_library", `{}`, "error", "dir is required"},
		{"unknown", "read_card", "", "error", "unknown message type"},
	}

	SetLibraryDefaults("", false)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &WSClient{send: make(chan []byte, 16)}

			msg := WSMessage{Type: tt.msgType, ID: "id-1"}
			if tt.payload != "" {
				msg.Payload = json.RawMessage(tt.payload)
			}
			client.handleMessage(msg)

			var resp WSMessage
			select {
			case raw := <-client.send:
				if err := json.Unmarshal(raw, &resp); err != nil {
					t.Fatal(err)
				}
			case <-time.After(time.Second):
				t.Fatal("no response")
			}

			if resp.Type != tt.wantType {
				t.Errorf("type = %q, want %q (error %q)", resp.Type, tt.wantType, resp.Error)
			}
			if resp.ID != "id-1" {
				t.Errorf("ID = %q", resp.ID)
			}
			if tt.wantError != "" && !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("error %q does not contain %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestWSClient_handleParseDump(t *testing.T) {
	d := sampleDump()

	tests := []struct {
		name   string
		format string
		data   string
	}{
		{"hex", "", hex.EncodeToString(d.Bytes())},
		{"hex lines", "dump", strings.Join(blockLines(d.Bytes()), "\n")},
		{"nfc", "nfc", string(tagfile.EncodeNFC(d))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &WSClient{send: make(chan []byte, 4)}
			payload, _ := json.Marshal(map[string]string{"format": tt.format, "data": tt.data})

			client.handleParseDump("p1", payload)

			var resp WSMessage
			if err := json.Unmarshal(<-client.send, &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Type != "dump" {
				t.Fatalf("type = %q, error %q", resp.Type, resp.Error)
			}

			var result struct {
				Filament struct {
					UID          string `json:"uid"`
					FilamentType string `json:"filamentType"`
				} `json:"filament"`
			}
			if err := json.Unmarshal(resp.Payload, &result); err != nil {
				t.Fatal(err)
			}
			if result.Filament.UID != "75886B1D" || result.Filament.FilamentType != "PLA" {
				t.Errorf("unexpected filament %+v", result.Filament)
			}
		})
	}
}

func blockLines(data []byte) []string {
	var lines []string
	for i := 0; i < len(data); i += 16 {
		lines = append(lines, hex.EncodeToString(data[i:i+16]))
	}
	return lines
}

func TestInitWebSocket(t *testing.T) {
	handler := InitWebSocket()

	if handler == nil {
		t.Fatal("InitWebSocket() returned nil handler")
	}
	if wsHub == nil {
		t.Error("global wsHub should be initialized")
	}
}

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()
	handler := InitWebSocket()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWebSocket_Version(t *testing.T) {
	ws := dialTestServer(t)

	if err := ws.WriteJSON(WSMessage{Type: "version", ID: "v1"}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Type != "version" || resp.ID != "v1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWebSocket_InvalidJSON(t *testing.T) {
	ws := dialTestServer(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if resp.Type != "error" || resp.Error != "invalid message format" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWebSocket_SyncLibrary(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hf-mf-75886B1D-dump.bin"), sampleDump().Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	ws := dialTestServer(t)
	payload, _ := json.Marshal(map[string]string{"dir": dir})
	if err := ws.WriteJSON(WSMessage{Type: "sync_library", ID: "s1", Payload: payload}); err != nil {
		t.Fatal(err)
	}

	// The reply and the library_synced broadcast may arrive in either order.
	var sawBroadcast, sawReport bool
	var report library.Report
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !sawBroadcast || !sawReport {
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("failed to read response (broadcast=%v report=%v): %v", sawBroadcast, sawReport, err)
		}
		switch {
		case resp.Type == "library_synced":
			sawBroadcast = true
		case resp.Type == "library_report" && resp.ID == "s1":
			if err := json.Unmarshal(resp.Payload, &report); err != nil {
				t.Fatal(err)
			}
			sawReport = true
		default:
			t.Fatalf("unexpected response %+v", resp)
		}
	}

	if len(report.Groups) != 1 || len(report.Groups[0].Created) != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestWebSocket_ConcurrentClients(t *testing.T) {
	handler := InitWebSocket()
	server := httptest.NewServer(http.HandlerFunc(handler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	numClients := 5
	var wg sync.WaitGroup
	wg.Add(numClients)

	errs := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		go func() {
			defer wg.Done()

			ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				errs <- err
				return
			}
			defer ws.Close()

			msg := WSMessage{Type: "derive_keys", ID: "concurrent", Payload: json.RawMessage(`{"uid":"75886B1D"}`)}
			if err := ws.WriteJSON(msg); err != nil {
				errs <- err
				return
			}

			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				errs <- err
				return
			}
			if resp.Type != "keys" {
				errs <- &unexpectedTypeError{resp.Type}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent client error: %v", err)
	}
}

type unexpectedTypeError struct{ got string }

func (e *unexpectedTypeError) Error() string { return "unexpected response type " + e.got }

func BenchmarkWSClient_sendResponse(b *testing.B) {
	client := &WSClient{
		send: make(chan []byte, 1000),
	}

	go func() {
		for range client.send {
		}
	}()

	payload := map[string]string{"key": "value"}

	for i := 0; i < b.N; i++ {
		client.sendResponse("id", "type", payload)
	}
}
