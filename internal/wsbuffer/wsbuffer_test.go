package wsbuffer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibetunnel/vtserver/internal/session"
)

func TestSubscribeReceivesConnectedAndSubscribed(t *testing.T) {
	mgr := session.NewManager(t.TempDir())
	defer mgr.Stop()

	cols, rows := 80, 24
	s, err := mgr.Create(session.CreateOptions{Command: []string{"/bin/sh", "-i"}, Cols: &cols, Rows: &rows})
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	defer mgr.Kill(s.ID)

	hub := NewHub(mgr)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var connected map[string]any
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("expected connected message: %v", err)
	}
	if connected["type"] != "connected" {
		t.Fatalf("expected type=connected, got %+v", connected)
	}

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "sessionId": s.ID}); err != nil {
		t.Fatalf("WriteJSON subscribe: %v", err)
	}

	var subscribed map[string]any
	if err := conn.ReadJSON(&subscribed); err != nil {
		t.Fatalf("expected subscribed message: %v", err)
	}
	if subscribed["type"] != "subscribed" {
		t.Fatalf("expected type=subscribed, got %+v", subscribed)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a binary snapshot frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got type=%d", msgType)
	}
	if len(payload) == 0 || payload[0] != frameMagic {
		t.Fatalf("expected frame to start with magic byte 0x%x, got %v", frameMagic, payload[:1])
	}
}
