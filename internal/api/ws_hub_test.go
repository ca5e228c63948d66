package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilmarket/settlement-engine/internal/model"
)

func TestWSHubBroadcastsPrivateEventsWithoutDirection(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ev := model.LedgerEvent{
		ID:         "ev-1",
		MarketID:   7,
		Kind:       model.EventPrivacyTrade,
		Commitment: []byte{0xAB, 0xCD},
		Amount:     100_000,
		Timestamp:  time.Now(),
	}
	// Registration races the dial; keep broadcasting until the client
	// reads one message.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				hub.BroadcastEvent(ev)
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != model.EventPrivacyTrade || msg.MarketID != 7 {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Commitment != "abcd" {
		t.Errorf("commitment = %q, want abcd", msg.Commitment)
	}
	if msg.Side != "" {
		t.Errorf("private event leaked side %q", msg.Side)
	}
	if msg.Amount != 100_000 {
		t.Errorf("amount = %d, want 100000", msg.Amount)
	}
}
