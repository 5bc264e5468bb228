package rislive

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/origin-guard/pkg/models"
)

const testUpdate = `{
	"type": "ris_message",
	"data": {
		"timestamp": 1705320000.0,
		"peer_asn": 6939,
		"path": [6939, 13335],
		"announcements": [{"prefixes": ["1.1.1.0/24"]}]
	}
}`

// newRISServer starts a websocket server that records the subscription
// and replays frames to every client.
func newRISServer(t *testing.T, frames ...string) (string, <-chan map[string]interface{}) {
	t.Helper()
	subs := make(chan map[string]interface{}, 10)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subs <- sub
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), subs
}

func TestClient_StreamsAnnouncements(t *testing.T) {
	url, subs := newRISServer(t, `{"type": "ris_error", "data": {}}`, testUpdate)

	updates := make(chan models.Announcement, 10)
	c := NewClient(ClientConfig{URL: url, Collector: "rrc00"}, updates)
	c.Start()
	defer c.Stop()

	select {
	case sub := <-subs:
		data, _ := sub["data"].(map[string]interface{})
		if sub["type"] != "ris_subscribe" || data["host"] != "rrc00" {
			t.Errorf("unexpected subscription %v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}

	select {
	case ann := <-updates:
		if ann.Prefix != "1.1.1.0/24" || ann.OriginASN != 13335 || ann.Collector != "rrc00" {
			t.Errorf("unexpected announcement %+v", ann)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for announcement")
	}

	stats := c.Stats()
	if stats["messages_received"].(uint64) != 2 {
		t.Errorf("Expected 2 messages received, got %v", stats["messages_received"])
	}
}

func TestClient_StopWhileDisconnected(t *testing.T) {
	updates := make(chan models.Announcement, 1)
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/", Collector: "rrc00",
		InitialBackoff: time.Hour}, updates)
	c.Start()

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if c.Connected() {
		t.Error("Expected client to be disconnected")
	}
}

func TestNextDelay(t *testing.T) {
	delay := initialReconnectDelay
	for i := 0; i < 20; i++ {
		delay = nextDelay(delay, maxReconnectDelay)
	}
	if delay != maxReconnectDelay {
		t.Errorf("Expected delay capped at %v, got %v", maxReconnectDelay, delay)
	}
	if got := nextDelay(5*time.Second, time.Minute); got != 10*time.Second {
		t.Errorf("Expected 10s, got %v", got)
	}
}

func TestDeduplicator(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	d := NewDeduplicator(5*time.Second, 1000)
	d.now = func() time.Time { return now }
	d.rotated = now

	a := models.Announcement{Prefix: "1.1.1.0/24", OriginASN: 13335, PeerASN: 6939, Collector: "rrc00"}
	b := a
	b.Collector = "rrc01"
	other := a
	other.PeerASN = 174

	if d.Seen(a) {
		t.Error("first sighting reported as duplicate")
	}
	if !d.Seen(b) {
		t.Error("same pair from another collector not deduplicated")
	}
	if d.Seen(other) {
		t.Error("different peer reported as duplicate")
	}

	now = now.Add(6 * time.Second)
	if !d.Seen(a) {
		t.Error("pair forgotten after one rotation")
	}

	now = now.Add(6 * time.Second)
	if !d.Seen(a) {
		t.Error("pair re-seen in the previous window should still be remembered")
	}

	now = now.Add(12 * time.Second)
	if d.Seen(other) {
		t.Error("pair remembered after two rotations")
	}
}

func TestMultiClient_Dedup(t *testing.T) {
	url, _ := newRISServer(t, testUpdate)

	mc := NewMultiClient(MultiConfig{URL: url, Collectors: []string{"rrc00", "rrc01"}, BufferSize: 10})
	mc.Start()

	select {
	case ann := <-mc.Updates():
		if ann.Prefix != "1.1.1.0/24" {
			t.Errorf("unexpected announcement %+v", ann)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for announcement")
	}

	deadline := time.Now().Add(5 * time.Second)
	for mc.Stats()["duplicates"].(uint64) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	mc.Stop()

	if got := mc.Stats()["duplicates"].(uint64); got != 1 {
		t.Errorf("Expected 1 duplicate, got %d", got)
	}
	for range mc.Updates() {
		t.Error("Expected the second copy to be dropped")
	}
}
