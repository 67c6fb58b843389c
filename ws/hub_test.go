package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"match-stats-server/storage"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// subscribe blocks until the hub has acknowledged the client, which also
// guarantees the client is registered.
func subscribe(t *testing.T, conn *websocket.Conn, userID int64) {
	t.Helper()
	if err := conn.WriteJSON(SubscribeMsg{Type: "subscribe", UserID: userID}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	msg := readJSON(t, conn)
	if msg["type"] != "subscribed" {
		t.Fatalf("expected subscribed ack, got %v", msg)
	}
}

func TestMatchRecordedBroadcast(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, 0)

	hub.MatchRecorded(context.Background(), storage.MatchRecord{
		MatchOutcome: storage.MatchOutcome{MatchID: "1700000000000-aaaaaaaaaaaa", WinnerID: 1, LoserID: 2},
	})

	msg := readJSON(t, conn)
	if msg["type"] != "match_recorded" {
		t.Fatalf("type = %v", msg["type"])
	}
	if msg["matchId"] != "1700000000000-aaaaaaaaaaaa" {
		t.Fatalf("matchId = %v", msg["matchId"])
	}
	if msg["timestamp"] != float64(1700000000000) {
		t.Fatalf("timestamp = %v", msg["timestamp"])
	}
}

func TestSubscriptionFiltersEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, conn, 7)

	ctx := context.Background()
	hub.AchievementUnlocked(ctx, 8, storage.Achievement{ID: "first_win"}, time.Now())
	hub.MatchRecorded(ctx, storage.MatchRecord{
		MatchOutcome: storage.MatchOutcome{MatchID: "1700000000000-bbbbbbbbbbbb", WinnerID: 1, LoserID: 2},
	})
	hub.AchievementUnlocked(ctx, 7, storage.Achievement{ID: "ball_rookie", Description: "Touch 10 balls", GoalType: "touched_balls"}, time.Now())

	msg := readJSON(t, conn)
	if msg["type"] != "achievement_unlocked" || msg["achievementId"] != "ball_rookie" {
		t.Fatalf("expected only user 7's unlock, got %v", msg)
	}
	if msg["userId"] != float64(7) {
		t.Fatalf("userId = %v", msg["userId"])
	}
}

func TestInvalidMessagesReturnErrors(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	cases := []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"subscribe","userId":-1}`,
	}
	for _, raw := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		msg := readJSON(t, conn)
		if msg["type"] != "error" {
			t.Fatalf("%s: expected error, got %v", raw, msg)
		}
	}
}

func TestShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	subscribe(t, conn, 0)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close")
	}
}

func TestSafeSendClosedChannel(t *testing.T) {
	ch := make(chan []byte, 1)
	close(ch)
	SafeSend(ch, []byte("x"))
}

func TestSafeSendFullChannel(t *testing.T) {
	ch := make(chan []byte, 1)
	SafeSend(ch, []byte("a"))
	SafeSend(ch, []byte("b"))
	if got := string(<-ch); got != "a" {
		t.Fatalf("got %q", got)
	}
}

func TestMessageShapes(t *testing.T) {
	data, err := json.Marshal(MatchRecordedMsg{Type: "match_recorded", MatchID: "m", WinnerID: 1, LoserID: 2, Timestamp: 5})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"match_recorded","matchId":"m","winnerId":1,"loserId":2,"timestamp":5}`
	if string(data) != want {
		t.Fatalf("got %s", data)
	}
}
