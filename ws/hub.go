package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"match-stats-server/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins; the feed is read-only and unauthenticated.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// event is one outbound message and the users it concerns.
type event struct {
	data  []byte
	users []int64
}

// Hub maintains the set of feed clients and fans events out to them.
type Hub struct {
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	broadcast  chan event
	done       chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. Should be run as a goroutine.
// When ctx is cancelled (e.g. on server shutdown), Run closes every client and returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping", "tag", "ws")
			for client := range h.Clients {
				delete(h.Clients, client)
				close(client.Send)
			}
			return
		case client := <-h.Register:
			h.Clients[client] = true
			slog.Info("client connected", "tag", "ws", "clients", len(h.Clients))

		case client := <-h.Unregister:
			if _, ok := h.Clients[client]; ok {
				delete(h.Clients, client)
				close(client.Send)
				slog.Info("client disconnected", "tag", "ws", "clients", len(h.Clients))
			}

		case ev := <-h.broadcast:
			for client := range h.Clients {
				if client.wants(ev.users) {
					SafeSend(client.Send, ev.data)
				}
			}
		}
	}
}

func (h *Hub) publish(msg any, users ...int64) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshaling feed event", "tag", "ws", "err", err)
		return
	}
	select {
	case h.broadcast <- event{data: data, users: users}:
	default:
		slog.Warn("feed backlog full, dropping event", "tag", "ws")
	}
}

// MatchRecorded publishes a match_recorded event.
func (h *Hub) MatchRecorded(_ context.Context, rec storage.MatchRecord) {
	ts, _ := storage.MatchIDTimestamp(rec.MatchID)
	h.publish(MatchRecordedMsg{
		Type:      "match_recorded",
		MatchID:   rec.MatchID,
		WinnerID:  rec.WinnerID,
		LoserID:   rec.LoserID,
		Timestamp: ts,
	}, rec.WinnerID, rec.LoserID)
}

// AchievementUnlocked publishes an achievement_unlocked event.
func (h *Hub) AchievementUnlocked(_ context.Context, userID int64, def storage.Achievement, at time.Time) {
	h.publish(AchievementUnlockedMsg{
		Type:          "achievement_unlocked",
		UserID:        userID,
		AchievementID: def.ID,
		Description:   def.Description,
		GoalType:      def.GoalType,
		AchievedAt:    at,
	}, userID)
}

// ServeWS handles WebSocket upgrade requests and creates a new Client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tag", "ws", "err", err)
		return
	}

	client := &Client{
		Hub:  h,
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
