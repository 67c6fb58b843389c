package ws

import (
	"encoding/json"
	"time"
)

// InboundEnvelope is the generic envelope for all client-to-server messages.
// The Type field is used for routing; Raw holds the full JSON payload.
type InboundEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements custom unmarshaling to capture the raw payload.
func (e *InboundEnvelope) UnmarshalJSON(data []byte) error {
	type typeOnly struct {
		Type string `json:"type"`
	}
	var t typeOnly
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	e.Type = t.Type
	e.Raw = json.RawMessage(data)
	return nil
}

// --- Client-to-Server message payloads ---

// SubscribeMsg narrows the feed to events involving one user. UserID 0 restores the full feed.
type SubscribeMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// --- Server-to-Client messages ---

// ErrorMsg is sent when a client message is invalid.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SubscribedMsg confirms a subscribe request.
type SubscribedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// MatchRecordedMsg announces a committed match.
type MatchRecordedMsg struct {
	Type      string `json:"type"`
	MatchID   string `json:"matchId"`
	WinnerID  int64  `json:"winnerId"`
	LoserID   int64  `json:"loserId"`
	Timestamp int64  `json:"timestamp"`
}

// AchievementUnlockedMsg announces a new unlock.
type AchievementUnlockedMsg struct {
	Type          string    `json:"type"`
	UserID        int64     `json:"userId"`
	AchievementID string    `json:"achievementId"`
	Description   string    `json:"description"`
	GoalType      string    `json:"goalType"`
	AchievedAt    time.Time `json:"achievedAt"`
}
