package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"match-stats-server/achievement"
	"match-stats-server/config"
	"match-stats-server/history"
	"match-stats-server/ledger"
	"match-stats-server/storage"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Config  *config.Config
	Ledger  *ledger.Ledger
	History *history.Service
	Catalog *achievement.Catalog
	Engine  *achievement.Engine
	Store   Pinger
}

type recordMatchRequest struct {
	MatchID     string             `json:"match_id"`
	WinnerID    int64              `json:"winner_id"`
	LoserID     int64              `json:"loser_id"`
	WinnerStats storage.PlayerStat `json:"winner_stats"`
	LoserStats  storage.PlayerStat `json:"loser_stats"`
}

type recordMatchResponse struct {
	MatchID  string              `json:"match_id"`
	Unlocked map[string][]string `json:"unlocked,omitempty"`
}

// RecordMatch stores a finished match and, when enabled, checks both
// players' achievements.
func (h *Handler) RecordMatch(w http.ResponseWriter, r *http.Request) {
	var req recordMatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	matchID := req.MatchID
	var err error
	if matchID == "" {
		matchID, err = h.Ledger.RecordOutcome(ctx, req.WinnerID, req.LoserID, req.WinnerStats, req.LoserStats)
	} else {
		err = h.Ledger.RecordOutcomeWithID(ctx, matchID, req.WinnerID, req.LoserID, req.WinnerStats, req.LoserStats)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := recordMatchResponse{MatchID: matchID}
	if h.Config.AutoUnlockOnRecord {
		resp.Unlocked = map[string][]string{
			"winner": h.unlockNew(ctx, req.WinnerID),
			"loser":  h.unlockNew(ctx, req.LoserID),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// unlockNew runs every check for userID and returns the newly unlocked ids.
// The match is already committed, so failures are only logged.
func (h *Handler) unlockNew(ctx context.Context, userID int64) []string {
	results, err := h.Engine.CheckAll(ctx, userID)
	if err != nil {
		slog.Warn("auto unlock failed", "tag", "api", "user", userID, "err", err)
		return []string{}
	}
	ids := []string{}
	for _, res := range results {
		if res.IsNew {
			ids = append(ids, res.AchievementID)
		}
	}
	return ids
}

// GlobalHistory returns a page of every match, newest first.
func (h *Handler) GlobalHistory(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r, h.Config.DefaultGlobalPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.History.GlobalHistory(r.Context(), page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UserHistory returns a page of one user's matches from their side.
func (h *Handler) UserHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, size, err := pageParams(r, h.Config.DefaultUserPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.History.UserHistory(r.Context(), userID, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MatchDetail returns one match, from the side of ?userId= when given.
func (h *Handler) MatchDetail(w http.ResponseWriter, r *http.Request) {
	viewer, err := queryInt(r, "userId", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.History.MatchDetail(r.Context(), mux.Vars(r)["matchId"], viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// UserStats returns a player's win/loss summary.
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.Ledger.PlayerSummary(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GlobalStats returns ledger-wide totals.
func (h *Handler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.Ledger.GlobalSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HeadToHead compares ?player1= against ?player2=.
func (h *Handler) HeadToHead(w http.ResponseWriter, r *http.Request) {
	p1, err := queryInt(r, "player1", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p2, err := queryInt(r, "player2", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hh, err := h.History.HeadToHead(r.Context(), p1, p2)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

// ListAchievements returns the catalog.
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// ListAchievementsByType returns the definitions of one goal type.
func (h *Handler) ListAchievementsByType(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Catalog.ListByType(r.Context(), mux.Vars(r)["type"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// InitAchievements seeds the default catalog and returns the result.
func (h *Handler) InitAchievements(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.SeedDefaults(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.ListAchievements(w, r)
}

// UserAchievements returns a user's unlocks.
func (h *Handler) UserAchievements(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Engine.UserAchievements(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// UserProgress returns the whole catalog annotated with the user's progress.
func (h *Handler) UserProgress(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := h.Engine.ListProgress(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// CheckAchievement evaluates one achievement and unlocks it when met.
func (h *Handler) CheckAchievement(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Engine.CheckAndUnlock(r.Context(), userID, mux.Vars(r)["achievementId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Health pings the store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		slog.Warn("health check failed", "tag", "api", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.Config.ServiceName})
}
