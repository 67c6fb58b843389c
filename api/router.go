package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"match-stats-server/metrics"
)

// RouterOptions carries the cross-cutting pieces of the HTTP surface.
// Each one is optional.
type RouterOptions struct {
	Metrics     *metrics.Metrics
	RateLimiter *RateLimiter
	Feed        http.HandlerFunc
}

// NewRouter wires every route and wraps the result in CORS and panic recovery.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := mux.NewRouter()

	if opts.Feed != nil {
		r.HandleFunc("/ws/feed", opts.Feed).Methods(http.MethodGet)
	}

	std := r.PathPrefix("/").Subrouter()
	if opts.RateLimiter != nil {
		std.Use(opts.RateLimiter.Middleware)
	}
	if opts.Metrics != nil {
		std.Use(opts.Metrics.Middleware)
		std.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	std.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := std.PathPrefix("/api").Subrouter()

	api.HandleFunc("/matches", h.RecordMatch).Methods(http.MethodPost)
	api.HandleFunc("/matches/global", h.GlobalHistory).Methods(http.MethodGet)
	api.HandleFunc("/matches/{matchId}", h.MatchDetail).Methods(http.MethodGet)

	api.HandleFunc("/users/{userId}/matches", h.UserHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/stats", h.UserStats).Methods(http.MethodGet)

	api.HandleFunc("/stats/global", h.GlobalStats).Methods(http.MethodGet)
	api.HandleFunc("/head-to-head", h.HeadToHead).Methods(http.MethodGet)

	api.HandleFunc("/achievements", h.ListAchievements).Methods(http.MethodGet)
	api.HandleFunc("/achievements/init", h.InitAchievements).Methods(http.MethodPost)
	api.HandleFunc("/achievements/types/{type}", h.ListAchievementsByType).Methods(http.MethodGet)
	api.HandleFunc("/achievements/users/{userId}", h.UserAchievements).Methods(http.MethodGet)
	api.HandleFunc("/achievements/users/{userId}/progress", h.UserProgress).Methods(http.MethodGet)
	api.HandleFunc("/achievements/users/{userId}/{achievementId}/check", h.CheckAchievement).Methods(http.MethodPost)

	origins := h.Config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(cors(r))
}
