package achievement

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"match-stats-server/matcherrors"
	"match-stats-server/storage"
	"match-stats-server/telemetry"
)

// lockedCap is the highest percentage shown for an achievement that is still locked.
const lockedCap = 99

// Progress is a user's raw standing against one achievement.
type Progress struct {
	AchievementID   string `json:"achievement_id"`
	GoalType        string `json:"goal_type"`
	GoalAmount      int64  `json:"goal_amount"`
	CurrentProgress int64  `json:"current_progress"`
}

// Met reports whether the raw progress reaches the goal.
func (p Progress) Met() bool {
	return p.CurrentProgress >= p.GoalAmount
}

// Percentage is the share of the goal reached, rounded and capped at 99.
func (p Progress) Percentage() int64 {
	if p.GoalAmount <= 0 || p.CurrentProgress <= 0 {
		return 0
	}
	pct := int64(math.Round(float64(p.CurrentProgress) / float64(p.GoalAmount) * 100))
	return min(pct, lockedCap)
}

// UnlockResult is the outcome of CheckAndUnlock.
type UnlockResult struct {
	AchievementID   string `json:"achievement_id"`
	Unlocked        bool   `json:"unlocked"`
	IsNew           bool   `json:"is_new"`
	Progress        int64  `json:"progress"`
	CurrentProgress int64  `json:"current_progress,omitempty"`
	GoalAmount      int64  `json:"goal_amount,omitempty"`
}

// ProgressEntry is one catalog row of ListProgress.
type ProgressEntry struct {
	storage.Achievement
	Achieved        bool       `json:"achieved"`
	AchievedAt      *time.Time `json:"achieved_at,omitempty"`
	Progress        int64      `json:"progress"`
	CurrentProgress int64      `json:"current_progress"`
}

// UnlockObserver is notified when a user newly unlocks an achievement.
type UnlockObserver interface {
	AchievementUnlocked(ctx context.Context, userID int64, def storage.Achievement, at time.Time)
}

// Engine computes progress and records unlocks. It owns no state of its own.
type Engine struct {
	catalog   storage.CatalogStore
	unlocks   storage.UnlockStore
	ledger    LedgerReader
	now       func() time.Time
	observers []UnlockObserver
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithUnlockObserver registers an observer for new unlocks.
func WithUnlockObserver(o UnlockObserver) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithNow sets the clock used for achieved_at.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine over the given stores.
func NewEngine(catalog storage.CatalogStore, unlocks storage.UnlockStore, ledger LedgerReader, opts ...EngineOption) *Engine {
	e := &Engine{catalog: catalog, unlocks: unlocks, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func checkUser(userID int64) error {
	if userID <= 0 {
		return matcherrors.Validationf("user id must be positive, got %d", userID)
	}
	return nil
}

func (e *Engine) progressFor(ctx context.Context, userID int64, def storage.Achievement) (Progress, error) {
	current, err := ruleFor(GoalType(def.GoalType))(ctx, e.ledger, userID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		AchievementID:   def.ID,
		GoalType:        def.GoalType,
		GoalAmount:      def.GoalAmount,
		CurrentProgress: current,
	}, nil
}

// ComputeProgress returns the user's raw progress toward an achievement.
func (e *Engine) ComputeProgress(ctx context.Context, userID int64, achievementID string) (Progress, error) {
	if err := checkUser(userID); err != nil {
		return Progress{}, err
	}
	def, err := e.catalog.GetAchievement(ctx, achievementID)
	if err != nil {
		return Progress{}, err
	}
	return e.progressFor(ctx, userID, def)
}

// CheckAndUnlock unlocks the achievement when the user's raw progress meets
// the goal. An existing unlock short-circuits without recomputing progress.
//
// The check and the insert are separate statements: two concurrent calls for
// the same pair can both report IsNew, while only one row is ever stored.
func (e *Engine) CheckAndUnlock(ctx context.Context, userID int64, achievementID string) (res UnlockResult, err error) {
	if err := checkUser(userID); err != nil {
		return UnlockResult{}, err
	}
	ctx, span := telemetry.Start(ctx, "achievement.CheckAndUnlock",
		attribute.Int64("user.id", userID),
		attribute.String("achievement.id", achievementID))
	defer func() {
		span.SetAttributes(attribute.Bool("achievement.unlocked", res.Unlocked), attribute.Bool("achievement.new", res.IsNew))
		telemetry.End(span, err)
	}()

	has, err := e.unlocks.HasUserAchievement(ctx, userID, achievementID)
	if err != nil {
		return UnlockResult{}, err
	}
	if has {
		return UnlockResult{AchievementID: achievementID, Unlocked: true}, nil
	}
	def, err := e.catalog.GetAchievement(ctx, achievementID)
	if err != nil {
		return UnlockResult{}, err
	}
	return e.checkDefinition(ctx, userID, def)
}

func (e *Engine) checkDefinition(ctx context.Context, userID int64, def storage.Achievement) (UnlockResult, error) {
	p, err := e.progressFor(ctx, userID, def)
	if err != nil {
		return UnlockResult{}, err
	}
	if !p.Met() {
		return UnlockResult{
			AchievementID:   def.ID,
			Progress:        p.Percentage(),
			CurrentProgress: p.CurrentProgress,
			GoalAmount:      p.GoalAmount,
		}, nil
	}

	at := e.now().UTC()
	if err := e.unlocks.InsertUserAchievement(ctx, userID, def.ID, at); err != nil {
		return UnlockResult{}, err
	}
	slog.Info("achievement unlocked", "tag", "achievement", "user", userID, "achievement", def.ID)
	for _, o := range e.observers {
		o.AchievementUnlocked(ctx, userID, def, at)
	}
	return UnlockResult{AchievementID: def.ID, Unlocked: true, IsNew: true}, nil
}

// CheckAll runs CheckAndUnlock over the whole catalog and returns one result
// per definition, in catalog order.
func (e *Engine) CheckAll(ctx context.Context, userID int64) ([]UnlockResult, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	defs, err := e.catalog.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	unlocked, err := e.unlockedSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]UnlockResult, 0, len(defs))
	for _, def := range defs {
		if _, ok := unlocked[def.ID]; ok {
			out = append(out, UnlockResult{AchievementID: def.ID, Unlocked: true})
			continue
		}
		res, err := e.checkDefinition(ctx, userID, def)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (e *Engine) unlockedSet(ctx context.Context, userID int64) (map[string]time.Time, error) {
	list, err := e.unlocks.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	m := make(map[string]time.Time, len(list))
	for _, ua := range list {
		m[ua.AchievementID] = ua.AchievedAt
	}
	return m, nil
}

// UserAchievements returns the user's unlocks; empty when there are none.
func (e *Engine) UserAchievements(ctx context.Context, userID int64) ([]storage.UserAchievement, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	return e.unlocks.ListUserAchievements(ctx, userID)
}

// ListProgress returns the user's standing on every catalog entry: unlocked
// first, then by goal type, goal amount and id.
func (e *Engine) ListProgress(ctx context.Context, userID int64) ([]ProgressEntry, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	defs, err := e.catalog.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	unlocked, err := e.unlockedSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ProgressEntry, 0, len(defs))
	for _, def := range defs {
		entry := ProgressEntry{Achievement: def}
		if at, ok := unlocked[def.ID]; ok {
			entry.Achieved = true
			entry.AchievedAt = &at
			entry.Progress = 100
		} else {
			p, err := e.progressFor(ctx, userID, def)
			if err != nil {
				return nil, err
			}
			entry.Progress = p.Percentage()
			entry.CurrentProgress = p.CurrentProgress
		}
		out = append(out, entry)
	}

	slices.SortFunc(out, func(a, b ProgressEntry) int {
		if a.Achieved != b.Achieved {
			if a.Achieved {
				return -1
			}
			return 1
		}
		return cmp.Or(
			cmp.Compare(a.GoalType, b.GoalType),
			cmp.Compare(a.GoalAmount, b.GoalAmount),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}
