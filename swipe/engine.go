// Package swipe turns swipe gestures into like/pass decisions and enforces
// the daily like quota before anything reaches the network.
package swipe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/internal/workqueue"
)

// DefaultThreshold is the drag distance a gesture must cover to decide.
const DefaultThreshold = 100

// A Gesture is either a discrete command or a drag delta. A non-empty Command
// takes precedence over the delta.
type Gesture struct {
	Command api.Decision
	DX, DY  float64
	// Force skips the quota gate, e.g. when liking back from the received
	// likes list.
	Force bool
}

// Result is the outcome of Decide. When Decided is false the gesture is still
// in progress and OffsetX/OffsetY are only meant for visual feedback. Blocked
// means the like was refused by the quota gate and nothing was changed.
type Result struct {
	Decision api.Decision `json:"decision,omitempty"`
	Decided  bool         `json:"decided"`
	Blocked  bool         `json:"blocked"`
	OffsetX  float64      `json:"offset_x"`
	OffsetY  float64      `json:"offset_y"`
}

// Config holds the Engine dependencies. Store and Queue are optional; without
// them the local counter is not persisted.
type Config struct {
	UserID    string
	Threshold float64
	Quota     *Quota
	Store     api.QuotaStore
	Queue     *workqueue.Queue
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine is the swipe decision engine of one user.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine, filling zero config values with defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Quota == nil {
		cfg.Quota = NewQuota(DefaultDailyLimit)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg}
}

// Quota returns the counter the engine gates on.
func (e *Engine) Quota() *Quota {
	return e.cfg.Quota
}

// Decide maps g to a decision. A like passes the quota gate and takes one
// like from the counter in the same step; a blocked like changes nothing.
func (e *Engine) Decide(g Gesture) Result {
	d, ok := e.classify(g)
	if !ok {
		decisions.WithLabelValues("pending").Inc()
		return Result{OffsetX: g.DX, OffsetY: g.DY}
	}
	res := Result{Decision: d, Decided: true, OffsetX: g.DX, OffsetY: g.DY}
	if d == api.DecisionPass {
		decisions.WithLabelValues("pass").Inc()
		return res
	}
	if g.Force {
		decisions.WithLabelValues("forced").Inc()
		return res
	}

	if !e.cfg.Quota.TryConsume(e.cfg.Now()) {
		decisions.WithLabelValues("blocked").Inc()
		return Result{Decision: d, Decided: true, Blocked: true, OffsetX: g.DX, OffsetY: g.DY}
	}
	decisions.WithLabelValues("like").Inc()
	e.persistLike()
	return res
}

func (e *Engine) classify(g Gesture) (api.Decision, bool) {
	switch g.Command {
	case api.DecisionLike, api.DecisionPass:
		return g.Command, true
	}

	t := e.cfg.Threshold
	if math.Abs(g.DY) >= math.Abs(g.DX) {
		switch {
		case g.DY >= t:
			return api.DecisionLike, true
		case g.DY <= -t:
			return api.DecisionPass, true
		}
		return "", false
	}
	switch {
	case g.DX >= t:
		return api.DecisionLike, true
	case g.DX <= -t:
		return api.DecisionPass, true
	}
	return "", false
}

// persistLike advances the server-side counter in the background. Increments
// are not idempotent, so a failed attempt is never retried.
func (e *Engine) persistLike() {
	if e.cfg.Store == nil || e.cfg.Queue == nil || e.cfg.UserID == "" {
		return
	}
	userID := e.cfg.UserID
	err := e.cfg.Queue.Submit(context.Background(), "quota:"+userID, func(ctx context.Context) error {
		if err := e.cfg.Store.IncrementLikeCount(ctx, userID); err != nil {
			return workqueue.Permanent(fmt.Errorf("increment like count: %w", err))
		}
		return nil
	})
	if err != nil {
		e.cfg.Logger.Warn("Could not schedule like count increment", "user_id", userID, "error", err.Error())
	}
}
