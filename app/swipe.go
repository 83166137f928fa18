package app

import (
	"context"
	"fmt"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/match"
	"github.com/pegaoupassa/swipe-core/swipe"
)

// Feed returns the queued cards and the like counter.
func (a *App) Feed() api.FeedView {
	now := a.cfg.Now()
	q := a.engine.Quota()
	return api.FeedView{
		State:          a.feed.State().String(),
		Profiles:       a.feed.Profiles(),
		Quota:          q.Snapshot(now),
		RemainingLikes: q.Remaining(now),
	}
}

// Swipe applies a gesture to the current card. A decided, unblocked gesture
// consumes the card before the swipe is submitted, so the same card is never
// submitted twice. The feed replenishes itself below its low watermark.
func (a *App) Swipe(ctx context.Context, req api.SwipeRequest) (api.SwipeResponse, error) {
	a.swipeMu.Lock()
	card, ok := a.feed.Peek()
	if !ok || (req.ProfileID != "" && req.ProfileID != card.ID) {
		a.swipeMu.Unlock()
		return api.SwipeResponse{}, api.ErrNoCandidate
	}
	res := a.engine.Decide(swipe.Gesture{Command: req.Command, DX: req.DX, DY: req.DY})
	if res.Decided && !res.Blocked {
		a.feed.Remove(card.ID)
	}
	a.swipeMu.Unlock()

	out := a.response(res)
	if !res.Decided || res.Blocked {
		return out, nil
	}
	return a.submit(ctx, out, card, res.Decision, true)
}

// LikeBack likes a profile from the received likes list. It skips the quota
// gate and removes the profile from the feed if it is queued there.
func (a *App) LikeBack(ctx context.Context, profileID string) (api.SwipeResponse, error) {
	target, err := a.cfg.Backend.Profiles.GetProfile(ctx, profileID)
	if err != nil {
		return api.SwipeResponse{}, fmt.Errorf("get profile: %w", err)
	}
	res := a.engine.Decide(swipe.Gesture{Command: api.DecisionLike, Force: true})
	_, queued := a.feed.Remove(profileID)
	return a.submit(ctx, a.response(res), target, res.Decision, queued)
}

// submit sends the swipe. On failure the card stays consumed unless
// RestoreCardOnFailure is set; the like counter is never given back.
func (a *App) submit(ctx context.Context, out api.SwipeResponse, target api.Profile, d api.Decision, fromFeed bool) (api.SwipeResponse, error) {
	res, err := a.pipe.Submit(ctx, a.Self(), target, d)
	if err != nil {
		if fromFeed && a.cfg.RestoreCardOnFailure {
			a.feed.Restore(target)
		}
		a.cfg.Logger.Warn("Could not submit swipe", "target_id", target.ID, "error", err.Error())
		return out, err
	}
	out.Matched = res.Matched
	out.Match = res.Match
	return out, nil
}

func (a *App) response(res swipe.Result) api.SwipeResponse {
	return api.SwipeResponse{
		Decision:       res.Decision,
		Decided:        res.Decided,
		Blocked:        res.Blocked,
		OffsetX:        res.OffsetX,
		OffsetY:        res.OffsetY,
		RemainingLikes: a.engine.Quota().Remaining(a.cfg.Now()),
	}
}

// SetPreferences replaces the feed filters and reloads the feed.
func (a *App) SetPreferences(ctx context.Context, p api.Preferences) (api.FeedView, error) {
	if _, err := a.feed.SetPreferences(ctx, p); err != nil {
		return a.Feed(), fmt.Errorf("set preferences: %w", err)
	}
	return a.Feed(), nil
}

// Matches returns the match list, loading it on first use.
func (a *App) Matches(ctx context.Context) ([]api.Match, error) {
	if !a.list.Loaded() {
		if err := a.list.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return a.list.Matches(), nil
}

// ReceivedLikes lists who liked the user. It returns api.ErrVIPRequired for
// non-VIP users.
func (a *App) ReceivedLikes(ctx context.Context) ([]api.Profile, error) {
	vip := a.engine.Quota().Snapshot(a.cfg.Now()).IsVIP || a.Self().IsVIP
	return match.ReceivedLikes(ctx, a.cfg.Backend.Swipes, a.cfg.UserID, vip)
}
