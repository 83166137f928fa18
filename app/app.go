// Package app wires the feed, swipe, match, chat, presence and notification
// components for one signed-in user. Each component owns its own state; the
// App only routes calls and events between them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/chat"
	"github.com/pegaoupassa/swipe-core/feed"
	"github.com/pegaoupassa/swipe-core/internal/workqueue"
	"github.com/pegaoupassa/swipe-core/match"
	"github.com/pegaoupassa/swipe-core/notify"
	"github.com/pegaoupassa/swipe-core/presence"
	"github.com/pegaoupassa/swipe-core/swipe"
)

// Backend groups the collaborators the core reaches the backend through.
// Realtime, Presence, Media and Locator are optional.
type Backend struct {
	Profiles  api.ProfileStore
	Swipes    api.SwipeStore
	Quotas    api.QuotaStore
	Matches   api.MatchStore
	Messages  api.MessageStore
	Reactions api.ReactionStore
	Realtime  api.Realtime
	Presence  api.PresenceHub
	Media     api.MediaStore
	Intents   api.IntentStore
	Locator   api.Locator
}

// Config holds the App settings. Zero durations and sizes fall back to the
// component defaults.
type Config struct {
	UserID  string
	Backend Backend
	// Navigator also receives notification deep links; they are always
	// queued as events.
	Navigator notify.Navigator

	DailyLikes        int
	SwipeThreshold    float64
	FeedBatchSize     int
	FeedLowWatermark  int
	LocateTimeout     time.Duration
	IcebreakerDelay   time.Duration
	TypingIdle        time.Duration
	NotificationRetry time.Duration
	// RestoreCardOnFailure puts a card back when its swipe could not be
	// submitted. Off by default: the card stays consumed.
	RestoreCardOnFailure bool

	Logger *slog.Logger
	Now    func() time.Time
}

type openChat struct {
	session *chat.Session
	tracker *presence.Tracker
}

var _ api.Core = (*App)(nil)

// App is the client core of one user.
type App struct {
	cfg    Config
	queue  *workqueue.Queue
	engine *swipe.Engine
	feed   *feed.Manager
	list   *match.List
	pipe   *match.Pipeline
	router *notify.Router

	// swipeMu serialises deciding on a card and claiming it.
	swipeMu sync.Mutex

	mu     sync.Mutex
	self   api.Profile
	chats  map[string]*openChat
	active string
	events []api.Event
	sub    api.Subscription
	wg     sync.WaitGroup
}

// New builds the components. Call Start to load the initial state.
func New(cfg Config) *App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Logger = cfg.Logger.With("user_id", cfg.UserID)
	b := cfg.Backend

	a := &App{cfg: cfg, chats: make(map[string]*openChat)}
	a.queue = workqueue.New(workqueue.Config{Name: "app", Logger: cfg.Logger})
	a.engine = swipe.NewEngine(swipe.Config{
		UserID:    cfg.UserID,
		Threshold: cfg.SwipeThreshold,
		Quota:     swipe.NewQuota(cfg.DailyLikes),
		Store:     b.Quotas,
		Queue:     a.queue,
		Logger:    cfg.Logger,
		Now:       cfg.Now,
	})
	a.feed = feed.New(feed.Config{
		UserID:        cfg.UserID,
		Store:         b.Profiles,
		Locator:       b.Locator,
		BatchSize:     cfg.FeedBatchSize,
		LowWatermark:  cfg.FeedLowWatermark,
		LocateTimeout: cfg.LocateTimeout,
		Logger:        cfg.Logger,
	})
	a.list = match.NewList(cfg.UserID, b.Matches, cfg.Logger)
	a.pipe = match.NewPipeline(match.Config{
		Swipes:          b.Swipes,
		Matches:         b.Matches,
		Messages:        b.Messages,
		List:            a.list,
		Queue:           a.queue,
		OnMatch:         a.onMatch,
		IcebreakerDelay: cfg.IcebreakerDelay,
		Logger:          cfg.Logger,
	})
	a.router = notify.NewRouter(notify.Config{
		Intents:    b.Intents,
		Matches:    b.Matches,
		Navigator:  navigator{a},
		RetryDelay: cfg.NotificationRetry,
		Logger:     cfg.Logger,
	})
	return a
}

// Start loads the user's profile, quota, first feed batch and match list,
// subscribes to message changes and resumes a pending notification. Only a
// missing profile is fatal.
func (a *App) Start(ctx context.Context) error {
	b := a.cfg.Backend
	self, err := b.Profiles.GetProfile(ctx, a.cfg.UserID)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	a.mu.Lock()
	a.self = self
	a.mu.Unlock()

	if b.Quotas != nil {
		q, err := b.Quotas.GetQuota(ctx, a.cfg.UserID)
		if err != nil {
			a.cfg.Logger.Warn("Could not load quota", "error", err.Error())
		} else {
			a.engine.Quota().Sync(q)
		}
	}
	if self.IsVIP {
		a.engine.Quota().SetVIP(true)
	}

	if _, err := a.feed.Replenish(ctx); err != nil {
		a.cfg.Logger.Warn("Could not load feed", "error", err.Error())
	}
	if err := a.list.Refresh(ctx); err != nil {
		a.cfg.Logger.Warn("Could not load matches", "error", err.Error())
	}

	if b.Realtime != nil {
		sub, err := b.Realtime.SubscribeAll(ctx)
		if err != nil {
			a.cfg.Logger.Warn("Could not subscribe to message changes", "error", err.Error())
		} else {
			a.mu.Lock()
			a.sub = sub
			a.wg.Add(1)
			a.mu.Unlock()
			go a.consume(sub)
		}
	}

	if err := a.router.SetUser(ctx, a.cfg.UserID); err != nil {
		a.cfg.Logger.Warn("Could not resume pending notification", "error", err.Error())
	}
	return nil
}

// Close leaves every open chat and stops background work.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	chats := a.chats
	a.chats = make(map[string]*openChat)
	a.active = ""
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	var errs []error
	for _, c := range chats {
		if err := closeChat(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription: %w", err))
		}
	}
	a.wg.Wait()
	a.router.Close()
	a.feed.Close()
	a.queue.Stop()
	return errors.Join(errs...)
}

// Router returns the notification router.
func (a *App) Router() *notify.Router {
	return a.router
}

// Self returns the signed-in user's profile.
func (a *App) Self() api.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

// DrainEvents returns and clears the queued events.
func (a *App) DrainEvents() []api.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.events
	a.events = nil
	return out
}

func (a *App) emit(ev api.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *App) onMatch(mf match.MatchFound) {
	a.emit(api.Event{Type: api.EventMatch, Match: &mf.Match, Self: &mf.Self, Other: &mf.Other})
}

// consume keeps the match list previews current.
func (a *App) consume(sub api.Subscription) {
	defer a.wg.Done()
	for ev := range sub.Events() {
		if !a.list.Apply(ev) {
			continue
		}
		a.mu.Lock()
		active := a.active
		a.mu.Unlock()
		if active != "" && active == ev.Message.ConversationID {
			a.list.MarkRead(active)
		}
	}
}

// navigator queues deep links for the shell.
type navigator struct{ a *App }

func (n navigator) ShowMatches() {
	n.a.emit(api.Event{Type: api.EventNavigate, Screen: api.ScreenMatches})
	if n.a.cfg.Navigator != nil {
		n.a.cfg.Navigator.ShowMatches()
	}
}

func (n navigator) OpenChat(m api.Match) {
	mm := m
	n.a.emit(api.Event{Type: api.EventNavigate, Screen: api.ScreenChat, ConversationID: m.ConversationID, Match: &mm})
	if n.a.cfg.Navigator != nil {
		n.a.cfg.Navigator.OpenChat(m)
	}
}
