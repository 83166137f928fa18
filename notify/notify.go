// Package notify routes push notification events to the screen they refer
// to. A tapped message notification is persisted before anything else so it
// survives a cold start, and is resolved once the user is known and the
// match list contains the conversation.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/api/validator"
)

// Event names delivered by the push layer.
const (
	EventTap        = "push-notification-tap"
	EventForeground = "push-notification"
)

// PendingKey is the durable storage key of an unresolved tap.
const PendingKey = "pendingNotification"

// DefaultRetryDelay is the wait before the single retry of an unresolved tap.
const DefaultRetryDelay = time.Second

// ErrUnknownEvent is returned by Dispatch for unsupported event names.
var ErrUnknownEvent = errors.New("notify: unknown event")

// A Navigator moves the app to a screen.
type Navigator interface {
	ShowMatches()
	OpenChat(m api.Match)
}

// Config holds the Router dependencies.
type Config struct {
	Intents    api.IntentStore
	Matches    api.MatchStore
	Navigator  Navigator
	Validator  *validator.Validator
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Router handles notification events for the signed-in user.
type Router struct {
	cfg Config

	mu     sync.Mutex
	userID string
	active string
	timers map[*time.Timer]struct{}
	closed bool
}

// NewRouter returns a Router. Call SetUser once the user is known.
func NewRouter(cfg Config) *Router {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{cfg: cfg, timers: make(map[*time.Timer]struct{})}
}

// Dispatch decodes and validates a raw event payload and handles it. For
// foreground events it reports whether a banner should be shown.
func (r *Router) Dispatch(ctx context.Context, event string, data []byte) (bool, error) {
	var p api.NotificationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return false, fmt.Errorf("decode payload: %w", err)
	}
	if err := r.cfg.Validator.Check(p); err != nil {
		return false, fmt.Errorf("invalid payload: %w", err)
	}

	switch event {
	case EventTap:
		return false, r.HandleTap(ctx, p)
	case EventForeground:
		return r.HandleForeground(p), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

// HandleTap routes a tapped notification. Match taps show the match list.
// Message taps are persisted first and resolved right away when the user is
// known. Other taps are ignored.
func (r *Router) HandleTap(ctx context.Context, p api.NotificationPayload) error {
	notifications.WithLabelValues("tap", p.Type).Inc()
	switch {
	case p.Type == api.NotificationMatch:
		r.cfg.Navigator.ShowMatches()
		return nil
	case p.Type != api.NotificationMessage || p.ConversationID == "":
		r.cfg.Logger.Debug("Ignoring notification tap", "type", p.Type)
		return nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := r.cfg.Intents.Set(ctx, PendingKey, string(raw)); err != nil {
		return fmt.Errorf("persist pending notification: %w", err)
	}

	userID := r.user()
	if userID == "" {
		r.cfg.Logger.Info("Notification kept until sign-in", "conversation_id", p.ConversationID)
		return nil
	}
	return r.resolve(ctx, userID, p, 1)
}

// HandleForeground reports whether a notification received while the app is
// open should be shown. Messages of the chat on screen are not.
func (r *Router) HandleForeground(p api.NotificationPayload) bool {
	notifications.WithLabelValues("foreground", p.Type).Inc()
	if p.Type != api.NotificationMessage {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.ConversationID == "" || p.ConversationID != r.active
}

// SetActiveConversation records the chat on screen; empty means none.
func (r *Router) SetActiveConversation(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = conversationID
}

// SetUser records the signed-in user and resolves a pending tap.
func (r *Router) SetUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	r.userID = userID
	r.mu.Unlock()
	if userID == "" {
		return nil
	}
	return r.ResumePending(ctx)
}

// ResumePending resolves a tap persisted by an earlier run.
func (r *Router) ResumePending(ctx context.Context) error {
	userID := r.user()
	if userID == "" {
		return nil
	}
	raw, ok, err := r.cfg.Intents.Get(ctx, PendingKey)
	if err != nil {
		return fmt.Errorf("read pending notification: %w", err)
	}
	if !ok {
		return nil
	}

	var p api.NotificationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.ConversationID == "" {
		r.cfg.Logger.Warn("Dropping unreadable pending notification", "value", raw)
		return r.cfg.Intents.Delete(ctx, PendingKey)
	}
	return r.resolve(ctx, userID, p, 1)
}

// Close cancels a scheduled retry. The persisted tap stays for next launch.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = map[*time.Timer]struct{}{}
}

// resolve opens the chat of p. A conversation missing from the match list is
// retried once after RetryDelay, then left persisted.
func (r *Router) resolve(ctx context.Context, userID string, p api.NotificationPayload, attempt int) error {
	r.cfg.Navigator.ShowMatches()

	ms, err := r.cfg.Matches.GetAllMatches(ctx, userID)
	if err != nil {
		return fmt.Errorf("get all matches: %w", err)
	}
	for _, m := range ms {
		if m.ConversationID != p.ConversationID {
			continue
		}
		r.cfg.Navigator.OpenChat(m)
		if err := r.cfg.Intents.Delete(ctx, PendingKey); err != nil {
			return fmt.Errorf("clear pending notification: %w", err)
		}
		resolutions.WithLabelValues("opened").Inc()
		return nil
	}

	if attempt > 1 {
		resolutions.WithLabelValues("deferred").Inc()
		r.cfg.Logger.Info("Notification conversation not found, keeping it for next launch", "conversation_id", p.ConversationID)
		return nil
	}
	// One in-process retry covers matches still loading; after that the
	// payload waits for the next launch.
	r.retryLater(userID, p)
	return nil
}

func (r *Router) retryLater(userID string, p api.NotificationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(r.cfg.RetryDelay, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.resolve(ctx, userID, p, 2); err != nil {
			r.cfg.Logger.Warn("Could not resolve notification", "conversation_id", p.ConversationID, "error", err.Error())
		}
	})
	r.timers[t] = struct{}{}
}

func (r *Router) user() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}
