// Package presence tracks whether the other participant of a conversation is
// online and typing.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pegaoupassa/swipe-core/api"
)

// Defaults for Config.
const (
	DefaultIdleTimeout  = 2 * time.Second
	DefaultRefreshEvery = 500 * time.Millisecond
)

// ErrNotJoined is returned when tracking before Join or after Leave.
var ErrNotJoined = errors.New("presence: not joined")

// Topic returns the presence topic of a conversation.
func Topic(conversationID string) string {
	return "chat:" + conversationID
}

// Status is what the local user sees about the peer.
type Status struct {
	Online bool `json:"online"`
	Typing bool `json:"typing"`
}

// Derive computes the peer status from a presence snapshot. States of selfID
// are ignored; when peerID is empty every other participant counts.
func Derive(snap api.PresenceSnapshot, selfID, peerID string) Status {
	var st Status
	for _, states := range snap {
		for _, s := range states {
			if s.UserID == selfID {
				continue
			}
			if peerID != "" && s.UserID != peerID {
				continue
			}
			st.Online = true
			if s.Typing {
				st.Typing = true
			}
		}
	}
	return st
}

// Config holds the Tracker dependencies.
type Config struct {
	ConversationID string
	UserID         string
	PeerID         string
	Hub            api.PresenceHub
	// IdleTimeout is how long after the last keystroke typing resets.
	IdleTimeout time.Duration
	// RefreshEvery bounds how often keystrokes re-track the typing state.
	RefreshEvery time.Duration
	// OnChange is called when the peer status changes.
	OnChange func(Status)
	Logger   *slog.Logger
	Now      func() time.Time
}

// Tracker is the presence of one user on one conversation.
type Tracker struct {
	cfg     Config
	key     string
	limiter *rate.Limiter

	mu     sync.Mutex
	ch     api.PresenceChannel
	typing bool
	idle   *time.Timer
	// gen identifies the latest idle timer so a stale one does nothing.
	gen    int
	status Status
	wg     sync.WaitGroup
}

// NewTracker returns a Tracker that has not joined yet.
func NewTracker(cfg Config) *Tracker {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = DefaultRefreshEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:     cfg,
		key:     uuid.NewString(),
		limiter: rate.NewLimiter(rate.Every(cfg.RefreshEvery), 1),
	}
}

// Status returns the last derived peer status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Typing reports whether the local user is currently tracked as typing.
func (t *Tracker) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Join joins the conversation's presence topic and tracks the user as online.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	joined := t.ch != nil
	t.mu.Unlock()
	if joined {
		return nil
	}

	ch, err := t.cfg.Hub.Join(ctx, Topic(t.cfg.ConversationID), t.key)
	if err != nil {
		return fmt.Errorf("join presence: %w", err)
	}
	if err := ch.Track(ctx, t.state(false)); err != nil {
		_ = ch.Close()
		return fmt.Errorf("track presence: %w", err)
	}

	t.mu.Lock()
	t.ch = ch
	t.typing = false
	t.wg.Add(1)
	t.mu.Unlock()

	go t.consume(ch)
	return nil
}

// Keystroke marks the user as typing. The first keystroke tracks at once;
// later ones refresh the tracked state at a bounded rate. Typing resets
// after IdleTimeout without keystrokes.
func (t *Tracker) Keystroke(ctx context.Context) error {
	t.mu.Lock()
	ch := t.ch
	if ch == nil {
		t.mu.Unlock()
		return ErrNotJoined
	}
	was := t.typing
	t.typing = true
	if t.idle != nil {
		t.idle.Stop()
	}
	t.gen++
	gen := t.gen
	t.idle = time.AfterFunc(t.cfg.IdleTimeout, func() { t.idleExpired(gen) })
	allowed := t.limiter.Allow()
	t.mu.Unlock()

	if was && !allowed {
		return nil
	}
	if err := ch.Track(ctx, t.state(true)); err != nil {
		return fmt.Errorf("track typing: %w", err)
	}
	return nil
}

// StopTyping resets the typing state at once, e.g. after sending.
func (t *Tracker) StopTyping(ctx context.Context) error {
	t.mu.Lock()
	ch := t.ch
	if ch == nil {
		t.mu.Unlock()
		return ErrNotJoined
	}
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	was := t.typing
	t.typing = false
	t.mu.Unlock()

	if !was {
		return nil
	}
	if err := ch.Track(ctx, t.state(false)); err != nil {
		return fmt.Errorf("track typing: %w", err)
	}
	return nil
}

func (t *Tracker) idleExpired(gen int) {
	t.mu.Lock()
	ch := t.ch
	if ch == nil || gen != t.gen || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.idle = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Track(ctx, t.state(false)); err != nil {
		t.cfg.Logger.Warn("Could not reset typing state", "conversation_id", t.cfg.ConversationID, "error", err.Error())
	}
}

// Leave untracks the user and leaves the topic so the peer stops seeing
// them online.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	ch := t.ch
	t.ch = nil
	t.typing = false
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	t.mu.Unlock()
	if ch == nil {
		return nil
	}

	var errs []error
	if err := ch.Untrack(ctx); err != nil {
		errs = append(errs, fmt.Errorf("untrack: %w", err))
	}
	if err := ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	t.wg.Wait()
	t.setStatus(Status{})
	return errors.Join(errs...)
}

func (t *Tracker) consume(ch api.PresenceChannel) {
	defer t.wg.Done()
	for snap := range ch.Syncs() {
		t.setStatus(Derive(snap, t.cfg.UserID, t.cfg.PeerID))
	}
}

func (t *Tracker) setStatus(st Status) {
	t.mu.Lock()
	changed := t.status != st
	t.status = st
	t.mu.Unlock()
	if changed && t.cfg.OnChange != nil {
		t.cfg.OnChange(st)
	}
}

func (t *Tracker) state(typing bool) api.PresenceState {
	return api.PresenceState{UserID: t.cfg.UserID, Typing: typing, OnlineAt: t.cfg.Now()}
}
