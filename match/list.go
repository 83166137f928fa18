package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pegaoupassa/swipe-core/api"
)

// List is the match list of one user, newest conversation first.
type List struct {
	userID string
	store  api.MatchStore
	logger *slog.Logger

	mu      sync.Mutex
	matches []api.Match
	loaded  bool
}

// NewList returns an empty List. Call Refresh to load it.
func NewList(userID string, store api.MatchStore, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{userID: userID, store: store, logger: logger}
}

// Refresh re-fetches every match of the user.
func (l *List) Refresh(ctx context.Context) error {
	ms, err := l.store.GetAllMatches(ctx, l.userID)
	if err != nil {
		return fmt.Errorf("get all matches: %w", err)
	}
	sortMatches(ms)

	l.mu.Lock()
	l.matches = ms
	l.loaded = true
	l.mu.Unlock()
	return nil
}

// Loaded reports whether Refresh succeeded at least once.
func (l *List) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Matches returns a copy of the list.
func (l *List) Matches() []api.Match {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]api.Match, len(l.matches))
	copy(out, l.matches)
	return out
}

// FindByConversation returns the match owning conversationID.
func (l *List) FindByConversation(conversationID string) (api.Match, bool) {
	if conversationID == "" {
		return api.Match{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.matches {
		if m.ConversationID == conversationID {
			return m, true
		}
	}
	return api.Match{}, false
}

// Apply folds a realtime message event into the previews. It reports whether
// the list changed.
func (l *List) Apply(ev api.ChangeEvent) bool {
	if ev.Type != api.EventInsert {
		return false
	}
	msg := ev.Message

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.matches {
		m := &l.matches[i]
		if m.ConversationID == "" || m.ConversationID != msg.ConversationID {
			continue
		}
		m.LastMessage = previewText(msg)
		m.LastMessageAt = msg.CreatedAt
		if msg.SenderID != l.userID && !msg.IsRead {
			m.UnreadCount++
		}
		sortMatches(l.matches)
		return true
	}
	return false
}

// MarkRead clears the unread counter of a conversation.
func (l *List) MarkRead(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.matches {
		if l.matches[i].ConversationID == conversationID {
			l.matches[i].UnreadCount = 0
			return
		}
	}
}

func previewText(msg api.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	switch msg.MediaType {
	case api.MediaImage:
		return api.PhotoCaption
	case api.MediaAudio:
		return api.AudioCaption
	}
	return ""
}

// sortMatches orders by last activity, falling back to the match time.
func sortMatches(ms []api.Match) {
	activity := func(m api.Match) int64 {
		if !m.LastMessageAt.IsZero() {
			return m.LastMessageAt.UnixNano()
		}
		return m.CreatedAt.UnixNano()
	}
	sort.SliceStable(ms, func(i, j int) bool {
		return activity(ms[i]) > activity(ms[j])
	})
}
