package api

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVIPRequired is returned when a feature is reserved to VIP users. It is a
// gate, not a failure.
var ErrVIPRequired = errors.New("vip required")

// A ProfileStore reads candidate profiles.
type ProfileStore interface {
	GetFeed(ctx context.Context, userID string, filters FeedFilters) ([]Profile, error)
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// A SwipeStore persists swipes. CreateSwipe reports a match when the swipe
// completed a mutual like.
type SwipeStore interface {
	CreateSwipe(ctx context.Context, actorID, targetID string, decision Decision) (SwipeResult, error)
	GetReceivedLikes(ctx context.Context, userID string) ([]Profile, error)
}

// A QuotaStore reads and advances the server-side daily like counter.
type QuotaStore interface {
	GetQuota(ctx context.Context, userID string) (Quota, error)
	IncrementLikeCount(ctx context.Context, userID string) error
}

// A MatchStore lists a user's matches joined with the other user's profile
// and the conversation preview.
type MatchStore interface {
	GetAllMatches(ctx context.Context, userID string) ([]Match, error)
}

// A MessageStore persists chat messages.
type MessageStore interface {
	GetByConversation(ctx context.Context, conversationID string) ([]Message, error)
	GetMessage(ctx context.Context, messageID string) (Message, error)
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	MarkAsRead(ctx context.Context, messageID string) error
	MarkBatchAsRead(ctx context.Context, messageIDs []string) error
	DeleteMessage(ctx context.Context, messageID, senderID string) error
}

// A ReactionStore persists message reactions, at most one per user and
// message.
type ReactionStore interface {
	GetByMessage(ctx context.Context, messageID string) ([]Reaction, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID string) error
}

// A Subscription delivers realtime change events until closed. Close closes
// the Events channel.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Realtime provides change feeds for message rows.
type Realtime interface {
	// Subscribe streams changes scoped to one conversation.
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
	// SubscribeAll streams message changes of every conversation.
	SubscribeAll(ctx context.Context) (Subscription, error)
}

// A PresenceChannel is a joined presence topic. Close closes the Syncs
// channel.
type PresenceChannel interface {
	Track(ctx context.Context, state PresenceState) error
	Untrack(ctx context.Context) error
	Syncs() <-chan PresenceSnapshot
	Close() error
}

// A PresenceHub joins presence topics. key identifies this participant's
// tracked state on the topic.
type PresenceHub interface {
	Join(ctx context.Context, topic, key string) (PresenceChannel, error)
}

// A MediaStore uploads files and returns their public URL. The URL is opaque
// to the core.
type MediaStore interface {
	UploadFile(ctx context.Context, bucket, path string, file io.Reader, contentType string) (string, error)
}

// An IntentStore is durable local key/value storage that survives restarts.
// Get reports ok=false when the key is absent.
type IntentStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// A Locator reports the device location.
type Locator interface {
	Locate(ctx context.Context) (Location, error)
}
