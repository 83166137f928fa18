package api

import (
	"strings"
	"time"
)

// Defaults applied when the backend returns partial profile data. A card must
// always render, so missing fields are filled in rather than rejected.
const (
	DefaultName      = "Someone"
	DefaultAge       = 25
	PlaceholderImage = "https://picsum.photos/200"

	// VibeLifetime is how long a vibe status stays visible after activation.
	VibeLifetime = time.Hour
)

// TempIDPrefix marks message ids generated locally before the backend
// acknowledged the message.
const TempIDPrefix = "temp-"

// A Decision is the outcome of a single swipe.
type Decision string

const (
	DecisionLike Decision = "like"
	DecisionPass Decision = "pass"
)

// A Profile is an immutable snapshot of a candidate shown in the feed.
type Profile struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Age           int        `json:"age"`
	Bio           string     `json:"bio"`
	ImageURL      string     `json:"image_url"`
	Photos        []string   `json:"photos"`
	Distance      float64    `json:"distance"`
	Verified      bool       `json:"verified"`
	ZodiacSign    string     `json:"zodiac_sign,omitempty"`
	Profession    string     `json:"profession,omitempty"`
	Education     string     `json:"education,omitempty"`
	Height        int        `json:"height,omitempty"`
	Interests     []string   `json:"interests,omitempty"`
	VibeStatus    string     `json:"vibe_status,omitempty"`
	VibeExpiresAt *time.Time `json:"vibe_expires_at,omitempty"`
	Neighborhood  string     `json:"neighborhood,omitempty"`
	IsVIP         bool       `json:"is_vip"`
}

// VibeActive reports whether the profile carries a vibe status that has not
// expired at now.
func (p Profile) VibeActive(now time.Time) bool {
	if p.VibeStatus == "" || p.VibeExpiresAt == nil {
		return false
	}
	return now.Before(*p.VibeExpiresAt)
}

// WithDefaults fills the fields a card cannot render without.
func (p Profile) WithDefaults() Profile {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultName
	}
	if p.Age <= 0 {
		p.Age = DefaultAge
	}
	if p.ImageURL == "" && len(p.Photos) > 0 {
		p.ImageURL = p.Photos[0]
	}
	if p.ImageURL == "" {
		p.ImageURL = PlaceholderImage
	}
	if p.Photos == nil {
		p.Photos = []string{}
	}
	return p
}

// A Swipe is a write-once record of one user's decision about another.
type Swipe struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id"`
	Decision  Decision  `json:"decision"`
	CreatedAt time.Time `json:"created_at"`
}

// SwipeResult is the backend response to a swipe. Match is set only when the
// swipe completed a mutual like.
type SwipeResult struct {
	Swipe Swipe  `json:"swipe"`
	Match *Match `json:"match,omitempty"`
}

// A Match links two users and their conversation. ConversationID may be empty
// when the backend has not created the conversation yet.
type Match struct {
	ID             string    `json:"id"`
	UserA          string    `json:"user_a"`
	UserB          string    `json:"user_b"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Other          Profile   `json:"other"`
	LastMessage    string    `json:"last_message"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Involves reports whether userID is one of the two matched users.
func (m Match) Involves(userID string) bool {
	return m.UserA == userID || m.UserB == userID
}

// Media types accepted on messages.
const (
	MediaImage = "image"
	MediaAudio = "audio"
)

// Captions used for media messages sent without text.
const (
	PhotoCaption = "📷 Photo"
	AudioCaption = "🎤 Audio"
)

// A Message is a chat message. A message whose ID starts with TempIDPrefix is
// pending and has not been acknowledged by the backend.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Content        string          `json:"content"`
	MediaURL       string          `json:"media_url,omitempty"`
	MediaType      string          `json:"media_type,omitempty"`
	ReplyToID      string          `json:"reply_to_id,omitempty"`
	ReplyTo        *MessagePreview `json:"reply_to,omitempty"`
	Reactions      []Reaction      `json:"reactions"`
	IsRead         bool            `json:"is_read"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Pending reports whether the message still carries a temporary id.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Preview returns the snapshot used when another message replies to m.
func (m Message) Preview() *MessagePreview {
	return &MessagePreview{ID: m.ID, Content: m.Content, SenderID: m.SenderID}
}

// MessagePreview is the replied-to snapshot rendered above a reply.
type MessagePreview struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	SenderID string `json:"sender_id"`
}

// A Reaction is one user's emoji on a message. A user holds at most one
// reaction per message.
type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// Change event types delivered by the realtime feed.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// A ChangeEvent is a row change pushed by the realtime feed. In update events
// a nil Message.Reactions means the backend omitted the reactions.
type ChangeEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// PresenceState is what a participant tracks on a presence channel.
type PresenceState struct {
	UserID   string    `json:"user_id"`
	Typing   bool      `json:"typing"`
	OnlineAt time.Time `json:"online_at"`
}

// PresenceSnapshot holds every tracked state on a channel, keyed by presence
// key. One user may hold several keys (several devices).
type PresenceSnapshot map[string][]PresenceState

// Notification payload types.
const (
	NotificationMessage = "message"
	NotificationMatch   = "match"
	NotificationLike    = "like"
)

// NotificationPayload is the typed payload of a push notification event.
type NotificationPayload struct {
	Type           string `json:"type" validate:"required,oneof=message match like"`
	ConversationID string `json:"conversationId,omitempty"`
	MatchID        string `json:"matchId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
}

// Location is a coordinate pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FeedFilters are passed through to the backend feed query.
type FeedFilters struct {
	Limit       int       `json:"limit"`
	Gender      string    `json:"gender,omitempty"`
	MinAge      int       `json:"min_age"`
	MaxAge      int       `json:"max_age"`
	MinHeight   int       `json:"min_height,omitempty"`
	Zodiac      string    `json:"zodiac,omitempty"`
	MaxDistance int       `json:"max_distance"`
	Location    *Location `json:"location,omitempty"`
}

// Preferences are the feed filters persisted on the user's profile.
type Preferences struct {
	LookingFor  string `json:"looking_for" validate:"omitempty,oneof=male female both"`
	MinAge      int    `json:"min_age" validate:"gte=18,lte=100"`
	MaxAge      int    `json:"max_age" validate:"gte=18,lte=100,gtefield=MinAge"`
	MaxDistance int    `json:"max_distance" validate:"gte=1,lte=500"`
	MinHeight   int    `json:"min_height" validate:"gte=0,lte=250"`
	Zodiac      string `json:"zodiac,omitempty"`
}

// DefaultPreferences mirror the profile defaults.
func DefaultPreferences() Preferences {
	return Preferences{LookingFor: "both", MinAge: 18, MaxAge: 50, MaxDistance: 50}
}

// Filters converts the preferences into a feed query of limit profiles.
func (p Preferences) Filters(limit int) FeedFilters {
	f := FeedFilters{
		Limit:       limit,
		MinAge:      p.MinAge,
		MaxAge:      p.MaxAge,
		MinHeight:   p.MinHeight,
		Zodiac:      p.Zodiac,
		MaxDistance: p.MaxDistance,
	}
	if p.LookingFor == "male" || p.LookingFor == "female" {
		f.Gender = p.LookingFor
	}
	return f
}

// Quota is the server-provided daily like counter.
type Quota struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
	IsVIP   bool      `json:"is_vip"`
}

// Notice levels.
const (
	NoticeError   = "error"
	NoticeSuccess = "success"
)

// A Notice is a short-lived message shown to the user.
type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}
