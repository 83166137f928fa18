package api

import (
	"errors"
	"io"
)

var (
	// ErrInvalid is returned for requests the core refuses as malformed.
	ErrInvalid = errors.New("invalid request")
	// ErrNoCandidate is returned when swiping while no card is shown.
	ErrNoCandidate = errors.New("no candidate")
)

// FeedView is the feed as the shell renders it.
type FeedView struct {
	State    string    `json:"state"`
	Profiles []Profile `json:"profiles"`
	Quota    Quota     `json:"quota"`
	// RemainingLikes is -1 for VIP users.
	RemainingLikes int `json:"remaining_likes"`
}

// SwipeRequest is a gesture on the current card. ProfileID, when set, must
// name the card on screen.
type SwipeRequest struct {
	ProfileID string   `json:"profile_id,omitempty"`
	Command   Decision `json:"command,omitempty" validate:"omitempty,oneof=like pass"`
	DX        float64  `json:"dx"`
	DY        float64  `json:"dy"`
}

// SwipeResponse is the outcome of a gesture. Blocked means the upgrade gate
// must be shown.
type SwipeResponse struct {
	Decision       Decision `json:"decision,omitempty"`
	Decided        bool     `json:"decided"`
	Blocked        bool     `json:"blocked"`
	OffsetX        float64  `json:"offset_x"`
	OffsetY        float64  `json:"offset_y"`
	Matched        bool     `json:"matched"`
	Match          *Match   `json:"match,omitempty"`
	RemainingLikes int      `json:"remaining_likes"`
}

// PeerStatus is the presence of the other participant of a chat.
type PeerStatus struct {
	Online bool `json:"online"`
	Typing bool `json:"typing"`
}

// ChatView is an open conversation as the shell renders it.
type ChatView struct {
	ConversationID string     `json:"conversation_id"`
	State          string     `json:"state"`
	Messages       []Message  `json:"messages"`
	Peer           PeerStatus `json:"peer"`
	Notices        []Notice   `json:"notices"`
}

// SendMessageRequest is a text message, or a message pointing to media
// uploaded elsewhere.
type SendMessageRequest struct {
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	MediaURL  string `json:"media_url,omitempty" validate:"omitempty,url"`
	MediaType string `json:"media_type,omitempty" validate:"omitempty,oneof=image audio"`
}

// ReactionRequest sets the user's reaction on a message.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

// MediaUpload is a photo or voice note to send as a message.
type MediaUpload struct {
	File        io.Reader
	Size        int64
	ContentType string
	Ext         string
	MediaType   string
	Caption     string
	ReplyToID   string
}

// Event types queued for the shell.
const (
	EventMatch    = "match"
	EventNavigate = "navigate"
)

// Screens the core can navigate to.
const (
	ScreenMatches = "matches"
	ScreenChat    = "chat"
)

// An Event is something the shell must react to outside a request, such as
// the match modal or a deep link.
type Event struct {
	Type           string   `json:"type"`
	Match          *Match   `json:"match,omitempty"`
	Self           *Profile `json:"self,omitempty"`
	Other          *Profile `json:"other,omitempty"`
	Screen         string   `json:"screen,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}
