package postgres

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/pegaoupassa/swipe-core/api"
)

// A profile represents a user profile in the database.
type profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	ID            string     `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Name          string     `bun:",notnull,default:''"`
	BirthDate     time.Time  `bun:"type:date,nullzero"`
	Gender        string     `bun:",nullzero"`
	Bio           string     `bun:",notnull,default:''"`
	Verified      bool       `bun:",notnull,default:false"`
	ZodiacSign    string     `bun:",nullzero"`
	Profession    string     `bun:",nullzero"`
	Education     string     `bun:",nullzero"`
	Height        int        `bun:",nullzero"`
	Interests     []string   `bun:",array"`
	VibeStatus    string     `bun:",nullzero"`
	VibeExpiresAt *time.Time `bun:",nullzero"`
	Neighborhood  string     `bun:",nullzero"`
	IsVIP         bool       `bun:"is_vip,notnull,default:false"`
	IsActive      bool       `bun:",notnull,default:true"`
	IsIncognito   bool       `bun:",notnull,default:false"`
	Latitude      sql.NullFloat64
	Longitude     sql.NullFloat64

	DailyLikesCount   int        `bun:",notnull,default:0"`
	DailyLikesResetAt *time.Time `bun:",nullzero"`

	CreatedAt time.Time `bun:",nullzero,default:now()"`
	Photos    []photo   `bun:"rel:has-many,join:id=user_id"`

	// Distance is computed by the feed query, in kilometres.
	Distance sql.NullFloat64 `bun:"distance,scanonly"`
}

type photo struct {
	bun.BaseModel `bun:"table:photos,alias:ph"`

	ID       string `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	UserID   string `bun:",notnull,type:uuid"`
	URL      string `bun:"url,notnull"`
	Position int    `bun:",notnull,default:0"`
}

type swipe struct {
	bun.BaseModel `bun:"table:swipes,alias:s"`

	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	SwiperID  string    `bun:",notnull,type:uuid,unique:swiper_swiped"`
	SwipedID  string    `bun:",notnull,type:uuid,unique:swiper_swiped"`
	Action    string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,default:now()"`
}

type match struct {
	bun.BaseModel `bun:"table:matches,alias:m"`

	ID           string        `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	User1ID      string        `bun:"user1_id,notnull,type:uuid,unique:match_pair"`
	User2ID      string        `bun:"user2_id,notnull,type:uuid,unique:match_pair"`
	CreatedAt    time.Time     `bun:",nullzero,default:now()"`
	User1        *profile      `bun:"rel:belongs-to,join:user1_id=id"`
	User2        *profile      `bun:"rel:belongs-to,join:user2_id=id"`
	Conversation *conversation `bun:"rel:has-one,join:id=match_id"`
}

type conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID            string     `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	MatchID       string     `bun:",notnull,type:uuid,unique"`
	LastMessage   string     `bun:",nullzero"`
	LastMessageAt *time.Time `bun:",nullzero"`
	CreatedAt     time.Time  `bun:",nullzero,default:now()"`
}

// A message represents a chat message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages,alias:msg"`

	ID             string     `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ConversationID string     `bun:",notnull,type:uuid"`
	SenderID       string     `bun:",notnull,type:uuid"`
	Content        string     `bun:",notnull,default:''"`
	MediaURL       string     `bun:"media_url,nullzero"`
	MediaType      string     `bun:",nullzero"`
	ReplyToID      string     `bun:",nullzero,type:uuid"`
	IsRead         bool       `bun:",notnull,default:false"`
	ReadAt         *time.Time `bun:",nullzero"`
	CreatedAt      time.Time  `bun:",nullzero,default:now()"`
	Reactions      []reaction `bun:"rel:has-many,join:id=message_id"`
}

type reaction struct {
	bun.BaseModel `bun:"table:message_reactions,alias:r"`

	ID        string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	MessageID string    `bun:",notnull,type:uuid,unique:message_user"`
	UserID    string    `bun:",notnull,type:uuid,unique:message_user"`
	Reaction  string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,default:now()"`
}

// APIProfile converts the row, applying the defaults a card needs. Distance
// is -1 when the query did not compute one.
func (p profile) APIProfile(now time.Time) api.Profile {
	photos := make([]string, len(p.Photos))
	for i, ph := range p.Photos {
		photos[i] = ph.URL
	}
	distance := -1.0
	if p.Distance.Valid {
		distance = p.Distance.Float64
	}
	return api.Profile{
		ID:            p.ID,
		Name:          p.Name,
		Age:           age(p.BirthDate, now),
		Bio:           p.Bio,
		Photos:        photos,
		Distance:      distance,
		Verified:      p.Verified,
		ZodiacSign:    p.ZodiacSign,
		Profession:    p.Profession,
		Education:     p.Education,
		Height:        p.Height,
		Interests:     p.Interests,
		VibeStatus:    p.VibeStatus,
		VibeExpiresAt: p.VibeExpiresAt,
		Neighborhood:  p.Neighborhood,
		IsVIP:         p.IsVIP,
	}.WithDefaults()
}

// age returns the age in whole years at now, 0 when birth is unknown.
func age(birth, now time.Time) int {
	if birth.IsZero() {
		return 0
	}
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || now.Month() == birth.Month() && now.Day() < birth.Day() {
		years--
	}
	return years
}

func (s swipe) APISwipe() api.Swipe {
	return api.Swipe{
		ID:        s.ID,
		ActorID:   s.SwiperID,
		TargetID:  s.SwipedID,
		Decision:  api.Decision(s.Action),
		CreatedAt: s.CreatedAt,
	}
}

// APIMatch converts the row as seen by userID.
func (m match) APIMatch(userID string, now time.Time) api.Match {
	out := api.Match{
		ID:        m.ID,
		UserA:     m.User1ID,
		UserB:     m.User2ID,
		CreatedAt: m.CreatedAt,
	}
	other := m.User2
	if m.User2ID == userID {
		other = m.User1
	}
	if other != nil {
		out.Other = other.APIProfile(now)
	}
	if c := m.Conversation; c != nil {
		out.ConversationID = c.ID
		out.LastMessage = c.LastMessage
		if c.LastMessageAt != nil {
			out.LastMessageAt = *c.LastMessageAt
		}
	}
	return out
}

func (m message) APIMessage() api.Message {
	reactions := make([]api.Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		reactions[i] = r.APIReaction()
	}

	return api.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		ReplyToID:      m.ReplyToID,
		Reactions:      reactions,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

func (r reaction) APIReaction() api.Reaction {
	return api.Reaction{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Reaction,
	}
}

// orderedPair returns the two ids with the smaller one first, the order the
// matches table stores them in.
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
