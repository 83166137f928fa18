// Package match submits swipes, detects mutual likes and runs what follows
// a match: the celebration event, the match list refresh and the icebreaker.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/internal/workqueue"
)

// DefaultIcebreakerDelay gives the backend time to create the conversation
// of a new match.
const DefaultIcebreakerDelay = time.Second

// MatchFound is raised once per mutual like with both parties' display data.
type MatchFound struct {
	Match api.Match   `json:"match"`
	Self  api.Profile `json:"self"`
	Other api.Profile `json:"other"`
}

// Outcome is the result of a submitted swipe.
type Outcome struct {
	Matched bool       `json:"matched"`
	Match   *api.Match `json:"match,omitempty"`
}

// Config holds the Pipeline dependencies. OnMatch, List and Messages are
// optional.
type Config struct {
	Swipes          api.SwipeStore
	Matches         api.MatchStore
	Messages        api.MessageStore
	List            *List
	Queue           *workqueue.Queue
	OnMatch         func(MatchFound)
	IcebreakerDelay time.Duration
	Logger          *slog.Logger
}

// Pipeline submits swipes for one user.
type Pipeline struct {
	cfg Config
}

// NewPipeline returns a Pipeline, filling zero config values with defaults.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.IcebreakerDelay <= 0 {
		cfg.IcebreakerDelay = DefaultIcebreakerDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg}
}

// Submit records the swipe of actor on target. A network failure is returned
// as is; it is not retried and nothing is rolled back.
func (p *Pipeline) Submit(ctx context.Context, actor, target api.Profile, decision api.Decision) (Outcome, error) {
	res, err := p.cfg.Swipes.CreateSwipe(ctx, actor.ID, target.ID, decision)
	if err != nil {
		swipesSubmitted.WithLabelValues("error").Inc()
		return Outcome{}, fmt.Errorf("create swipe: %w", err)
	}
	if res.Match == nil {
		swipesSubmitted.WithLabelValues(string(decision)).Inc()
		return Outcome{}, nil
	}
	swipesSubmitted.WithLabelValues("match").Inc()

	m := *res.Match
	if m.Other.ID == "" {
		m.Other = target
	}
	p.cfg.Logger.Info("Match found", "match_id", m.ID, "user_id", actor.ID, "other_id", target.ID)

	if p.cfg.OnMatch != nil {
		p.cfg.OnMatch(MatchFound{Match: m, Self: actor, Other: m.Other})
	}
	p.refreshList(actor.ID)
	if strings.TrimSpace(actor.Bio) != "" {
		p.scheduleIcebreaker(actor, m)
	}
	return Outcome{Matched: true, Match: &m}, nil
}

func (p *Pipeline) refreshList(userID string) {
	if p.cfg.List == nil || p.cfg.Queue == nil {
		return
	}
	err := p.cfg.Queue.Submit(context.Background(), "matches:"+userID, p.cfg.List.Refresh)
	if err != nil {
		p.cfg.Logger.Warn("Could not schedule match list refresh", "user_id", userID, "error", err.Error())
	}
}

// scheduleIcebreaker sends the actor's bio as the first message once the
// conversation of m can be found. It is fire and forget: a conversation that
// is still missing after one retry is logged and dropped.
func (p *Pipeline) scheduleIcebreaker(actor api.Profile, m api.Match) {
	if p.cfg.Queue == nil || p.cfg.Messages == nil {
		return
	}
	key := "icebreaker:" + m.ID

	var attempt func(n int) workqueue.Job
	attempt = func(n int) workqueue.Job {
		return func(ctx context.Context) error {
			convID, err := p.conversationOf(ctx, actor.ID, m)
			if errors.Is(err, api.ErrNotFound) && n == 1 {
				p.cfg.Queue.After(p.cfg.IcebreakerDelay, key, attempt(n+1))
				return nil
			}
			if err != nil {
				icebreakers.WithLabelValues("no_conversation").Inc()
				p.cfg.Logger.Info("Icebreaker dropped", "match_id", m.ID, "error", err.Error())
				return nil
			}

			_, err = p.cfg.Messages.InsertMessage(ctx, api.Message{
				ConversationID: convID,
				SenderID:       actor.ID,
				Content:        actor.Bio,
			})
			if err != nil {
				icebreakers.WithLabelValues("error").Inc()
				p.cfg.Logger.Info("Icebreaker send failed", "match_id", m.ID, "conversation_id", convID, "error", err.Error())
				return nil
			}
			icebreakers.WithLabelValues("sent").Inc()
			return nil
		}
	}
	p.cfg.Queue.After(p.cfg.IcebreakerDelay, key, attempt(1))
}

// conversationOf returns the conversation id of m, looking it up when the
// swipe response did not carry it.
func (p *Pipeline) conversationOf(ctx context.Context, userID string, m api.Match) (string, error) {
	if m.ConversationID != "" {
		return m.ConversationID, nil
	}
	if p.cfg.Matches == nil {
		return "", api.ErrNotFound
	}
	ms, err := p.cfg.Matches.GetAllMatches(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get all matches: %w", err)
	}
	for _, found := range ms {
		if found.ConversationID == "" {
			continue
		}
		if found.ID == m.ID || found.Involves(m.Other.ID) {
			return found.ConversationID, nil
		}
	}
	return "", api.ErrNotFound
}

// ReceivedLikes lists the profiles that liked userID. Only VIP users may see
// them.
func ReceivedLikes(ctx context.Context, store api.SwipeStore, userID string, isVIP bool) ([]api.Profile, error) {
	if !isVIP {
		return nil, api.ErrVIPRequired
	}
	ps, err := store.GetReceivedLikes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get received likes: %w", err)
	}
	return ps, nil
}
