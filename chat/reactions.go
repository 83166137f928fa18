package chat

import (
	"context"
	"fmt"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/optimistic"
)

// Emojis are the reactions offered in the picker.
var Emojis = []string{"❤️", "😂", "😮", "😢", "👍"}

// React sets the user's reaction on a message, replacing any previous one.
// Reacting again with the same emoji removes the reaction.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	prev, err := s.ownReaction(messageID)
	if err != nil {
		return err
	}
	if prev != nil && prev.Emoji == emoji {
		return s.Unreact(ctx, messageID)
	}

	next := api.Reaction{MessageID: messageID, UserID: s.cfg.UserID, Emoji: emoji}
	op := optimistic.Operation[struct{}]{
		Apply: func() { s.setReaction(messageID, &next) },
		Do: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.cfg.Reactions.AddReaction(ctx, messageID, s.cfg.UserID, emoji)
		},
		Rollback: func(err error) {
			s.cfg.Logger.Warn("Could not add reaction", "message_id", messageID, "error", err.Error())
			s.setReaction(messageID, prev)
			s.notice(api.NoticeError, "Reaction could not be saved")
		},
	}
	if _, err := op.Run(ctx); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// Unreact removes the user's reaction from a message.
func (s *Session) Unreact(ctx context.Context, messageID string) error {
	prev, err := s.ownReaction(messageID)
	if err != nil {
		return err
	}

	op := optimistic.Operation[struct{}]{
		Apply: func() { s.setReaction(messageID, nil) },
		Do: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.cfg.Reactions.RemoveReaction(ctx, messageID, s.cfg.UserID)
		},
		Rollback: func(err error) {
			s.cfg.Logger.Warn("Could not remove reaction", "message_id", messageID, "error", err.Error())
			s.setReaction(messageID, prev)
			s.notice(api.NoticeError, "Reaction could not be removed")
		},
	}
	if _, err := op.Run(ctx); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// ownReaction returns the user's current reaction on a committed message.
func (s *Session) ownReaction(messageID string) (*api.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(messageID)
	if i < 0 {
		return nil, ErrUnknownMessage
	}
	if s.msgs[i].Pending() {
		return nil, ErrPending
	}
	for _, r := range s.msgs[i].Reactions {
		if r.UserID == s.cfg.UserID {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

// setReaction replaces the user's entry on the message with r, or removes it
// when r is nil. It re-reads the list so concurrent changes are kept.
func (s *Session) setReaction(messageID string, r *api.Reaction) {
	s.mu.Lock()
	i := s.indexLocked(messageID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.msgs[i].Reactions = withReaction(s.msgs[i].Reactions, s.cfg.UserID, r)
	s.mu.Unlock()
	s.changed()
}

// withReaction returns a copy of rs where userID holds at most r.
func withReaction(rs []api.Reaction, userID string, r *api.Reaction) []api.Reaction {
	out := make([]api.Reaction, 0, len(rs)+1)
	for _, existing := range rs {
		if existing.UserID != userID {
			out = append(out, existing)
		}
	}
	if r != nil {
		out = append(out, *r)
	}
	return out
}
