package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/pegaoupassa/swipe-core/api"
)

// GetByConversation returns the messages of a conversation, oldest first.
// Reactions are left empty and loaded through GetByMessage.
func (pg *Postgres) GetByConversation(ctx context.Context, conversationID string) ([]api.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("msg.conversation_id = ?", conversationID).
		Order("msg.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIMessage()
	}
	return out, nil
}

// GetMessage returns one message with its reactions.
func (pg *Postgres) GetMessage(ctx context.Context, messageID string) (api.Message, error) {
	m := new(message)
	err := pg.bun.NewSelect().
		Model(m).
		Relation("Reactions").
		Where("msg.id = ?", messageID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Message{}, fmt.Errorf("message %s: %w", messageID, api.ErrNotFound)
	}
	if err != nil {
		return api.Message{}, fmt.Errorf("scan: %w", err)
	}
	return m.APIMessage(), nil
}

// InsertMessage inserts the message and moves the conversation preview to
// it. The ID of msg is ignored; the stored row gets a new one.
func (pg *Postgres) InsertMessage(ctx context.Context, msg api.Message) (api.Message, error) {
	m := &message{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MediaURL:       msg.MediaURL,
		MediaType:      msg.MediaType,
		ReplyToID:      msg.ReplyToID,
	}
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err := tx.NewUpdate().
			Model((*conversation)(nil)).
			Set("last_message = ?", m.Content).
			Set("last_message_at = ?", m.CreatedAt).
			Where("id = ?", m.ConversationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return api.Message{}, err
	}
	out := m.APIMessage()
	pg.publish(ctx, api.EventInsert, out)
	return out, nil
}

// MarkAsRead marks one message as read.
func (pg *Postgres) MarkAsRead(ctx context.Context, messageID string) error {
	return pg.markRead(ctx, []string{messageID})
}

// MarkBatchAsRead marks the messages as read in one statement.
func (pg *Postgres) MarkBatchAsRead(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return pg.markRead(ctx, messageIDs)
}

func (pg *Postgres) markRead(ctx context.Context, ids []string) error {
	var msgs []message
	_, err := pg.bun.NewUpdate().
		Model((*message)(nil)).
		Set("is_read = TRUE").
		Set("read_at = now()").
		Where("id IN (?)", bun.In(ids)).
		Where("NOT is_read").
		Returning("*").
		Exec(ctx, &msgs)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	for _, m := range msgs {
		out := m.APIMessage()
		out.Reactions = nil
		pg.publish(ctx, api.EventUpdate, out)
	}
	return nil
}

// DeleteMessage deletes a message of senderID with its reactions. It returns
// api.ErrNotFound when no such message belongs to senderID.
func (pg *Postgres) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	m := new(message)
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model(m).
			Where("id = ?", messageID).
			Where("sender_id = ?", senderID).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("message %s: %w", messageID, api.ErrNotFound)
		}
		_, err = tx.NewDelete().
			Model((*reaction)(nil)).
			Where("message_id = ?", messageID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete reactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	pg.publish(ctx, api.EventDelete, m.APIMessage())
	return nil
}

// GetByMessage returns the reactions on a message.
func (pg *Postgres) GetByMessage(ctx context.Context, messageID string) ([]api.Reaction, error) {
	var rs []reaction
	err := pg.bun.NewSelect().
		Model(&rs).
		Where("r.message_id = ?", messageID).
		Order("r.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]api.Reaction, len(rs))
	for i, r := range rs {
		out[i] = r.APIReaction()
	}
	return out, nil
}

// AddReaction sets the reaction of userID on the message, replacing any
// previous one.
func (pg *Postgres) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	r := &reaction{MessageID: messageID, UserID: userID, Reaction: emoji}
	_, err := pg.bun.NewInsert().
		Model(r).
		On("CONFLICT (message_id, user_id) DO UPDATE").
		Set("reaction = EXCLUDED.reaction").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	pg.publishReactions(ctx, messageID)
	return nil
}

// RemoveReaction removes the reaction of userID from the message.
func (pg *Postgres) RemoveReaction(ctx context.Context, messageID, userID string) error {
	_, err := pg.bun.NewDelete().
		Model((*reaction)(nil)).
		Where("message_id = ?", messageID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	pg.publishReactions(ctx, messageID)
	return nil
}

// publishReactions publishes the message with its current reactions.
func (pg *Postgres) publishReactions(ctx context.Context, messageID string) {
	if pg.pub == nil {
		return
	}
	m, err := pg.GetMessage(ctx, messageID)
	if err != nil {
		pg.logger.Warn("Could not load reacted message",
			"message", messageID,
			"error", err.Error())
		return
	}
	pg.publish(ctx, api.EventUpdate, m)
}

// publish sends a change event. The row is already committed, so a failure
// is only logged.
func (pg *Postgres) publish(ctx context.Context, typ string, msg api.Message) {
	if pg.pub == nil {
		return
	}
	if err := pg.pub.Publish(ctx, api.ChangeEvent{Type: typ, Message: msg}); err != nil {
		pg.logger.Warn("Could not publish message change",
			"type", typ,
			"message", msg.ID,
			"error", err.Error())
	}
}
