package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/chat"
	"github.com/pegaoupassa/swipe-core/presence"
)

// OpenChat opens the conversation's session and joins its presence topic.
// Opening an open chat reloads it. Presence failures are logged; the chat
// works without them.
func (a *App) OpenChat(ctx context.Context, conversationID string) (api.ChatView, error) {
	if conversationID == "" {
		return api.ChatView{}, fmt.Errorf("%w: empty conversation id", api.ErrInvalid)
	}
	m, ok := a.list.FindByConversation(conversationID)
	if !ok {
		if err := a.list.Refresh(ctx); err != nil {
			return api.ChatView{}, err
		}
		if m, ok = a.list.FindByConversation(conversationID); !ok {
			return api.ChatView{}, fmt.Errorf("conversation %s: %w", conversationID, api.ErrNotFound)
		}
	}

	a.mu.Lock()
	c, open := a.chats[conversationID]
	if !open {
		c = a.newChat(m)
		a.chats[conversationID] = c
	}
	a.active = conversationID
	a.mu.Unlock()

	a.router.SetActiveConversation(conversationID)
	a.list.MarkRead(conversationID)

	if err := c.session.Open(ctx); err != nil {
		return api.ChatView{}, err
	}
	if c.tracker != nil {
		if err := c.tracker.Join(ctx); err != nil {
			a.cfg.Logger.Warn("Could not join presence", "conversation_id", conversationID, "error", err.Error())
		}
	}
	return view(c), nil
}

func (a *App) newChat(m api.Match) *openChat {
	b := a.cfg.Backend
	if b.Realtime == nil {
		b.Realtime = offline{}
	}
	vip := a.self.IsVIP || a.engine.Quota().Snapshot(a.cfg.Now()).IsVIP
	c := &openChat{
		session: chat.NewSession(chat.Config{
			ConversationID: m.ConversationID,
			UserID:         a.cfg.UserID,
			PeerID:         m.Other.ID,
			IsVIP:          vip,
			Messages:       b.Messages,
			Reactions:      b.Reactions,
			Realtime:       b.Realtime,
			Media:          b.Media,
			Queue:          a.queue,
			Logger:         a.cfg.Logger,
			Now:            a.cfg.Now,
		}),
	}
	if b.Presence != nil {
		c.tracker = presence.NewTracker(presence.Config{
			ConversationID: m.ConversationID,
			UserID:         a.cfg.UserID,
			PeerID:         m.Other.ID,
			Hub:            b.Presence,
			IdleTimeout:    a.cfg.TypingIdle,
			Logger:         a.cfg.Logger,
			Now:            a.cfg.Now,
		})
	}
	return c
}

// CloseChat leaves the conversation. Late results of its pending operations
// are ignored.
func (a *App) CloseChat(ctx context.Context, conversationID string) error {
	a.mu.Lock()
	c, ok := a.chats[conversationID]
	delete(a.chats, conversationID)
	wasActive := a.active == conversationID
	if wasActive {
		a.active = ""
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if wasActive {
		a.router.SetActiveConversation("")
	}
	return closeChat(ctx, c)
}

func closeChat(ctx context.Context, c *openChat) error {
	c.session.Close()
	if c.tracker == nil {
		return nil
	}
	if err := c.tracker.Leave(ctx); err != nil {
		return fmt.Errorf("leave presence: %w", err)
	}
	return nil
}

// Chat returns the open conversation's messages, peer status and notices
// raised since the last call.
func (a *App) Chat(conversationID string) (api.ChatView, error) {
	c, err := a.chat(conversationID)
	if err != nil {
		return api.ChatView{}, err
	}
	return view(c), nil
}

// Send sends a text message, or a message pointing to media uploaded
// elsewhere, and stops the typing indicator.
func (a *App) Send(ctx context.Context, conversationID string, req api.SendMessageRequest) (api.Message, error) {
	c, err := a.chat(conversationID)
	if err != nil {
		return api.Message{}, err
	}
	if c.tracker != nil {
		if err := c.tracker.StopTyping(ctx); err != nil && !errors.Is(err, presence.ErrNotJoined) {
			a.cfg.Logger.Warn("Could not reset typing state", "conversation_id", conversationID, "error", err.Error())
		}
	}
	msg, err := c.session.Send(ctx, chat.SendRequest{
		Content:   req.Content,
		ReplyToID: req.ReplyToID,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
	})
	return msg, classify(err)
}

// SendMedia uploads a photo or voice note and sends it. VIP only.
func (a *App) SendMedia(ctx context.Context, conversationID string, up api.MediaUpload) (api.Message, error) {
	c, err := a.chat(conversationID)
	if err != nil {
		return api.Message{}, err
	}
	msg, err := c.session.SendMedia(ctx, chat.MediaUpload{
		File:        up.File,
		Size:        up.Size,
		ContentType: up.ContentType,
		Ext:         up.Ext,
		MediaType:   up.MediaType,
		Caption:     up.Caption,
		ReplyToID:   up.ReplyToID,
	})
	return msg, classify(err)
}

// DeleteMessage deletes one of the user's messages.
func (a *App) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	c, err := a.chat(conversationID)
	if err != nil {
		return err
	}
	return classify(c.session.Delete(ctx, messageID))
}

// React sets the user's reaction; the same emoji again removes it.
func (a *App) React(ctx context.Context, conversationID, messageID, emoji string) error {
	c, err := a.chat(conversationID)
	if err != nil {
		return err
	}
	return classify(c.session.React(ctx, messageID, emoji))
}

// Unreact removes the user's reaction.
func (a *App) Unreact(ctx context.Context, conversationID, messageID string) error {
	c, err := a.chat(conversationID)
	if err != nil {
		return err
	}
	return classify(c.session.Unreact(ctx, messageID))
}

// Typing records a keystroke in the conversation's composer.
func (a *App) Typing(ctx context.Context, conversationID string) error {
	c, err := a.chat(conversationID)
	if err != nil {
		return err
	}
	if c.tracker == nil {
		return nil
	}
	if err := c.tracker.Keystroke(ctx); err != nil && !errors.Is(err, presence.ErrNotJoined) {
		return err
	}
	return nil
}

// Notification handles a push event. For foreground events it reports
// whether the banner should be shown.
func (a *App) Notification(ctx context.Context, event string, data []byte) (bool, error) {
	show, err := a.router.Dispatch(ctx, event, data)
	if err != nil {
		return false, fmt.Errorf("%w: %w", api.ErrInvalid, err)
	}
	return show, nil
}

func (a *App) chat(conversationID string) (*openChat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.chats[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s not open: %w", conversationID, api.ErrNotFound)
	}
	return c, nil
}

func view(c *openChat) api.ChatView {
	v := api.ChatView{
		ConversationID: c.session.ConversationID(),
		State:          c.session.State().String(),
		Messages:       c.session.Messages(),
		Notices:        c.session.DrainNotices(),
	}
	if c.tracker != nil {
		st := c.tracker.Status()
		v.Peer = api.PeerStatus{Online: st.Online, Typing: st.Typing}
	}
	if v.Notices == nil {
		v.Notices = []api.Notice{}
	}
	return v
}

// classify maps chat errors onto the api error kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrUnknownMessage), errors.Is(err, chat.ErrNotOpen):
		return fmt.Errorf("%w: %w", api.ErrNotFound, err)
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrPending),
		errors.Is(err, chat.ErrNotOwner), errors.Is(err, chat.ErrMediaTooLarge):
		return fmt.Errorf("%w: %w", api.ErrInvalid, err)
	}
	return err
}

// offline stands in for a missing realtime backend: subscriptions never
// deliver events.
type offline struct{}

func (offline) Subscribe(context.Context, string) (api.Subscription, error) {
	return &idleSub{events: make(chan api.ChangeEvent)}, nil
}

func (offline) SubscribeAll(context.Context) (api.Subscription, error) {
	return &idleSub{events: make(chan api.ChangeEvent)}, nil
}

type idleSub struct {
	events chan api.ChangeEvent
	once   sync.Once
}

func (s *idleSub) Events() <-chan api.ChangeEvent {
	return s.events
}

func (s *idleSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}
