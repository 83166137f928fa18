// Package chat keeps the ordered message list of one conversation in sync
// with the backend. Local sends are shown before they are acknowledged and
// are reconciled with the realtime feed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/internal/workqueue"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrNotOpen is returned by operations that need an open session.
	ErrNotOpen = errors.New("chat: session not open")
	// ErrEmptyMessage is returned when sending neither text nor media.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrPending is returned for operations on a message that was not
	// acknowledged yet.
	ErrPending = errors.New("chat: message not sent yet")
	// ErrNotOwner is returned when deleting someone else's message.
	ErrNotOwner = errors.New("chat: not the sender")
	// ErrUnknownMessage is returned for ids not in the list.
	ErrUnknownMessage = errors.New("chat: unknown message")
)

const defaultHydrateConcurrency = 8

// Config holds the Session dependencies. Media, Queue and the callbacks are
// optional.
type Config struct {
	ConversationID string
	UserID         string
	PeerID         string
	IsVIP          bool

	Messages  api.MessageStore
	Reactions api.ReactionStore
	Realtime  api.Realtime
	Media     api.MediaStore
	Queue     *workqueue.Queue

	// OnChange is called after the message list changed, outside any lock.
	OnChange func()
	// OnNotice receives transient user-facing messages.
	OnNotice func(api.Notice)

	HydrateConcurrency int
	Logger             *slog.Logger
	Now                func() time.Time
}

// Session is the message list of one conversation. Only its methods mutate
// the list.
type Session struct {
	cfg Config

	mu       sync.Mutex
	state    State
	msgs     []api.Message
	early    []api.ChangeEvent
	sub      api.Subscription
	subGen   int
	epoch    int
	seq      atomic.Uint64
	vip      bool
	notices  []api.Notice
	consumer sync.WaitGroup
}

// NewSession returns an idle Session.
func NewSession(cfg Config) *Session {
	if cfg.HydrateConcurrency <= 0 {
		cfg.HydrateConcurrency = defaultHydrateConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Logger = cfg.Logger.With("conversation_id", cfg.ConversationID)
	return &Session{cfg: cfg, vip: cfg.IsVIP}
}

// ConversationID returns the conversation this session follows.
func (s *Session) ConversationID() string {
	return s.cfg.ConversationID
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetVIP updates the VIP flag used by SendMedia.
func (s *Session) SetVIP(vip bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vip = vip
}

// Messages returns a copy of the list in ascending creation order.
func (s *Session) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// DrainNotices returns and clears the notices raised since the last call.
func (s *Session) DrainNotices() []api.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

// Open subscribes to the conversation, fetches its history and marks the
// peer's messages read. Calling Open on an open session reloads it.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.subGen++
	gen := s.subGen
	s.state = StateLoading
	s.early = nil
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	sub, err := s.cfg.Realtime.Subscribe(ctx, s.cfg.ConversationID)
	if err != nil {
		s.fail(gen)
		return fmt.Errorf("subscribe: %w", err)
	}
	s.mu.Lock()
	if gen != s.subGen {
		s.mu.Unlock()
		_ = sub.Close()
		return ErrNotOpen
	}
	s.sub = sub
	s.consumer.Add(1)
	s.mu.Unlock()

	go s.consume(sub, gen)

	msgs, err := s.cfg.Messages.GetByConversation(ctx, s.cfg.ConversationID)
	if err != nil {
		s.fail(gen)
		return fmt.Errorf("get messages: %w", err)
	}
	if err := s.hydrate(ctx, msgs); err != nil {
		s.fail(gen)
		return err
	}

	s.mu.Lock()
	if gen != s.subGen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.msgs = mergeFetched(s.msgs, msgs)
	var reads []string
	for _, ev := range s.early {
		if id := s.applyLocked(ev); id != "" {
			reads = append(reads, id)
		}
	}
	s.early = nil
	sortMessages(s.msgs)
	reads = append(reads, s.markPeerReadLocked()...)
	s.state = StateSynced
	s.mu.Unlock()

	s.markBatchRead(reads)
	s.changed()
	return nil
}

// Close unsubscribes and drops pending messages. Sends still in flight
// resolve without touching the list; a later Open fetches what they stored.
func (s *Session) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.subGen++
	s.epoch++
	s.state = StateIdle
	s.early = nil
	s.msgs = slices.DeleteFunc(s.msgs, api.Message.Pending)
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			s.cfg.Logger.Debug("Could not close subscription", "error", err.Error())
		}
	}
	s.consumer.Wait()
}

// fail resets a failed Open unless a newer Open or Close took over.
func (s *Session) fail(gen int) {
	s.mu.Lock()
	if gen != s.subGen {
		s.mu.Unlock()
		return
	}
	sub := s.sub
	s.sub = nil
	s.subGen++
	s.state = StateIdle
	s.early = nil
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func (s *Session) consume(sub api.Subscription, gen int) {
	defer s.consumer.Done()
	for ev := range sub.Events() {
		s.ingest(ev, gen)
	}
}

// hydrate attaches reactions and reply snapshots to msgs in place. A failed
// lookup leaves the message without them.
func (s *Session) hydrate(ctx context.Context, msgs []api.Message) error {
	byID := make(map[string]int, len(msgs))
	for i, m := range msgs {
		byID[m.ID] = i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.HydrateConcurrency)
	for i := range msgs {
		i := i
		g.Go(func() error {
			m := &msgs[i]
			if s.cfg.Reactions != nil {
				rs, err := s.cfg.Reactions.GetByMessage(gctx, m.ID)
				if err != nil {
					s.cfg.Logger.Warn("Could not load reactions", "message_id", m.ID, "error", err.Error())
				}
				m.Reactions = rs
			}
			if m.Reactions == nil {
				m.Reactions = []api.Reaction{}
			}
			if m.ReplyToID == "" || m.ReplyTo != nil {
				return nil
			}
			if j, ok := byID[m.ReplyToID]; ok {
				m.ReplyTo = &api.MessagePreview{ID: msgs[j].ID, Content: msgs[j].Content, SenderID: msgs[j].SenderID}
				return nil
			}
			orig, err := s.cfg.Messages.GetMessage(gctx, m.ReplyToID)
			if err != nil {
				s.cfg.Logger.Warn("Could not load replied message", "message_id", m.ID, "reply_to_id", m.ReplyToID, "error", err.Error())
				return nil
			}
			m.ReplyTo = orig.Preview()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// mergeFetched replaces the list with the fetched history, keeping pending
// messages that are still waiting for their acknowledgement.
func mergeFetched(current, fetched []api.Message) []api.Message {
	out := make([]api.Message, 0, len(fetched)+1)
	out = append(out, fetched...)
	for _, m := range current {
		if m.Pending() {
			out = append(out, m)
		}
	}
	return out
}

// markPeerReadLocked flags every unread peer message as read and returns
// their ids.
func (s *Session) markPeerReadLocked() []string {
	var ids []string
	now := s.cfg.Now()
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.IsRead || m.Pending() || m.SenderID == s.cfg.UserID {
			continue
		}
		m.IsRead = true
		m.ReadAt = &now
		ids = append(ids, m.ID)
	}
	return ids
}

func (s *Session) markBatchRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.background("read", func(ctx context.Context) error {
		if err := s.cfg.Messages.MarkBatchAsRead(ctx, ids); err != nil {
			return fmt.Errorf("mark %d messages read: %w", len(ids), err)
		}
		return nil
	})
}

func (s *Session) markRead(id string) {
	s.background("read", func(ctx context.Context) error {
		if err := s.cfg.Messages.MarkAsRead(ctx, id); err != nil {
			return fmt.Errorf("mark message %s read: %w", id, err)
		}
		return nil
	})
}

// background runs job on the work queue, keyed per conversation so writes of
// one conversation stay ordered.
func (s *Session) background(kind string, job workqueue.Job) {
	if s.cfg.Queue == nil {
		go func() {
			if err := job(context.Background()); err != nil {
				s.cfg.Logger.Warn("Background chat job failed", "kind", kind, "error", err.Error())
			}
		}()
		return
	}
	key := kind + ":" + s.cfg.ConversationID
	if err := s.cfg.Queue.Submit(context.Background(), key, job); err != nil {
		s.cfg.Logger.Warn("Could not schedule chat job", "kind", kind, "error", err.Error())
	}
}

func (s *Session) notice(level, text string) {
	n := api.Notice{Level: level, Text: text}
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
	if s.cfg.OnNotice != nil {
		s.cfg.OnNotice(n)
	}
}

func (s *Session) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}

func (s *Session) indexLocked(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// insertSortedLocked inserts m after every message created at or before it.
func (s *Session) insertSortedLocked(m api.Message) {
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = append(s.msgs, api.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

func (s *Session) previewLocked(id string) *api.MessagePreview {
	if id == "" {
		return nil
	}
	if i := s.indexLocked(id); i >= 0 {
		return s.msgs[i].Preview()
	}
	return nil
}

func sortMessages(msgs []api.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
