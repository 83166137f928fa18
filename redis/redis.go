// Package redis implements the realtime change feed and presence hub on Redis
// pub/sub.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/pegaoupassa/swipe-core/api"
)

var (
	_ api.Realtime    = (*Redis)(nil)
	_ api.PresenceHub = (*Redis)(nil)
)

// Redis provides realtime delivery in Redis.
type Redis struct {
	cli    *redis.Client
	logger *slog.Logger
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, logger *slog.Logger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		cli:    cli,
		logger: logger,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const messagePrefix = "messages"

func messageChannel(conversationID string) string {
	return messagePrefix + ":" + conversationID
}

// Publish sends the change to the subscribers of its conversation.
func (r *Redis) Publish(ctx context.Context, ev api.ChangeEvent) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := r.cli.Publish(ctx, messageChannel(ev.Message.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe streams the changes of one conversation.
func (r *Redis) Subscribe(ctx context.Context, conversationID string) (api.Subscription, error) {
	ps := r.cli.Subscribe(ctx, messageChannel(conversationID))
	return r.subscription(ctx, ps)
}

// SubscribeAll streams the changes of every conversation.
func (r *Redis) SubscribeAll(ctx context.Context) (api.Subscription, error) {
	ps := r.cli.PSubscribe(ctx, messageChannel("*"))
	return r.subscription(ctx, ps)
}

// subscription waits for the subscribe confirmation, so that no event
// published after it returns is missed.
func (r *Redis) subscription(ctx context.Context, ps *redis.PubSub) (api.Subscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &subscription{
		ps:     ps,
		events: make(chan api.ChangeEvent, 64),
	}
	s.wg.Add(1)
	go s.run(r.logger)
	return s, nil
}

type subscription struct {
	ps     *redis.PubSub
	events chan api.ChangeEvent
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *subscription) run(logger *slog.Logger) {
	defer s.wg.Done()
	defer close(s.events)
	for msg := range s.ps.Channel() {
		ev, err := decodeEvent(msg.Payload)
		if err != nil {
			logger.Warn("Dropping malformed change event",
				"channel", msg.Channel,
				"error", err.Error())
			continue
		}
		s.events <- ev
	}
}

func (s *subscription) Events() <-chan api.ChangeEvent {
	return s.events
}

// Close unsubscribes and waits for the Events channel to close. Events still
// buffered are dropped.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		go func() {
			for range s.events {
			}
		}()
		s.wg.Wait()
	})
	return err
}
