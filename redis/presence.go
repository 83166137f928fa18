package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pegaoupassa/swipe-core/api"
)

const (
	presencePrefix = "presence"

	// PresenceTTL is how long a tracked state survives without a heartbeat.
	PresenceTTL = 30 * time.Second
)

func presenceChannel(topic string) string {
	return presencePrefix + ":" + topic
}

func presenceMembers(topic string) string {
	return presencePrefix + ":" + topic + ":members"
}

func presenceKey(topic, key string) string {
	return presencePrefix + ":" + topic + ":key:" + key
}

// Join subscribes to the topic. Every change on the topic delivers a new
// snapshot of all tracked states; the first one is delivered right away.
// Snapshots are also reloaded every PresenceTTL/3 so that expired states
// drop out.
func (r *Redis) Join(ctx context.Context, topic, key string) (api.PresenceChannel, error) {
	m, err := r.join(ctx, topic, key, PresenceTTL/3)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Redis) join(ctx context.Context, topic, key string, refresh time.Duration) (*member, error) {
	ps := r.cli.Subscribe(ctx, presenceChannel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := &member{
		r:       r,
		ps:      ps,
		msgs:    ps.Channel(),
		topic:   topic,
		key:     key,
		refresh: refresh,
		syncs:   make(chan api.PresenceSnapshot, 1),
		done:    make(chan struct{}),
	}
	ch.wg.Add(2)
	go ch.run()
	go ch.heartbeat()
	return ch, nil
}

// Snapshot returns every state tracked on the topic, dropping members whose
// state expired.
func (r *Redis) Snapshot(ctx context.Context, topic string) (api.PresenceSnapshot, error) {
	members, err := r.cli.SMembers(ctx, presenceMembers(topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	snap := make(api.PresenceSnapshot)
	if len(members) == 0 {
		return snap, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = presenceKey(topic, m)
	}
	vals, err := r.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	var expired []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}
		st, err := decodeState(s)
		if err != nil {
			r.logger.Warn("Dropping malformed presence state",
				"topic", topic,
				"key", members[i],
				"error", err.Error())
			continue
		}
		snap[members[i]] = append(snap[members[i]], st)
	}
	if len(expired) > 0 {
		if err := r.cli.SRem(ctx, presenceMembers(topic), expired...).Err(); err != nil {
			r.logger.Debug("Could not remove expired presence members",
				"topic", topic,
				"error", err.Error())
		}
	}
	return snap, nil
}

// A member is one participant joined on a topic.
type member struct {
	r     *Redis
	ps    *redis.PubSub
	msgs  <-chan *redis.Message
	topic string
	key   string
	// refresh is the heartbeat and snapshot reload interval.
	refresh time.Duration
	syncs   chan api.PresenceSnapshot
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	tracked string
}

// Track stores the state under the participant's key and notifies the topic.
func (m *member) Track(ctx context.Context, st api.PresenceState) error {
	val, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := m.store(ctx, val); err != nil {
		return fmt.Errorf("track: %w", err)
	}
	m.mu.Lock()
	m.tracked = val
	m.mu.Unlock()
	return nil
}

func (m *member) store(ctx context.Context, val string) error {
	key := presenceKey(m.topic, m.key)
	return m.r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, PresenceTTL)
			pipe.SAdd(ctx, presenceMembers(m.topic), m.key)
			pipe.Publish(ctx, presenceChannel(m.topic), m.key)
			return nil
		})
		return err
	}, key)
}

// Untrack removes the participant's state and notifies the topic.
func (m *member) Untrack(ctx context.Context) error {
	m.mu.Lock()
	m.tracked = ""
	m.mu.Unlock()
	key := presenceKey(m.topic, m.key)
	err := m.r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, presenceMembers(m.topic), m.key)
			pipe.Publish(ctx, presenceChannel(m.topic), m.key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("untrack: %w", err)
	}
	return nil
}

func (m *member) Syncs() <-chan api.PresenceSnapshot {
	return m.syncs
}

// Close leaves the topic without untracking; the state expires after
// PresenceTTL. It closes the Syncs channel.
func (m *member) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		err = m.ps.Close()
		m.wg.Wait()
		close(m.syncs)
	})
	return err
}

func (m *member) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()
	m.sync()
	for {
		select {
		case <-m.done:
			return
		case _, ok := <-m.msgs:
			if !ok {
				return
			}
			m.sync()
		case <-ticker.C:
			m.sync()
		}
	}
}

// sync delivers the latest snapshot, replacing one not consumed yet.
func (m *member) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := m.r.Snapshot(ctx, m.topic)
	if err != nil {
		m.r.logger.Warn("Could not load presence snapshot",
			"topic", m.topic,
			"error", err.Error())
		return
	}
	for {
		select {
		case m.syncs <- snap:
			return
		case <-m.done:
			return
		default:
		}
		select {
		case <-m.syncs:
		default:
		}
	}
}

// heartbeat refreshes the tracked state before it expires.
func (m *member) heartbeat() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		val := m.tracked
		m.mu.Unlock()
		if val == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ok, err := m.r.cli.Expire(ctx, presenceKey(m.topic, m.key), PresenceTTL).Result()
		if err == nil && !ok {
			err = m.store(ctx, val)
		}
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.r.logger.Warn("Could not refresh presence",
				"topic", m.topic,
				"key", m.key,
				"error", err.Error())
		}
	}
}
